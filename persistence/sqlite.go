package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists one row per session so saving a mutated session does
// not rewrite the rest of the document.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time assertions.
var (
	_ Store            = (*SQLiteStore)(nil)
	_ IncrementalStore = (*SQLiteStore)(nil)
	_ Store            = (*FileStore)(nil)
)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id       TEXT PRIMARY KEY,
		doc      TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS preferences (
		user_id  TEXT PRIMARY KEY,
		doc      TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveSession upserts one session row plus the given user preferences.
func (s *SQLiteStore) SaveSession(sessionID string, sess SessionSnapshot, prefs map[string]map[string]any) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sessionID, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO sessions (id, doc, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, saved_at = excluded.saved_at`,
		sessionID, string(doc), now); err != nil {
		return fmt.Errorf("upsert session %s: %w", sessionID, err)
	}
	if err := upsertPrefs(tx, prefs, now); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO meta (key, value) VALUES ('saved_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, now); err != nil {
		return fmt.Errorf("update meta: %w", err)
	}
	return tx.Commit()
}

// DeleteSession removes one session row.
func (s *SQLiteStore) DeleteSession(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// SaveAll replaces every row with the sessions in the snapshot.
func (s *SQLiteStore) SaveAll(snap *Snapshot) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM preferences`); err != nil {
		return fmt.Errorf("clear preferences: %w", err)
	}
	ids := make(map[string]struct{})
	for id := range snap.Contexts {
		ids[id] = struct{}{}
	}
	for id := range snap.ConversationState {
		ids[id] = struct{}{}
	}
	for id := range snap.ToolState {
		ids[id] = struct{}{}
	}
	for id := range snap.SessionMemory {
		ids[id] = struct{}{}
	}
	for id := range ids {
		doc, err := json.Marshal(snap.Session(id))
		if err != nil {
			return fmt.Errorf("marshal session %s: %w", id, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO sessions (id, doc, saved_at) VALUES (?, ?, ?)`,
			id, string(doc), now); err != nil {
			return fmt.Errorf("insert session %s: %w", id, err)
		}
	}
	if err := upsertPrefs(tx, snap.UserPreferences, now); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO meta (key, value) VALUES ('saved_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, now); err != nil {
		return fmt.Errorf("update meta: %w", err)
	}
	return tx.Commit()
}

func upsertPrefs(tx *sql.Tx, prefs map[string]map[string]any, now string) error {
	for userID, p := range prefs {
		doc, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal preferences %s: %w", userID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO preferences (user_id, doc, saved_at) VALUES (?, ?, ?)
			 ON CONFLICT(user_id) DO UPDATE SET doc = excluded.doc, saved_at = excluded.saved_at`,
			userID, string(doc), now); err != nil {
			return fmt.Errorf("upsert preferences %s: %w", userID, err)
		}
	}
	return nil
}

// Load assembles the full snapshot from the session and preference rows.
func (s *SQLiteStore) Load() (*Snapshot, error) {
	snap := NewSnapshot()

	rows, err := s.db.Query(`SELECT id, doc FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var sess SessionSnapshot
		if err := json.Unmarshal([]byte(doc), &sess); err != nil {
			return nil, fmt.Errorf("parse session %s: %w", id, err)
		}
		snap.merge(id, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	prefRows, err := s.db.Query(`SELECT user_id, doc FROM preferences`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer prefRows.Close()
	for prefRows.Next() {
		var userID, doc string
		if err := prefRows.Scan(&userID, &doc); err != nil {
			return nil, fmt.Errorf("scan preferences: %w", err)
		}
		var p map[string]any
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("parse preferences %s: %w", userID, err)
		}
		snap.UserPreferences[userID] = p
	}
	if err := prefRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}

	var savedAt string
	err = s.db.QueryRow(`SELECT value FROM meta WHERE key = 'saved_at'`).Scan(&savedAt)
	if err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, savedAt); perr == nil {
			snap.SavedAt = t
		}
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	return snap, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
