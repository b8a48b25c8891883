// Package logging provides a tiny abstraction over slog so the stores can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. Components default to NoOpLogger; wiring code typically
// installs a SlogAdapter around an application-configured slog.Logger.
package logging
