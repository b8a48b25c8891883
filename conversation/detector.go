package conversation

import "strings"

// Detection is the outcome of running a detector over one input.
type Detection struct {
	Category string
	Keywords []string
	Score    float64
}

// TopicDetector maps free text to a topic category. Implementations may be
// lexical (the default below) or semantic; the tracker only consumes the
// highest-scoring detection.
type TopicDetector interface {
	Detect(text string) (Detection, bool)
}

// defaultCategories is the built-in category -> keyword map for the keyword
// detector. Categories reflect common assistant domains.
var defaultCategories = map[string][]string{
	"weather":       {"weather", "forecast", "rain", "temperature", "sunny", "snow", "wind"},
	"scheduling":    {"calendar", "meeting", "appointment", "remind", "reminder", "schedule", "event"},
	"communication": {"email", "message", "call", "text", "send", "reply"},
	"media":         {"play", "music", "song", "video", "volume", "pause"},
	"smart_home":    {"light", "lights", "thermostat", "lock", "door", "dim"},
	"navigation":    {"directions", "route", "traffic", "drive", "navigate"},
	"shopping":      {"buy", "order", "cart", "price", "shopping"},
	"timers":        {"timer", "alarm", "countdown", "stopwatch"},
}

// KeywordDetector scores each category as the fraction of its keywords found
// in the input and reports the best category when that fraction reaches the
// similarity threshold. It is deliberately naive: a keyword matcher, not a
// classifier.
type KeywordDetector struct {
	categories map[string][]string
	threshold  float64
}

// NewKeywordDetector builds a detector over the built-in categories.
func NewKeywordDetector(threshold float64) *KeywordDetector {
	return NewKeywordDetectorWithCategories(defaultCategories, threshold)
}

// NewKeywordDetectorWithCategories builds a detector over a custom
// category -> keyword map. The map is copied.
func NewKeywordDetectorWithCategories(categories map[string][]string, threshold float64) *KeywordDetector {
	cp := make(map[string][]string, len(categories))
	for cat, kws := range categories {
		cp[cat] = append([]string(nil), kws...)
	}
	return &KeywordDetector{categories: cp, threshold: threshold}
}

// Detect tokenizes the input and picks the max-scoring category whose score
// meets the threshold. Score is (#matched keywords)/(#category keywords).
func (d *KeywordDetector) Detect(text string) (Detection, bool) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Detection{}, false
	}
	var best Detection
	for cat, kws := range d.categories {
		var matched []string
		for _, kw := range kws {
			if tokens[kw] {
				matched = append(matched, kw)
			}
		}
		score := float64(len(matched)) / float64(len(kws))
		if score > best.Score {
			best = Detection{Category: cat, Keywords: matched, Score: score}
		}
	}
	if best.Score < d.threshold {
		return Detection{}, false
	}
	return best, true
}

func tokenize(text string) map[string]bool {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		tokens[strings.Trim(f, ".,!?;:'\"()")] = true
	}
	return tokens
}
