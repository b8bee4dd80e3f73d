package nl2sql

import "strings"

type Kind string

const (
	KindSQL          Kind = "sql"
	KindExplanation  Kind = "explanation"
	KindUnrecognized Kind = "unrecognized"
)

// Parsed is the classification of one model response. SQL is set only for
// KindSQL; Text always carries the raw response.
type Parsed struct {
	Kind Kind
	SQL  string
	Text string
	// Rule names the matching rule; empty when no rule applied.
	Rule string
}

type rule struct {
	name  string
	match func(raw string) (Parsed, bool)
}

// Rules are evaluated in order and the first match wins. The explanation
// marker must stay ahead of the fence rules.
var rules = []rule{
	{name: "explanation", match: matchExplanation},
	{name: "fence-lower", match: matchFence("```sql")},
	{name: "fence-upper", match: matchFence("```SQL")},
	{name: "bare-select", match: matchBareSelect},
}

// Parse classifies a raw model response. It never validates the SQL.
func Parse(raw string) Parsed {
	for _, r := range rules {
		if parsed, ok := r.match(raw); ok {
			parsed.Rule = r.name
			return parsed
		}
	}
	return Parsed{Kind: KindUnrecognized, Text: raw}
}

func matchExplanation(raw string) (Parsed, bool) {
	if strings.HasPrefix(strings.TrimSpace(raw), ExplanationMark) {
		return Parsed{Kind: KindExplanation, Text: raw}, true
	}
	return Parsed{}, false
}

func matchFence(opener string) func(string) (Parsed, bool) {
	return func(raw string) (Parsed, bool) {
		start := strings.Index(raw, opener)
		if start < 0 {
			return Parsed{}, false
		}
		body := raw[start+len(opener):]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		return sqlOrUnrecognized(raw, strings.TrimSpace(body)), true
	}
}

func matchBareSelect(raw string) (Parsed, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "SELECT") {
		return Parsed{}, false
	}
	return sqlOrUnrecognized(raw, trimmed), true
}

// An extraction that leaves nothing to run is not SQL.
func sqlOrUnrecognized(raw, sql string) Parsed {
	if sql == "" {
		return Parsed{Kind: KindUnrecognized, Text: raw}
	}
	return Parsed{Kind: KindSQL, SQL: sql, Text: raw}
}
