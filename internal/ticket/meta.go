package ticket

import (
	"fmt"
	"strings"
)

// Issue descriptions carry a line-oriented metadata section: lines matching
// "key: value" are metadata, everything else is free prose. The writer does
// a line-addressed rewrite so unrelated content survives every update, and
// cleared values are written as the literal "null" to retain the slot.

// GetMeta returns the value for a metadata key in a description.
// Missing keys and explicit "null" slots both return the empty string.
func GetMeta(description, key string) string {
	prefix := key + ":"
	for _, line := range strings.Split(description, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		value := strings.TrimSpace(trimmed[len(prefix):])
		if value == "null" {
			return ""
		}
		return value
	}
	return ""
}

// HasMeta reports whether the key appears in the description at all,
// including as a "null" slot.
func HasMeta(description, key string) bool {
	prefix := key + ":"
	for _, line := range strings.Split(description, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			return true
		}
	}
	return false
}

// MetaKV is one metadata assignment. An empty Value writes the literal
// "null" so the slot round-trips.
type MetaKV struct {
	Key   string
	Value string
}

// SetMeta rewrites metadata lines in a description, replacing existing
// lines in place and appending missing keys at the end. All other lines
// are preserved byte for byte.
func SetMeta(description string, updates ...MetaKV) string {
	pending := make(map[string]string, len(updates))
	order := make([]string, 0, len(updates))
	for _, kv := range updates {
		if _, seen := pending[kv.Key]; !seen {
			order = append(order, kv.Key)
		}
		pending[kv.Key] = kv.Value
	}

	render := func(key, value string) string {
		if value == "" {
			return key + ": null"
		}
		return fmt.Sprintf("%s: %s", key, value)
	}

	var out []string
	for _, line := range strings.Split(description, "\n") {
		trimmed := strings.TrimSpace(line)
		replaced := false
		for key := range pending {
			if strings.HasPrefix(trimmed, key+":") {
				out = append(out, render(key, pending[key]))
				delete(pending, key)
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, line)
		}
	}

	for _, key := range order {
		if value, left := pending[key]; left {
			out = append(out, render(key, value))
		}
	}

	return strings.Join(out, "\n")
}

// AppendNote appends a free-prose note line to a description, separated
// from existing content by a blank line.
func AppendNote(description, note string) string {
	description = strings.TrimRight(description, "\n")
	if description == "" {
		return note
	}
	return description + "\n\n" + note
}

// ReviewMetadata is the PR review slot set on a changeset. Empty fields are
// persisted as explicit "null" so the slots survive round-trips.
type ReviewMetadata struct {
	PRURL       string
	PRNumber    string
	PRState     string
	ReviewOwner string
}

// Apply rewrites the four review metadata lines in a description.
func (r ReviewMetadata) Apply(description string) string {
	return SetMeta(description,
		MetaKV{Key: "pr_url", Value: r.PRURL},
		MetaKV{Key: "pr_number", Value: r.PRNumber},
		MetaKV{Key: "pr_state", Value: r.PRState},
		MetaKV{Key: "review_owner", Value: r.ReviewOwner},
	)
}

// ParseReviewMetadata reads the review slot set back out of a description.
func ParseReviewMetadata(description string) ReviewMetadata {
	return ReviewMetadata{
		PRURL:       GetMeta(description, "pr_url"),
		PRNumber:    GetMeta(description, "pr_number"),
		PRState:     GetMeta(description, "pr_state"),
		ReviewOwner: GetMeta(description, "review_owner"),
	}
}
