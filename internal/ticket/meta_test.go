package ticket

import (
	"strings"
	"testing"
)

func TestCanonicalizeStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want CanonicalStatus
	}{
		{"open", StatusOpen},
		{"ready", StatusOpen},
		{"in_progress", StatusInProgress},
		{"hooked", StatusInProgress},
		{"blocked", StatusBlocked},
		{"closed", StatusClosed},
		{"done", StatusClosed},
		{"deferred", StatusDeferred},
		{"planned", StatusDeferred},
		{"", StatusUnknown},
		{"bogus", StatusUnknown},
	}
	for _, tt := range tests {
		if got := CanonicalizeStatus(tt.raw); got != tt.want {
			t.Errorf("CanonicalizeStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestGetMeta(t *testing.T) {
	desc := "Implement the parser.\n\nchangeset.work_branch: cs/tk-12\npr_state: null\n  pr_number: 42\nnot a meta line"

	tests := []struct {
		key  string
		want string
	}{
		{"changeset.work_branch", "cs/tk-12"},
		{"pr_number", "42"}, // leading whitespace tolerated
		{"pr_state", ""},    // explicit null reads as empty
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := GetMeta(desc, tt.key); got != tt.want {
			t.Errorf("GetMeta(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}

	if !HasMeta(desc, "pr_state") {
		t.Error("HasMeta should report null slots as present")
	}
	if HasMeta(desc, "missing") {
		t.Error("HasMeta reported a key that is not there")
	}
}

func TestSetMetaPreservesProse(t *testing.T) {
	desc := "First prose line.\n\npr_url: https://example.com/1\npr_state: open\n\nTrailing note."

	got := SetMeta(desc, MetaKV{Key: "pr_state", Value: "merged"})

	if !strings.Contains(got, "First prose line.") || !strings.Contains(got, "Trailing note.") {
		t.Fatalf("prose lines lost:\n%s", got)
	}
	if !strings.Contains(got, "pr_state: merged") {
		t.Errorf("pr_state not rewritten:\n%s", got)
	}
	if !strings.Contains(got, "pr_url: https://example.com/1") {
		t.Errorf("unrelated meta line changed:\n%s", got)
	}
	if strings.Count(got, "pr_state:") != 1 {
		t.Errorf("pr_state duplicated:\n%s", got)
	}
}

func TestSetMetaAppendsMissingKeys(t *testing.T) {
	got := SetMeta("just prose", MetaKV{Key: "workspace.root_branch", Value: "epic/tk-1"})
	want := "just prose\nworkspace.root_branch: epic/tk-1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSetMetaWritesNullForEmptyValue(t *testing.T) {
	got := SetMeta("pr_number: 42", MetaKV{Key: "pr_number", Value: ""})
	if got != "pr_number: null" {
		t.Errorf("got %q, want pr_number: null", got)
	}
	// The slot must survive and still read as empty.
	if GetMeta(got, "pr_number") != "" {
		t.Errorf("null slot read back as %q", GetMeta(got, "pr_number"))
	}
	if !HasMeta(got, "pr_number") {
		t.Error("null slot dropped")
	}
}

func TestReviewMetadataRoundTrip(t *testing.T) {
	meta := ReviewMetadata{
		PRURL:    "https://github.com/acme/widgets/pull/7",
		PRNumber: "7",
		PRState:  "pr-open",
	}
	desc := meta.Apply("Changeset prose.")

	got := ParseReviewMetadata(desc)
	if got.PRURL != meta.PRURL || got.PRNumber != meta.PRNumber || got.PRState != meta.PRState {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, meta)
	}
	if got.ReviewOwner != "" {
		t.Errorf("ReviewOwner = %q, want empty", got.ReviewOwner)
	}
	if !strings.Contains(desc, "review_owner: null") {
		t.Errorf("empty owner should persist as null slot:\n%s", desc)
	}
}

func TestAppendNote(t *testing.T) {
	if got := AppendNote("", "note"); got != "note" {
		t.Errorf("empty description: got %q", got)
	}
	if got := AppendNote("body\n", "note"); got != "body\n\nnote" {
		t.Errorf("got %q", got)
	}
}

func TestReviewLifecyclePredicates(t *testing.T) {
	tests := []struct {
		state      ReviewLifecycle
		active     bool
		integrated bool
		terminal   bool
		openPR     bool
	}{
		{LifecycleNone, false, false, false, false},
		{LifecycleLocalOnly, false, false, false, false},
		{LifecyclePushed, true, false, false, false},
		{LifecycleDraftPR, true, false, false, true},
		{LifecyclePROpen, true, false, false, true},
		{LifecycleInReview, true, false, false, true},
		{LifecycleApproved, true, false, false, true},
		{LifecycleMerged, false, true, true, false},
		{LifecycleClosed, false, false, true, false},
	}
	for _, tt := range tests {
		if got := tt.state.IsActive(); got != tt.active {
			t.Errorf("%q.IsActive() = %t, want %t", tt.state, got, tt.active)
		}
		if got := tt.state.IsIntegrated(); got != tt.integrated {
			t.Errorf("%q.IsIntegrated() = %t, want %t", tt.state, got, tt.integrated)
		}
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("%q.IsTerminal() = %t, want %t", tt.state, got, tt.terminal)
		}
		if got := tt.state.HasOpenPR(); got != tt.openPR {
			t.Errorf("%q.HasOpenPR() = %t, want %t", tt.state, got, tt.openPR)
		}
	}
}
