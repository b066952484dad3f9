package session

import (
	"os"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	id, err := Parse("atelier/worker/codex/p123-tabc")
	if err != nil {
		t.Fatal(err)
	}
	if id.Role != "worker" || id.AgentType != "codex" || id.Session != "p123-tabc" {
		t.Errorf("id = %+v", id)
	}
	if got := id.String(); got != "atelier/worker/codex/p123-tabc" {
		t.Errorf("String() = %q", got)
	}
	if got := id.FamilyPrefix(); got != "atelier/worker/codex" {
		t.Errorf("FamilyPrefix() = %q", got)
	}

	bad := []string{
		"",
		"atelier/worker/codex",
		"atelier/worker/codex/p1-t1/extra",
		"other/worker/codex/p1-t1",
		"atelier//codex/p1-t1",
	}
	for _, addr := range bad {
		if _, err := Parse(addr); err == nil {
			t.Errorf("Parse(%q) accepted", addr)
		}
	}
}

func TestNewWorkerIdentity(t *testing.T) {
	id := NewWorkerIdentity("codex")
	if id.Role != RoleWorker || id.AgentType != "codex" {
		t.Errorf("id = %+v", id)
	}
	if SessionPID(id.Session) != os.Getpid() {
		t.Errorf("session %q does not carry this pid", id.Session)
	}
	if _, err := Parse(id.String()); err != nil {
		t.Errorf("minted identity does not parse: %v", err)
	}

	// Tokens differentiate identities minted by the same process.
	other := NewWorkerIdentity("codex")
	if other.Session == id.Session {
		t.Error("two identities share a session key")
	}
}

func TestSessionPID(t *testing.T) {
	tests := []struct {
		session string
		want    int
	}{
		{"p123-tabc", 123},
		{"p7", 7},
		{"tabc", 0},
		{"p-tabc", 0},
		{"pxyz-tabc", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := SessionPID(tt.session); got != tt.want {
			t.Errorf("SessionPID(%q) = %d, want %d", tt.session, got, tt.want)
		}
	}
}

func TestSameFamily(t *testing.T) {
	a := "atelier/worker/codex/p1-taaa"
	b := "atelier/worker/codex/p2-tbbb"
	c := "atelier/worker/claude/p3-tccc"

	if !SameFamily(a, b) {
		t.Error("same role and agent type must be same family")
	}
	if SameFamily(a, c) {
		t.Error("different agent types are different families")
	}
	if SameFamily(a, "not-an-identity") {
		t.Error("unparseable identity is never family")
	}
}

func TestIsStale(t *testing.T) {
	alive := Identity{Role: RoleWorker, AgentType: "codex",
		Session: NewSessionKey(os.Getpid())}
	if IsStale(alive.String()) {
		t.Error("identity owned by this process reported stale")
	}

	// A pid from the far end of the default pid space is almost certainly
	// unused; skip if it happens to exist.
	deadPID := 4194000
	if processExists(deadPID) {
		t.Skip("probe pid unexpectedly alive")
	}
	dead := Identity{Role: RoleWorker, AgentType: "codex",
		Session: NewSessionKey(deadPID)}
	if !IsStale(dead.String()) {
		t.Error("identity owned by a dead pid not reported stale")
	}

	if IsStale("atelier/worker/codex/no-pid-here") {
		t.Error("session without pid must never be stale")
	}
	if IsStale("garbage") {
		t.Error("unparseable identity must never be stale")
	}
}

func TestNewSessionKeyFormat(t *testing.T) {
	key := NewSessionKey(42)
	if !strings.HasPrefix(key, "p42-t") {
		t.Errorf("key = %q", key)
	}
}
