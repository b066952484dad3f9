// Package session provides agent identity and liveness for worker runs.
//
// An agent identity is atelier/<role>/<agent-type>/<session>, where the
// session key encodes the owning pid (p<pid>-t<token>). The family prefix
// (everything before the session key) groups agents that may reclaim each
// other's epics once the previous owner's process is dead.
package session

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/atelier-dev/atelier/internal/constants"
)

// Roles for atelier agents.
const (
	RoleWorker  = "worker"
	RolePlanner = "planner"
)

// Identity is a parsed atelier agent identity.
type Identity struct {
	Role      string // worker, planner
	AgentType string // codex, claude, gemini, copilot, aider
	Session   string // p<pid>-t<token>
}

// String renders the identity in address form.
func (id Identity) String() string {
	return strings.Join([]string{constants.AgentFamilyRoot, id.Role, id.AgentType, id.Session}, "/")
}

// FamilyPrefix returns atelier/<role>/<agent-type>.
func (id Identity) FamilyPrefix() string {
	return strings.Join([]string{constants.AgentFamilyRoot, id.Role, id.AgentType}, "/")
}

// NewWorkerIdentity mints a worker identity for this process.
func NewWorkerIdentity(agentType string) Identity {
	return Identity{
		Role:      RoleWorker,
		AgentType: agentType,
		Session:   NewSessionKey(os.Getpid()),
	}
}

// NewSessionKey builds a session key from a pid and a fresh short token.
func NewSessionKey(pid int) string {
	token := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("p%d-t%s", pid, token)
}

// Parse parses an agent identity address.
func Parse(address string) (Identity, error) {
	address = strings.TrimSpace(strings.TrimSuffix(address, "/"))
	parts := strings.Split(address, "/")
	if len(parts) != 4 || parts[0] != constants.AgentFamilyRoot {
		return Identity{}, fmt.Errorf("invalid agent identity %q", address)
	}
	for _, p := range parts[1:] {
		if p == "" {
			return Identity{}, fmt.Errorf("invalid agent identity %q", address)
		}
	}
	return Identity{Role: parts[1], AgentType: parts[2], Session: parts[3]}, nil
}

// SessionPID extracts the pid encoded in a session key. Returns 0 when the
// key does not carry one.
func SessionPID(session string) int {
	if !strings.HasPrefix(session, "p") {
		return 0
	}
	rest := strings.TrimPrefix(session, "p")
	if idx := strings.IndexByte(rest, '-'); idx >= 0 {
		rest = rest[:idx]
	}
	pid, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}
	return pid
}

// SameFamily reports whether two identities share a family prefix.
func SameFamily(a, b string) bool {
	ia, errA := Parse(a)
	ib, errB := Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return ia.FamilyPrefix() == ib.FamilyPrefix()
}

// IsStale reports whether an agent identity's owning process is dead.
// Identities without a pid-bearing session key are never considered stale.
func IsStale(address string) bool {
	id, err := Parse(address)
	if err != nil {
		return false
	}
	pid := SessionPID(id.Session)
	if pid <= 0 {
		return false
	}
	return !processExists(pid)
}
