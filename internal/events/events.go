// Package events provides structured step events for worker cycles.
//
// Events are appended to <project>/atelier/.events.jsonl, one JSON object
// per line. The outer CLI and dashboards consume this stream; the supervisor
// itself never reads it back.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/internal/constants"
)

// Event represents one supervisor step.
type Event struct {
	Timestamp      string                 `json:"ts"`
	Actor          string                 `json:"actor,omitempty"`
	Label          string                 `json:"label"`
	ElapsedSeconds float64                `json:"elapsed_seconds"`
	Detail         map[string]interface{} `json:"detail,omitempty"`
}

// Common step labels emitted by the worker runner.
const (
	LabelStartup       = "startup"
	LabelClaim         = "claim"
	LabelWorktree      = "worktree"
	LabelAgentRun      = "agent_run"
	LabelFinalize      = "finalize"
	LabelReconcile     = "reconcile"
	LabelCycleSummary  = "cycle_summary"
	LabelNeedsDecision = "needs_decision"
)

// mutex protects concurrent appends from sibling worker processes on the
// same host going through this process; cross-process appends rely on
// O_APPEND line atomicity.
var mutex sync.Mutex

// Recorder appends events for one project, stamping the actor.
type Recorder struct {
	path  string
	actor string
}

// NewRecorder creates a Recorder for the project root.
func NewRecorder(projectRoot, actor string) *Recorder {
	return &Recorder{
		path:  filepath.Join(projectRoot, constants.DirAtelier, constants.FileEventsJSONL),
		actor: actor,
	}
}

// Step records one completed step with its duration and optional detail.
func (r *Recorder) Step(label string, started time.Time, detail map[string]interface{}) error {
	ev := Event{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Actor:          r.actor,
		Label:          label,
		ElapsedSeconds: time.Since(started).Seconds(),
		Detail:         detail,
	}
	return r.append(ev)
}

func (r *Recorder) append(ev Event) error {
	mutex.Lock()
	defer mutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("creating events directory: %w", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening events log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}
