// Package mail routes planner-facing messages through message beads.
//
// A NEEDS-DECISION message is a message bead labeled at:message + at:unread
// with thread labels binding it to the tickets it concerns. Workers query
// blocking messages by thread set and creation time; planners clear the
// unread label once handled.
package mail

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/constants"
)

// ThreadLabelPrefix marks the ticket ids a message concerns.
const ThreadLabelPrefix = "thread:"

// QueueLabelPrefix marks queue messages for a named worker queue.
const QueueLabelPrefix = "queue:"

// Store is the slice of the ticket store the router needs.
type Store interface {
	Create(opts beads.CreateOptions) (string, error)
	List(opts beads.ListOptions) ([]*beads.Issue, error)
}

// Router creates and queries message beads for one actor.
type Router struct {
	store Store
	actor string
}

// NewRouter creates a Router stamping messages with the given actor.
func NewRouter(store Store, actor string) *Router {
	return &Router{store: store, actor: actor}
}

var subjectCaser = cases.Title(language.English)

// NeedsDecision describes an operator decision request.
type NeedsDecision struct {
	Subject string
	Body    string   // before/after context, diagnostics
	Action  string   // the one sentence telling the planner what to decide
	Threads []string // ticket ids this message concerns
}

// NotifyNeedsDecision creates a NEEDS-DECISION message bead and returns its
// id. Subjects are title-cased and prefixed uniformly so planner inboxes
// sort cleanly.
func (r *Router) NotifyNeedsDecision(msg NeedsDecision) (string, error) {
	subject := fmt.Sprintf("NEEDS-DECISION: %s", subjectCaser.String(msg.Subject))

	var body strings.Builder
	body.WriteString(msg.Body)
	if msg.Action != "" {
		body.WriteString("\n\nAction: ")
		body.WriteString(msg.Action)
	}
	if r.actor != "" {
		body.WriteString("\n\nfrom: ")
		body.WriteString(r.actor)
	}

	labels := []string{constants.LabelMessage, constants.LabelUnread}
	for _, t := range msg.Threads {
		if t != "" {
			labels = append(labels, ThreadLabelPrefix+t)
		}
	}

	return r.store.Create(beads.CreateOptions{
		Title:       subject,
		Type:        "message",
		Description: body.String(),
		Labels:      labels,
		Actor:       r.actor,
	})
}

// BlockingMessages returns unread messages created after since whose thread
// labels intersect the given ticket ids.
func (r *Router) BlockingMessages(threads []string, since time.Time) ([]*beads.Issue, error) {
	msgs, err := r.store.List(beads.ListOptions{
		Label:  constants.LabelUnread,
		Status: "open",
	})
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(threads))
	for _, t := range threads {
		want[t] = true
	}

	var blocking []*beads.Issue
	for _, msg := range msgs {
		if !beads.HasLabel(msg, constants.LabelMessage) {
			continue
		}
		if !since.IsZero() {
			created, err := time.Parse(time.RFC3339, msg.CreatedAt)
			if err != nil || !created.After(since) {
				continue
			}
		}
		for _, l := range msg.Labels {
			if strings.HasPrefix(l, ThreadLabelPrefix) && want[strings.TrimPrefix(l, ThreadLabelPrefix)] {
				blocking = append(blocking, msg)
				break
			}
		}
	}
	return blocking, nil
}

// UnreadInbox returns unread messages addressed to an agent (assigned to it
// or unassigned broadcast messages).
func (r *Router) UnreadInbox(agentID string) ([]*beads.Issue, error) {
	msgs, err := r.store.List(beads.ListOptions{
		Label:  constants.LabelUnread,
		Status: "open",
	})
	if err != nil {
		return nil, err
	}

	var inbox []*beads.Issue
	for _, msg := range msgs {
		if !beads.HasLabel(msg, constants.LabelMessage) {
			continue
		}
		if msg.Assignee == "" || msg.Assignee == agentID {
			inbox = append(inbox, msg)
		}
	}
	return inbox, nil
}

// UnclaimedQueueMessages returns open queue messages for a named queue that
// no worker has claimed yet.
func (r *Router) UnclaimedQueueMessages(queue string) ([]*beads.Issue, error) {
	if queue == "" {
		return nil, nil
	}
	msgs, err := r.store.List(beads.ListOptions{
		Label:  QueueLabelPrefix + queue,
		Status: "open",
	})
	if err != nil {
		return nil, err
	}

	var unclaimed []*beads.Issue
	for _, msg := range msgs {
		if msg.Assignee == "" {
			unclaimed = append(unclaimed, msg)
		}
	}
	return unclaimed, nil
}
