package beads

import (
	"fmt"
	"strings"

	"github.com/atelier-dev/atelier/internal/constants"
)

// AgentFields holds structured fields for agent beads.
// These are stored as "key: value" lines in the description.
type AgentFields struct {
	RoleType string // worker, planner
	HookBead string // currently hooked epic id
}

// FormatAgentDescription creates a description string from agent fields.
// Empty values are written as the literal "null" to keep the slot.
func FormatAgentDescription(title string, fields *AgentFields) string {
	if fields == nil {
		return title
	}

	var lines []string
	lines = append(lines, title)
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("%s: %s", constants.MetaRoleType, fields.RoleType))
	if fields.HookBead != "" {
		lines = append(lines, fmt.Sprintf("%s: %s", constants.MetaHookBead, fields.HookBead))
	} else {
		lines = append(lines, constants.MetaHookBead+": null")
	}
	return strings.Join(lines, "\n")
}

// ParseAgentFields extracts agent fields from an issue's description.
func ParseAgentFields(description string) *AgentFields {
	fields := &AgentFields{}

	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		colonIdx := strings.Index(line, ":")
		if colonIdx == -1 {
			continue
		}

		key := strings.TrimSpace(line[:colonIdx])
		value := strings.TrimSpace(line[colonIdx+1:])
		if value == "null" {
			value = ""
		}

		switch key {
		case constants.MetaRoleType:
			fields.RoleType = value
		case constants.MetaHookBead:
			fields.HookBead = value
		}
	}
	return fields
}

// EnsureAgentBead finds or creates the agent identity bead for an agent id.
// The bead title equals the agent id; role is recorded in the description.
func (b *Beads) EnsureAgentBead(agentID, roleType string) (*Issue, error) {
	existing, err := b.List(ListOptions{Label: constants.LabelAgent, Status: "all"})
	if err != nil {
		return nil, err
	}
	for _, issue := range existing {
		if issue.Title == agentID {
			return b.Show(issue.ID)
		}
	}

	id, err := b.Create(CreateOptions{
		Title:       agentID,
		Type:        "agent",
		Description: FormatAgentDescription(agentID, &AgentFields{RoleType: roleType}),
		Labels:      []string{constants.LabelAgent},
		Actor:       agentID,
	})
	if err != nil {
		return nil, err
	}
	return b.Show(id)
}

// AgentHook returns the epic id currently hooked by the agent bead, if any.
// The bd slot is authoritative; the description line is a fallback for
// stores without slot support.
func (b *Beads) AgentHook(agentBead *Issue) string {
	if agentBead == nil {
		return ""
	}
	if agentBead.HookBead != "" {
		return agentBead.HookBead
	}
	return ParseAgentFields(agentBead.Description).HookBead
}

// SetAgentHook points the agent bead's hook at an epic.
func (b *Beads) SetAgentHook(agentBeadID, epicID string) error {
	if _, err := b.run("slot", "set", agentBeadID, "hook", epicID); err == nil {
		return nil
	}
	return b.rewriteHookLine(agentBeadID, epicID)
}

// ClearAgentHook clears the agent bead's hook.
func (b *Beads) ClearAgentHook(agentBeadID string) error {
	if _, err := b.run("slot", "clear", agentBeadID, "hook"); err == nil {
		return nil
	}
	return b.rewriteHookLine(agentBeadID, "")
}

func (b *Beads) rewriteHookLine(agentBeadID, epicID string) error {
	issue, err := b.Show(agentBeadID)
	if err != nil {
		return err
	}
	fields := ParseAgentFields(issue.Description)
	fields.HookBead = epicID
	desc := FormatAgentDescription(issue.Title, fields)
	return b.Update(agentBeadID, UpdateOptions{Description: &desc})
}

// FindAgentBeadByHook returns the agent bead whose hook points at epicID,
// or nil when no agent has it hooked.
func (b *Beads) FindAgentBeadByHook(epicID string) (*Issue, error) {
	agents, err := b.List(ListOptions{Label: constants.LabelAgent, Status: "all"})
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if b.AgentHook(a) == epicID {
			return a, nil
		}
	}
	return nil, nil
}
