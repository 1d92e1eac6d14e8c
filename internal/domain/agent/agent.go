// Package agent defines the registry's per-agent record and agent controls.
package agent

import (
	"slices"
	"time"
)

// Status represents the availability of an agent.
type Status string

const (
	StatusReady   Status = "ready"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReady, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// CapabilityInfo is the registry record for one agent. CurrentTask is empty
// unless Status is busy.
type CapabilityInfo struct {
	AgentID      string    `json:"agent_id"`
	AgentType    string    `json:"agent_type"`
	Capabilities []string  `json:"capabilities"`
	Status       Status    `json:"status"`
	CurrentTask  string    `json:"current_task,omitempty"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Clone returns a deep copy safe to hand out of the registry lock.
func (i *CapabilityInfo) Clone() CapabilityInfo {
	c := *i
	c.Capabilities = slices.Clone(i.Capabilities)
	return c
}

// Control is an optional robot control operation delivered as a command event.
type Control string

const (
	ControlPause      Control = "pause"
	ControlResume     Control = "resume"
	ControlCancel     Control = "cancel"
	ControlReturnHome Control = "return_home"
)

// ParseControl maps a command token to a Control.
func ParseControl(s string) (Control, bool) {
	c := Control(s)
	switch c {
	case ControlPause, ControlResume, ControlCancel, ControlReturnHome:
		return c, true
	}
	return "", false
}
