// Package task defines the orchestration task and the synchronous offer response.
package task

import (
	"fmt"
	"strings"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/capability"
)

// OrchestrationTask is a unit of work requiring exactly one capability.
// It is immutable once created; lifecycle is tracked through events.
type OrchestrationTask struct {
	TaskID             string         `json:"task_id"`
	RequiredCapability string         `json:"required_capability"`
	Parameters         map[string]any `json:"parameters,omitempty"`
	Priority           int            `json:"priority"`              // lower is more urgent
	TimeoutSec         int            `json:"timeout_sec,omitempty"` // advisory only
}

// Validate checks the fields the offer protocol depends on.
func (t OrchestrationTask) Validate() error {
	if t.TaskID == "" {
		return fmt.Errorf("%w: task_id is required", domain.ErrValidation)
	}
	if t.RequiredCapability == "" {
		return fmt.Errorf("%w: required_capability is required", domain.ErrValidation)
	}
	if strings.Contains(t.RequiredCapability, "*") {
		return fmt.Errorf("%w: required_capability %q must be concrete", domain.ErrValidation, t.RequiredCapability)
	}
	if t.TimeoutSec < 0 {
		return fmt.Errorf("%w: timeout_sec must be >= 0", domain.ErrValidation)
	}
	return nil
}

// Status is the outcome of an offer.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Reason enumerates why an offer was rejected.
type Reason string

const (
	ReasonAgentBusy          Reason = "agent_busy"
	ReasonCapabilityMismatch Reason = "capability_mismatch"
	ReasonInvalidParameters  Reason = "invalid_parameters"
	ReasonNoAvailableAgent   Reason = "no_available_agent"
)

// Response is the synchronous answer to an offer. It is never stored.
type Response struct {
	Status            Status `json:"status"`
	Reason            Reason `json:"reason,omitempty"`
	Message           string `json:"message,omitempty"`
	EstimatedDuration int    `json:"estimated_duration,omitempty"` // minutes
	TaskID            string `json:"task_id,omitempty"`
	AgentID           string `json:"agent_id,omitempty"`
}

// Accepted builds an accepted response.
func Accepted(taskID, agentID string, estimatedMinutes int) Response {
	return Response{
		Status:            StatusAccepted,
		Message:           "task accepted",
		EstimatedDuration: estimatedMinutes,
		TaskID:            taskID,
		AgentID:           agentID,
	}
}

// Rejected builds a rejected response.
func Rejected(taskID, agentID string, reason Reason, message string) Response {
	return Response{
		Status:  StatusRejected,
		Reason:  reason,
		Message: message,
		TaskID:  taskID,
		AgentID: agentID,
	}
}

// DefaultEstimateMinutes applies to capability families without a table entry.
const DefaultEstimateMinutes = 30

// estimateByFamily is the heuristic duration table keyed by capability family.
var estimateByFamily = map[string]int{
	"patrol":     45,
	"inspection": 20,
	"delivery":   10,
	"spill":      15,
}

// EstimateMinutes returns the heuristic duration for a capability id. The
// family segment is tried first, then every other segment, so
// "delivery.indoor.standard" is priced as a delivery.
func EstimateMinutes(capabilityID string) int {
	if m, ok := estimateByFamily[capability.Family(capabilityID)]; ok {
		return m
	}
	for _, seg := range strings.Split(capabilityID, ".") {
		if m, ok := estimateByFamily[seg]; ok {
			return m
		}
	}
	return DefaultEstimateMinutes
}
