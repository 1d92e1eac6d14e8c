// Package event defines the CloudEvents 1.0 envelope exchanged with the
// Federation Gateway and the event types this system emits and consumes.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain"
)

const (
	SpecVersion     = "1.0"
	ContentTypeJSON = "application/json"
	sourceScheme    = "ecis://"
)

// Outbound lifecycle and status event types.
const (
	TypeTaskStarted         = "ecis.task.started"
	TypeTaskProgress        = "ecis.task.progress"
	TypeTaskCompleted       = "ecis.task.completed"
	TypeTaskFailed          = "ecis.task.failed"
	TypeTaskCancelled       = "ecis.task.cancelled"
	TypeRobotStatusChanged  = "ecis.robot.status.changed"
	TypeRobotError          = "ecis.robot.error"
	TypeSystemOnline        = "ecis.system.online"
	TypeSystemOffline       = "ecis.system.offline"
	TypeOrchestrationAssign = "ecis.orchestration.task.assign"
	TypeRobotCommandPattern = "ecis.robot.command.*"
)

// Event is a CloudEvents 1.0 structured-mode envelope.
type Event struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	Time            time.Time       `json:"time"`
	Subject         string          `json:"subject,omitempty"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data,omitempty"`
	CorrelationID   string          `json:"correlationid,omitempty"`
}

// Option customizes an event at construction.
type Option func(*Event)

// WithSubject sets the subject (usually a task or agent id).
func WithSubject(subject string) Option {
	return func(e *Event) { e.Subject = subject }
}

// WithCorrelationID links the event to the message that caused it.
func WithCorrelationID(id string) Option {
	return func(e *Event) { e.CorrelationID = id }
}

// Source returns the CloudEvents source URI for a system id.
func Source(systemID string) string {
	return sourceScheme + systemID
}

// New builds a fresh event with a new UUID and the current UTC time.
func New(systemID, eventType string, data any, opts ...Option) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s data: %w", eventType, err)
	}
	e := Event{
		SpecVersion:     SpecVersion,
		ID:              uuid.NewString(),
		Source:          Source(systemID),
		Type:            eventType,
		Time:            time.Now().UTC(),
		DataContentType: ContentTypeJSON,
		Data:            raw,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e, nil
}

// Validate checks the required CloudEvents attributes of an inbound event.
func (e *Event) Validate() error {
	switch {
	case e.SpecVersion != SpecVersion:
		return fmt.Errorf("%w: unsupported specversion %q", domain.ErrValidation, e.SpecVersion)
	case e.ID == "":
		return fmt.Errorf("%w: event id is required", domain.ErrValidation)
	case e.Type == "":
		return fmt.Errorf("%w: event type is required", domain.ErrValidation)
	case e.Source == "":
		return fmt.Errorf("%w: event source is required", domain.ErrValidation)
	}
	return nil
}

// DecodeData unmarshals the event payload into v.
func (e *Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: event %s has no data", domain.ErrValidation, e.ID)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: decode %s data: %v", domain.ErrValidation, e.Type, err)
	}
	return nil
}
