// Package executor defines the port to a concrete agent implementation.
// The core never inspects movement, sensors or physical state; it only
// hands an accepted task to an Executor and relays what it reports.
package executor

import (
	"context"
	"errors"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/agent"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/task"
)

// Error codes reported in ecis.task.failed.
const (
	CodeExecutionError = "EXECUTION_ERROR"
	CodeCancelled      = "CANCELLED"
	CodeAgentOffline   = "AGENT_OFFLINE"
)

// ErrUnsupportedControl is returned by Controllers that do not implement a control.
var ErrUnsupportedControl = errors.New("unsupported control")

// ProgressFunc reports intermediate progress of a running task.
type ProgressFunc func(percent int, status string, details map[string]any)

// Executor runs an accepted task. Execute blocks until the task finishes,
// fails or ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, t task.OrchestrationTask, progress ProgressFunc) (map[string]any, error)
}

// ParameterValidator is implemented by executors with checks beyond the
// catalog's required-parameter schema.
type ParameterValidator interface {
	ValidateParameters(capabilityID string, params map[string]any) error
}

// Estimator is implemented by executors that can predict task duration.
type Estimator interface {
	EstimateDuration(t task.OrchestrationTask) int // minutes
}

// Controller is implemented by executors that accept robot commands other
// than cancel (pause, resume, return_home).
type Controller interface {
	Control(ctx context.Context, c agent.Control) error
}

// Error is an execution failure with a machine-readable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Classify maps an execution error to a code/message pair.
func Classify(err error) (code, message string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, e.Message
	}
	return CodeExecutionError, err.Error()
}
