// Package simulator provides a time-stepped Task Executor for agents that
// have no physical device behind them (demos, integration tests).
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/agent"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/task"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/logger"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/executor"
)

// ParamSimulateFailure makes Execute fail at the halfway step with the
// given error code.
const ParamSimulateFailure = "simulate_failure"

var errIdle = errors.New("no task running")

// Executor simulates a device that completes a task in a fixed number of
// steps. It supports pause, resume and return_home.
type Executor struct {
	steps        int
	stepDuration time.Duration
	log          *slog.Logger

	mu      sync.Mutex
	running bool
	paused  bool
	resume  chan struct{}
	homed   int
}

// New creates a simulator that finishes after steps × stepDuration.
func New(steps int, stepDuration time.Duration, log *slog.Logger) *Executor {
	if steps < 1 {
		steps = 1
	}
	return &Executor{
		steps:        steps,
		stepDuration: stepDuration,
		log:          logger.Component(log, "simulator"),
	}
}

// Execute walks through the steps, reporting progress after each one.
func (e *Executor) Execute(ctx context.Context, t task.OrchestrationTask, progress executor.ProgressFunc) (map[string]any, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, &executor.Error{Code: "DEVICE_BUSY", Message: "simulator already running a task"}
	}
	e.running = true
	e.paused = false
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.paused = false
		e.mu.Unlock()
	}()

	failCode, _ := t.Parameters[ParamSimulateFailure].(string)
	start := time.Now()
	timer := time.NewTimer(e.stepDuration)
	defer timer.Stop()

	for step := 1; step <= e.steps; step++ {
		if err := e.waitWhilePaused(ctx); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		timer.Reset(e.stepDuration)

		if failCode != "" && step*2 >= e.steps {
			return nil, &executor.Error{Code: failCode, Message: fmt.Sprintf("simulated failure at step %d", step)}
		}
		progress(step*100/e.steps, fmt.Sprintf("step %d/%d", step, e.steps), map[string]any{"step": step})
	}

	e.log.Debug("simulated task finished", "task_id", t.TaskID, "capability", t.RequiredCapability)
	return map[string]any{
		"steps":       e.steps,
		"capability":  t.RequiredCapability,
		"elapsed_sec": time.Since(start).Seconds(),
	}, nil
}

func (e *Executor) waitWhilePaused(ctx context.Context) error {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return nil
	}
	ch := e.resume
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Control implements pause, resume and return_home.
func (e *Executor) Control(_ context.Context, c agent.Control) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch c {
	case agent.ControlPause:
		if !e.running {
			return errIdle
		}
		if !e.paused {
			e.paused = true
			e.resume = make(chan struct{})
		}
	case agent.ControlResume:
		if !e.running {
			return errIdle
		}
		if e.paused {
			e.paused = false
			close(e.resume)
		}
	case agent.ControlReturnHome:
		if e.running {
			return &executor.Error{Code: "DEVICE_BUSY", Message: "cancel the running task before returning home"}
		}
		e.homed++
	default:
		return fmt.Errorf("%w: %s", executor.ErrUnsupportedControl, c)
	}
	return nil
}

// Paused reports whether the running task is paused.
func (e *Executor) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// HomeReturns counts completed return_home commands.
func (e *Executor) HomeReturns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.homed
}
