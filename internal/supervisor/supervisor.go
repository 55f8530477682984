// Package supervisor wraps a long-lived task (PoolingManager, a
// BlockchainSync instance, OrderBookWatcher, ExpirySweeper, WebhookSender)
// in the {starting, running, draining, stopped, failed} state machine
// spec.md §9 calls for, restarting it with capped exponential backoff on
// an unhandled error and panic. Restart/panic-recover shape is grounded on
// _examples/luxfi-evm/plugin/evm/block_builder.go's
// shutdownChan/shutdownWg/panic-recover-relog loop, generalized from one
// task to N independently supervised tasks sharing one shutdown signal.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
)

// State is where a supervised task currently sits in its lifecycle.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Task is the shape every supervised component implements: Run blocks
// until ctx is cancelled or an unrecoverable error occurs, and must
// return promptly once ctx.Done() fires.
type Task func(ctx context.Context) error

// Supervisor runs one Task, restarting it on error (not on clean ctx
// cancellation) with capped exponential backoff, and exposes its current
// State for internal/app.HealthCheck to read.
type Supervisor struct {
	name     string
	task     Task
	sentinel bool // see MarkSentinel
	backoff  func() backoff.BackOff

	mu    sync.RWMutex
	state State
	err   error
}

// New builds a Supervisor for a named task using a default capped
// exponential backoff (100ms initial, 30s max, no limit on elapsed time —
// the supervisor restarts for as long as the process runs).
func New(name string, task Task) *Supervisor {
	return &Supervisor{
		name:  name,
		task:  task,
		state: StateStarting,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0 // never give up; the supervisor itself is the process's restart policy
			return b
		},
	}
}

// State reports the supervisor's current lifecycle state and, if failed,
// the error that caused it.
func (s *Supervisor) State() (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.err
}

func (s *Supervisor) setState(st State, err error) {
	s.mu.Lock()
	s.state = st
	s.err = err
	s.mu.Unlock()
}

// Run drives the supervised task until ctx is cancelled, restarting it on
// any non-nil, non-context-cancellation error or recovered panic. It
// returns nil once ctx is done and the task has exited cleanly.
func (s *Supervisor) Run(ctx context.Context) error {
	s.setState(StateStarting, nil)
	boff := s.backoff()

	for {
		if ctx.Err() != nil {
			s.setState(StateStopped, nil)
			return nil
		}

		s.setState(StateRunning, nil)
		err := s.runOnce(ctx)

		if ctx.Err() != nil {
			s.setState(StateStopped, nil)
			return nil
		}
		if err == nil {
			// A task returning nil without ctx being done means it
			// considers its work permanently finished; treat like a
			// clean stop rather than restarting it forever.
			s.setState(StateStopped, nil)
			return nil
		}

		s.setState(StateFailed, err)
		delay := boff.NextBackOff()
		if delay == backoff.Stop {
			obslog.Error("supervisor: task exhausted restart budget, giving up", "task", s.name, "err", err)
			return fmt.Errorf("supervisor: %s: %w", s.name, err)
		}
		obslog.Warn("supervisor: task failed, restarting", "task", s.name, "err", err, "delay", delay)

		select {
		case <-ctx.Done():
			s.setState(StateStopped, nil)
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce invokes the task once, converting a recovered panic into an
// error the restart loop treats the same as any other task failure.
func (s *Supervisor) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			obslog.Error("supervisor: panic in task", "task", s.name, "panic", r)
			err = fmt.Errorf("supervisor: %s: panic: %v", s.name, r)
		}
	}()
	return s.task(ctx)
}

// MarkSentinel flags this supervisor's task as the sentinel (only the
// store's connectivity check is one). Run handles a sentinel exactly like
// any other task: New's default backoff never returns backoff.Stop, so a
// failing sentinel is restarted for as long as the process runs and its
// failure does not end the process.
func (s *Supervisor) MarkSentinel() *Supervisor {
	s.sentinel = true
	return s
}

// IsSentinel reports whether MarkSentinel was called. Neither Run nor
// internal/app reads it.
func (s *Supervisor) IsSentinel() bool {
	return s.sentinel
}

// Name returns the task's label, for logs and the health-check report.
func (s *Supervisor) Name() string {
	return s.name
}
