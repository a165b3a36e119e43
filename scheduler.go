package sidecar

import (
	"context"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
)

// SchedulerState is the lifecycle state of a Scheduler.
type SchedulerState int

const (
	Idle SchedulerState = iota
	Running
	Stopped
)

func (s SchedulerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// A Scheduler runs an action periodically on a single dedicated goroutine.
//
// The action runs immediately once started and then again after every
// interval, measured from the end of the previous run, so runs never overlap.
// A Scheduler moves from Idle to Running to Stopped; Stopped is terminal.
//
// An action that returns an error terminates the loop. The error is not
// retried, and nothing restarts the scheduler: it is reported by Err and the
// scheduler stays Stopped.
type Scheduler struct {
	interval time.Duration
	action   func(context.Context) error

	stop     chan struct{} // Closed by Stop; wakes a pending wait.
	done     chan struct{} // Closed when the worker exits.
	stopOnce sync.Once

	mu      sync.Mutex
	state   SchedulerState
	lastRun time.Time
	err     error
}

// NewScheduler returns an Idle scheduler that runs action every interval.
func NewScheduler(interval time.Duration, action func(context.Context) error) *Scheduler {
	if interval < 0 {
		panic("sidecar: negative scheduler interval")
	}
	return &Scheduler{
		interval: interval,
		action:   action,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the worker. It returns ErrSchedulerState unless the scheduler
// is Idle.
//
// The action receives a context carrying the values of ctx but never its
// cancellation: an action in flight always runs to completion, and only Stop
// prevents the next run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ErrSchedulerState
	}
	s.state = Running
	go s.run(context.WithoutCancel(ctx))
	return nil
}

// Stop ends the scheduler and waits for the worker to exit. A pending wait for
// the next run is interrupted immediately; a run in progress is waited for.
//
// Stop is idempotent and safe to call from any goroutine other than the
// action's own. Stopping an Idle scheduler makes it Stopped without ever
// running the action.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	if s.state == Idle {
		s.state = Stopped
		close(s.done)
	}
	s.mu.Unlock()

	<-s.done
}

// Done returns a channel closed once the scheduler is Stopped, whether by Stop
// or by a failing action.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastRun returns the time the action last started, or the zero time if it
// never ran.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Err returns the error that terminated the scheduler, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Scheduler) run(ctx context.Context) {
	logger := component.Logger(ctx)
	defer func() {
		s.mu.Lock()
		s.state = Stopped
		s.mu.Unlock()
		close(s.done)
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		// Stop wins over an expired timer.
		select {
		case <-s.stop:
			return
		default:
		}
		select {
		case <-s.stop:
			return
		case <-timer.C:
		}

		s.mu.Lock()
		s.lastRun = time.Now()
		s.mu.Unlock()

		if err := s.action(ctx); err != nil {
			logger.Error("Scheduled action failed; scheduler stops", "error", err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		timer.Reset(s.interval)
	}
}
