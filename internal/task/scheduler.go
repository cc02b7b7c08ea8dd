package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type RunnerFunc func(context.Context)

type SchedulerOption func(*Scheduler)

// WithImmediateRun starts the first run as soon as the scheduler starts instead of after one interval.
func WithImmediateRun() SchedulerOption {
	return func(scheduler *Scheduler) {
		scheduler.immediate = true
	}
}

// WithSkipHandler registers a callback invoked when a tick arrives while the previous run is still in flight.
func WithSkipHandler(onSkip func()) SchedulerOption {
	return func(scheduler *Scheduler) {
		scheduler.onSkip = onSkip
	}
}

// Scheduler runs a function at a fixed rate measured from run start. Runs never overlap:
// a tick that arrives while a run is in flight is dropped.
type Scheduler struct {
	interval     time.Duration
	runner       RunnerFunc
	immediate    bool
	onSkip       func()
	trigger      chan struct{}
	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
	running      atomic.Bool
	runs         sync.WaitGroup
}

func NewScheduler(interval time.Duration, runner RunnerFunc, options ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	scheduler := &Scheduler{
		interval: interval,
		runner:   runner,
		trigger:  make(chan struct{}, 1),
	}
	for _, option := range options {
		if option != nil {
			option(scheduler)
		}
	}
	return scheduler
}

func (scheduler *Scheduler) Interval() time.Duration {
	if scheduler == nil {
		return 0
	}
	return scheduler.interval
}

func (scheduler *Scheduler) Start(ctx context.Context) {
	if scheduler == nil || scheduler.runner == nil {
		return
	}
	scheduler.controlMutex.Lock()
	if scheduler.cancel != nil {
		scheduler.controlMutex.Unlock()
		return
	}
	runtimeCtx, cancel := context.WithCancel(ctx)
	scheduler.cancel = cancel
	done := make(chan struct{})
	scheduler.done = done
	scheduler.controlMutex.Unlock()

	go scheduler.loop(runtimeCtx, done)
}

func (scheduler *Scheduler) Trigger() {
	if scheduler == nil {
		return
	}
	select {
	case scheduler.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the schedule and waits for the loop and any in-flight run to return.
func (scheduler *Scheduler) Stop() {
	if scheduler == nil {
		return
	}
	scheduler.controlMutex.Lock()
	cancel := scheduler.cancel
	done := scheduler.done
	scheduler.cancel = nil
	scheduler.done = nil
	scheduler.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	scheduler.runs.Wait()
}

// Running reports whether a run is in flight.
func (scheduler *Scheduler) Running() bool {
	if scheduler == nil {
		return false
	}
	return scheduler.running.Load()
}

func (scheduler *Scheduler) loop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()
	defer func() {
		if done != nil {
			close(done)
		}
	}()
	if scheduler.immediate {
		scheduler.dispatch(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduler.trigger:
			scheduler.dispatch(ctx)
		case <-ticker.C:
			scheduler.dispatch(ctx)
		}
	}
}

func (scheduler *Scheduler) dispatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !scheduler.running.CompareAndSwap(false, true) {
		if scheduler.onSkip != nil {
			scheduler.onSkip()
		}
		return
	}
	scheduler.runs.Add(1)
	go func() {
		defer scheduler.runs.Done()
		defer scheduler.running.Store(false)
		scheduler.run(ctx)
	}()
}

func (scheduler *Scheduler) run(ctx context.Context) {
	if scheduler.runner == nil {
		return
	}
	scheduler.runner(ctx)
}
