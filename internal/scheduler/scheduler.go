// Package scheduler runs named recurring and one-shot tasks. Every task gets
// its own goroutine and cancellable context; executions of one task never
// overlap and a failing or panicking execution never affects other tasks.
//
// Scheduling state lives in memory only.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// Func is the body of a task.
type Func func(ctx context.Context) error

// TaskStatus is a point-in-time view of a registered task.
type TaskStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	OneShot      bool          `json:"one_shot"`
	IsRunning    bool          `json:"is_running"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	NextRun      *time.Time    `json:"next_run,omitempty"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
	SkippedCount int64         `json:"skipped_count"`
	LastError    *string       `json:"last_error,omitempty"`
}

type task struct {
	id       string
	name     string
	interval time.Duration
	delay    time.Duration
	oneShot  bool
	fn       Func

	cancel context.CancelFunc
	// done is closed once the task goroutine and its executions returned.
	done chan struct{}

	mu     sync.Mutex
	busy   bool
	status TaskStatus
}

func (t *task) snapshot() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.status
	st.IsRunning = t.busy
	return st
}

// Scheduler owns the task table.
type Scheduler struct {
	mu      sync.RWMutex
	tasks   map[string]*task
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// New creates a stopped Scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*task),
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// ScheduleRecurring registers fn to run every interval. A task with the same
// id is cancelled and replaced.
func (s *Scheduler) ScheduleRecurring(id, name string, interval time.Duration, fn Func) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: task %s: interval %s: %w", id, interval, domain.ErrValidation)
	}
	s.register(&task{
		id:       id,
		name:     name,
		interval: interval,
		fn:       fn,
		status:   TaskStatus{ID: id, Name: name, Interval: interval},
	})
	return nil
}

// ScheduleOnce registers fn to run once after delay. The task removes itself
// after it ran.
func (s *Scheduler) ScheduleOnce(id, name string, delay time.Duration, fn Func) error {
	if delay < 0 {
		return fmt.Errorf("scheduler: task %s: delay %s: %w", id, delay, domain.ErrValidation)
	}
	s.register(&task{
		id:      id,
		name:    name,
		delay:   delay,
		oneShot: true,
		fn:      fn,
		status:  TaskStatus{ID: id, Name: name, OneShot: true},
	})
	return nil
}

// register stores t, replacing a task with the same id. The replacement
// starts only after the replaced task's in-flight execution returned, so
// the two never overlap. The caller is not blocked, which lets a task
// re-register its own id from inside its body.
func (s *Scheduler) register(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var after <-chan struct{}
	if prev, ok := s.tasks[t.id]; ok && prev.cancel != nil {
		prev.cancel()
		after = prev.done
		s.logger.Debug("task replaced", slog.String("task_id", t.id))
	}
	s.tasks[t.id] = t
	if s.running {
		s.arm(t, after)
	}
}

// arm starts the task goroutine, which first waits for after when it is
// non-nil. Callers hold s.mu.
func (s *Scheduler) arm(t *task, after <-chan struct{}) {
	tctx, cancel := context.WithCancel(s.ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	s.wg.Add(1)
	if t.oneShot {
		next := time.Now().UTC().Add(t.delay)
		t.mu.Lock()
		t.status.NextRun = &next
		t.mu.Unlock()
		go s.runOnce(tctx, t, after)
		return
	}
	next := time.Now().UTC().Add(t.interval)
	t.mu.Lock()
	t.status.NextRun = &next
	t.mu.Unlock()
	go s.runRecurring(tctx, t, after)
}

// Cancel stops and removes a task, then waits for its in-flight execution
// to return. It reports whether the task existed. A task body must not
// cancel its own id.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	var done <-chan struct{}
	if t.cancel != nil {
		t.cancel()
		done = t.done
	}
	delete(s.tasks, id)
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	return true
}

// Start arms every registered task. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, t := range s.tasks {
		s.arm(t, nil)
	}
	s.logger.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
}

// Stop cancels every task context and waits for in-flight executions.
// Registered tasks are kept and re-armed by the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	for _, t := range s.tasks {
		t.cancel = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// TaskStatus returns the status of one task.
func (s *Scheduler) TaskStatus(id string) (TaskStatus, bool) {
	s.mu.RLock()
	t, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return TaskStatus{}, false
	}
	return t.snapshot(), true
}

// TaskStatuses returns every task ordered by id.
func (s *Scheduler) TaskStatuses() []TaskStatus {
	s.mu.RLock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// waitPrevious blocks until the replaced task returned. It runs regardless
// of ctx so that Cancel on the replacement also covers the replaced run.
func waitPrevious(after <-chan struct{}) {
	if after != nil {
		<-after
	}
}

func (s *Scheduler) runRecurring(ctx context.Context, t *task, after <-chan struct{}) {
	defer s.wg.Done()
	defer close(t.done)
	waitPrevious(after)

	var runs sync.WaitGroup
	defer runs.Wait()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.busy {
				t.status.SkippedCount++
				t.mu.Unlock()
				s.logger.Debug("task tick skipped, previous run still in progress",
					slog.String("task_id", t.id),
				)
				continue
			}
			t.busy = true
			t.mu.Unlock()

			runs.Add(1)
			go func() {
				defer runs.Done()
				s.execute(ctx, t)
			}()
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t *task, after <-chan struct{}) {
	defer s.wg.Done()
	defer close(t.done)
	waitPrevious(after)

	timer := time.NewTimer(t.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if ctx.Err() != nil || !s.Running() {
		return
	}

	t.mu.Lock()
	t.busy = true
	t.mu.Unlock()
	s.execute(ctx, t)

	s.mu.Lock()
	if cur, ok := s.tasks[t.id]; ok && cur == t {
		delete(s.tasks, t.id)
	}
	s.mu.Unlock()
}

// execute runs one invocation with panic recovery and records the outcome.
// t.busy must be set by the caller.
func (s *Scheduler) execute(ctx context.Context, t *task) {
	start := time.Now().UTC()
	err := s.invoke(ctx, t)
	elapsed := time.Since(start)

	t.mu.Lock()
	t.busy = false
	t.status.LastRun = &start
	t.status.RunCount++
	if !t.oneShot {
		next := time.Now().UTC().Add(t.interval - elapsed%t.interval)
		t.status.NextRun = &next
	} else {
		t.status.NextRun = nil
	}
	if err != nil {
		msg := err.Error()
		t.status.ErrorCount++
		t.status.LastError = &msg
	}
	t.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.Error("task failed",
			slog.String("task_id", t.id),
			slog.String("task", t.name),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("task completed",
		slog.String("task_id", t.id),
		slog.Duration("elapsed", elapsed),
	)
}

func (s *Scheduler) invoke(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: task %s panicked: %v", t.id, r)
			s.logger.Error("task panic",
				slog.String("task_id", t.id),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	return t.fn(ctx)
}
