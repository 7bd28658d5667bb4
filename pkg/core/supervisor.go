package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// TaskState is the lifecycle state of one supervised workflow.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskRunning    TaskState = "running"
	TaskCancelling TaskState = "cancelling"
	TaskCompleted  TaskState = "completed"
	TaskCancelled  TaskState = "cancelled"
	TaskFailed     TaskState = "failed"
)

// Workflow is the consumed unit of concurrency: the body of one
// per-account background task. It must observe ctx at every suspension
// point and unwind cleanly when cancelled; the supervisor never kills
// execution forcibly.
type Workflow func(ctx context.Context, account AccountID, session *Session) error

type task struct {
	account AccountID
	state   TaskState // guarded by Supervisor.mu
	cancel  context.CancelFunc
	done    chan struct{}
}

// TaskStatus is a read-only snapshot of one live task.
type TaskStatus struct {
	Account AccountID `json:"account"`
	State   TaskState `json:"state"`
}

// Supervisor owns the account -> running-workflow mapping and enforces
// single-flight per account. Claiming a key is a short critical section;
// the workflow itself runs outside any lock. Tasks leave the live map
// once they reach a terminal state.
type Supervisor struct {
	mu     sync.Mutex
	tasks  map[AccountID]*task
	pool   *SessionPool
	events EventSink
}

// NewSupervisor creates a Supervisor that acquires sessions from pool.
func NewSupervisor(pool *SessionPool, events EventSink) *Supervisor {
	if events == nil {
		events = NopSink{}
	}
	return &Supervisor{
		tasks:  make(map[AccountID]*task),
		pool:   pool,
		events: events,
	}
}

// Start spawns wf for account and returns immediately. Returns false
// (with a warning log, not an error) when a non-terminal task already
// exists for the account: the single-flight guarantee.
func (s *Supervisor) Start(account AccountID, wf Workflow) bool {
	s.mu.Lock()
	if _, ok := s.tasks[account]; ok {
		s.mu.Unlock()
		log.Printf("warning: task already active for %s, start rejected", account)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		account: account,
		state:   TaskPending,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.tasks[account] = t
	s.mu.Unlock()

	AccountTasksActive.Inc()
	s.events.Emit(ctx, EventTaskStarted, account, nil)

	go s.run(ctx, t, wf)
	return true
}

// run executes the workflow body and settles the task into a terminal
// state. Panics are recovered into Failed; they never escape the core.
func (s *Supervisor) run(ctx context.Context, t *task, wf Workflow) {
	defer close(t.done)

	err := s.execute(ctx, t, wf)

	s.mu.Lock()
	var final TaskState
	switch {
	case err == nil:
		final = TaskCompleted
	case errors.Is(err, context.Canceled):
		final = TaskCancelled
	default:
		final = TaskFailed
	}
	t.state = final
	delete(s.tasks, t.account)
	s.mu.Unlock()

	AccountTasksActive.Dec()
	AccountTaskOutcomeTotal.WithLabelValues(string(final)).Inc()
	switch final {
	case TaskCompleted:
		s.events.Emit(context.Background(), EventTaskCompleted, t.account, nil)
	case TaskCancelled:
		s.events.Emit(context.Background(), EventTaskCancelled, t.account, nil)
	case TaskFailed:
		log.Printf("task failed for %s: %v", t.account, err)
		s.events.Emit(context.Background(), EventTaskFailed, t.account, map[string]any{
			"error": err.Error(),
		})
	}
}

// execute acquires a session, runs the body and retires (not evicts) the
// session afterwards so it stays reusable, including on cancellation.
func (s *Supervisor) execute(ctx context.Context, t *task, wf Workflow) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panic for %s: %v", t.account, r)
		}
	}()

	session, err := s.pool.Acquire(ctx, t.account)
	if err != nil {
		return err
	}
	defer s.pool.Retire(t.account)

	s.mu.Lock()
	if t.state == TaskPending {
		t.state = TaskRunning
	}
	s.mu.Unlock()

	return wf(ctx, t.account, session)
}

// Cancel signals cancellation to the running task for account and waits
// for its actual termination before returning. Returns false if nothing
// was running. The wait is what prevents an orphaned workflow from
// touching a session the caller believes is free to evict.
func (s *Supervisor) Cancel(account AccountID) bool {
	s.mu.Lock()
	t, ok := s.tasks[account]
	if !ok {
		s.mu.Unlock()
		return false
	}
	t.state = TaskCancelling
	s.mu.Unlock()

	t.cancel()
	<-t.done
	return true
}

// StopAll cancels every live task concurrently and waits for all of them
// to settle: fan-out cancel, fan-in join. Shutdown latency is bounded by
// the slowest single workflow's cleanup, not the sum.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	live := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.state = TaskCancelling
		live = append(live, t)
	}
	s.mu.Unlock()

	for _, t := range live {
		t.cancel()
	}
	for _, t := range live {
		<-t.done
	}
}

// IsActive reports whether a non-terminal task exists for account.
func (s *Supervisor) IsActive(account AccountID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[account]
	return ok
}

// ActiveCount returns the number of non-terminal tasks.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// State returns the live task state for account, if any.
func (s *Supervisor) State(account AccountID) (TaskState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[account]
	if !ok {
		return "", false
	}
	return t.state, true
}

// Snapshot returns the live tasks for diagnostics.
func (s *Supervisor) Snapshot() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		statuses = append(statuses, TaskStatus{Account: t.account, State: t.state})
	}
	return statuses
}
