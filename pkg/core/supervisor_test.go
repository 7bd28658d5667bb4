package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func newTestSupervisor() (*Supervisor, *stubConnector) {
	conn := &stubConnector{}
	pool := NewSessionPool(conn, nil)
	return NewSupervisor(pool, nil), conn
}

func waitForInactive(t *testing.T, s *Supervisor, account AccountID) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for s.IsActive(account) {
		select {
		case <-deadline:
			t.Fatalf("task for %s never settled", account)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestStartSingleFlight(t *testing.T) {
	s, _ := newTestSupervisor()

	release := make(chan struct{})
	started := make(chan struct{})
	ok := s.Start("acct-1", func(ctx context.Context, account AccountID, session *Session) error {
		close(started)
		<-release
		return nil
	})
	if !ok {
		t.Fatal("expected first Start to succeed")
	}
	<-started

	// Second start for the same account is rejected
	if s.Start("acct-1", func(ctx context.Context, account AccountID, session *Session) error {
		return nil
	}) {
		t.Errorf("expected second Start to be rejected")
	}

	// A different account is independent
	if !s.Start("acct-2", func(ctx context.Context, account AccountID, session *Session) error {
		return nil
	}) {
		t.Errorf("expected Start for different account to succeed")
	}

	close(release)
	waitForInactive(t, s, "acct-1")
	waitForInactive(t, s, "acct-2")
}

func TestStartAgainAfterTerminal(t *testing.T) {
	s, _ := newTestSupervisor()

	if !s.Start("acct-1", func(ctx context.Context, account AccountID, session *Session) error {
		return nil
	}) {
		t.Fatal("first Start failed")
	}
	waitForInactive(t, s, "acct-1")

	// The account is restartable once the previous task settled
	if !s.Start("acct-1", func(ctx context.Context, account AccountID, session *Session) error {
		return nil
	}) {
		t.Errorf("expected restart after completion to succeed")
	}
	waitForInactive(t, s, "acct-1")
}

func TestCancelAwaitsTermination(t *testing.T) {
	s, _ := newTestSupervisor()

	var cleanedUp atomic.Bool
	started := make(chan struct{})
	s.Start("acct-1", func(ctx context.Context, account AccountID, session *Session) error {
		close(started)
		<-ctx.Done()
		// Slow acknowledgement: cleanup takes a while
		time.Sleep(50 * time.Millisecond)
		cleanedUp.Store(true)
		return ctx.Err()
	})
	<-started

	if !s.Cancel("acct-1") {
		t.Fatal("expected Cancel to find the running task")
	}
	// Cancel must not return before the workflow actually unwound
	if !cleanedUp.Load() {
		t.Errorf("Cancel returned before workflow cleanup finished")
	}
	if s.IsActive("acct-1") {
		t.Errorf("expected task to be gone after Cancel")
	}
}

func TestCancelAbsent(t *testing.T) {
	s, _ := newTestSupervisor()

	if s.Cancel("nobody") {
		t.Errorf("expected Cancel of absent task to return false")
	}
}

func TestWorkflowErrorSettlesFailed(t *testing.T) {
	s, _ := newTestSupervisor()

	s.Start("acct-1", func(ctx context.Context, account AccountID, session *Session) error {
		return errors.New("remote rejected us")
	})
	waitForInactive(t, s, "acct-1")

	// Failure is a terminal outcome, not a crash: the account restarts
	if !s.Start("acct-1", func(ctx context.Context, account AccountID, session *Session) error {
		return nil
	}) {
		t.Errorf("expected restart after failure to succeed")
	}
	waitForInactive(t, s, "acct-1")
}

func TestWorkflowPanicRecovered(t *testing.T) {
	s, _ := newTestSupervisor()

	s.Start("acct-1", func(ctx context.Context, account AccountID, session *Session) error {
		panic("boom")
	})
	waitForInactive(t, s, "acct-1")

	if s.ActiveCount() != 0 {
		t.Errorf("expected no live tasks after panic, got %d", s.ActiveCount())
	}
}

func TestSessionCreateFailureFailsTask(t *testing.T) {
	conn := &stubConnector{failNext: true}
	pool := NewSessionPool(conn, nil)
	s := NewSupervisor(pool, nil)

	var ran atomic.Bool
	s.Start("acct-1", func(ctx context.Context, account AccountID, session *Session) error {
		ran.Store(true)
		return nil
	})
	waitForInactive(t, s, "acct-1")

	if ran.Load() {
		t.Errorf("workflow body must not run without a session")
	}
}

func TestStopAllJoinsEverything(t *testing.T) {
	s, _ := newTestSupervisor()

	const tasks = 5
	started := make(chan struct{}, tasks)
	for i := 0; i < tasks; i++ {
		account := AccountID(fmt.Sprintf("acct-%d", i))
		s.Start(account, func(ctx context.Context, account AccountID, session *Session) error {
			started <- struct{}{}
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			return ctx.Err()
		})
	}
	for i := 0; i < tasks; i++ {
		<-started
	}

	start := time.Now()
	s.StopAll()

	if s.ActiveCount() != 0 {
		t.Errorf("expected no live tasks after StopAll, got %d", s.ActiveCount())
	}
	// Cancellation fans out: total latency tracks the slowest task, not the sum
	if elapsed := time.Since(start); elapsed > 80*time.Millisecond {
		t.Errorf("StopAll appears to cancel serially: took %s", elapsed)
	}
}

func TestStateTransitions(t *testing.T) {
	s, _ := newTestSupervisor()

	started := make(chan struct{})
	release := make(chan struct{})
	s.Start("acct-1", func(ctx context.Context, account AccountID, session *Session) error {
		close(started)
		<-release
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	state, ok := s.State("acct-1")
	if !ok || state != TaskRunning {
		t.Errorf("expected running state, got %s (ok=%v)", state, ok)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Cancel("acct-1")
	}()

	// Cancelling is visible while the workflow unwinds
	deadline := time.After(time.Second)
	for {
		state, ok := s.State("acct-1")
		if ok && state == TaskCancelling {
			break
		}
		select {
		case <-deadline:
			t.Fatal("never observed cancelling state")
		case <-time.After(time.Millisecond):
		}
	}

	close(release)
	<-done

	if _, ok := s.State("acct-1"); ok {
		t.Errorf("expected terminal task to leave the live map")
	}
}
