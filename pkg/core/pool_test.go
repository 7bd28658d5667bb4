package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubConnector counts opens and closes and can be told to fail or stall.
type stubConnector struct {
	mu        sync.Mutex
	opens     int32
	closes    int32
	failNext  bool
	openDelay time.Duration
}

func (c *stubConnector) Open(ctx context.Context, account AccountID) (SessionHandle, error) {
	c.mu.Lock()
	fail := c.failNext
	c.failNext = false
	delay := c.openDelay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("dial refused")
	}
	atomic.AddInt32(&c.opens, 1)
	return fmt.Sprintf("handle-%s", account), nil
}

func (c *stubConnector) Close(account AccountID, handle SessionHandle) error {
	atomic.AddInt32(&c.closes, 1)
	return nil
}

func TestAcquireCreatesOnce(t *testing.T) {
	conn := &stubConnector{}
	pool := NewSessionPool(conn, nil)

	first, err := pool.Acquire(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	second, err := pool.Acquire(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Acquire (reuse) failed: %v", err)
	}

	if first != second {
		t.Errorf("expected the same session to be reused")
	}
	if got := atomic.LoadInt32(&conn.opens); got != 1 {
		t.Errorf("expected 1 open, got %d", got)
	}
	if pool.Len() != 1 {
		t.Errorf("expected pool size 1, got %d", pool.Len())
	}
}

func TestAcquireConcurrentSingleDial(t *testing.T) {
	conn := &stubConnector{openDelay: 10 * time.Millisecond}
	pool := NewSessionPool(conn, nil)

	const callers = 20
	sessions := make([]*Session, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = pool.Acquire(context.Background(), "acct-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if sessions[i] != sessions[0] {
			t.Errorf("caller %d got a different session", i)
		}
	}
	if got := atomic.LoadInt32(&conn.opens); got != 1 {
		t.Errorf("expected exactly 1 dial for concurrent callers, got %d", got)
	}
}

func TestAcquireDifferentAccountsDoNotBlock(t *testing.T) {
	conn := &stubConnector{openDelay: 50 * time.Millisecond}
	pool := NewSessionPool(conn, nil)

	start := time.Now()
	var wg sync.WaitGroup
	for _, account := range []AccountID{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(account AccountID) {
			defer wg.Done()
			if _, err := pool.Acquire(context.Background(), account); err != nil {
				t.Errorf("Acquire %s failed: %v", account, err)
			}
		}(account)
	}
	wg.Wait()

	// Serial dials would take 200ms+; parallel ones stay near one delay.
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("dials appear serialized: took %s", elapsed)
	}
}

func TestAcquireFailureAllowsRetry(t *testing.T) {
	conn := &stubConnector{failNext: true}
	pool := NewSessionPool(conn, nil)

	_, err := pool.Acquire(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if !errors.Is(err, ErrSessionCreate) {
		t.Errorf("expected ErrSessionCreate, got %v", err)
	}

	// The failure left no entry behind
	if pool.Contains("acct-1") {
		t.Errorf("expected no pool entry after failed dial")
	}

	// Retry succeeds
	session, err := pool.Acquire(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("retry Acquire failed: %v", err)
	}
	if session.Account != "acct-1" {
		t.Errorf("unexpected session account %s", session.Account)
	}
}

func TestEvictIdempotent(t *testing.T) {
	conn := &stubConnector{}
	pool := NewSessionPool(conn, nil)

	if _, err := pool.Acquire(context.Background(), "acct-1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	pool.Evict("acct-1")
	pool.Evict("acct-1") // no-op
	pool.Evict("never-existed")

	if got := atomic.LoadInt32(&conn.closes); got != 1 {
		t.Errorf("expected 1 close, got %d", got)
	}
	if pool.Len() != 0 {
		t.Errorf("expected empty pool, got %d", pool.Len())
	}

	// A fresh session can be created afterwards
	if _, err := pool.Acquire(context.Background(), "acct-1"); err != nil {
		t.Fatalf("Acquire after evict failed: %v", err)
	}
	if got := atomic.LoadInt32(&conn.opens); got != 2 {
		t.Errorf("expected 2 opens, got %d", got)
	}
}

func TestDrainEvictsAll(t *testing.T) {
	conn := &stubConnector{}
	pool := NewSessionPool(conn, nil)

	for _, account := range []AccountID{"a", "b", "c"} {
		if _, err := pool.Acquire(context.Background(), account); err != nil {
			t.Fatalf("Acquire %s failed: %v", account, err)
		}
	}

	pool.Drain()

	if pool.Len() != 0 {
		t.Errorf("expected empty pool after drain, got %d", pool.Len())
	}
	if got := atomic.LoadInt32(&conn.closes); got != 3 {
		t.Errorf("expected 3 closes, got %d", got)
	}
}

func TestSnapshotSkipsInFlightDials(t *testing.T) {
	conn := &stubConnector{openDelay: 100 * time.Millisecond}
	pool := NewSessionPool(conn, nil)

	go pool.Acquire(context.Background(), "slow")

	time.Sleep(10 * time.Millisecond)
	if got := len(pool.Snapshot()); got != 0 {
		t.Errorf("expected snapshot to skip in-flight dial, got %d sessions", got)
	}
	if !pool.Contains("slow") {
		t.Errorf("expected in-flight entry to be claimed")
	}
}
