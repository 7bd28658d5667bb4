package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/accfleet/accfleet/pkg/store"
)

// fakeLeaseStore is an in-memory LeaseStore for election tests.
type fakeLeaseStore struct {
	mu     sync.Mutex
	leases map[string]*store.Lease
	fail   bool
}

func newFakeLeaseStore() *fakeLeaseStore {
	return &fakeLeaseStore{leases: make(map[string]*store.Lease)}
}

func (f *fakeLeaseStore) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false, errors.New("lease store unavailable")
	}
	l, ok := f.leases[name]
	if ok && l.HolderID != holderID && time.Now().Before(l.ExpiresAt) {
		return false, nil
	}
	f.leases[name] = &store.Lease{Name: name, HolderID: holderID, ExpiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (f *fakeLeaseStore) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("lease store unavailable")
	}
	l, ok := f.leases[name]
	if !ok || l.HolderID != holderID {
		return errors.New("lease lost or stolen")
	}
	l.ExpiresAt = time.Now().Add(ttl)
	return nil
}

func (f *fakeLeaseStore) Release(ctx context.Context, name, holderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.leases[name]; ok && l.HolderID == holderID {
		delete(f.leases, name)
	}
	return nil
}

func (f *fakeLeaseStore) Get(ctx context.Context, name string) (*store.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leases[name]
	if !ok {
		return nil, nil
	}
	copied := *l
	return &copied, nil
}

func (f *fakeLeaseStore) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func TestElectionPromoteAndDemote(t *testing.T) {
	leases := newFakeLeaseStore()

	var mu sync.Mutex
	promotions, demotions := 0, 0

	em := NewElectionManager(leases, "node-1", "fleet-leader", 40*time.Millisecond,
		func() { mu.Lock(); promotions++; mu.Unlock() },
		func() { mu.Lock(); demotions++; mu.Unlock() },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	em.Start(ctx)
	defer em.Stop(context.Background())

	// Promotion after the first successful acquire
	deadline := time.After(2 * time.Second)
	for !em.IsLeader() {
		select {
		case <-deadline:
			t.Fatal("never promoted to leader")
		case <-time.After(5 * time.Millisecond):
		}
	}
	mu.Lock()
	if promotions != 1 {
		t.Errorf("expected 1 promotion, got %d", promotions)
	}
	mu.Unlock()

	// A failing lease store demotes us
	leases.setFail(true)

	deadline = time.After(2 * time.Second)
	for em.IsLeader() {
		select {
		case <-deadline:
			t.Fatal("never demoted after lease store failure")
		case <-time.After(5 * time.Millisecond):
		}
	}
	mu.Lock()
	if demotions != 1 {
		t.Errorf("expected 1 demotion, got %d", demotions)
	}
	mu.Unlock()
}

func TestElectionOnlyOneLeader(t *testing.T) {
	leases := newFakeLeaseStore()

	em1 := NewElectionManager(leases, "node-1", "fleet-leader", 40*time.Millisecond, nil, nil)
	em2 := NewElectionManager(leases, "node-2", "fleet-leader", 40*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	em1.Start(ctx)
	em2.Start(ctx)
	defer em1.Stop(context.Background())
	defer em2.Stop(context.Background())

	deadline := time.After(2 * time.Second)
	for !em1.IsLeader() && !em2.IsLeader() {
		select {
		case <-deadline:
			t.Fatal("no node was ever promoted")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Give both managers a few more election rounds, then check exclusivity
	time.Sleep(150 * time.Millisecond)
	if em1.IsLeader() && em2.IsLeader() {
		t.Errorf("both nodes believe they are leader")
	}
}

func TestElectionStopReleasesLease(t *testing.T) {
	leases := newFakeLeaseStore()

	em := NewElectionManager(leases, "node-1", "fleet-leader", 40*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	em.Start(ctx)

	deadline := time.After(2 * time.Second)
	for !em.IsLeader() {
		select {
		case <-deadline:
			t.Fatal("never promoted to leader")
		case <-time.After(5 * time.Millisecond):
		}
	}

	em.Stop(context.Background())

	l, err := leases.Get(context.Background(), "fleet-leader")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if l != nil {
		t.Errorf("expected lease to be released on stop, got %v", l)
	}
}
