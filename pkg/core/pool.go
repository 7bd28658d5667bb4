package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrSessionCreate marks a failed session creation. The failure leaves no
// entry in the pool, so the caller may retry Acquire later.
var ErrSessionCreate = errors.New("session creation failed")

// SessionHandle is the opaque connection handle owned by the pool once
// created. Its concrete type belongs to the Connector implementation.
type SessionHandle any

// Connector is the connection-layer boundary: it dials and tears down
// per-account sessions. Open may be slow and must honor ctx. Close
// failures are logged by the pool, never fatal to its bookkeeping.
type Connector interface {
	Open(ctx context.Context, account AccountID) (SessionHandle, error)
	Close(account AccountID, handle SessionHandle) error
}

// Session is one live pooled connection. Exactly one exists per account
// at any time; it is never expired implicitly, only evicted or drained.
type Session struct {
	Account   AccountID
	Handle    SessionHandle
	CreatedAt time.Time
}

// poolEntry claims one account key. ready is closed once creation
// settles; waiters then read session or err.
type poolEntry struct {
	ready   chan struct{}
	session *Session
	err     error
}

// SessionPool owns the account -> session mapping and deduplicates
// concurrent creation per key. The mutex guards map membership only;
// the dial itself runs outside the lock so that creations for different
// accounts proceed in parallel.
type SessionPool struct {
	mu        sync.Mutex
	sessions  map[AccountID]*poolEntry
	connector Connector
	events    EventSink
}

// NewSessionPool creates an empty pool backed by connector.
func NewSessionPool(connector Connector, events EventSink) *SessionPool {
	if events == nil {
		events = NopSink{}
	}
	return &SessionPool{
		sessions:  make(map[AccountID]*poolEntry),
		connector: connector,
		events:    events,
	}
}

// Acquire returns the live session for account, dialing one if absent.
// Concurrent callers for the same account trigger exactly one dial and
// all receive its outcome; callers for different accounts never block
// each other. A failed dial leaves no entry behind.
func (p *SessionPool) Acquire(ctx context.Context, account AccountID) (*Session, error) {
	p.mu.Lock()
	if entry, ok := p.sessions[account]; ok {
		p.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if entry.err != nil {
			return nil, entry.err
		}
		return entry.session, nil
	}

	// Claim the key, then dial outside the lock.
	entry := &poolEntry{ready: make(chan struct{})}
	p.sessions[account] = entry
	p.mu.Unlock()

	handle, err := p.connector.Open(ctx, account)
	if err != nil {
		p.mu.Lock()
		delete(p.sessions, account)
		p.mu.Unlock()

		entry.err = fmt.Errorf("%w for %s: %v", ErrSessionCreate, account, err)
		close(entry.ready)

		AccountSessionCreateTotal.WithLabelValues("failed").Inc()
		p.events.Emit(ctx, EventSessionCreateFailed, account, map[string]any{
			"error": err.Error(),
		})
		return nil, entry.err
	}

	entry.session = &Session{Account: account, Handle: handle, CreatedAt: time.Now()}
	close(entry.ready)

	AccountSessionCreateTotal.WithLabelValues("created").Inc()
	AccountSessionsActive.Inc()
	p.events.Emit(ctx, EventSessionCreated, account, nil)
	return entry.session, nil
}

// Retire marks the session as returned to the pool without destroying
// it. Sessions are reused across workflows, so this is bookkeeping only;
// it always succeeds, even for unknown accounts.
func (p *SessionPool) Retire(account AccountID) {
	p.mu.Lock()
	_, ok := p.sessions[account]
	p.mu.Unlock()
	if ok {
		log.Printf("session retired for %s", account)
	}
}

// Evict stops and removes the session for account if present. Idempotent.
// Teardown failures are logged and suppressed: the pool never retains a
// handle it believes is dead.
func (p *SessionPool) Evict(account AccountID) {
	p.mu.Lock()
	entry, ok := p.sessions[account]
	if ok {
		delete(p.sessions, account)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	// If a dial is still in flight, wait for it to settle before closing.
	<-entry.ready
	if entry.err != nil || entry.session == nil {
		return
	}

	if err := p.connector.Close(account, entry.session.Handle); err != nil {
		log.Printf("session teardown failed for %s: %v", account, err)
	}
	AccountSessionsActive.Dec()
	p.events.Emit(context.Background(), EventSessionEvicted, account, nil)
}

// Drain evicts every session. Best-effort: one session's teardown failure
// never prevents the others from being evicted. Used at process shutdown.
func (p *SessionPool) Drain() {
	p.mu.Lock()
	accounts := make([]AccountID, 0, len(p.sessions))
	for account := range p.sessions {
		accounts = append(accounts, account)
	}
	p.mu.Unlock()

	for _, account := range accounts {
		p.Evict(account)
	}
}

// Contains reports whether a session (live or being created) exists for
// account.
func (p *SessionPool) Contains(account AccountID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[account]
	return ok
}

// Len returns the number of pooled (or in-creation) sessions.
func (p *SessionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Snapshot returns the settled sessions for diagnostics.
func (p *SessionPool) Snapshot() []Session {
	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.sessions))
	for _, entry := range p.sessions {
		entries = append(entries, entry)
	}
	p.mu.Unlock()

	sessions := make([]Session, 0, len(entries))
	for _, entry := range entries {
		select {
		case <-entry.ready:
			if entry.session != nil {
				sessions = append(sessions, *entry.session)
			}
		default:
			// Still dialing; skip.
		}
	}
	return sessions
}
