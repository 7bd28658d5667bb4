package core

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval is how often WaitForAvailable re-checks the ledger.
// Polling is deliberate: expiry times come from unpredictable remote
// rate-limit responses, so a bounded-interval poll is simpler than a
// timer heap at the cost of up to one interval of added latency.
const DefaultPollInterval = 500 * time.Millisecond

type ledgerKey struct {
	account AccountID
	class   Class
}

// CooldownLedger tracks, per (account, class), the instant after which
// operations of that class are permitted again. Expired entries are
// treated as absent and deleted lazily on read.
type CooldownLedger struct {
	mu           sync.Mutex
	entries      map[ledgerKey]time.Time
	pollInterval time.Duration
	events       EventSink

	// nowFn allows test time injection.
	nowFn func() time.Time
}

// CooldownStatus is a read-only snapshot of one ledger entry.
type CooldownStatus struct {
	Account     AccountID     `json:"account"`
	Class       Class         `json:"class"`
	AvailableAt time.Time     `json:"available_at"`
	Remaining   time.Duration `json:"remaining"`
}

// NewCooldownLedger creates an empty ledger. A non-positive pollInterval
// selects DefaultPollInterval.
func NewCooldownLedger(pollInterval time.Duration, events EventSink) *CooldownLedger {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if events == nil {
		events = NopSink{}
	}
	return &CooldownLedger{
		entries:      make(map[ledgerKey]time.Time),
		pollInterval: pollInterval,
		events:       events,
		nowFn:        time.Now,
	}
}

// Record sets availableAt = now + d for (account, class). The deadline is
// monotonically non-decreasing: a shorter new cooldown never truncates a
// longer one already in force. Never fails; d <= 0 is a no-op.
func (l *CooldownLedger) Record(account AccountID, class Class, d time.Duration) {
	if d <= 0 {
		return
	}

	until := l.nowFn().Add(d)
	key := ledgerKey{account: account, class: class}

	l.mu.Lock()
	if existing, ok := l.entries[key]; !ok || until.After(existing) {
		l.entries[key] = until
	} else {
		until = existing
	}
	l.mu.Unlock()

	AccountCooldownsRecorded.WithLabelValues(string(class)).Inc()
	l.events.Emit(context.Background(), EventCooldownRecorded, account, map[string]any{
		"class":        string(class),
		"duration_ms":  d.Milliseconds(),
		"available_at": until.UTC().Format(time.RFC3339Nano),
	})
}

// IsAvailable reports whether account may perform actions of class.
// Expired entries are cleared as a side effect.
func (l *CooldownLedger) IsAvailable(account AccountID, class Class) bool {
	key := ledgerKey{account: account, class: class}

	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.entries[key]
	if !ok {
		return true
	}
	if l.nowFn().Before(until) {
		return false
	}
	delete(l.entries, key)
	return true
}

// Remaining returns how much cooldown time is left for (account, class).
// Zero means available.
func (l *CooldownLedger) Remaining(account AccountID, class Class) time.Duration {
	key := ledgerKey{account: account, class: class}

	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.entries[key]
	if !ok {
		return 0
	}
	remaining := until.Sub(l.nowFn())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FirstAvailable scans accounts in order and returns the first one
// available for class. Input order is the tie-break: callers control
// priority by ordering.
func (l *CooldownLedger) FirstAvailable(accounts []AccountID, class Class) (AccountID, bool) {
	for _, account := range accounts {
		if l.IsAvailable(account, class) {
			return account, true
		}
	}
	return "", false
}

// WaitForAvailable polls FirstAvailable until a candidate frees up or
// timeout elapses. Returns false on timeout or context cancellation.
// This is the only ledger operation that suspends the caller.
func (l *CooldownLedger) WaitForAvailable(ctx context.Context, accounts []AccountID, class Class, timeout time.Duration) (AccountID, bool) {
	if account, ok := l.FirstAvailable(accounts, class); ok {
		return account, true
	}
	if timeout <= 0 || len(accounts) == 0 {
		return "", false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-deadline.C:
			return "", false
		case <-ticker.C:
			if account, ok := l.FirstAvailable(accounts, class); ok {
				return account, true
			}
		}
	}
}

// Snapshot returns all entries still in force, for diagnostics.
func (l *CooldownLedger) Snapshot() []CooldownStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	statuses := make([]CooldownStatus, 0, len(l.entries))
	for key, until := range l.entries {
		if !now.Before(until) {
			delete(l.entries, key)
			continue
		}
		statuses = append(statuses, CooldownStatus{
			Account:     key.account,
			Class:       key.class,
			AvailableAt: until,
			Remaining:   until.Sub(now),
		})
	}
	return statuses
}
