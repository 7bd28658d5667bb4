// Package core implements the account orchestration core: a cooldown
// ledger, a per-account session pool, a workflow supervisor, and a
// bounded retrieval executor. All state is in-memory and process-scoped;
// persistence of observability events is delegated to an EventSink.
package core

import (
	"context"
	"fmt"
	"time"
)

// AccountID identifies one externally rate-limited account. It is opaque
// to the core and supplied by callers (typically a phone number or an
// account key).
type AccountID string

// Class is an independent throttling dimension for an account. The set is
// open: remote services introduce new throttle kinds without notice.
type Class string

const (
	// ClassFloodWait is the broad per-account throttle ("slow down entirely").
	ClassFloodWait Class = "flood-wait"
	// ClassGroupJoin throttles the narrower join-a-group action.
	ClassGroupJoin Class = "group-join"
)

// Event types reported to the EventSink on every core state transition.
const (
	EventCooldownRecorded    = "cooldown_recorded"
	EventSessionCreated      = "session_created"
	EventSessionCreateFailed = "session_create_failed"
	EventSessionEvicted      = "session_evicted"
	EventTaskStarted         = "task_started"
	EventTaskCompleted       = "task_completed"
	EventTaskCancelled       = "task_cancelled"
	EventTaskFailed          = "task_failed"
	EventRetrievalExhausted  = "retrieval_exhausted"
)

// EventSink receives core state transitions for external observability
// (journal, webhooks, dashboards). Implementations must not block for
// long: the core calls Emit outside its locks but inside hot paths.
type EventSink interface {
	Emit(ctx context.Context, eventType string, account AccountID, payload map[string]any)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(context.Context, string, AccountID, map[string]any) {}

// RateLimitError is the rate-limit signal surfaced by the transport layer.
// Workflow bodies convert it into a ledger entry via Record.
type RateLimitError struct {
	Class      Class
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Class, e.RetryAfter)
}

// Core bundles the four components behind one explicit context object.
// It replaces the lazily-constructed module-level singletons of earlier
// designs: construct once in main, pass by reference everywhere.
type Core struct {
	Ledger     *CooldownLedger
	Pool       *SessionPool
	Supervisor *Supervisor

	events EventSink
}

// Options configures a Core.
type Options struct {
	// Connector opens and closes per-account sessions. Required.
	Connector Connector
	// Events receives every state transition. Defaults to NopSink.
	Events EventSink
	// PollInterval is the ledger's wait-for-available polling interval.
	// Defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// New constructs a Core with the given options.
func New(opts Options) *Core {
	sink := opts.Events
	if sink == nil {
		sink = NopSink{}
	}

	c := &Core{events: sink}
	c.Ledger = NewCooldownLedger(opts.PollInterval, sink)
	c.Pool = NewSessionPool(opts.Connector, sink)
	c.Supervisor = NewSupervisor(c.Pool, sink)
	return c
}
