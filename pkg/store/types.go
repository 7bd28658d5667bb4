package store

import (
	"context"
	"encoding/json"
	"time"
)

// EventType represents the kind of event.
type EventType string

const (
	EventTypeCooldownRecorded    EventType = "cooldown_recorded"
	EventTypeSessionCreated      EventType = "session_created"
	EventTypeSessionCreateFailed EventType = "session_create_failed"
	EventTypeSessionEvicted      EventType = "session_evicted"
	EventTypeTaskStarted         EventType = "task_started"
	EventTypeTaskCompleted       EventType = "task_completed"
	EventTypeTaskCancelled       EventType = "task_cancelled"
	EventTypeTaskFailed          EventType = "task_failed"
	EventTypeRetrievalExhausted  EventType = "retrieval_exhausted"
)

// Lease represents a distributed lock or leadership claim.
type Lease struct {
	Name      string    `json:"name"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   int64     `json:"version"` // For CAS (Compare-And-Swap) logic
}

// LeaseStore defines the interface for acquiring and renewing leases.
type LeaseStore interface {
	// Acquire tries to acquire the lease. Returns true if successful.
	// If the lease is already held by holderID, it renews it.
	Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)

	// Renew updates the expiry of an existing lease held by holderID.
	// Returns error if the lease is lost or stolen.
	Renew(ctx context.Context, name, holderID string, ttl time.Duration) error

	// Release releases the lease if held by holderID.
	Release(ctx context.Context, name, holderID string) error

	// Get returns the current lease state.
	Get(ctx context.Context, name string) (*Lease, error)
}

// EventID is a unique identifier for an event.
type EventID string

// Event is the canonical envelope for journaled orchestration events.
// The journal is observability history only; orchestration state is
// never rebuilt from it.
type Event struct {
	EventID       EventID         `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	TsEvent       time.Time       `json:"ts_event"`
	TsIngest      time.Time       `json:"ts_ingest"`
	Source        EventSource     `json:"source"`
	Account       string          `json:"account"`
	Class         string          `json:"class,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventSource describes the origin of the event.
type EventSource struct {
	OriginKind string `json:"origin_kind"` // daemon, operator, client
	OriginID   string `json:"origin_id"`
	WriterID   string `json:"writer_id"` // Always "accfleet-d"
}

// EventFilter defines filters for querying events.
type EventFilter struct {
	From       time.Time
	To         time.Time
	EventTypes []EventType
	Account    string
	Limit      int
}
