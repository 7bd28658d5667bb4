package client

import (
	"encoding/json"
	"time"
)

// Cooldown is the request body for RecordCooldown.
type Cooldown struct {
	// Account is the required account identifier.
	Account string `json:"account"`
	// Class is the required rate-limit class (e.g. "flood-wait").
	Class string `json:"class"`
	// Seconds is the required cooldown length.
	Seconds float64 `json:"seconds"`
}

// CooldownReceipt is the daemon's acknowledgement of a recorded cooldown.
type CooldownReceipt struct {
	Account string `json:"account"`
	Class   string `json:"class"`
	// AvailableAt is when the account becomes usable again for the class.
	AvailableAt time.Time `json:"available_at"`
}

// WarmupReceipt is the daemon's acknowledgement of a started warmup.
type WarmupReceipt struct {
	Account string `json:"account"`
	Status  string `json:"status"`
}

// AccountCooldown is one in-force ledger entry in a fleet report.
type AccountCooldown struct {
	Class       string    `json:"class"`
	AvailableAt time.Time `json:"available_at"`
	RemainingMs int64     `json:"remaining_ms"`
}

// AccountStatus is one account's orchestration state.
type AccountStatus struct {
	Account          string            `json:"account"`
	SessionActive    bool              `json:"session_active"`
	SessionCreatedAt *time.Time        `json:"session_created_at,omitempty"`
	TaskState        string            `json:"task_state,omitempty"`
	Cooldowns        []AccountCooldown `json:"cooldowns,omitempty"`
}

// FleetStatus is the response of GET /v1/fleet.
type FleetStatus struct {
	NodeID   string          `json:"node_id"`
	Leader   bool            `json:"leader"`
	Accounts []AccountStatus `json:"accounts"`
}

// Status represents the health check response.
type Status struct {
	// Status is the health status string (e.g. "ok").
	Status string `json:"status"`
}

// Event represents a journaled orchestration event.
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	TsEvent       time.Time       `json:"ts_event"`
	TsIngest      time.Time       `json:"ts_ingest"`
	Source        EventSource     `json:"source"`
	Account       string          `json:"account"`
	Class         string          `json:"class,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type EventSource struct {
	OriginKind string `json:"origin_kind"`
	OriginID   string `json:"origin_id"`
	WriterID   string `json:"writer_id"`
}

// EventsOptions defines filters for GetEvents.
type EventsOptions struct {
	Limit   int
	Account string
	Type    string
}
