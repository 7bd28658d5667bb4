package api

import "time"

// CooldownRequest matches the POST /v1/cooldowns body schema
type CooldownRequest struct {
	Account string  `json:"account"`
	Class   string  `json:"class"`
	Seconds float64 `json:"seconds"`
}

// CooldownResponse matches the response for POST /v1/cooldowns
type CooldownResponse struct {
	Account     string    `json:"account"`
	Class       string    `json:"class"`
	AvailableAt time.Time `json:"available_at"`
}

// WarmupRequest matches the payload for POST /v1/warmups
type WarmupRequest struct {
	Account string `json:"account"`
}

// WarmupResponse matches the response for POST /v1/warmups
type WarmupResponse struct {
	Account string `json:"account"`
	Status  string `json:"status"` // started, rejected
}

// CooldownStatus is one in-force ledger entry inside an account status.
type CooldownStatus struct {
	Class       string    `json:"class"`
	AvailableAt time.Time `json:"available_at"`
	RemainingMs int64     `json:"remaining_ms"`
}

// AccountStatus is one account's orchestration state in GET /v1/fleet.
type AccountStatus struct {
	Account          string           `json:"account"`
	SessionActive    bool             `json:"session_active"`
	SessionCreatedAt *time.Time       `json:"session_created_at,omitempty"`
	TaskState        string           `json:"task_state,omitempty"`
	Cooldowns        []CooldownStatus `json:"cooldowns,omitempty"`
}

// FleetStatus matches the response for GET /v1/fleet
type FleetStatus struct {
	NodeID   string          `json:"node_id"`
	Leader   bool            `json:"leader"`
	Accounts []AccountStatus `json:"accounts"`
}
