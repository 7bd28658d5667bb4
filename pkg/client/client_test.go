package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	status, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("expected ok, got %q", status.Status)
	}
}

func TestFleet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(FleetStatus{
			NodeID: "node-1",
			Leader: true,
			Accounts: []AccountStatus{
				{Account: "acct-1", SessionActive: true, TaskState: "running"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	fleet, err := c.Fleet(context.Background())
	if err != nil {
		t.Fatalf("Fleet failed: %v", err)
	}
	if fleet.NodeID != "node-1" || len(fleet.Accounts) != 1 {
		t.Errorf("unexpected fleet: %+v", fleet)
	}
}

func TestFleetRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(FleetStatus{NodeID: "node-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.backoff = &ExponentialBackoff{Base: time.Millisecond, Max: time.Millisecond, Factor: 1}

	fleet, err := c.Fleet(context.Background())
	if err != nil {
		t.Fatalf("Fleet failed: %v", err)
	}
	if fleet.NodeID != "node-1" {
		t.Errorf("unexpected fleet: %+v", fleet)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

func TestRecordCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/cooldowns" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req Cooldown
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad body: %v", err)
		}
		json.NewEncoder(w).Encode(CooldownReceipt{
			Account:     req.Account,
			Class:       req.Class,
			AvailableAt: time.Now().Add(time.Duration(req.Seconds * float64(time.Second))),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	receipt, err := c.RecordCooldown(context.Background(), Cooldown{Account: "acct-1", Class: "flood-wait", Seconds: 60})
	if err != nil {
		t.Fatalf("RecordCooldown failed: %v", err)
	}
	if receipt.Account != "acct-1" || receipt.Class != "flood-wait" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
}

func TestRecordCooldownValidation(t *testing.T) {
	c := NewClient("http://example.invalid")

	if _, err := c.RecordCooldown(context.Background(), Cooldown{Class: "flood-wait", Seconds: 1}); err == nil {
		t.Errorf("expected error for missing account")
	}
	if _, err := c.RecordCooldown(context.Background(), Cooldown{Account: "a", Class: "flood-wait"}); err == nil {
		t.Errorf("expected error for non-positive seconds")
	}
}

func TestStartWarmupConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"task_already_active"}`, http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.StartWarmup(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("expected conflict error")
	}
}

func TestStartWarmup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(WarmupReceipt{Account: "acct-1", Status: "started"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	receipt, err := c.StartWarmup(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("StartWarmup failed: %v", err)
	}
	if receipt.Status != "started" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
}

func TestCancelWarmup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v1/warmups/acct-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.CancelWarmup(context.Background(), "acct-1"); err != nil {
		t.Fatalf("CancelWarmup failed: %v", err)
	}
}

func TestCancelWarmupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no_active_task"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.CancelWarmup(context.Background(), "acct-1"); err == nil {
		t.Errorf("expected not-found error")
	}
}

func TestGetEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("account"); got != "acct-1" {
			t.Errorf("expected account filter, got %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("expected limit 10, got %q", got)
		}
		json.NewEncoder(w).Encode([]Event{
			{EventID: "evt_1", EventType: "cooldown_recorded", Account: "acct-1"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	events, err := c.GetEvents(context.Background(), EventsOptions{Limit: 10, Account: "acct-1"})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "evt_1" {
		t.Errorf("unexpected events: %+v", events)
	}
}
