package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFleetFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fleet file: %v", err)
	}
	return path
}

func TestLoadFleetConfig(t *testing.T) {
	path := writeFleetFile(t, `{
		"accounts": ["acct-1", "acct-2"],
		"warmup": {"wait_timeout": "45s"},
		"connector": {"dial_latency": "50ms", "fail_accounts": ["acct-2"]}
	}`)

	cfg, err := LoadFleetConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := cfg.AccountIDs()
	if len(ids) != 2 || string(ids[0]) != "acct-1" || string(ids[1]) != "acct-2" {
		t.Errorf("expected priority order preserved, got %v", ids)
	}
	if cfg.WaitTimeout() != 45*time.Second {
		t.Errorf("expected 45s wait timeout, got %v", cfg.WaitTimeout())
	}
	if cfg.DialLatency() != 50*time.Millisecond {
		t.Errorf("expected 50ms dial latency, got %v", cfg.DialLatency())
	}
	if fail := cfg.FailAccountIDs(); len(fail) != 1 || string(fail[0]) != "acct-2" {
		t.Errorf("unexpected fail accounts: %v", fail)
	}
}

func TestLoadFleetConfig_Missing(t *testing.T) {
	_, err := LoadFleetConfig(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadFleetConfig_DuplicateAccount(t *testing.T) {
	path := writeFleetFile(t, `{"accounts": ["acct-1", "acct-1"]}`)

	_, err := LoadFleetConfig(path)
	if err == nil {
		t.Fatal("expected error for duplicate account")
	}
	if !strings.Contains(err.Error(), "duplicate account") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadFleetConfig_BadDuration(t *testing.T) {
	path := writeFleetFile(t, `{"accounts": ["acct-1"], "warmup": {"wait_timeout": "fast"}}`)

	_, err := LoadFleetConfig(path)
	if err == nil {
		t.Fatal("expected error for bad wait_timeout")
	}
}

func TestLoadFleetConfig_NegativeWaitTimeout(t *testing.T) {
	path := writeFleetFile(t, `{"accounts": ["acct-1"], "warmup": {"wait_timeout": "-1s"}}`)

	_, err := LoadFleetConfig(path)
	if err == nil || !strings.Contains(err.Error(), "must be positive") {
		t.Errorf("expected positivity error, got %v", err)
	}
}
