package main

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_PollIntervalValidation(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		envVars     map[string]string
		expectError bool
		errorSubstr string
	}{
		{
			name:        "valid poll interval from flag",
			args:        []string{"-poll-interval", "5s"},
			expectError: false,
		},
		{
			name:        "zero poll interval from flag",
			args:        []string{"-poll-interval", "0s"},
			expectError: true,
			errorSubstr: "poll interval must be positive",
		},
		{
			name:        "negative poll interval from flag",
			args:        []string{"-poll-interval", "-5s"},
			expectError: true,
			errorSubstr: "poll interval must be positive",
		},
		{
			name:        "valid poll interval from env",
			envVars:     map[string]string{"ACCFLEET_POLL_INTERVAL": "5s"},
			expectError: false,
		},
		{
			name:        "zero poll interval from env",
			envVars:     map[string]string{"ACCFLEET_POLL_INTERVAL": "0s"},
			expectError: true,
			errorSubstr: "ACCFLEET_POLL_INTERVAL must be positive",
		},
		{
			name:        "negative poll interval from env",
			envVars:     map[string]string{"ACCFLEET_POLL_INTERVAL": "-5s"},
			expectError: true,
			errorSubstr: "ACCFLEET_POLL_INTERVAL must be positive",
		},
		{
			name:        "invalid poll interval format from flag",
			args:        []string{"-poll-interval", "invalid"},
			expectError: true,
			errorSubstr: "invalid poll interval",
		},
		{
			name:        "invalid poll interval format from env",
			envVars:     map[string]string{"ACCFLEET_POLL_INTERVAL": "invalid"},
			expectError: true,
			errorSubstr: "invalid ACCFLEET_POLL_INTERVAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			cfg, err := LoadConfig(tt.args)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errorSubstr)
				} else if !strings.Contains(err.Error(), tt.errorSubstr) {
					t.Errorf("expected error containing %q, got %q", tt.errorSubstr, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				} else if cfg.PollInterval <= 0 {
					t.Errorf("expected positive poll interval, got %v", cfg.PollInterval)
				}
			}
		})
	}
}

func TestLoadConfig_DefaultPollInterval(t *testing.T) {
	cfg, err := LoadConfig([]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.PollInterval != 10*time.Second {
		t.Errorf("expected default poll interval of 10s, got %v", cfg.PollInterval)
	}
}

func TestLoadConfig_Peers(t *testing.T) {
	cfg, err := LoadConfig([]string{
		"-node-id", "node-1",
		"-peers", "node-1=http://10.0.0.1:8090, node-2=http://10.0.0.2:8090/",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(cfg.Peers))
	}
	if cfg.Peers["node-2"] != "http://10.0.0.2:8090" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Peers["node-2"])
	}
}

func TestLoadConfig_PeersMustIncludeSelf(t *testing.T) {
	_, err := LoadConfig([]string{
		"-node-id", "node-3",
		"-peers", "node-1=http://10.0.0.1:8090",
	})
	if err == nil {
		t.Fatal("expected error when peers omit this node")
	}
	if !strings.Contains(err.Error(), "node-3") {
		t.Errorf("expected error to name the missing node, got %q", err.Error())
	}
}

func TestLoadConfig_MalformedPeers(t *testing.T) {
	_, err := LoadConfig([]string{"-peers", "node-1"})
	if err == nil {
		t.Fatal("expected error for malformed peer entry")
	}
	if !strings.Contains(err.Error(), "invalid peer entry") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_TLSRequiresBothFiles(t *testing.T) {
	_, err := LoadConfig([]string{"-tls-cert", "/tmp/cert.pem"})
	if err == nil {
		t.Fatal("expected error when tls-key is missing")
	}
}
