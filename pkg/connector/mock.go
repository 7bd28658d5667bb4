// Package connector provides core.Connector implementations. The real
// transport to the remote messaging service is deployment-specific; the
// mock connector here backs local development and tests.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/accfleet/accfleet/pkg/core"
)

// MockSession is the handle type the mock connector hands out.
type MockSession struct {
	Account  core.AccountID
	DialedAt time.Time
}

// MockConfig tunes the mock's behavior.
type MockConfig struct {
	// DialLatency is the simulated time to establish a session.
	DialLatency time.Duration
	// FailAccounts lists accounts whose dials always fail.
	FailAccounts []core.AccountID
}

// MockConnector simulates the remote connection layer for testing and
// local development.
type MockConnector struct {
	mu     sync.Mutex
	config MockConfig
	opens  map[core.AccountID]int
	closes map[core.AccountID]int
}

// NewMockConnector creates a mock connector.
func NewMockConnector(config MockConfig) *MockConnector {
	return &MockConnector{
		config: config,
		opens:  make(map[core.AccountID]int),
		closes: make(map[core.AccountID]int),
	}
}

func (c *MockConnector) Open(ctx context.Context, account core.AccountID) (core.SessionHandle, error) {
	if c.config.DialLatency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.config.DialLatency):
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, failing := range c.config.FailAccounts {
		if failing == account {
			return nil, fmt.Errorf("mock dial refused for %s", account)
		}
	}

	c.opens[account]++
	return &MockSession{Account: account, DialedAt: time.Now()}, nil
}

func (c *MockConnector) Close(account core.AccountID, handle core.SessionHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := handle.(*MockSession); !ok {
		return fmt.Errorf("unexpected handle type %T for %s", handle, account)
	}
	c.closes[account]++
	return nil
}

// OpenCount reports how many sessions were dialed for account.
func (c *MockConnector) OpenCount(account core.AccountID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens[account]
}

// CloseCount reports how many sessions were torn down for account.
func (c *MockConnector) CloseCount(account core.AccountID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes[account]
}
