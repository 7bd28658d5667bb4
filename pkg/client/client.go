package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the accfleet SDK client.
type Client struct {
	endpoint string
	http     *http.Client
	backoff  BackoffStrategy
	// retries is the number of extra attempts for idempotent reads.
	retries int
}

// NewClient creates a new accfleet client.
// endpoint defaults to "http://127.0.0.1:8090" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8090"
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		backoff: DefaultBackoff(),
		retries: 2,
	}
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var status Status
	err := c.getJSON(ctx, "/v1/health", &status)
	return status, err
}

// Fleet fetches the orchestration state of every configured account.
func (c *Client) Fleet(ctx context.Context) (FleetStatus, error) {
	var fleet FleetStatus
	err := c.getJSON(ctx, "/v1/fleet", &fleet)
	return fleet, err
}

// RecordCooldown reports an externally observed rate limit to the daemon.
func (c *Client) RecordCooldown(ctx context.Context, cd Cooldown) (CooldownReceipt, error) {
	if cd.Account == "" || cd.Class == "" {
		return CooldownReceipt{}, fmt.Errorf("invalid cooldown: missing required fields")
	}
	if cd.Seconds <= 0 {
		return CooldownReceipt{}, fmt.Errorf("invalid cooldown: seconds must be positive")
	}

	var receipt CooldownReceipt
	if err := c.postJSON(ctx, "/v1/cooldowns", cd, &receipt, http.StatusOK); err != nil {
		return CooldownReceipt{}, err
	}
	return receipt, nil
}

// StartWarmup launches the warmup workflow for an account. Returns an
// error with the daemon's reason when a task is already active.
func (c *Client) StartWarmup(ctx context.Context, account string) (WarmupReceipt, error) {
	if account == "" {
		return WarmupReceipt{}, fmt.Errorf("invalid warmup: missing account")
	}

	var receipt WarmupReceipt
	body := map[string]string{"account": account}
	if err := c.postJSON(ctx, "/v1/warmups", body, &receipt, http.StatusAccepted); err != nil {
		return WarmupReceipt{}, err
	}
	return receipt, nil
}

// CancelWarmup cancels the running warmup for an account. The call
// returns once the daemon reports the workflow has terminated.
func (c *Client) CancelWarmup(ctx context.Context, account string) error {
	if account == "" {
		return fmt.Errorf("invalid cancel: missing account")
	}

	req, err := http.NewRequestWithContext(ctx, "DELETE", c.endpoint+"/v1/warmups/"+url.PathEscape(account), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("no active task for %s", account)
	default:
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
}

// GetEvents fetches recent journal events from the daemon.
func (c *Client) GetEvents(ctx context.Context, opts EventsOptions) ([]Event, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(opts.Limit))
	if opts.Account != "" {
		q.Set("account", opts.Account)
	}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}

	var events []Event
	if err := c.getJSON(ctx, "/v1/events?"+q.Encode(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// getJSON performs an idempotent GET with retries on transient failures.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff.Next(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+path, nil)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("unexpected status: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		return err
	}
	return lastErr
}

// postJSON performs a POST and decodes the response on wantStatus.
func (c *Client) postJSON(ctx context.Context, path string, in, out any, wantStatus int) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon rejected request: %s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
