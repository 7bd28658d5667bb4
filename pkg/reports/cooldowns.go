package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/accfleet/accfleet/pkg/store"
)

// CooldownsReport exports recorded cooldowns as CSV, one row per ledger
// entry with the duration and expiry pulled out of the event payload.
type CooldownsReport struct {
	store ReportStore
}

// NewCooldownsReport creates a new CooldownsReport generator.
func NewCooldownsReport(s ReportStore) *CooldownsReport {
	return &CooldownsReport{store: s}
}

// Generate creates a CSV export of cooldown_recorded events.
func (r *CooldownsReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	headers := []string{"ts_event", "account", "class", "duration_ms", "available_at", "origin_kind"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	filter := store.EventFilter{
		From:       params.Start,
		To:         params.End,
		Account:    params.Account,
		Limit:      params.Limit,
		EventTypes: []store.EventType{store.EventTypeCooldownRecorded},
	}

	events, err := r.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	for _, event := range events {
		var payload struct {
			DurationMs  int64  `json:"duration_ms"`
			AvailableAt string `json:"available_at"`
		}
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for event %s: %w", event.EventID, err)
		}

		row := []string{
			event.TsEvent.Format(time.RFC3339),
			event.Account,
			event.Class,
			fmt.Sprintf("%d", payload.DurationMs),
			payload.AvailableAt,
			event.Source.OriginKind,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush writer: %w", err)
	}

	return buf, nil
}
