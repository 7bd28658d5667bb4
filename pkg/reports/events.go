package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/accfleet/accfleet/pkg/store"
)

// EventsReport exports journal events as CSV.
type EventsReport struct {
	store ReportStore
}

// NewEventsReport creates a new EventsReport generator.
func NewEventsReport(s ReportStore) *EventsReport {
	return &EventsReport{store: s}
}

// Generate creates a CSV export of journal events matching the params.
func (r *EventsReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	headers := []string{"ts_ingest", "event_type", "account", "class", "origin_kind", "payload"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	filter := store.EventFilter{
		From:    params.Start,
		To:      params.End,
		Account: params.Account,
		Limit:   params.Limit,
	}

	events, err := r.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	for _, event := range events {
		row := []string{
			event.TsIngest.Format(time.RFC3339),
			string(event.EventType),
			event.Account,
			event.Class,
			event.Source.OriginKind,
			string(event.Payload),
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
