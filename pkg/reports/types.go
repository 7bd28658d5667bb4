// Package reports renders journal data into operator-facing exports.
package reports

import (
	"context"
	"io"
	"time"

	"github.com/accfleet/accfleet/pkg/store"
)

type ReportType string

const (
	ReportTypeEvents    ReportType = "events"
	ReportTypeCooldowns ReportType = "cooldowns"
)

type ReportParams struct {
	Start   time.Time
	End     time.Time
	Account string
	Limit   int
}

// ReportStore defines the journal access required by reports.
type ReportStore interface {
	QueryEvents(ctx context.Context, filter store.EventFilter) ([]store.Event, error)
}

type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}
