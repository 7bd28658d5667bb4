package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/accfleet/accfleet/pkg/blob"
)

// ArchiveConfig tunes the journal archive worker.
type ArchiveConfig struct {
	// Retention is how long events stay in the live journal before they
	// become archive candidates.
	Retention time.Duration
	// BatchSize caps how many events move per cycle.
	BatchSize int
	// CheckInterval is how often the worker looks for candidates.
	CheckInterval time.Duration
}

// ArchiveWorker moves old journal events into blob storage as gzipped
// JSON Lines batches, then deletes them from the live table. Deletion
// happens only after the batch is durably stored, so a crash between the
// two steps duplicates events in the archive rather than losing them.
type ArchiveWorker struct {
	store     *Store
	blobStore blob.BlobStore
	config    ArchiveConfig
}

// NewArchiveWorker creates a new ArchiveWorker.
func NewArchiveWorker(store *Store, blobStore blob.BlobStore, config ArchiveConfig) *ArchiveWorker {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	return &ArchiveWorker{
		store:     store,
		blobStore: blobStore,
		config:    config,
	}
}

// Run starts the archive worker loop.
func (w *ArchiveWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				log.Printf("archive worker error: %v", err)
			}
		}
	}
}

// ProcessBatch archives one batch of candidate events and returns how
// many were moved.
func (w *ArchiveWorker) ProcessBatch(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-w.config.Retention)

	events, err := w.store.ReadCandidateEvents(ctx, cutoff, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read candidate events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	encoder := json.NewEncoder(gzWriter)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			gzWriter.Close()
			return 0, fmt.Errorf("failed to encode event %s: %w", event.EventID, err)
		}
	}
	if err := gzWriter.Close(); err != nil {
		return 0, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	// Key: events/YYYY/MM/DD/first_last_uuid.jsonl.gz
	first := events[0]
	last := events[len(events)-1]
	year, month, day := first.TsIngest.Date()
	key := fmt.Sprintf("events/%04d/%02d/%02d/%d_%d_%s.jsonl.gz",
		year, month, day,
		first.TsIngest.Unix(),
		last.TsIngest.Unix(),
		uuid.New().String(),
	)

	if err := w.blobStore.Put(ctx, key, &buf); err != nil {
		return 0, fmt.Errorf("failed to upload archive to blob store: %w", err)
	}

	ids := make([]EventID, len(events))
	for i, event := range events {
		ids[i] = event.EventID
	}
	if _, err := w.store.DeleteEvents(ctx, ids); err != nil {
		return 0, fmt.Errorf("failed to delete archived events: %w", err)
	}

	log.Printf("archived %d events to %s", len(events), key)
	return len(events), nil
}
