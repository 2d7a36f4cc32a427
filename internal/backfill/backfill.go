// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package backfill stages historical mailbox messages for connections that
// were onboarded after inquiries started arriving. It lists messages within
// a lookback window from the mail gateway, stages them as pending rows, and
// runs the regular batch pipeline over them.
package backfill

import (
	"context"
	"log/slog"
	"time"

	"github.com/leaseline/ingestion/internal/models"
)

// Lister is the mail gateway subset the runner needs.
// Implemented by mailsource.Client.
type Lister interface {
	ListSince(ctx context.Context, mailbox string, since time.Time) ([]models.RawMessage, error)
}

// Stager stages raw messages as pending audit rows and resolves connections.
// Implemented by store.Store.
type Stager interface {
	GetConnection(ctx context.Context, connectionID string) (*models.Connection, error)
	StageMessage(ctx context.Context, connectionID string, raw models.RawMessage) (bool, error)
}

// Processor runs a batch over the staged messages.
// Implemented by ingest.Service.
type Processor interface {
	ProcessPending(ctx context.Context, connectionID string) models.BatchResult
}

// Request defines the scope of a historical ingestion run.
type Request struct {
	ConnectionIDs []string
	Since         time.Duration // lookback window (e.g. 720h = 30 days)
}

// Result summarises a completed backfill run.
type Result struct {
	ConnectionResults []ConnectionResult
	TotalStaged       int
	TotalSkipped      int
	TotalCreated      int
	Elapsed           time.Duration
}

// ConnectionResult tracks per-connection backfill progress.
type ConnectionResult struct {
	ConnectionID string
	Fetched      int
	Staged       int
	Skipped      int
	Created      int
	Errors       int
}

// Runner performs historical message backfill.
type Runner struct {
	lister    Lister
	store     Stager
	processor Processor
	pause     time.Duration // delay between connections to avoid throttling
}

// RunnerConfig holds dependencies for the backfill runner.
type RunnerConfig struct {
	Lister    Lister
	Store     Stager
	Processor Processor
	Pause     time.Duration
}

// NewRunner creates a backfill runner.
func NewRunner(cfg RunnerConfig) *Runner {
	pause := cfg.Pause
	if pause == 0 {
		pause = 500 * time.Millisecond
	}
	return &Runner{
		lister:    cfg.Lister,
		store:     cfg.Store,
		processor: cfg.Processor,
		pause:     pause,
	}
}

// Run performs the backfill for all specified connections.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	since := time.Now().UTC().Add(-req.Since)

	slog.Info("starting historical backfill",
		"connections", len(req.ConnectionIDs),
		"since", since.Format(time.RFC3339),
	)

	result := &Result{}

	for i, connID := range req.ConnectionIDs {
		// Rate limit between connections
		if i > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(r.pause):
			}
		}

		cr, err := r.backfillConnection(ctx, connID, since)
		if err != nil {
			slog.Error("backfill failed for connection",
				"connection", connID,
				"error", err,
			)
			// Continue with other connections
			cr = ConnectionResult{ConnectionID: connID, Errors: 1}
		}

		result.ConnectionResults = append(result.ConnectionResults, cr)
		result.TotalStaged += cr.Staged
		result.TotalSkipped += cr.Skipped
		result.TotalCreated += cr.Created
	}

	result.Elapsed = time.Since(start)

	slog.Info("historical backfill complete",
		"total_staged", result.TotalStaged,
		"total_skipped", result.TotalSkipped,
		"total_created", result.TotalCreated,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

// backfillConnection lists and stages historical messages for a single
// connection, then runs a batch over whatever landed as pending.
func (r *Runner) backfillConnection(ctx context.Context, connectionID string, since time.Time) (ConnectionResult, error) {
	cr := ConnectionResult{ConnectionID: connectionID}

	conn, err := r.store.GetConnection(ctx, connectionID)
	if err != nil {
		return cr, err
	}
	if conn == nil || !conn.Active {
		slog.Warn("skipping inactive or unknown connection", "connection", connectionID)
		return cr, nil
	}

	slog.Info("backfilling mailbox",
		"connection", connectionID,
		"mailbox", conn.Mailbox,
		"since", since.Format(time.RFC3339),
	)

	messages, err := r.lister.ListSince(ctx, conn.Mailbox, since)
	if err != nil {
		return cr, err
	}
	cr.Fetched = len(messages)

	for _, raw := range messages {
		isNew, err := r.store.StageMessage(ctx, connectionID, raw)
		if err != nil {
			slog.Warn("failed to stage message",
				"connection", connectionID,
				"message_id", raw.ID,
				"error", err,
			)
			cr.Errors++
			continue
		}
		if isNew {
			cr.Staged++
		} else {
			cr.Skipped++
		}
	}

	if cr.Staged > 0 {
		batch := r.processor.ProcessPending(ctx, connectionID)
		cr.Created = batch.CreatedCount
		cr.Errors += len(batch.Errors)
	}

	slog.Info("connection backfill complete",
		"connection", connectionID,
		"fetched", cr.Fetched,
		"staged", cr.Staged,
		"skipped", cr.Skipped,
		"created", cr.Created,
		"errors", cr.Errors,
	)

	return cr, nil
}
