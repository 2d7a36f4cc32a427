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

package mailsource

import (
	"context"
	"log/slog"
	"time"

	"github.com/leaseline/ingestion/internal/models"
)

// Stager is the storage subset the poller needs: connection discovery and
// idempotent staging of raw messages as pending audit rows.
type Stager interface {
	ListActiveConnections(ctx context.Context) ([]models.Connection, error)
	StageMessage(ctx context.Context, connectionID string, raw models.RawMessage) (bool, error)
}

// Processor runs a batch for a connection once new messages are staged.
// Implemented by ingest.Service.
type Processor interface {
	ProcessPending(ctx context.Context, connectionID string) models.BatchResult
}

// Poller periodically fetches unread messages for every active connection,
// stages them, marks them consumed at the provider, and kicks off a batch
// run.
type Poller struct {
	client    *Client
	store     Stager
	processor Processor
	interval  time.Duration
}

// NewPoller creates a poller that checks mailboxes at the given interval.
func NewPoller(client *Client, store Stager, processor Processor, interval time.Duration) *Poller {
	return &Poller{
		client:    client,
		store:     store,
		processor: processor,
		interval:  interval,
	}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("mail poller starting", "interval", p.interval)

	// Do an initial poll immediately
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("mail poller stopping")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll fetches and stages unread messages for every active connection.
// Failures on one connection never block the others.
func (p *Poller) poll(ctx context.Context) {
	connections, err := p.store.ListActiveConnections(ctx)
	if err != nil {
		slog.Error("failed to list connections", "error", err)
		return
	}

	for _, conn := range connections {
		staged, err := p.pollConnection(ctx, conn)
		if err != nil {
			slog.Error("poll failed for connection",
				"connection", conn.ID,
				"mailbox", conn.Mailbox,
				"error", err,
			)
			continue
		}
		if staged == 0 {
			continue
		}

		result := p.processor.ProcessPending(ctx, conn.ID)
		slog.Info("poll batch finished",
			"connection", conn.ID,
			"staged", staged,
			"processed", result.ProcessedCount,
			"created", result.CreatedCount,
		)
	}
}

// pollConnection stages the connection's unread messages and marks them
// consumed at the provider. Staging is idempotent on the storage key, so a
// crash between staging and mark-read only costs a duplicate fetch.
func (p *Poller) pollConnection(ctx context.Context, conn models.Connection) (int, error) {
	messages, err := p.client.ListUnread(ctx, conn.Mailbox)
	if err != nil {
		return 0, err
	}

	staged := 0
	for _, raw := range messages {
		isNew, err := p.store.StageMessage(ctx, conn.ID, raw)
		if err != nil {
			slog.Error("failed to stage message",
				"connection", conn.ID,
				"message_id", raw.ID,
				"error", err,
			)
			continue
		}
		if isNew {
			staged++
		}

		if err := p.client.MarkRead(ctx, conn.Mailbox, raw.ID); err != nil {
			slog.Warn("failed to mark message read",
				"connection", conn.ID,
				"message_id", raw.ID,
				"error", err,
			)
		}
	}

	return staged, nil
}
