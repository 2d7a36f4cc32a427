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

// Package store provides the Postgres-backed storage collaborator: pattern
// rules, filter configs, the per-message audit trail, and inquiries. The
// (connection_id, source_message_id) unique constraint here is the
// authoritative deduplication key for the whole pipeline.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leaseline/ingestion/internal/models"
)

// Store provides CRUD operations for the ingestion schema in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given Postgres pool and ensures the
// schema exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ingestion schema: %w", err)
	}
	slog.Info("ingestion store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS connections (
			id           TEXT PRIMARY KEY,
			manager_id   TEXT NOT NULL,
			mailbox      TEXT NOT NULL,
			provider     TEXT DEFAULT '',
			active       BOOLEAN DEFAULT TRUE,
			last_sync_at TIMESTAMPTZ,
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS properties (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			address    TEXT NOT NULL,
			active     BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_properties_owner ON properties(owner_id);
		CREATE TABLE IF NOT EXISTS platform_patterns (
			id              BIGSERIAL PRIMARY KEY,
			platform        TEXT NOT NULL,
			sender_pattern  TEXT NOT NULL,
			subject_pattern TEXT DEFAULT '',
			priority        INT NOT NULL,
			active          BOOLEAN DEFAULT TRUE
		);
		CREATE TABLE IF NOT EXISTS filter_configs (
			connection_id     TEXT PRIMARY KEY,
			allowed_senders   TEXT[] DEFAULT '{}',
			subject_keywords  TEXT[] DEFAULT '{}',
			excluded_senders  TEXT[] DEFAULT '{}',
			excluded_keywords TEXT[] DEFAULT '{}'
		);
		CREATE TABLE IF NOT EXISTS processed_messages (
			id                 BIGSERIAL PRIMARY KEY,
			connection_id      TEXT NOT NULL,
			source_message_id  TEXT NOT NULL,
			status             TEXT NOT NULL DEFAULT 'pending',
			platform           TEXT DEFAULT '',
			inquiry_id         TEXT,
			errors             TEXT[] DEFAULT '{}',
			workflow_triggered BOOLEAN DEFAULT FALSE,
			sender             TEXT DEFAULT '',
			sender_name        TEXT DEFAULT '',
			subject            TEXT DEFAULT '',
			body               TEXT DEFAULT '',
			received_at        TIMESTAMPTZ NOT NULL,
			created_at         TIMESTAMPTZ DEFAULT NOW(),
			updated_at         TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(connection_id, source_message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_processed_status ON processed_messages(connection_id, status);
		CREATE TABLE IF NOT EXISTS inquiries (
			id                TEXT PRIMARY KEY,
			connection_id     TEXT NOT NULL,
			source_message_id TEXT NOT NULL UNIQUE,
			property_id       TEXT NOT NULL,
			platform          TEXT NOT NULL,
			tenant_name       TEXT DEFAULT '',
			tenant_email      TEXT DEFAULT '',
			tenant_phone      TEXT DEFAULT '',
			message           TEXT DEFAULT '',
			needs_review      BOOLEAN DEFAULT FALSE,
			metadata          JSONB,
			created_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_inquiries_property ON inquiries(property_id);
	`)
	return err
}

// --- Connections ---

// GetConnection retrieves a connection by id. Returns nil when not found.
func (s *Store) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, manager_id, mailbox, provider, active, last_sync_at
		FROM connections
		WHERE id = $1
	`, id)

	var c models.Connection
	err := row.Scan(&c.ID, &c.ManagerID, &c.Mailbox, &c.Provider, &c.Active, &c.LastSyncAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListActiveConnections returns all active connections, for the poll loop.
func (s *Store) ListActiveConnections(ctx context.Context) ([]models.Connection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, manager_id, mailbox, provider, active, last_sync_at
		FROM connections
		WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Connection
	for rows.Next() {
		var c models.Connection
		if err := rows.Scan(&c.ID, &c.ManagerID, &c.Mailbox, &c.Provider, &c.Active, &c.LastSyncAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TouchLastSync records the completion time of a batch run.
func (s *Store) TouchLastSync(ctx context.Context, connectionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE connections SET last_sync_at = NOW() WHERE id = $1
	`, connectionID)
	return err
}

// --- Filter configs and patterns ---

// GetFilterConfig retrieves the per-connection filter config. Returns nil
// when the connection has none stored; the caller falls back to the
// built-in default.
func (s *Store) GetFilterConfig(ctx context.Context, connectionID string) (*models.FilterConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT allowed_senders, subject_keywords, excluded_senders, excluded_keywords
		FROM filter_configs
		WHERE connection_id = $1
	`, connectionID)

	var cfg models.FilterConfig
	err := row.Scan(&cfg.AllowedSenders, &cfg.SubjectKeywords, &cfg.ExcludedSenders, &cfg.ExcludedKeywords)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListActivePatterns returns all active platform patterns. Ordering is left
// to the classifier, which sorts by priority.
func (s *Store) ListActivePatterns(ctx context.Context) ([]models.PlatformPattern, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, platform, sender_pattern, subject_pattern, priority, active
		FROM platform_patterns
		WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PlatformPattern
	for rows.Next() {
		var p models.PlatformPattern
		if err := rows.Scan(&p.ID, &p.Platform, &p.SenderPattern, &p.SubjectPattern, &p.Priority, &p.Active); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SeedPatterns inserts the given patterns when the table is empty, so a
// fresh deployment classifies the known platforms out of the box.
func (s *Store) SeedPatterns(ctx context.Context, patterns []models.PlatformPattern) error {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM platform_patterns`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, p := range patterns {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO platform_patterns (platform, sender_pattern, subject_pattern, priority, active)
			VALUES ($1, $2, $3, $4, $5)
		`, p.Platform, p.SenderPattern, p.SubjectPattern, p.Priority, p.Active)
		if err != nil {
			return fmt.Errorf("seed pattern %s: %w", p.Platform, err)
		}
	}
	slog.Info("seeded default platform patterns", "count", len(patterns))
	return nil
}

// --- Properties ---

// ListProperties returns the owner's active properties, most recently
// created first: the head of the list is the designated fallback property
// for unresolved inquiries.
func (s *Store) ListProperties(ctx context.Context, ownerID string) ([]models.Property, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, address, active, created_at
		FROM properties
		WHERE owner_id = $1 AND active
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Property
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Address, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Processed messages ---

// StageMessage inserts a raw message as a pending processed-message row.
// Returns false when the (connection, source message) pair already exists,
// which makes provider re-delivery a no-op.
func (s *Store) StageMessage(ctx context.Context, connectionID string, raw models.RawMessage) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processed_messages
			(connection_id, source_message_id, status, sender, sender_name, subject, body, received_at)
		VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7)
		ON CONFLICT (connection_id, source_message_id) DO NOTHING
	`, connectionID, raw.ID, raw.Sender, raw.SenderName, raw.Subject, raw.Body, raw.ReceivedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListPendingMessages returns a one-shot snapshot of the connection's
// pending rows in received-time order. The orchestrator never re-queries
// mid-run.
func (s *Store) ListPendingMessages(ctx context.Context, connectionID string) ([]models.ProcessedMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, connection_id, source_message_id, status, platform, inquiry_id,
		       errors, workflow_triggered, sender, sender_name, subject, body,
		       received_at, created_at, updated_at
		FROM processed_messages
		WHERE connection_id = $1 AND status = 'pending'
		ORDER BY received_at ASC
	`, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ProcessedMessage
	for rows.Next() {
		m, err := scanProcessed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetSuccessfulBySourceID finds an already-successful record for the same
// source message id. This is the fast path for absorbing re-delivery: it
// also catches a row that reached success after the run's pending snapshot
// was taken.
func (s *Store) GetSuccessfulBySourceID(ctx context.Context, connectionID, sourceMessageID string) (*models.ProcessedMessage, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, connection_id, source_message_id, status, platform, inquiry_id,
		       errors, workflow_triggered, sender, sender_name, subject, body,
		       received_at, created_at, updated_at
		FROM processed_messages
		WHERE connection_id = $1 AND source_message_id = $2 AND status = 'success'
	`, connectionID, sourceMessageID)

	m, err := scanProcessed(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MarkStatus finalizes a processed-message row in a terminal (or reset)
// state outside the inquiry-creation path: skipped, failed, or linked to an
// existing inquiry.
func (s *Store) MarkStatus(ctx context.Context, id int64, status, platform string, inquiryID *string, errs []string) error {
	if errs == nil {
		errs = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE processed_messages
		SET status = $1, platform = $2, inquiry_id = $3, errors = $4, updated_at = NOW()
		WHERE id = $5
	`, status, platform, inquiryID, errs, id)
	return err
}

// MarkWorkflowTriggered records that the downstream workflow accepted the
// inquiry. Left false, the record is the observable sign that an inquiry
// exists but qualification never started.
func (s *Store) MarkWorkflowTriggered(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE processed_messages
		SET workflow_triggered = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// --- Inquiries ---

// CreateInquiry inserts the inquiry and marks the processed-message row
// success in one transaction, so a crash between the two leaves the message
// pending and safe to retry.
//
// The unique constraint on inquiries.source_message_id is the real
// correctness mechanism for at-most-one inquiry per message: a concurrent
// duplicate insert surfaces as a conflict here and is absorbed by linking
// to the already-existing inquiry instead.
func (s *Store) CreateInquiry(ctx context.Context, processedID int64, inq *models.Inquiry) (inquiryID string, created bool, err error) {
	metadata, err := json.Marshal(inq.Metadata)
	if err != nil {
		return "", false, fmt.Errorf("marshal inquiry metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("begin inquiry tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if inq.ID == "" {
		inq.ID = uuid.New().String()
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO inquiries
			(id, connection_id, source_message_id, property_id, platform,
			 tenant_name, tenant_email, tenant_phone, message, needs_review, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source_message_id) DO NOTHING
	`, inq.ID, inq.ConnectionID, inq.SourceMessageID, inq.PropertyID, inq.Platform,
		inq.TenantName, inq.TenantEmail, inq.TenantPhone, inq.Message, inq.NeedsReview, metadata)
	if err != nil {
		return "", false, fmt.Errorf("insert inquiry: %w", err)
	}

	created = tag.RowsAffected() > 0
	inquiryID = inq.ID
	if !created {
		// Someone else created it first; link to theirs.
		err = tx.QueryRow(ctx, `
			SELECT id FROM inquiries WHERE source_message_id = $1
		`, inq.SourceMessageID).Scan(&inquiryID)
		if err != nil {
			return "", false, fmt.Errorf("load existing inquiry: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE processed_messages
		SET status = 'success', platform = $1, inquiry_id = $2, errors = '{}', updated_at = NOW()
		WHERE id = $3
	`, inq.Platform, inquiryID, processedID)
	if err != nil {
		return "", false, fmt.Errorf("finalize processed message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("commit inquiry tx: %w", err)
	}
	return inquiryID, created, nil
}

// --- Stats ---

// Stats aggregates the connection's persisted processed-message rows,
// optionally bounded to a received-time range.
func (s *Store) Stats(ctx context.Context, connectionID string, from, to *time.Time) (*models.Stats, error) {
	stats := &models.Stats{PlatformBreakdown: make(map[string]int)}

	rows, err := s.pool.Query(ctx, `
		SELECT status, platform, COUNT(*)
		FROM processed_messages
		WHERE connection_id = $1
		  AND status <> 'pending'
		  AND ($2::timestamptz IS NULL OR received_at >= $2)
		  AND ($3::timestamptz IS NULL OR received_at <= $3)
		GROUP BY status, platform
	`, connectionID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status, platform string
		var count int
		if err := rows.Scan(&status, &platform, &count); err != nil {
			return nil, err
		}
		stats.TotalProcessed += count
		switch status {
		case models.StatusSuccess:
			stats.SuccessfulExtractions += count
		case models.StatusFailed:
			stats.FailedParsing += count
		case models.StatusSkipped:
			stats.Skipped += count
		}
		if platform == "" {
			platform = "unclassified"
		}
		stats.PlatformBreakdown[platform] += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT last_sync_at FROM connections WHERE id = $1
	`, connectionID).Scan(&stats.LastSyncTime)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	return stats, nil
}

// IsUniqueViolation reports whether an error is a Postgres unique-constraint
// conflict (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// scanProcessed scans one processed_messages row.
func scanProcessed(row pgx.Row) (*models.ProcessedMessage, error) {
	var m models.ProcessedMessage
	err := row.Scan(
		&m.ID, &m.ConnectionID, &m.SourceMessageID, &m.Status, &m.Platform,
		&m.InquiryID, &m.Errors, &m.WorkflowTriggered,
		&m.Raw.Sender, &m.Raw.SenderName, &m.Raw.Subject, &m.Raw.Body,
		&m.Raw.ReceivedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Raw.ID = m.SourceMessageID
	return &m, nil
}
