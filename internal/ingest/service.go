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

// Package ingest is the orchestrator: it drives each pending message
// through filter, classification, extraction, and property resolution,
// creates at most one inquiry per source message, isolates per-message
// failures, and produces the batch result plus durable audit state.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leaseline/ingestion/internal/classify"
	"github.com/leaseline/ingestion/internal/extract"
	"github.com/leaseline/ingestion/internal/models"
	"github.com/leaseline/ingestion/internal/msgfilter"
	"github.com/leaseline/ingestion/internal/resolve"
)

// Storage is the subset of the store the orchestrator needs. Implemented by
// store.Store; tests substitute an in-memory fake.
type Storage interface {
	GetConnection(ctx context.Context, id string) (*models.Connection, error)
	GetFilterConfig(ctx context.Context, connectionID string) (*models.FilterConfig, error)
	ListActivePatterns(ctx context.Context) ([]models.PlatformPattern, error)
	ListProperties(ctx context.Context, ownerID string) ([]models.Property, error)
	ListPendingMessages(ctx context.Context, connectionID string) ([]models.ProcessedMessage, error)
	GetSuccessfulBySourceID(ctx context.Context, connectionID, sourceMessageID string) (*models.ProcessedMessage, error)
	MarkStatus(ctx context.Context, id int64, status, platform string, inquiryID *string, errs []string) error
	CreateInquiry(ctx context.Context, processedID int64, inq *models.Inquiry) (inquiryID string, created bool, err error)
	MarkWorkflowTriggered(ctx context.Context, id int64) error
	TouchLastSync(ctx context.Context, connectionID string) error
	Stats(ctx context.Context, connectionID string, from, to *time.Time) (*models.Stats, error)
}

// Locker serializes runs per connection. Implemented by runlock.Lock.
type Locker interface {
	Acquire(ctx context.Context, connectionID string) (release func(), ok bool, err error)
}

// Trigger hands a created inquiry to the downstream qualification workflow.
// Implemented by workflow.Publisher.
type Trigger interface {
	PublishInquiryCreated(ctx context.Context, inq *models.Inquiry) error
}

// Service orchestrates inquiry ingestion for mail connections.
type Service struct {
	store   Storage
	lock    Locker
	trigger Trigger
}

// New creates the ingestion orchestrator.
func New(store Storage, lock Locker, trigger Trigger) *Service {
	return &Service{
		store:   store,
		lock:    lock,
		trigger: trigger,
	}
}

// outcome is the terminal result of one message's trip through the pipeline.
type outcome struct {
	status    string
	platform  string
	inquiryID *string
	errs      []string
	created   bool
	unmatched bool
	inquiry   *models.Inquiry
}

// ProcessPending runs one batch for the connection: every pending message
// is driven to a terminal state, failures are isolated per message, and the
// aggregate result is returned. It never panics; fatal conditions yield a
// single synthetic error entry instead.
func (s *Service) ProcessPending(ctx context.Context, connectionID string) models.BatchResult {
	conn, err := s.store.GetConnection(ctx, connectionID)
	if err != nil {
		return fatalResult(connectionID, fmt.Sprintf("load connection: %v", err))
	}
	if conn == nil || !conn.Active {
		return fatalResult(connectionID, "connection not found or inactive")
	}

	release, ok, err := s.lock.Acquire(ctx, connectionID)
	if err != nil {
		return fatalResult(connectionID, fmt.Sprintf("acquire run lock: %v", err))
	}
	if !ok {
		return fatalResult(connectionID, "a run is already in progress for this connection")
	}
	defer release()

	cfg, err := s.store.GetFilterConfig(ctx, connectionID)
	if err != nil {
		return fatalResult(connectionID, fmt.Sprintf("load filter config: %v", err))
	}
	filterCfg := msgfilter.DefaultConfig()
	if cfg != nil {
		filterCfg = *cfg
	}

	patterns, err := s.store.ListActivePatterns(ctx)
	if err != nil {
		return fatalResult(connectionID, fmt.Sprintf("load platform patterns: %v", err))
	}

	properties, err := s.store.ListProperties(ctx, conn.ManagerID)
	if err != nil {
		return fatalResult(connectionID, fmt.Sprintf("load properties: %v", err))
	}

	// One-shot snapshot, received-time order. Never re-queried mid-run.
	pending, err := s.store.ListPendingMessages(ctx, connectionID)
	if err != nil {
		return fatalResult(connectionID, fmt.Sprintf("load pending messages: %v", err))
	}

	var result models.BatchResult
	for _, msg := range pending {
		out := s.processOne(ctx, conn, msg, filterCfg, patterns, properties)

		if out.status != models.StatusSuccess {
			// Success state is committed inside CreateInquiry's transaction
			// (or recorded via MarkStatus on the duplicate-link path below).
			if err := s.store.MarkStatus(ctx, msg.ID, out.status, out.platform, out.inquiryID, out.errs); err != nil {
				slog.Error("failed to finalize message state",
					"connection", connectionID,
					"source_message_id", msg.SourceMessageID,
					"error", err,
				)
				continue
			}
		} else if out.inquiry == nil {
			// Duplicate-link path: mark success pointing at the existing inquiry.
			if err := s.store.MarkStatus(ctx, msg.ID, models.StatusSuccess, out.platform, out.inquiryID, nil); err != nil {
				slog.Error("failed to link duplicate message",
					"connection", connectionID,
					"source_message_id", msg.SourceMessageID,
					"error", err,
				)
				continue
			}
		}

		result.ProcessedCount++
		if out.created {
			result.CreatedCount++
		}
		if out.unmatched {
			result.UnmatchedCount++
		}
		if out.status == models.StatusFailed {
			result.Errors = append(result.Errors, models.BatchError{
				SourceMessageID: msg.SourceMessageID,
				Error:           joinErrors(out.errs),
				Timestamp:       time.Now().UTC(),
			})
		}

		// Workflow handoff happens after the success state is durable: a
		// trigger failure never retracts the inquiry, it just leaves
		// workflow_triggered false on the audit row.
		if out.inquiry != nil {
			if err := s.trigger.PublishInquiryCreated(ctx, out.inquiry); err != nil {
				slog.Error("workflow trigger failed; inquiry created but not triggered",
					"connection", connectionID,
					"inquiry_id", out.inquiry.ID,
					"error", err,
				)
			} else if err := s.store.MarkWorkflowTriggered(ctx, msg.ID); err != nil {
				slog.Error("failed to record workflow trigger",
					"connection", connectionID,
					"source_message_id", msg.SourceMessageID,
					"error", err,
				)
			}
		}
	}

	if err := s.store.TouchLastSync(ctx, connectionID); err != nil {
		slog.Error("failed to persist last sync time", "connection", connectionID, "error", err)
	}

	slog.Info("batch complete",
		"connection", connectionID,
		"processed", result.ProcessedCount,
		"created", result.CreatedCount,
		"unmatched", result.UnmatchedCount,
		"errors", len(result.Errors),
	)

	return result
}

// processOne drives a single message to its terminal outcome. A panic
// anywhere inside becomes a failed outcome for this message only; sibling
// messages are unaffected.
func (s *Service) processOne(ctx context.Context, conn *models.Connection, msg models.ProcessedMessage, cfg models.FilterConfig, patterns []models.PlatformPattern, properties []models.Property) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{
				status: models.StatusFailed,
				errs:   []string{fmt.Sprintf("unexpected failure: %v", r)},
			}
		}
	}()

	// 1. Filter.
	if !msgfilter.Apply(msg.Raw, cfg) {
		return outcome{status: models.StatusSkipped, errs: []string{"filtered out"}}
	}

	// 2. Idempotency pre-check: a success record for this source message id
	// means re-delivery; link to its inquiry without re-running extraction.
	if prior, err := s.store.GetSuccessfulBySourceID(ctx, conn.ID, msg.SourceMessageID); err == nil && prior != nil {
		return outcome{
			status:    models.StatusSuccess,
			platform:  prior.Platform,
			inquiryID: prior.InquiryID,
		}
	}

	// 3. Classify.
	platform := classify.Identify(msg.Raw, patterns)
	if platform == classify.PlatformUnknown {
		return outcome{status: models.StatusSkipped, errs: []string{"platform not recognized"}}
	}

	// 4. Extract.
	candidate := extract.Extract(msg.Raw, platform)
	if extract.HardFailure(candidate) {
		return outcome{status: models.StatusFailed, platform: platform, errs: candidate.Errors}
	}

	// 5. Resolve the property from the explicit address or the listing
	// reference. A miss falls back to the most recently created active
	// property and flags the inquiry for manual reassignment.
	reference := candidate.PropertyAddress
	if reference == "" {
		reference = candidate.PropertyRef
	}
	match := resolve.Resolve(reference, properties)

	propertyID := match.PropertyID
	needsReview := false
	if !match.Matched {
		if len(properties) == 0 {
			errs := append(candidate.Errors, "no property available for fallback assignment")
			return outcome{status: models.StatusFailed, platform: platform, errs: errs}
		}
		propertyID = properties[0].ID
		needsReview = true
		slog.Info("property resolution miss, using fallback",
			"connection", conn.ID,
			"reference", reference,
			"fallback_property", propertyID,
			"best_confidence", match.Confidence,
		)
	}

	// 6. Create the inquiry. The storage unique constraint on the source
	// message id makes this idempotent even against concurrent duplicates;
	// created=false means we linked to an existing inquiry.
	inq := &models.Inquiry{
		ConnectionID:    conn.ID,
		SourceMessageID: msg.SourceMessageID,
		PropertyID:      propertyID,
		Platform:        platform,
		TenantName:      candidate.TenantName,
		TenantEmail:     candidate.TenantEmail,
		TenantPhone:     candidate.TenantPhone,
		Message:         candidate.Message,
		NeedsReview:     needsReview,
		Metadata:        candidate,
	}

	inquiryID, created, err := s.store.CreateInquiry(ctx, msg.ID, inq)
	if err != nil {
		errs := append(candidate.Errors, fmt.Sprintf("create inquiry: %v", err))
		return outcome{status: models.StatusFailed, platform: platform, errs: errs}
	}
	inq.ID = inquiryID

	out = outcome{
		status:    models.StatusSuccess,
		platform:  platform,
		inquiryID: &inquiryID,
		created:   created,
		unmatched: needsReview,
	}
	if created {
		out.inquiry = inq
	}
	return out
}

// GetStats aggregates the connection's persisted audit rows. It never
// consults in-memory state, so the numbers survive restarts.
func (s *Service) GetStats(ctx context.Context, connectionID string, from, to *time.Time) (*models.Stats, error) {
	conn, err := s.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil {
		return nil, fmt.Errorf("connection %s not found", connectionID)
	}
	return s.store.Stats(ctx, connectionID, from, to)
}

// TestExtract runs extraction with no side effects, for operators
// validating platform templates against sample messages.
func (s *Service) TestExtract(msg models.RawMessage, platform string) models.TestParseReport {
	return extract.TestParse(msg, platform)
}

func fatalResult(connectionID, message string) models.BatchResult {
	slog.Warn("batch aborted", "connection", connectionID, "reason", message)
	return models.BatchResult{
		Errors: []models.BatchError{{
			Error:     message,
			Timestamp: time.Now().UTC(),
		}},
	}
}

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}
