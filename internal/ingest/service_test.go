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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leaseline/ingestion/internal/models"
)

// --- In-memory fake storage ---

type fakeStore struct {
	conn       *models.Connection
	cfg        *models.FilterConfig
	patterns   []models.PlatformPattern
	properties []models.Property
	records    map[int64]*models.ProcessedMessage
	inquiries  map[string]*models.Inquiry // keyed by source message id
	lastSync   int
	nextInqID  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conn: &models.Connection{ID: "conn-1", ManagerID: "mgr-1", Active: true},
		cfg:  &models.FilterConfig{},
		patterns: []models.PlatformPattern{
			{Platform: "zillow", SenderPattern: `zillow\.com`, Priority: 1, Active: true},
			{Platform: "direct", SenderPattern: `.*`, SubjectPattern: `(?i)rental|inquiry|interested`, Priority: 100, Active: true},
		},
		properties: []models.Property{
			{ID: "p-1", OwnerID: "mgr-1", Address: "12 Oak Street, Springfield", Active: true},
		},
		records:   make(map[int64]*models.ProcessedMessage),
		inquiries: make(map[string]*models.Inquiry),
	}
}

func (f *fakeStore) addPending(id int64, raw models.RawMessage) {
	f.records[id] = &models.ProcessedMessage{
		ID:              id,
		ConnectionID:    "conn-1",
		SourceMessageID: raw.ID,
		Status:          models.StatusPending,
		Raw:             raw,
	}
}

func (f *fakeStore) GetConnection(_ context.Context, id string) (*models.Connection, error) {
	if f.conn != nil && f.conn.ID == id {
		return f.conn, nil
	}
	return nil, nil
}

func (f *fakeStore) GetFilterConfig(context.Context, string) (*models.FilterConfig, error) {
	return f.cfg, nil
}

func (f *fakeStore) ListActivePatterns(context.Context) ([]models.PlatformPattern, error) {
	return f.patterns, nil
}

func (f *fakeStore) ListProperties(context.Context, string) ([]models.Property, error) {
	return f.properties, nil
}

func (f *fakeStore) ListPendingMessages(context.Context, string) ([]models.ProcessedMessage, error) {
	var out []models.ProcessedMessage
	for i := int64(1); i <= int64(len(f.records))+100; i++ {
		if r, ok := f.records[i]; ok && r.Status == models.StatusPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSuccessfulBySourceID(_ context.Context, _, sourceID string) (*models.ProcessedMessage, error) {
	for _, r := range f.records {
		if r.SourceMessageID == sourceID && r.Status == models.StatusSuccess {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) MarkStatus(_ context.Context, id int64, status, platform string, inquiryID *string, errs []string) error {
	r, ok := f.records[id]
	if !ok {
		return errors.New("record not found")
	}
	r.Status = status
	r.Platform = platform
	r.InquiryID = inquiryID
	r.Errors = errs
	return nil
}

func (f *fakeStore) CreateInquiry(_ context.Context, processedID int64, inq *models.Inquiry) (string, bool, error) {
	if existing, ok := f.inquiries[inq.SourceMessageID]; ok {
		return existing.ID, false, nil
	}
	f.nextInqID++
	inq.ID = fmt.Sprintf("inq-%d", f.nextInqID)
	f.inquiries[inq.SourceMessageID] = inq

	r := f.records[processedID]
	r.Status = models.StatusSuccess
	r.Platform = inq.Platform
	r.InquiryID = &inq.ID
	return inq.ID, true, nil
}

func (f *fakeStore) MarkWorkflowTriggered(_ context.Context, id int64) error {
	f.records[id].WorkflowTriggered = true
	return nil
}

func (f *fakeStore) TouchLastSync(context.Context, string) error {
	f.lastSync++
	return nil
}

func (f *fakeStore) Stats(context.Context, string, *time.Time, *time.Time) (*models.Stats, error) {
	stats := &models.Stats{PlatformBreakdown: make(map[string]int)}
	for _, r := range f.records {
		if r.Status == models.StatusPending {
			continue
		}
		stats.TotalProcessed++
		switch r.Status {
		case models.StatusSuccess:
			stats.SuccessfulExtractions++
		case models.StatusFailed:
			stats.FailedParsing++
		case models.StatusSkipped:
			stats.Skipped++
		}
		platform := r.Platform
		if platform == "" {
			platform = "unclassified"
		}
		stats.PlatformBreakdown[platform]++
	}
	return stats, nil
}

// --- Fake lock and trigger ---

type fakeLock struct {
	held     bool
	acquires int
}

func (l *fakeLock) Acquire(context.Context, string) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	l.acquires++
	l.held = true
	return func() { l.held = false }, true, nil
}

type fakeTrigger struct {
	published []string
	err       error
}

func (t *fakeTrigger) PublishInquiryCreated(_ context.Context, inq *models.Inquiry) error {
	if t.err != nil {
		return t.err
	}
	t.published = append(t.published, inq.ID)
	return nil
}

func newService(store *fakeStore) (*Service, *fakeLock, *fakeTrigger) {
	lock := &fakeLock{}
	trigger := &fakeTrigger{}
	return New(store, lock, trigger), lock, trigger
}

func zillowMessage(id string) models.RawMessage {
	return models.RawMessage{
		ID:         id,
		Sender:     "notify@zillow.com",
		Subject:    "New inquiry",
		Body:       "Name: Jane Roe\nMessage: I would like to tour this weekend.\n\nJane is requesting information about 12 Oak Street, Springfield.",
		ReceivedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// TestProcessPending_CreatesInquiry verifies the happy path: one pending
// platform message becomes one inquiry, the audit row reaches success, and
// the workflow handoff is recorded.
func TestProcessPending_CreatesInquiry(t *testing.T) {
	store := newFakeStore()
	store.addPending(1, zillowMessage("src-1"))
	svc, _, trigger := newService(store)

	result := svc.ProcessPending(context.Background(), "conn-1")

	if result.ProcessedCount != 1 || result.CreatedCount != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}

	r := store.records[1]
	if r.Status != models.StatusSuccess {
		t.Errorf("record status = %q", r.Status)
	}
	if r.InquiryID == nil {
		t.Fatal("record has no inquiry link")
	}
	if !r.WorkflowTriggered {
		t.Error("workflow trigger not recorded")
	}
	if len(trigger.published) != 1 {
		t.Errorf("published = %v", trigger.published)
	}

	inq := store.inquiries["src-1"]
	if inq == nil {
		t.Fatal("inquiry not created")
	}
	if inq.PropertyID != "p-1" {
		t.Errorf("PropertyID = %q", inq.PropertyID)
	}
	if inq.NeedsReview {
		t.Error("resolved inquiry should not need review")
	}
	if store.lastSync != 1 {
		t.Errorf("lastSync updates = %d", store.lastSync)
	}
}

// TestProcessPending_Idempotency verifies at-most-one inquiry per source
// message: a redelivered message whose earlier record already succeeded is
// linked to the existing inquiry without re-extraction, and no second
// inquiry or workflow trigger happens.
func TestProcessPending_Idempotency(t *testing.T) {
	store := newFakeStore()
	existingID := "inq-existing"
	store.records[1] = &models.ProcessedMessage{
		ID: 1, ConnectionID: "conn-1", SourceMessageID: "src-dup",
		Status: models.StatusSuccess, Platform: "zillow", InquiryID: &existingID,
	}
	store.inquiries["src-dup"] = &models.Inquiry{ID: existingID, SourceMessageID: "src-dup"}
	store.addPending(2, zillowMessage("src-dup"))
	svc, _, trigger := newService(store)

	result := svc.ProcessPending(context.Background(), "conn-1")

	if result.ProcessedCount != 1 || result.CreatedCount != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(store.inquiries) != 1 {
		t.Fatalf("inquiries = %d, want 1", len(store.inquiries))
	}
	r := store.records[2]
	if r.Status != models.StatusSuccess {
		t.Errorf("record status = %q", r.Status)
	}
	if r.InquiryID == nil || *r.InquiryID != existingID {
		t.Errorf("InquiryID = %v, want %s", r.InquiryID, existingID)
	}
	if len(trigger.published) != 0 {
		t.Errorf("duplicate must not re-trigger workflow, published = %v", trigger.published)
	}
}

// TestProcessPending_BatchIsolation verifies that one hard extraction
// failure (message 3, empty body) yields exactly one batch error while the
// sibling messages still reach a terminal success or skipped state.
func TestProcessPending_BatchIsolation(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 5; i++ {
		msg := zillowMessage(fmt.Sprintf("src-%d", i))
		msg.ReceivedAt = msg.ReceivedAt.Add(time.Duration(i) * time.Minute)
		if i == 3 {
			msg.Body = ""
			msg.Subject = "x"
		}
		store.addPending(int64(i), msg)
	}
	svc, _, _ := newService(store)

	result := svc.ProcessPending(context.Background(), "conn-1")

	if result.ProcessedCount != 5 {
		t.Fatalf("ProcessedCount = %d", result.ProcessedCount)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly 1", result.Errors)
	}
	if result.Errors[0].SourceMessageID != "src-3" {
		t.Errorf("error refers to %q, want src-3", result.Errors[0].SourceMessageID)
	}
	for i := int64(1); i <= 5; i++ {
		status := store.records[i].Status
		if i == 3 {
			if status != models.StatusFailed {
				t.Errorf("record 3 status = %q, want failed", status)
			}
			continue
		}
		if status != models.StatusSuccess && status != models.StatusSkipped {
			t.Errorf("record %d status = %q", i, status)
		}
	}
}

// TestProcessPending_FilteredSkipped verifies a deny-listed sender is
// skipped before any classification work.
func TestProcessPending_FilteredSkipped(t *testing.T) {
	store := newFakeStore()
	store.cfg = &models.FilterConfig{ExcludedSenders: []string{"spam.example"}}
	msg := zillowMessage("src-1")
	msg.Sender = "blast@spam.example"
	store.addPending(1, msg)
	svc, _, _ := newService(store)

	result := svc.ProcessPending(context.Background(), "conn-1")

	if store.records[1].Status != models.StatusSkipped {
		t.Errorf("status = %q, want skipped", store.records[1].Status)
	}
	if len(result.Errors) != 0 {
		t.Errorf("filtered messages are not batch errors: %v", result.Errors)
	}
	if len(store.inquiries) != 0 {
		t.Error("filtered message produced an inquiry")
	}
}

// TestProcessPending_UnknownPlatformSkipped verifies unrecognized platforms
// are skipped, not failed.
func TestProcessPending_UnknownPlatformSkipped(t *testing.T) {
	store := newFakeStore()
	msg := models.RawMessage{ID: "src-1", Sender: "x@nowhere.example", Subject: "hello", Body: "hi"}
	store.addPending(1, msg)
	svc, _, _ := newService(store)

	result := svc.ProcessPending(context.Background(), "conn-1")

	if store.records[1].Status != models.StatusSkipped {
		t.Errorf("status = %q, want skipped", store.records[1].Status)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

// TestProcessPending_ResolverFallback verifies the miss policy: an
// unresolvable reference attaches the inquiry to the fallback property and
// flags it for review instead of failing the message.
func TestProcessPending_ResolverFallback(t *testing.T) {
	store := newFakeStore()
	msg := zillowMessage("src-1")
	msg.Body = "Name: Jane\nMessage: Very interested, can I visit?\n\nJane is requesting information about 99 Unknown Road, Elsewhere."
	store.addPending(1, msg)
	svc, _, _ := newService(store)

	result := svc.ProcessPending(context.Background(), "conn-1")

	if result.UnmatchedCount != 1 {
		t.Fatalf("UnmatchedCount = %d", result.UnmatchedCount)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("fallback must not be a batch error: %v", result.Errors)
	}
	inq := store.inquiries["src-1"]
	if inq == nil {
		t.Fatal("inquiry not created")
	}
	if inq.PropertyID != "p-1" {
		t.Errorf("PropertyID = %q, want fallback p-1", inq.PropertyID)
	}
	if !inq.NeedsReview {
		t.Error("fallback inquiry must be flagged for review")
	}
}

// TestProcessPending_NoPropertiesIsFailure verifies that a resolution miss
// with no owned property at all fails the message.
func TestProcessPending_NoPropertiesIsFailure(t *testing.T) {
	store := newFakeStore()
	store.properties = nil
	store.addPending(1, zillowMessage("src-1"))
	svc, _, _ := newService(store)

	result := svc.ProcessPending(context.Background(), "conn-1")

	if store.records[1].Status != models.StatusFailed {
		t.Errorf("status = %q, want failed", store.records[1].Status)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want 1", result.Errors)
	}
}

// TestProcessPending_ConnectionMissing verifies the fatal-to-batch path: a
// synthetic single error, nothing processed.
func TestProcessPending_ConnectionMissing(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newService(store)

	result := svc.ProcessPending(context.Background(), "no-such-conn")

	if result.ProcessedCount != 0 || len(result.Errors) != 1 {
		t.Fatalf("result = %+v", result)
	}
}

// TestProcessPending_RunAlreadyInProgress verifies per-connection
// serialization: a held lock aborts the run with a synthetic error.
func TestProcessPending_RunAlreadyInProgress(t *testing.T) {
	store := newFakeStore()
	store.addPending(1, zillowMessage("src-1"))
	svc, lock, _ := newService(store)
	lock.held = true

	result := svc.ProcessPending(context.Background(), "conn-1")

	if result.ProcessedCount != 0 || len(result.Errors) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if store.records[1].Status != models.StatusPending {
		t.Errorf("message must stay pending, got %q", store.records[1].Status)
	}
}

// TestProcessPending_WorkflowFailureStillSuccess verifies the REDESIGN
// decision for the downstream-trigger gap: a trigger failure leaves the
// message success but observably untriggered.
func TestProcessPending_WorkflowFailureStillSuccess(t *testing.T) {
	store := newFakeStore()
	store.addPending(1, zillowMessage("src-1"))
	svc, _, trigger := newService(store)
	trigger.err = errors.New("queue unavailable")

	result := svc.ProcessPending(context.Background(), "conn-1")

	if result.CreatedCount != 1 || len(result.Errors) != 0 {
		t.Fatalf("result = %+v", result)
	}
	r := store.records[1]
	if r.Status != models.StatusSuccess {
		t.Errorf("status = %q, want success", r.Status)
	}
	if r.WorkflowTriggered {
		t.Error("workflow_triggered must stay false after a trigger failure")
	}
}

// TestGetStats_Consistency verifies the aggregate identity: totals equal
// the sum of terminal states and the platform breakdown sums to the total.
func TestGetStats_Consistency(t *testing.T) {
	store := newFakeStore()
	id := "inq-1"
	store.records[1] = &models.ProcessedMessage{ID: 1, SourceMessageID: "a", Status: models.StatusSuccess, Platform: "zillow", InquiryID: &id}
	store.records[2] = &models.ProcessedMessage{ID: 2, SourceMessageID: "b", Status: models.StatusSuccess, Platform: "direct"}
	store.records[3] = &models.ProcessedMessage{ID: 3, SourceMessageID: "c", Status: models.StatusFailed, Platform: "zillow"}
	store.records[4] = &models.ProcessedMessage{ID: 4, SourceMessageID: "d", Status: models.StatusSkipped}
	svc, _, _ := newService(store)

	stats, err := svc.GetStats(context.Background(), "conn-1", nil, nil)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}

	if stats.TotalProcessed != 4 {
		t.Errorf("TotalProcessed = %d", stats.TotalProcessed)
	}
	if stats.SuccessfulExtractions != 2 || stats.FailedParsing != 1 || stats.Skipped != 1 {
		t.Errorf("stats = %+v", stats)
	}
	sum := 0
	for _, n := range stats.PlatformBreakdown {
		sum += n
	}
	if sum != stats.TotalProcessed {
		t.Errorf("platform breakdown sums to %d, want %d", sum, stats.TotalProcessed)
	}
}

// TestGetStats_UnknownConnection verifies stats for a missing connection
// return an error rather than empty numbers.
func TestGetStats_UnknownConnection(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newService(store)

	if _, err := svc.GetStats(context.Background(), "ghost", nil, nil); err == nil {
		t.Error("expected error for unknown connection")
	}
}

// TestTestExtract_NoSideEffects verifies the dry-run entry point touches
// neither storage nor the workflow queue.
func TestTestExtract_NoSideEffects(t *testing.T) {
	store := newFakeStore()
	svc, _, trigger := newService(store)

	report := svc.TestExtract(zillowMessage("src-x"), "zillow")

	if !report.Success {
		t.Fatalf("report = %+v", report)
	}
	if len(store.inquiries) != 0 || len(trigger.published) != 0 {
		t.Error("dry run produced side effects")
	}
}
