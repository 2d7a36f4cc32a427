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

// Package models defines the data structures shared across the ingestion service.
package models

import "time"

// RawMessage is an inbound notification email as received from the mail
// provider. It is immutable once staged; the pipeline never mutates it.
type RawMessage struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"sender_name,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// PlatformPattern is a classification rule mapping a sender (and optionally
// a subject) to a listing platform. Rules are data, not code: adding a
// platform requires inserting a row, not a redeploy.
type PlatformPattern struct {
	ID             int64  `json:"id"`
	Platform       string `json:"platform"`
	SenderPattern  string `json:"sender_pattern"`
	SubjectPattern string `json:"subject_pattern,omitempty"`
	Priority       int    `json:"priority"`
	Active         bool   `json:"active"`
}

// FilterConfig is the per-connection message filter configuration.
// A connection without a stored config falls back to the built-in default.
type FilterConfig struct {
	AllowedSenders   []string `json:"allowed_senders"`
	SubjectKeywords  []string `json:"subject_keywords"`
	ExcludedSenders  []string `json:"excluded_senders"`
	ExcludedKeywords []string `json:"excluded_keywords"`
}

// ParsedCandidate is the best-effort structured result of field extraction.
// Invariant: Message is empty only when extraction failed entirely, and an
// empty Message always implies at least one entry in Errors.
type ParsedCandidate struct {
	TenantName      string    `json:"tenant_name,omitempty"`
	TenantEmail     string    `json:"tenant_email,omitempty"`
	TenantPhone     string    `json:"tenant_phone,omitempty"`
	Message         string    `json:"message"`
	PropertyRef     string    `json:"property_ref,omitempty"`
	PropertyAddress string    `json:"property_address,omitempty"`
	Platform        string    `json:"platform"`
	SourceMessageID string    `json:"source_message_id"`
	ReceivedAt      time.Time `json:"received_at"`
	Errors          []string  `json:"errors,omitempty"`
}

// PropertyMatch is the result of resolving a free-text property reference
// against the owner's property records.
type PropertyMatch struct {
	Matched           bool    `json:"matched"`
	PropertyID        string  `json:"property_id,omitempty"`
	Confidence        float64 `json:"confidence"`
	NormalizedAddress string  `json:"normalized_address,omitempty"`
}

// ProcessedMessage lifecycle states. Success and failed are terminal for
// the normal pipeline; only an administrative reset returns a record to
// pending.
const (
	StatusPending = "pending"
	StatusSkipped = "skipped"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ProcessedMessage is the durable per-message audit row, one per raw
// message ever staged for a connection. The (connection_id,
// source_message_id) uniqueness constraint in Postgres is the authoritative
// deduplication key.
type ProcessedMessage struct {
	ID                int64      `json:"id"`
	ConnectionID      string     `json:"connection_id"`
	SourceMessageID   string     `json:"source_message_id"`
	Status            string     `json:"status"`
	Platform          string     `json:"platform,omitempty"`
	InquiryID         *string    `json:"inquiry_id,omitempty"`
	Errors            []string   `json:"errors,omitempty"`
	WorkflowTriggered bool       `json:"workflow_triggered"`
	Raw               RawMessage `json:"raw"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Inquiry is the structured, property-linked business record produced from
// a successfully processed message. Created at most once per source message;
// downstream qualification stages own it afterwards.
type Inquiry struct {
	ID              string          `json:"id"`
	ConnectionID    string          `json:"connection_id"`
	SourceMessageID string          `json:"source_message_id"`
	PropertyID      string          `json:"property_id"`
	Platform        string          `json:"platform"`
	TenantName      string          `json:"tenant_name,omitempty"`
	TenantEmail     string          `json:"tenant_email,omitempty"`
	TenantPhone     string          `json:"tenant_phone,omitempty"`
	Message         string          `json:"message"`
	NeedsReview     bool            `json:"needs_review"`
	Metadata        ParsedCandidate `json:"metadata"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Property is a rental property owned by a connection's manager, the
// candidate set for fuzzy address resolution.
type Property struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Address   string    `json:"address"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Connection is a monitored mailbox belonging to a property manager.
type Connection struct {
	ID         string     `json:"id"`
	ManagerID  string     `json:"manager_id"`
	Mailbox    string     `json:"mailbox"`
	Provider   string     `json:"provider"`
	Active     bool       `json:"active"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// BatchError describes a single failed message within a batch run.
type BatchError struct {
	SourceMessageID string    `json:"source_message_id"`
	Error           string    `json:"error"`
	Timestamp       time.Time `json:"timestamp"`
}

// BatchResult is the aggregate outcome of one ProcessPending run.
type BatchResult struct {
	ProcessedCount int          `json:"processed_count"`
	CreatedCount   int          `json:"created_count"`
	UnmatchedCount int          `json:"unmatched_count"`
	Errors         []BatchError `json:"errors,omitempty"`
}

// Stats summarises persisted ProcessedMessage rows for a connection. It is
// always computed from storage, never from in-memory state, so it survives
// restarts.
type Stats struct {
	TotalProcessed        int            `json:"total_processed"`
	SuccessfulExtractions int            `json:"successful_extractions"`
	FailedParsing         int            `json:"failed_parsing"`
	Skipped               int            `json:"skipped"`
	PlatformBreakdown     map[string]int `json:"platform_breakdown"`
	LastSyncTime          *time.Time     `json:"last_sync_time,omitempty"`
}

// TestParseReport is the side-effect-free extraction report returned by the
// operator-facing dry-run endpoint.
type TestParseReport struct {
	Success         bool              `json:"success"`
	ExtractedFields map[string]string `json:"extracted_fields"`
	MissingFields   []string          `json:"missing_fields"`
	Errors          []string          `json:"errors,omitempty"`
}
