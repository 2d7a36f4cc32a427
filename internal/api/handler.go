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

// Package api exposes the service's HTTP surface: manual sync triggers,
// per-connection ingestion stats, and a dry-run extraction endpoint used by
// support staff to debug platform notification formats.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/leaseline/ingestion/internal/models"
)

// Service is the ingest surface the API depends on.
// Implemented by ingest.Service.
type Service interface {
	ProcessPending(ctx context.Context, connectionID string) models.BatchResult
	GetStats(ctx context.Context, connectionID string, from, to *time.Time) (*models.Stats, error)
	TestExtract(msg models.RawMessage, platform string) models.TestParseReport
}

// Handler serves the ingestion HTTP API.
type Handler struct {
	service Service
}

// NewHandler creates an API handler backed by the given service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register attaches the API routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /connections/{id}/sync", h.serveSync)
	mux.HandleFunc("GET /connections/{id}/stats", h.serveStats)
	mux.HandleFunc("POST /extract/test", h.serveTestExtract)
	mux.HandleFunc("GET /health", h.serveHealth)
}

// serveSync triggers a batch run over the connection's pending messages.
// The run is synchronous: the response carries the batch result.
func (h *Handler) serveSync(w http.ResponseWriter, r *http.Request) {
	connectionID := r.PathValue("id")

	result := h.service.ProcessPending(r.Context(), connectionID)

	slog.Info("manual sync requested",
		"connection", connectionID,
		"processed", result.ProcessedCount,
		"created", result.CreatedCount,
		"errors", len(result.Errors),
	)

	status := http.StatusOK
	if result.ProcessedCount == 0 && len(result.Errors) > 0 {
		// The run never started (unknown connection, lock held, load failure)
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

// serveStats returns ingestion counters for a connection, optionally
// bounded by from/to query parameters (RFC 3339).
func (h *Handler) serveStats(w http.ResponseWriter, r *http.Request) {
	connectionID := r.PathValue("id")

	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from parameter, want RFC 3339")
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to parameter, want RFC 3339")
		return
	}

	stats, err := h.service.GetStats(r.Context(), connectionID, from, to)
	if err != nil {
		slog.Error("stats lookup failed", "connection", connectionID, "error", err)
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// testExtractRequest is the dry-run extraction request body.
type testExtractRequest struct {
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Platform   string `json:"platform"`
}

// serveTestExtract runs the extractor over a caller-supplied message
// without touching storage. Used to debug notification formats.
func (h *Handler) serveTestExtract(w http.ResponseWriter, r *http.Request) {
	var req testExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Body == "" && req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject or body is required")
		return
	}

	report := h.service.TestExtract(models.RawMessage{
		Sender:     req.Sender,
		SenderName: req.SenderName,
		Subject:    req.Subject,
		Body:       req.Body,
		ReceivedAt: time.Now().UTC(),
	}, req.Platform)

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
