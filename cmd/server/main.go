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

// LeaseLine — Inquiry Ingestion Service
//
// Entry point for the inquiry ingestion service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Seeds default platform patterns on first boot
//  4. Polls connected mailboxes for unread notification messages
//  5. Runs the filter → classify → extract → resolve pipeline per message
//  6. Serves the sync/stats/extract-test HTTP API
//  7. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/leaseline/ingestion/internal/api"
	"github.com/leaseline/ingestion/internal/classify"
	"github.com/leaseline/ingestion/internal/config"
	"github.com/leaseline/ingestion/internal/ingest"
	"github.com/leaseline/ingestion/internal/mailsource"
	"github.com/leaseline/ingestion/internal/runlock"
	"github.com/leaseline/ingestion/internal/store"
	"github.com/leaseline/ingestion/internal/workflow"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting inquiry ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"poll_interval", cfg.PollInterval,
		"workflow_queue", cfg.WorkflowQueue,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := workflow.NewPublisher(rdb, cfg.WorkflowQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Storage ---
	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise storage", "error", err)
		os.Exit(1)
	}

	if err := st.SeedPatterns(ctx, classify.DefaultPatterns()); err != nil {
		slog.Error("failed to seed platform patterns", "error", err)
		os.Exit(1)
	}

	// --- Run Lock ---
	lock := runlock.New(rdb)

	// --- Ingestion Pipeline ---
	service := ingest.New(st, lock, publisher)

	// --- Mail Gateway Client ---
	httpClient := http.DefaultClient
	if cfg.MailGateway.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.MailGateway.ClientID,
			ClientSecret: cfg.MailGateway.ClientSecret,
			TokenURL:     cfg.MailGateway.TokenURL,
			Scopes:       cfg.MailGateway.Scopes,
		}
		httpClient = creds.Client(ctx)
	}
	mailClient := mailsource.NewClient(httpClient, cfg.MailGateway.BaseURL)

	// --- Mailbox Poller ---
	poller := mailsource.NewPoller(mailClient, st, service, cfg.PollInterval)
	go poller.Run(ctx)

	// --- HTTP API ---
	mux := http.NewServeMux()
	api.NewHandler(service).Register(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the poller

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("ingestion service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("ingestion service stopped")
}
