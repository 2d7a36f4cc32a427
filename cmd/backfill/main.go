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

// LeaseLine — Historical Backfill Command
//
// Standalone CLI tool that stages historical mailbox messages within a
// configurable lookback window and runs the ingestion pipeline over them.
// Intended for seeding inquiries when a connection is onboarded late.
//
// Usage:
//
//	go run ./cmd/backfill/ --connections conn-1,conn-2 [--since 720h]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/leaseline/ingestion/internal/backfill"
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

	// --- CLI Flags ---
	connectionsFlag := flag.String("connections", "", "Comma-separated list of connection IDs to backfill (required)")
	sinceFlag := flag.String("since", "720h", "Lookback duration (e.g. 168h for 1 week, 720h for 30 days)")
	flag.Parse()

	if *connectionsFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --connections is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	var connectionIDs []string
	for _, id := range strings.Split(*connectionsFlag, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			connectionIDs = append(connectionIDs, id)
		}
	}
	if len(connectionIDs) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no connection IDs given\n")
		os.Exit(1)
	}

	sinceDuration, err := time.ParseDuration(*sinceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --since duration %q: %v\n", *sinceFlag, err)
		os.Exit(1)
	}

	slog.Info("starting historical backfill",
		"connections", connectionIDs,
		"since", sinceDuration,
	)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise storage", "error", err)
		os.Exit(1)
	}

	if err := st.SeedPatterns(ctx, classify.DefaultPatterns()); err != nil {
		slog.Error("failed to seed platform patterns", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := workflow.NewPublisher(rdb, cfg.WorkflowQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Ingestion Pipeline ---
	service := ingest.New(st, runlock.New(rdb), publisher)

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

	// --- Run Backfill ---
	runner := backfill.NewRunner(backfill.RunnerConfig{
		Lister:    mailClient,
		Store:     st,
		Processor: service,
	})

	result, err := runner.Run(ctx, backfill.Request{
		ConnectionIDs: connectionIDs,
		Since:         sinceDuration,
	})
	if err != nil {
		slog.Error("backfill failed", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	slog.Info("backfill complete",
		"total_staged", result.TotalStaged,
		"total_skipped", result.TotalSkipped,
		"total_created", result.TotalCreated,
		"elapsed", result.Elapsed,
	)

	for _, cr := range result.ConnectionResults {
		slog.Info("connection result",
			"connection", cr.ConnectionID,
			"fetched", cr.Fetched,
			"staged", cr.Staged,
			"skipped", cr.Skipped,
			"created", cr.Created,
			"errors", cr.Errors,
		)
	}
}
