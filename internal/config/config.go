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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailGatewayConfig holds credentials for the provider mail gateway.
type MailGatewayConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Config holds all configuration for the inquiry ingestion service.
type Config struct {
	// Postgres
	DatabaseURL string

	// Redis
	RedisURL      string
	WorkflowQueue string

	// Mail gateway
	MailGateway MailGatewayConfig

	// Poller
	PollInterval time.Duration

	// HTTP API
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Workflow string `yaml:"workflow"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	MailGateway struct {
		BaseURL      string   `yaml:"base_url"`
		TokenURL     string   `yaml:"token_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"mail_gateway"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		DatabaseURL:   firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		RedisURL:      firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		WorkflowQueue: firstNonEmpty(raw.Redis.Queues.Workflow, envOrDefault("WORKFLOW_QUEUE", "workflow")),
		MailGateway: MailGatewayConfig{
			BaseURL:      firstNonEmpty(raw.MailGateway.BaseURL, envOrDefault("MAIL_GATEWAY_URL", "")),
			TokenURL:     firstNonEmpty(raw.MailGateway.TokenURL, envOrDefault("MAIL_GATEWAY_TOKEN_URL", "")),
			ClientID:     firstNonEmpty(raw.MailGateway.ClientID, envOrDefault("MAIL_GATEWAY_CLIENT_ID", "")),
			ClientSecret: firstNonEmpty(raw.MailGateway.ClientSecret, envOrDefault("MAIL_GATEWAY_CLIENT_SECRET", "")),
			Scopes:       raw.MailGateway.Scopes,
		},
		PollInterval: envOrDefaultDuration("POLL_INTERVAL", 60*time.Second),
		Port:         envOrDefaultInt("PORT", 8080),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("no database URL configured — set database.url or DATABASE_URL")
	}
	if cfg.MailGateway.BaseURL == "" {
		return nil, fmt.Errorf("no mail gateway URL configured — set mail_gateway.base_url or MAIL_GATEWAY_URL")
	}
	if cfg.MailGateway.TokenURL != "" && (cfg.MailGateway.ClientID == "" || cfg.MailGateway.ClientSecret == "") {
		return nil, fmt.Errorf("mail gateway token URL set but client credentials are incomplete")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
