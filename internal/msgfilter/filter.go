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

// Package msgfilter decides whether an inbound message is worth processing
// at all, before any classification or extraction work is spent on it.
// Apply is pure: no I/O, no side effects.
package msgfilter

import (
	"strings"

	"github.com/leaseline/ingestion/internal/models"
)

// Apply returns true when the message should continue through the pipeline.
//
// Rules are evaluated in order and the first decision wins:
//  1. Sender on the exclusion list            -> reject
//  2. Subject contains an excluded keyword    -> reject
//  3. Allow-list configured, sender not on it -> reject
//  4. Subject keywords configured, none found -> reject
//  5. Otherwise                               -> accept
//
// Exclusions are checked before the allow-list so they always win, even for
// a sender that is explicitly allow-listed.
func Apply(msg models.RawMessage, cfg models.FilterConfig) bool {
	sender := strings.ToLower(msg.Sender)
	subject := strings.ToLower(msg.Subject)

	for _, excluded := range cfg.ExcludedSenders {
		if senderMatches(sender, excluded) {
			return false
		}
	}

	for _, keyword := range cfg.ExcludedKeywords {
		if keyword != "" && strings.Contains(subject, strings.ToLower(keyword)) {
			return false
		}
	}

	if len(cfg.AllowedSenders) > 0 {
		allowed := false
		for _, entry := range cfg.AllowedSenders {
			if senderMatches(sender, entry) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(cfg.SubjectKeywords) > 0 {
		found := false
		for _, keyword := range cfg.SubjectKeywords {
			if keyword != "" && strings.Contains(subject, strings.ToLower(keyword)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// senderMatches reports whether a lowercased sender address matches a list
// entry, either as a substring or as a domain suffix ("zillow.com" matches
// "noreply@mail.zillow.com").
func senderMatches(sender, entry string) bool {
	entry = strings.ToLower(strings.TrimSpace(entry))
	if entry == "" {
		return false
	}
	return strings.Contains(sender, entry) || strings.HasSuffix(sender, "."+entry)
}

// DefaultConfig is the built-in filter used for connections without a
// stored config: the known platform relay domains plus common rental
// keywords for direct inquiries.
func DefaultConfig() models.FilterConfig {
	return models.FilterConfig{
		AllowedSenders: []string{
			"zillow.com",
			"apartments.com",
			"facebookmail.com",
			"craigslist.org",
			"hotpads.com",
			"trulia.com",
		},
		SubjectKeywords: []string{
			"inquiry",
			"interested",
			"rental",
			"listing",
			"tour",
			"application",
		},
		ExcludedSenders: []string{
			"no-reply@accounts",
			"billing@",
		},
		ExcludedKeywords: []string{
			"unsubscribe",
			"receipt",
			"invoice",
			"password reset",
		},
	}
}
