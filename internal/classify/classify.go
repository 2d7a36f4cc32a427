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

// Package classify maps a raw message to a listing platform using the
// prioritized pattern rules stored alongside the connection data. Rules are
// plain records, so supporting a new platform is an insert, not a release.
package classify

import (
	"log/slog"
	"regexp"
	"sort"

	"github.com/leaseline/ingestion/internal/models"
)

// PlatformUnknown is returned when no active pattern matches the message.
const PlatformUnknown = "unknown"

// Identify returns the platform label of the first active pattern, in
// ascending priority order, whose sender pattern matches the sender address
// and whose subject pattern (if any) matches the subject. Ties on priority
// keep the rule set's own order.
//
// A malformed stored regexp never aborts classification: the pattern is
// treated as inactive for this run and the occurrence logged.
func Identify(msg models.RawMessage, patterns []models.PlatformPattern) string {
	ordered := make([]models.PlatformPattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Active {
			ordered = append(ordered, p)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	for _, p := range ordered {
		senderRe, err := regexp.Compile(p.SenderPattern)
		if err != nil {
			slog.Warn("skipping malformed sender pattern",
				"platform", p.Platform,
				"pattern", p.SenderPattern,
				"error", err,
			)
			continue
		}
		if !senderRe.MatchString(msg.Sender) {
			continue
		}

		if p.SubjectPattern != "" {
			subjectRe, err := regexp.Compile(p.SubjectPattern)
			if err != nil {
				slog.Warn("skipping malformed subject pattern",
					"platform", p.Platform,
					"pattern", p.SubjectPattern,
					"error", err,
				)
				continue
			}
			if !subjectRe.MatchString(msg.Subject) {
				continue
			}
		}

		return p.Platform
	}

	return PlatformUnknown
}

// DefaultPatterns are the rules seeded into an empty platform_patterns
// table. The catch-all "direct" rule matches any sender but is gated on a
// rental-keyword subject and sorts after every platform-specific rule, so
// platform relays are always preferred when both could match.
func DefaultPatterns() []models.PlatformPattern {
	return []models.PlatformPattern{
		{Platform: "zillow", SenderPattern: `(?i)@(convo\.)?zillow\.com`, Priority: 1, Active: true},
		{Platform: "apartments", SenderPattern: `(?i)@apartments\.com`, Priority: 2, Active: true},
		{Platform: "facebook", SenderPattern: `(?i)@facebookmail\.com`, Priority: 3, Active: true},
		{Platform: "craigslist", SenderPattern: `(?i)@(reply\.)?craigslist\.org`, Priority: 4, Active: true},
		{
			Platform:       "direct",
			SenderPattern:  `.*`,
			SubjectPattern: `(?i)(rental|inquiry|interested|listing|tour|apartment|house)`,
			Priority:       100,
			Active:         true,
		},
	}
}
