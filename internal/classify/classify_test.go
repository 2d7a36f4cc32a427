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

package classify

import (
	"testing"

	"github.com/leaseline/ingestion/internal/models"
)

// TestIdentify_PriorityOrder verifies that a high-priority platform rule
// wins over the low-priority catch-all even when both match.
func TestIdentify_PriorityOrder(t *testing.T) {
	patterns := []models.PlatformPattern{
		{Platform: "direct", SenderPattern: `.*`, SubjectPattern: `(?i)rental`, Priority: 10, Active: true},
		{Platform: "facebook", SenderPattern: `facebookmail\.com`, Priority: 1, Active: true},
	}

	msg := models.RawMessage{Sender: "notify@facebookmail.com", Subject: "rental update"}
	if got := Identify(msg, patterns); got != "facebook" {
		t.Errorf("Identify = %q, want facebook", got)
	}
}

// TestIdentify_SubjectGate verifies that a rule with a subject pattern only
// matches when the subject matches too.
func TestIdentify_SubjectGate(t *testing.T) {
	patterns := []models.PlatformPattern{
		{Platform: "direct", SenderPattern: `.*`, SubjectPattern: `(?i)rental`, Priority: 10, Active: true},
	}

	miss := models.RawMessage{Sender: "someone@gmail.com", Subject: "lunch tomorrow?"}
	if got := Identify(miss, patterns); got != PlatformUnknown {
		t.Errorf("Identify = %q, want %q", got, PlatformUnknown)
	}

	hit := models.RawMessage{Sender: "someone@gmail.com", Subject: "Rental availability"}
	if got := Identify(hit, patterns); got != "direct" {
		t.Errorf("Identify = %q, want direct", got)
	}
}

// TestIdentify_InactiveAndMalformedSkipped verifies that inactive rules and
// rules with invalid regular expressions are ignored without aborting
// classification of the message.
func TestIdentify_InactiveAndMalformedSkipped(t *testing.T) {
	patterns := []models.PlatformPattern{
		{Platform: "broken", SenderPattern: `([`, Priority: 1, Active: true},
		{Platform: "disabled", SenderPattern: `zillow\.com`, Priority: 2, Active: false},
		{Platform: "zillow", SenderPattern: `zillow\.com`, Priority: 3, Active: true},
	}

	msg := models.RawMessage{Sender: "notify@zillow.com", Subject: "New inquiry"}
	if got := Identify(msg, patterns); got != "zillow" {
		t.Errorf("Identify = %q, want zillow", got)
	}
}

// TestIdentify_NoMatch verifies the unknown label when nothing matches.
func TestIdentify_NoMatch(t *testing.T) {
	msg := models.RawMessage{Sender: "x@y.com", Subject: "hello"}
	if got := Identify(msg, nil); got != PlatformUnknown {
		t.Errorf("Identify = %q, want %q", got, PlatformUnknown)
	}
}

// TestIdentify_PriorityTieKeepsRuleOrder verifies deterministic tie-breaking:
// equal priorities preserve the rule set's own order.
func TestIdentify_PriorityTieKeepsRuleOrder(t *testing.T) {
	patterns := []models.PlatformPattern{
		{Platform: "first", SenderPattern: `example\.com`, Priority: 5, Active: true},
		{Platform: "second", SenderPattern: `example\.com`, Priority: 5, Active: true},
	}

	msg := models.RawMessage{Sender: "a@example.com"}
	if got := Identify(msg, patterns); got != "first" {
		t.Errorf("Identify = %q, want first", got)
	}
}

// TestDefaultPatterns_CatchAllSortsLast verifies that the seeded catch-all
// rule never shadows a platform relay rule.
func TestDefaultPatterns_CatchAllSortsLast(t *testing.T) {
	msg := models.RawMessage{Sender: "noreply@convo.zillow.com", Subject: "Rental inquiry"}
	if got := Identify(msg, DefaultPatterns()); got != "zillow" {
		t.Errorf("Identify = %q, want zillow", got)
	}

	direct := models.RawMessage{Sender: "tenant@gmail.com", Subject: "Interested in your listing"}
	if got := Identify(direct, DefaultPatterns()); got != "direct" {
		t.Errorf("Identify = %q, want direct", got)
	}
}
