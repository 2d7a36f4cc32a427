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

// Package resolve maps a free-text property reference from an extracted
// inquiry to one of the owner's property records by fuzzy address matching.
// The resolver only scores; what happens on a miss is the orchestrator's
// policy.
package resolve

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/leaseline/ingestion/internal/models"
)

// MinConfidence is the similarity floor below which the best candidate is
// still reported as unmatched.
const MinConfidence = 0.65

// streetAbbreviations maps common street-type and directional tokens to a
// canonical form so "123 Main St" and "123 Main Street" normalize
// identically.
var streetAbbreviations = map[string]string{
	"street": "st", "str": "st",
	"avenue": "ave", "av": "ave",
	"road": "rd",
	"drive": "dr", "drv": "dr",
	"boulevard": "blvd", "boul": "blvd",
	"lane": "ln",
	"court": "ct",
	"place": "pl",
	"terrace": "ter",
	"highway": "hwy",
	"apartment": "apt", "unit": "apt", "ste": "apt", "suite": "apt",
	"north": "n", "south": "s", "east": "e", "west": "w",
}

// Normalize canonicalizes an address for comparison: case-fold, strip
// punctuation, collapse whitespace, and map street-type abbreviations to a
// single token.
func Normalize(addr string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(addr) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	for i, f := range fields {
		if canonical, ok := streetAbbreviations[f]; ok {
			fields[i] = canonical
		}
	}
	return strings.Join(fields, " ")
}

// similarity scores two normalized strings in [0,1] from their edit
// distance: identical strings score 1, fully dissimilar strings 0.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// Resolve scores the reference against each candidate property's address
// and returns the best candidate, matched only when its confidence reaches
// MinConfidence.
func Resolve(reference string, properties []models.Property) models.PropertyMatch {
	ref := Normalize(reference)
	if ref == "" {
		return models.PropertyMatch{Matched: false}
	}

	best := models.PropertyMatch{Matched: false}
	for _, p := range properties {
		candidate := Normalize(p.Address)
		score := similarity(ref, candidate)

		// A normalized reference contained whole in the candidate (or the
		// reverse, for references carrying unit suffixes) is a match even
		// when length differences depress the edit-distance score.
		if score < MinConfidence && len(ref) >= 8 &&
			(strings.Contains(candidate, ref) || strings.Contains(ref, candidate)) {
			score = MinConfidence
		}

		if score > best.Confidence {
			best.Confidence = score
			best.PropertyID = p.ID
			best.NormalizedAddress = candidate
		}
	}

	if best.Confidence >= MinConfidence {
		best.Matched = true
		return best
	}

	return models.PropertyMatch{Matched: false, Confidence: best.Confidence}
}
