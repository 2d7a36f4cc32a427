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

package resolve

import (
	"testing"

	"github.com/leaseline/ingestion/internal/models"
)

var properties = []models.Property{
	{ID: "p-oak", Address: "12 Oak Street, Springfield, IL 62704"},
	{ID: "p-birch", Address: "45 Birch Avenue, Springfield, IL 62704"},
	{ID: "p-main", Address: "900 N Main Blvd Apt 4, Dover, DE"},
}

// TestNormalize verifies case folding, punctuation stripping, and street
// abbreviation canonicalization.
func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"12 Oak Street", "12 oak st"},
		{"12   OAK St.", "12 oak st"},
		{"45 Birch Avenue,", "45 birch ave"},
		{"900 North Main Boulevard", "900 n main blvd"},
		{"Unit 4", "apt 4"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// TestResolve_ExactAndAbbreviated verifies that abbreviation variants of a
// stored address resolve to it with high confidence.
func TestResolve_ExactAndAbbreviated(t *testing.T) {
	m := Resolve("12 Oak St, Springfield, IL 62704", properties)
	if !m.Matched || m.PropertyID != "p-oak" {
		t.Fatalf("match = %+v, want p-oak", m)
	}
	if m.Confidence < MinConfidence {
		t.Errorf("confidence = %f, want >= %f", m.Confidence, MinConfidence)
	}
}

// TestResolve_PartialReference verifies a reference missing the city/zip
// still matches via containment.
func TestResolve_PartialReference(t *testing.T) {
	m := Resolve("45 Birch Ave", properties)
	if !m.Matched || m.PropertyID != "p-birch" {
		t.Fatalf("match = %+v, want p-birch", m)
	}
}

// TestResolve_NoCandidateAboveThreshold verifies the miss result: matched
// false, best confidence reported, no property id.
func TestResolve_NoCandidateAboveThreshold(t *testing.T) {
	m := Resolve("77 Completely Different Way, Anchorage AK", properties)
	if m.Matched {
		t.Fatalf("expected no match, got %+v", m)
	}
	if m.PropertyID != "" {
		t.Errorf("PropertyID = %q, want empty on miss", m.PropertyID)
	}
}

// TestResolve_EmptyInputs verifies empty references and empty candidate
// sets never match.
func TestResolve_EmptyInputs(t *testing.T) {
	if m := Resolve("", properties); m.Matched {
		t.Errorf("empty reference matched: %+v", m)
	}
	if m := Resolve("12 Oak St", nil); m.Matched {
		t.Errorf("empty candidate set matched: %+v", m)
	}
}
