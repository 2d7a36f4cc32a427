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

package extract

import "github.com/leaseline/ingestion/internal/models"

// reportFields are the candidate fields covered by the dry-run report, in
// presentation order.
var reportFields = []string{
	"tenant_name",
	"tenant_email",
	"tenant_phone",
	"message",
	"property_address",
	"property_ref",
}

// TestParse runs the exact extraction logic with no side effects and
// returns a field-presence report. Operators use it to validate new
// platform patterns against sample messages before enabling them.
func TestParse(msg models.RawMessage, platform string) models.TestParseReport {
	c := Extract(msg, platform)

	values := map[string]string{
		"tenant_name":      c.TenantName,
		"tenant_email":     c.TenantEmail,
		"tenant_phone":     c.TenantPhone,
		"message":          c.Message,
		"property_address": c.PropertyAddress,
		"property_ref":     c.PropertyRef,
	}

	report := models.TestParseReport{
		Success:         !HardFailure(c),
		ExtractedFields: make(map[string]string),
		MissingFields:   []string{},
		Errors:          c.Errors,
	}

	for _, field := range reportFields {
		if v := values[field]; v != "" {
			report.ExtractedFields[field] = v
		} else {
			report.MissingFields = append(report.MissingFields, field)
		}
	}

	return report
}
