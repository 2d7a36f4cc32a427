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

// Package extract turns a raw platform notification into a best-effort
// ParsedCandidate. Extraction never panics outward: every internal failure
// becomes an entry in the candidate's error list and the remaining fields
// are still attempted.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leaseline/ingestion/internal/models"
)

// ErrNoContent is the hard-failure signal: appended when no message body
// text could be produced at all. Candidates with body text but errors on
// other fields are soft partial results, not hard failures.
const ErrNoContent = "could not extract message content"

// strategyFunc fills platform-specific fields from the normalized body text.
type strategyFunc func(msg models.RawMessage, text string, c *models.ParsedCandidate)

var strategies = map[string]strategyFunc{
	"zillow":     extractZillow,
	"apartments": extractApartments,
	"facebook":   extractFacebook,
	"craigslist": extractCraigslist,
	"direct":     extractDirect,
}

// Extract parses a raw message for the given platform label. The returned
// candidate always satisfies the invariant that an empty Message implies a
// non-empty error list.
func Extract(msg models.RawMessage, platform string) models.ParsedCandidate {
	c := models.ParsedCandidate{
		Platform:        platform,
		SourceMessageID: msg.ID,
		ReceivedAt:      msg.ReceivedAt,
	}

	strategy, ok := strategies[platform]
	if !ok {
		c.Errors = append(c.Errors, fmt.Sprintf("unsupported platform %q", platform))
		c.Errors = append(c.Errors, ErrNoContent)
		return c
	}

	var text string
	guard(&c, "normalize body", func() {
		text = normalizeBody(msg.Body)
	})

	guard(&c, "platform fields", func() {
		strategy(msg, text, &c)
	})

	guard(&c, "contact scan", func() {
		scanContacts(msg, text, &c)
	})

	guard(&c, "property reference", func() {
		fillPropertyReference(msg, &c)
	})

	if c.TenantName == "" {
		c.TenantName = senderDerivedName(msg)
	}

	if c.Message == "" {
		if p := firstParagraph(text); p != "" {
			c.Message = p
		} else {
			c.Errors = append(c.Errors, ErrNoContent)
		}
	}

	return c
}

// HardFailure reports whether extraction produced no message text at all,
// the signal the orchestrator uses to fail the message instead of creating
// a partial inquiry.
func HardFailure(c models.ParsedCandidate) bool {
	return c.Message == ""
}

// guard runs one extraction phase, converting a panic into an error entry
// so the remaining phases still run.
func guard(c *models.ParsedCandidate, phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.Errors = append(c.Errors, fmt.Sprintf("%s: %v", phase, r))
		}
	}()
	fn()
}

// --- Platform strategies ---

// extractZillow handles Zillow relay notifications. Newer templates carry
// labeled fields; older ones only have the "X says:" lead-in.
func extractZillow(msg models.RawMessage, text string, c *models.ParsedCandidate) {
	c.TenantName = labeledField(text, "Name")
	c.TenantPhone = labeledField(text, "Phone")
	c.TenantEmail = labeledField(text, "Email")
	c.Message = labeledField(text, "Message", "Comments")

	if c.TenantName == "" {
		if m := zillowSaysRe.FindStringSubmatch(text); m != nil {
			c.TenantName = strings.TrimSpace(m[1])
			if c.Message == "" {
				c.Message = strings.TrimSpace(m[2])
			}
		}
	}

	if m := zillowAboutRe.FindStringSubmatch(text); m != nil {
		c.PropertyAddress = strings.TrimSpace(m[1])
	}
}

var (
	zillowSaysRe  = regexp.MustCompile(`(?m)^(.{2,60}?)\s+says:\s*(.*)$`)
	zillowAboutRe = regexp.MustCompile(`(?i)(?:information|details|a tour)\s+(?:about|of|for)\s+([0-9][^.\n]{5,80})`)
)

// extractApartments handles Apartments.com lead notifications, which are
// consistently label-driven.
func extractApartments(msg models.RawMessage, text string, c *models.ParsedCandidate) {
	c.TenantName = labeledField(text, "Name", "Lead Name")
	c.TenantEmail = labeledField(text, "Email")
	c.TenantPhone = labeledField(text, "Phone", "Phone Number")
	c.Message = labeledField(text, "Message", "Comments")
	c.PropertyAddress = labeledField(text, "Property", "Property Address", "Listing")
}

// extractFacebook handles Marketplace notifications. These rarely carry an
// address; the listing title from the subject becomes the property
// reference instead.
func extractFacebook(msg models.RawMessage, text string, c *models.ParsedCandidate) {
	if m := fbInterestedRe.FindStringSubmatch(text); m != nil {
		c.TenantName = strings.TrimSpace(m[1])
	}
	c.Message = labeledField(text, "Message")
	if c.Message == "" {
		if m := fbQuoteRe.FindStringSubmatch(text); m != nil {
			c.Message = strings.TrimSpace(m[1])
		}
	}
	if title := strings.TrimSpace(trimReplyPrefix(msg.Subject)); title != "" {
		c.PropertyRef = title
	}
}

var (
	fbInterestedRe = regexp.MustCompile(`(?m)^(.{2,60}?)\s+is interested in your`)
	fbQuoteRe      = regexp.MustCompile(`(?m)^"(.+)"$`)
)

// extractCraigslist handles anonymized Craigslist reply relays: the sender
// is opaque, the subject is "Re: <listing title>", and the body is the
// tenant's own words.
func extractCraigslist(msg models.RawMessage, text string, c *models.ParsedCandidate) {
	c.TenantName = labeledField(text, "Name")
	c.Message = firstParagraph(text)
	if title := strings.TrimSpace(trimReplyPrefix(msg.Subject)); title != "" {
		c.PropertyRef = title
	}
}

// extractDirect handles inquiries sent straight to the manager's mailbox:
// try labeled fields, then treat the first substantial paragraph as the
// message.
func extractDirect(msg models.RawMessage, text string, c *models.ParsedCandidate) {
	c.TenantName = labeledField(text, "Name")
	c.TenantEmail = labeledField(text, "Email")
	c.TenantPhone = labeledField(text, "Phone")
	c.Message = labeledField(text, "Message")
	c.PropertyAddress = labeledField(text, "Property", "Address")
	if c.TenantEmail == "" {
		c.TenantEmail = msg.Sender
	}
}

// --- Shared helpers ---

// labeledField finds the first "Label: value" line for any of the given
// labels, tolerating quote markers and full-width colons.
func labeledField(text string, labels ...string) string {
	for _, label := range labels {
		re := regexp.MustCompile(`(?im)^[>\s]*` + regexp.QuoteMeta(label) + `\s*[:：]\s*(\S.*)$`)
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`(\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)
)

// relayDomains are platform relay addresses that must not be mistaken for
// the tenant's own contact email during the generic scan.
var relayDomains = []string{
	"zillow.com", "apartments.com", "facebookmail.com", "craigslist.org",
	"hotpads.com", "trulia.com",
}

// scanContacts fills in an email address and phone number from anywhere in
// the normalized text. Platforms do not always put these under a labeled
// marker, so this runs for every strategy.
func scanContacts(msg models.RawMessage, text string, c *models.ParsedCandidate) {
	if c.TenantEmail == "" {
		for _, addr := range emailRe.FindAllString(text, 5) {
			if !isRelayAddress(addr) {
				c.TenantEmail = addr
				break
			}
		}
	}
	if c.TenantPhone == "" {
		c.TenantPhone = strings.TrimSpace(phoneRe.FindString(text))
	}
}

func isRelayAddress(addr string) bool {
	lower := strings.ToLower(addr)
	for _, d := range relayDomains {
		if strings.HasSuffix(lower, "@"+d) || strings.Contains(lower, "."+d) {
			return true
		}
	}
	return false
}

var subjectAddrRe = regexp.MustCompile(`(?i)\b(?:for|about|regarding|at)\s+(\d{1,6}\s+\S.*)$`)

// fillPropertyReference derives a property reference from the subject line
// when the body yielded neither an address nor a listing reference.
func fillPropertyReference(msg models.RawMessage, c *models.ParsedCandidate) {
	if c.PropertyAddress != "" || c.PropertyRef != "" {
		return
	}
	if m := subjectAddrRe.FindStringSubmatch(msg.Subject); m != nil {
		c.PropertyAddress = strings.TrimSpace(m[1])
		return
	}
	if title := strings.TrimSpace(trimReplyPrefix(msg.Subject)); title != "" {
		c.PropertyRef = title
	}
}

var replyPrefixRe = regexp.MustCompile(`(?i)^((re|fw|fwd)\s*:\s*)+`)

func trimReplyPrefix(subject string) string {
	return replyPrefixRe.ReplaceAllString(subject, "")
}

// firstParagraph returns the first paragraph long enough to be a real
// message rather than greeting or template furniture.
func firstParagraph(text string) string {
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if len(p) >= 20 {
			return p
		}
	}
	return ""
}

// senderDerivedName falls back to the provider display name, then to a
// cleaned-up mailbox local part.
func senderDerivedName(msg models.RawMessage) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	local, _, ok := strings.Cut(msg.Sender, "@")
	if !ok || local == "" {
		return ""
	}
	local = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(local)
	return strings.TrimSpace(local)
}
