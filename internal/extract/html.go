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

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// tagRe detects markup: an opening angle bracket followed by a tag name,
// comment, or close-tag slash.
var tagRe = regexp.MustCompile(`<[a-zA-Z!/][^>]*>`)

// looksLikeHTML reports whether a message body appears to contain markup.
// Platform relays send a mix of HTML and plain-text bodies, so this check
// gates normalization rather than a content-type header the provider may
// not preserve.
func looksLikeHTML(body string) bool {
	return tagRe.MatchString(body)
}

// blockTags are elements whose boundaries become line breaks, so paragraph
// structure survives tag stripping.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "table": true,
}

// htmlToText converts an HTML body to plain text: script and style blocks
// are dropped with their content, remaining tags are stripped, entities are
// decoded, and whitespace is collapsed. Block element boundaries become
// newlines so labeled fields and paragraphs stay line-separable.
func htmlToText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skipping := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseWhitespace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skipping = true
			} else if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skipping = false
			} else if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockTags[string(name)] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if !skipping {
				// Text() returns entity-decoded content.
				b.Write(z.Text())
			}
		}
	}
}

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// collapseWhitespace squeezes runs of spaces within each line (including
// non-breaking spaces from decoded entities) and runs of blank lines down
// to a single paragraph break.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.FieldsFunc(line, unicode.IsSpace), " ")
	}
	out := strings.Join(lines, "\n")
	out = blankLinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// normalizeBody produces the plain text the field strategies work on.
func normalizeBody(body string) string {
	if looksLikeHTML(body) {
		return htmlToText(body)
	}
	return collapseWhitespace(body)
}
