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

// Package mailsource is the mail provider collaborator: it lists unread
// notification messages per mailbox over the provider's REST gateway and
// marks them consumed once staged. Authentication lives in the HTTP client
// (OAuth2 client credentials), built at startup.
package mailsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/leaseline/ingestion/internal/models"
)

// Client fetches messages from the provider mail gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a mail gateway client. httpClient is expected to carry
// OAuth2 credentials.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// gatewayMessage represents the relevant fields of a gateway message
// response.
type gatewayMessage struct {
	ID   string `json:"id"`
	From struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"from"`
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ReceivedDateTime string `json:"receivedDateTime"`
}

// listResponse is a page of the message list endpoint.
type listResponse struct {
	Value    []gatewayMessage `json:"value"`
	NextLink string           `json:"nextLink"`
}

// ListUnread returns the mailbox's unread messages, oldest first.
func (c *Client) ListUnread(ctx context.Context, mailbox string) ([]models.RawMessage, error) {
	params := url.Values{}
	params.Set("unread", "true")
	params.Set("order", "receivedDateTime asc")

	u := fmt.Sprintf("%s/mailboxes/%s/messages?%s", c.baseURL, url.PathEscape(mailbox), params.Encode())
	page, err := c.fetchPage(ctx, u)
	if err != nil {
		return nil, err
	}
	return convertMessages(page.Value), nil
}

// ListSince pages through the mailbox's messages received at or after the
// given time. Used by the historical backfill command.
func (c *Client) ListSince(ctx context.Context, mailbox string, since time.Time) ([]models.RawMessage, error) {
	params := url.Values{}
	params.Set("receivedAfter", since.UTC().Format(time.RFC3339))
	params.Set("order", "receivedDateTime asc")

	var out []models.RawMessage
	next := fmt.Sprintf("%s/mailboxes/%s/messages?%s", c.baseURL, url.PathEscape(mailbox), params.Encode())
	for next != "" {
		page, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		out = append(out, convertMessages(page.Value)...)
		next = page.NextLink
	}
	return out, nil
}

// MarkRead marks a message consumed at the provider so it is not
// re-delivered on the next poll. The service's own idempotency key makes a
// missed mark-read harmless.
func (c *Client) MarkRead(ctx context.Context, mailbox, messageID string) error {
	u := fmt.Sprintf("%s/mailboxes/%s/messages/%s/read", c.baseURL, url.PathEscape(mailbox), url.PathEscape(messageID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("build mark-read request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Warn("message not found for mark-read (may have been deleted)",
			"mailbox", mailbox,
			"message_id", messageID,
		)
		return nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("mail gateway returned HTTP %d for mark-read", resp.StatusCode)
	}
	return nil
}

// fetchPage fetches one page of a message list.
func (c *Client) fetchPage(ctx context.Context, u string) (*listResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("mail gateway list error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("mail gateway returned HTTP %d", resp.StatusCode)
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}
	return &page, nil
}

// convertMessages maps gateway messages into the canonical RawMessage.
func convertMessages(msgs []gatewayMessage) []models.RawMessage {
	out := make([]models.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		receivedAt, err := time.Parse(time.RFC3339, m.ReceivedDateTime)
		if err != nil {
			receivedAt = time.Now().UTC()
		}
		out = append(out, models.RawMessage{
			ID:         m.ID,
			Sender:     m.From.Address,
			SenderName: m.From.Name,
			Subject:    m.Subject,
			Body:       m.Body.Content,
			ReceivedAt: receivedAt,
		})
	}
	return out
}
