package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/moveinn/minn/internal/model"
	"github.com/moveinn/minn/internal/session"
	"go.uber.org/zap"
)

// Client talks to the MoveInn REST backend for the two read endpoints the
// messaging core consumes: the contact directory and per-conversation history.
type Client struct {
	baseURL string
	sess    *session.Session
	http    *http.Client
	logger  *zap.Logger
}

// New creates a REST client. baseURL is the API root, e.g.
// "https://localhost:7023/api".
func New(baseURL string, sess *session.Session, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		sess:    sess,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// Contacts fetches the conversation summaries for the session user, in server
// order. A 404 means an empty inbox, not a failure.
func (c *Client) Contacts(ctx context.Context) ([]model.Contact, error) {
	endpoint := fmt.Sprintf("%s/Chat/%s", c.baseURL, url.PathEscape(c.sess.UserID))

	var contacts []model.Contact
	found, err := c.getJSON(ctx, endpoint, &contacts)
	if err != nil {
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	if !found {
		return nil, nil
	}
	return contacts, nil
}

// History fetches the message history between the session user and contactID,
// oldest first. Messages without an explicit status are normalized to
// delivered: anything the server stored was necessarily delivered.
func (c *Client) History(ctx context.Context, contactID string) ([]model.Message, error) {
	q := url.Values{}
	q.Set("userId", c.sess.UserID)
	q.Set("contactId", contactID)
	endpoint := fmt.Sprintf("%s/Chat/history?%s", c.baseURL, q.Encode())

	var msgs []model.Message
	found, err := c.getJSON(ctx, endpoint, &msgs)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if !found {
		return nil, nil
	}
	for i := range msgs {
		if msgs[i].Status == "" {
			msgs[i].Status = model.StatusDelivered
		}
	}
	return msgs, nil
}

// getJSON performs an authenticated GET and decodes the body into out.
// Returns found=false on 404 without touching out.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) (found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.sess.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn("request failed", zap.String("endpoint", endpoint), zap.Int("status", resp.StatusCode))
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}
