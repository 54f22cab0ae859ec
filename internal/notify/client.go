package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Payload types understood by the mobile client.
const (
	TypeExpenseSubmitted = "expense_submitted"
	TypeExpenseApproved  = "expense_approved"
	TypeExpenseRejected  = "expense_rejected"
	TypeExpenseDeleted   = "expense_deleted"
	TypeMemberRemoved    = "member_removed"
)

// Message is a single push notification addressed to one user.
type Message struct {
	UserID  uuid.UUID      `json:"user_id"`
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Client delivers push notifications through an HTTP relay.
// Delivery is fire-and-forget: Push never returns an error and all failures
// are logged at WARN level, so notification problems cannot affect the state
// changes that triggered them.
type Client struct {
	relayURL   string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a push client for the given relay URL. An empty relayURL
// disables delivery entirely.
func NewClient(relayURL string, timeoutMS int) *Client {
	return &Client{
		relayURL: relayURL,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		timeout: time.Duration(timeoutMS) * time.Millisecond,
	}
}

// Enabled reports whether a relay is configured.
func (c *Client) Enabled() bool {
	return c.relayURL != ""
}

// Push sends one notification to the relay.
func (c *Client) Push(ctx context.Context, msg Message) {
	if !c.Enabled() {
		log.Debug().
			Str("type", msg.Type).
			Str("user_id", msg.UserID.String()).
			Msg("Push relay not configured, dropping notification")
		return
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		log.Warn().
			Err(err).
			Str("type", msg.Type).
			Str("user_id", msg.UserID.String()).
			Msg("Failed to marshal push payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.relayURL, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Warn().
			Err(err).
			Str("type", msg.Type).
			Msg("Failed to create push request")
		return
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			log.Warn().
				Err(err).
				Dur("timeout", c.timeout).
				Str("type", msg.Type).
				Str("user_id", msg.UserID.String()).
				Msg("Push notification timed out")
		} else {
			log.Warn().
				Err(err).
				Str("type", msg.Type).
				Str("user_id", msg.UserID.String()).
				Msg("Failed to send push notification")
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Warn().
			Int("status_code", resp.StatusCode).
			Str("type", msg.Type).
			Str("user_id", msg.UserID.String()).
			Msg("Push relay returned error status")
		return
	}

	log.Info().
		Str("type", msg.Type).
		Str("user_id", msg.UserID.String()).
		Msg("Push notification sent")
}

// PushAll delivers the same notification content to several recipients.
func (c *Client) PushAll(ctx context.Context, userIDs []uuid.UUID, title, body, msgType string, payload map[string]any) {
	for _, id := range userIDs {
		c.Push(ctx, Message{
			UserID:  id,
			Title:   title,
			Body:    body,
			Type:    msgType,
			Payload: payload,
		})
	}
}
