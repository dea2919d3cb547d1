// Package push is the delivery boundary. The engine treats the transport as
// a capability: send a message to one subscription, report success, a dead
// endpoint, or a transient failure.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tandem/internal/domain"
)

// ErrSubscriptionGone marks a permanent failure; the caller should clean up
// the subscription.
var ErrSubscriptionGone = errors.New("subscription gone")

// Action is one button on a delivered notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Message is the payload handed to the transport.
type Message struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	URL     string         `json:"url,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	Actions []Action       `json:"actions,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Deliverer sends one message to one subscription.
type Deliverer interface {
	Deliver(ctx context.Context, sub domain.PushSubscription, msg Message) error
}

// HTTPSender posts messages to a push relay endpoint. A 404 or 410 from the
// relay means the subscription is dead.
type HTTPSender struct {
	Endpoint string
	Subject  string
	Client   *http.Client
}

func NewHTTPSender(endpoint, subject string) *HTTPSender {
	return &HTTPSender{
		Endpoint: endpoint,
		Subject:  subject,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type relayRequest struct {
	Subscription domain.PushSubscription `json:"subscription"`
	Subject      string                  `json:"subject,omitempty"`
	Message      Message                 `json:"message"`
}

func (s *HTTPSender) Deliver(ctx context.Context, sub domain.PushSubscription, msg Message) error {
	if s.Endpoint == "" {
		return errors.New("push endpoint not configured")
	}
	body, err := json.Marshal(relayRequest{Subscription: sub, Subject: s.Subject, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("push send: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("endpoint %s: %w", sub.Endpoint, ErrSubscriptionGone)
	default:
		return fmt.Errorf("push send: relay returned %d", resp.StatusCode)
	}
}

// NopSender swallows messages; used when no relay is configured and in
// dry-run setups.
type NopSender struct{}

func (NopSender) Deliver(ctx context.Context, sub domain.PushSubscription, msg Message) error {
	return nil
}
