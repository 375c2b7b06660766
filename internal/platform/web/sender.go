// Package web delivers alerts as VAPID-signed Web Push notifications.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-alert-dispatcher/alertservice/config"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// Platform is the platform id Web Push audiences are registered under.
const Platform = "web"

// Sender treats each recipient id as a JSON-encoded push subscription.
type Sender struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	httpClient *http.Client
	logger     *slog.Logger
}

func NewSender(cfg config.VapidConfig, logger *slog.Logger) *Sender {
	return &Sender{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        60,
		httpClient: &http.Client{},
		logger:     logger.With("component", "WebPushSender"),
	}
}

// WithHTTPClient replaces the client used to reach push services.
func (s *Sender) WithHTTPClient(c *http.Client) *Sender {
	s.httpClient = c
	return s
}

func (s *Sender) Platform() string { return Platform }

// Connect only validates the VAPID configuration; Web Push has no session.
func (s *Sender) Connect(_ context.Context) error {
	if s.publicKey == "" || s.privateKey == "" {
		return errors.New("web push: vapid public and private keys are required")
	}
	if s.subscriber == "" {
		return errors.New("web push: subscriber email is required")
	}
	return nil
}

func (s *Sender) Send(ctx context.Context, msg dispatch.Message) error {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(msg.Recipient), &sub); err != nil || sub.Endpoint == "" {
		return fmt.Errorf("malformed push subscription: %w", dispatch.ErrInvalidRecipient)
	}

	payloadBytes, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": "Detection alert",
			"body":  msg.Text,
			"image": msg.ImageURL,
		},
		"data": map[string]string{
			"feedback_token": msg.Text,
			"image_id":       msg.ImageID,
			"raw_image_url":  msg.RawImageURL,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, &sub, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             s.ttl,
		HTTPClient:      s.httpClient,
	})
	if err != nil {
		return fmt.Errorf("web push transport error: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		return nil
	case http.StatusGone, http.StatusNotFound:
		return fmt.Errorf("push subscription expired (%d): %w", resp.StatusCode, dispatch.ErrInvalidRecipient)
	default:
		return fmt.Errorf("web push rejected with status %d", resp.StatusCode)
	}
}

func (s *Sender) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
