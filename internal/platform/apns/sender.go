// Package apns delivers alerts through the Apple Push Notification Service.
package apns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// Platform is the platform id APNs audiences are registered under.
const Platform = "apns"

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	// Production selects the production gateway; otherwise the sandbox is used.
	Production bool
}

type Sender struct {
	cfg    Config
	client APNSClient
	logger *slog.Logger
}

func NewSender(cfg Config, logger *slog.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger.With("component", "APNSSender"),
	}
}

func (s *Sender) Platform() string { return Platform }

// Connect parses the P8 key and builds the token client, failing fast on bad credentials.
func (s *Sender) Connect(_ context.Context) error {
	if s.client != nil {
		return nil
	}
	if s.cfg.BundleID == "" {
		return errors.New("apns: bundle id is required")
	}

	authKey, err := token.AuthKeyFromBytes([]byte(s.cfg.P8KeyContent))
	if err != nil {
		return fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   s.cfg.KeyID,
		TeamID:  s.cfg.TeamID,
	})
	if s.cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	s.client = client
	return nil
}

func (s *Sender) Send(_ context.Context, msg dispatch.Message) error {
	if s.client == nil {
		return dispatch.ErrNotReady
	}

	p := payload.NewPayload().
		AlertTitle("Detection alert").
		AlertBody(msg.Text).
		MutableContent().
		Sound("default").
		Custom("image_url", msg.ImageURL).
		Custom("raw_image_url", msg.RawImageURL).
		Custom("image_id", msg.ImageID).
		Custom("feedback_token", msg.Text)

	res, err := s.client.Push(&apns2.Notification{
		DeviceToken: msg.Recipient,
		Topic:       s.cfg.BundleID,
		Payload:     p,
	})
	if err != nil {
		return fmt.Errorf("apns transport failed: %w", err)
	}
	if res.Sent() {
		return nil
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return fmt.Errorf("apns rejected token (%s): %w", res.Reason, dispatch.ErrInvalidRecipient)
	default:
		return fmt.Errorf("apns rejected notification: status %d reason %s", res.StatusCode, res.Reason)
	}
}

func (s *Sender) Close() error { return nil }
