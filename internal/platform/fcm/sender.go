// Package fcm delivers alerts through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// Platform is the platform id FCM audiences are registered under.
const Platform = "fcm"

// AlertTitle is the notification title shown on the device.
const AlertTitle = "Detection alert"

// MessagingClient is the subset of *messaging.Client we use.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// ClientFactory obtains the messaging client, typically firebase.App.Messaging.
type ClientFactory func(ctx context.Context) (MessagingClient, error)

type Sender struct {
	factory ClientFactory
	client  MessagingClient
	logger  *slog.Logger
}

func NewSender(factory ClientFactory, logger *slog.Logger) *Sender {
	return &Sender{
		factory: factory,
		logger:  logger.With("component", "FCMSender"),
	}
}

// NewSenderWithClient skips the factory; Connect becomes a no-op.
func NewSenderWithClient(client MessagingClient, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		logger: logger.With("component", "FCMSender"),
	}
}

func (s *Sender) Platform() string { return Platform }

func (s *Sender) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	if s.factory == nil {
		return errors.New("fcm: no messaging client configured")
	}
	client, err := s.factory(ctx)
	if err != nil {
		return fmt.Errorf("fcm: failed to create messaging client: %w", err)
	}
	s.client = client
	return nil
}

func (s *Sender) Send(ctx context.Context, msg dispatch.Message) error {
	if s.client == nil {
		return dispatch.ErrNotReady
	}

	m := &messaging.Message{
		Token: msg.Recipient,
		Notification: &messaging.Notification{
			Title:    AlertTitle,
			Body:     msg.Text,
			ImageURL: msg.ImageURL,
		},
		Data: map[string]string{
			"feedback_token": msg.Text,
			"image_id":       msg.ImageID,
			"raw_image_url":  msg.RawImageURL,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: AlertTitle,
				Body:  msg.Text,
				Image: msg.ImageURL,
				Icon:  "/assets/icons/icon-192x192.png",
			},
		},
	}

	id, err := s.client.Send(ctx, m)
	if err != nil {
		if messaging.IsInvalidArgument(err) || messaging.IsRegistrationTokenNotRegistered(err) {
			return fmt.Errorf("fcm token rejected: %w: %v", dispatch.ErrInvalidRecipient, err)
		}
		return fmt.Errorf("fcm send failed: %w", err)
	}

	s.logger.Debug("FCM message sent", "message_id", id, "image_id", msg.ImageID)
	return nil
}

func (s *Sender) Close() error { return nil }
