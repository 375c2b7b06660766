// Package line delivers alerts through the LINE Messaging API push endpoint.
package line

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// Platform is the platform id LINE audiences are registered under.
const Platform = "line"

// PushAPI is the subset of *messaging_api.MessagingApiAPI we use.
type PushAPI interface {
	PushMessageWithHttpInfo(req *messaging_api.PushMessageRequest, xLineRetryKey string) (*http.Response, *messaging_api.PushMessageResponse, error)
}

// DefaultTimeout bounds one push request.
const DefaultTimeout = 10 * time.Second

type Config struct {
	ChannelAccessToken string
	// Endpoint overrides the API base URL; empty uses the public LINE endpoint.
	Endpoint string
	// Timeout bounds each push request. Zero means DefaultTimeout.
	Timeout time.Duration
}

type Sender struct {
	cfg    Config
	api    PushAPI
	logger *slog.Logger
}

func NewSender(cfg Config, logger *slog.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger.With("component", "LineSender"),
	}
}

func (s *Sender) Platform() string { return Platform }

// Connect builds the API client from the channel token. LINE keeps no
// session, so a missing token is the only setup failure.
func (s *Sender) Connect(_ context.Context) error {
	if s.api != nil {
		return nil
	}
	if s.cfg.ChannelAccessToken == "" {
		return errors.New("line: channel access token is required")
	}

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts := []messaging_api.MessagingApiAPIOption{
		messaging_api.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if s.cfg.Endpoint != "" {
		opts = append(opts, messaging_api.WithEndpoint(s.cfg.Endpoint))
	}
	api, err := messaging_api.NewMessagingApiAPI(s.cfg.ChannelAccessToken, opts...)
	if err != nil {
		return fmt.Errorf("line: failed to create messaging client: %w", err)
	}
	s.api = api
	return nil
}

// Send pushes the drawn image followed by the feedback token and raw-image link.
// The SDK call takes no context, so ctx is checked up front and the HTTP
// client timeout bounds the request itself.
func (s *Sender) Send(ctx context.Context, msg dispatch.Message) error {
	if s.api == nil {
		return dispatch.ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("line push not attempted: %w", err)
	}

	text := msg.Text
	if msg.RawImageURL != "" {
		text += "\n" + msg.RawImageURL
	}

	req := &messaging_api.PushMessageRequest{
		To: msg.Recipient,
		Messages: []messaging_api.MessageInterface{
			messaging_api.ImageMessage{
				OriginalContentUrl: msg.ImageURL,
				PreviewImageUrl:    msg.ImageURL,
			},
			messaging_api.TextMessage{Text: text},
		},
	}

	res, _, err := s.api.PushMessageWithHttpInfo(req, uuid.NewString())
	if err != nil {
		if res != nil && res.StatusCode == http.StatusBadRequest && strings.Contains(err.Error(), "'to'") {
			return fmt.Errorf("line rejected recipient: %w: %v", dispatch.ErrInvalidRecipient, err)
		}
		return fmt.Errorf("line push failed: %w", err)
	}

	s.logger.Debug("LINE push sent", "recipient", msg.Recipient, "image_id", msg.ImageID)
	return nil
}

func (s *Sender) Close() error { return nil }
