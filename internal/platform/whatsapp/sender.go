// Package whatsapp delivers alerts over WhatsApp using a persisted multi-device session.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// Platform is the platform id WhatsApp audiences are registered under.
const Platform = "whatsapp"

// Client is the subset of *whatsmeow.Client used after the session is up.
type Client interface {
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	IsConnected() bool
	Disconnect()
}

// SessionOpener establishes a connected client.
type SessionOpener func(ctx context.Context) (Client, error)

// Config locates the stored device session.
// Dialect is "postgres" or "sqlite"; sqlite DSNs must enable foreign keys.
type Config struct {
	Dialect     string
	DSN         string
	PairTimeout time.Duration
}

type Sender struct {
	open   SessionOpener
	client Client
	logger *slog.Logger
}

func NewSender(cfg Config, logger *slog.Logger) *Sender {
	s := &Sender{logger: logger.With("component", "WhatsAppSender")}
	s.open = func(ctx context.Context) (Client, error) {
		return openSession(ctx, cfg, s.logger)
	}
	return s
}

// NewSenderWithSession uses a caller-supplied session opener.
func NewSenderWithSession(open SessionOpener, logger *slog.Logger) *Sender {
	return &Sender{open: open, logger: logger.With("component", "WhatsAppSender")}
}

func (s *Sender) Platform() string { return Platform }

func (s *Sender) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	client, err := s.open(ctx)
	if err != nil {
		return err
	}
	s.client = client
	return nil
}

// Send delivers the feedback token and image link as one text message.
func (s *Sender) Send(ctx context.Context, msg dispatch.Message) error {
	if s.client == nil || !s.client.IsConnected() {
		return dispatch.ErrNotReady
	}

	jid, err := ParseRecipient(msg.Recipient)
	if err != nil {
		return err
	}

	text := msg.Text
	if msg.ImageURL != "" {
		text += "\n" + msg.ImageURL
	}

	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	s.logger.Debug("WhatsApp message sent", "recipient", jid.String(), "message_id", resp.ID)
	return nil
}

func (s *Sender) Close() error {
	if s.client != nil {
		s.client.Disconnect()
		s.client = nil
	}
	return nil
}

// ParseRecipient accepts a full JID or a phone number with optional leading '+'.
func ParseRecipient(recipient string) (types.JID, error) {
	if strings.Contains(recipient, "@") {
		jid, err := types.ParseJID(recipient)
		if err != nil {
			return types.JID{}, fmt.Errorf("%w: %v", dispatch.ErrInvalidRecipient, err)
		}
		return jid, nil
	}

	phone := strings.TrimPrefix(strings.TrimSpace(recipient), "+")
	if phone == "" {
		return types.JID{}, fmt.Errorf("%w: empty phone number", dispatch.ErrInvalidRecipient)
	}
	for _, c := range phone {
		if c < '0' || c > '9' {
			return types.JID{}, fmt.Errorf("%w: %q is not a phone number", dispatch.ErrInvalidRecipient, recipient)
		}
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}

// sessionClient ties the connected client to its session store so that
// Disconnect also releases the store's database handle.
type sessionClient struct {
	*whatsmeow.Client
	container *sqlstore.Container
}

func (c *sessionClient) Disconnect() {
	c.Client.Disconnect()
	_ = c.container.Close()
}

// openSession reconnects a stored device, or pairs a new one by QR code when
// the store holds none. Pairing must finish within cfg.PairTimeout.
func openSession(ctx context.Context, cfg Config, logger *slog.Logger) (_ Client, err error) {
	if cfg.DSN == "" {
		return nil, errors.New("whatsapp: session store dsn is required")
	}
	timeout := cfg.PairTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	container, err := sqlstore.New(ctx, cfg.Dialect, cfg.DSN, newWALogger(logger, "Database"))
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() {
		if err != nil {
			_ = container.Close()
		}
	}()

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device store: %w", err)
	}

	client := whatsmeow.NewClient(device, newWALogger(logger, "Client"))

	connected := make(chan struct{}, 1)
	client.AddEventHandler(func(evt interface{}) {
		if _, ok := evt.(*events.Connected); ok {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})

	if client.Store.ID == nil {
		logger.Warn("No stored WhatsApp session; pairing required", "timeout", timeout)
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to start pairing: %w", err)
		}
		go func() {
			for evt := range qrChan {
				if evt.Event == whatsmeow.QRChannelEventCode {
					logger.Info("Scan QR code to pair", "code", evt.Code)
				}
			}
		}()
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := awaitConnected(ctx, connected, timeout); err != nil {
		client.Disconnect()
		return nil, err
	}
	logger.Info("WhatsApp connected", "jid", client.Store.ID)
	return &sessionClient{Client: client, container: container}, nil
}

// awaitConnected blocks until connected fires, the timeout passes, or ctx ends.
func awaitConnected(ctx context.Context, connected <-chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-connected:
		return nil
	case <-timer.C:
		return fmt.Errorf("whatsapp session not established within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
