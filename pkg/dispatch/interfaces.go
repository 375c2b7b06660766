// Package dispatch defines the contracts shared by the alert dispatcher and
// its platform, storage, and policy collaborators.
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/detection"
)

// RegisteredAudience is one subscriber opted in to alerts on one platform.
type RegisteredAudience struct {
	PlatformID string `json:"platform_id"`
	UserID     string `json:"user_id"`
}

// AudienceStore is the read side of the registered-audience table.
type AudienceStore interface {
	// ListAudience returns every user id registered for the platform.
	ListAudience(ctx context.Context, platform string) ([]string, error)
}

// AudienceRegistrar adds the write side used by the registration API.
// Dispatchers only ever see the AudienceStore half.
type AudienceRegistrar interface {
	AudienceStore
	RegisterAudience(ctx context.Context, a RegisteredAudience) error
	UnregisterAudience(ctx context.Context, a RegisteredAudience) error
}

// DetectionRecorder persists detection results.
type DetectionRecorder interface {
	RecordDetection(ctx context.Context, r *detection.Result) error
}

// Message is a single outbound alert for one recipient.
type Message struct {
	Recipient   string
	Text        string
	ImageURL    string
	RawImageURL string
	ImageID     string
}

// Sender delivers messages on one chat or push platform.
type Sender interface {
	Platform() string
	// Connect establishes the platform session. It is called once before any Send.
	Connect(ctx context.Context) error
	// Send delivers one message. Permanent recipient rejections wrap ErrInvalidRecipient.
	Send(ctx context.Context, msg Message) error
	Close() error
}

// NotificationFilter decides whether a detection result is worth an alert.
// Implementations must be pure.
type NotificationFilter interface {
	ShouldNotify(r *detection.Result) bool
}

// URLResolver maps local image paths to publicly reachable URLs.
type URLResolver interface {
	DrawnImageURL(path string) string
	RawImageURL(path string) string
}
