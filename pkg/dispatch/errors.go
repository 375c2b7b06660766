package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by a dispatcher that has not connected, or whose setup failed.
	ErrNotReady = errors.New("dispatcher is not ready")

	// ErrInvalidRecipient marks a recipient id the platform rejected permanently.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// Setup stages reported in SetupError.
const (
	StageSession  = "session"
	StageAudience = "audience"
)

// SetupError is a fatal failure while bringing a dispatcher up.
type SetupError struct {
	Platform string
	Stage    string
	Err      error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s dispatcher setup failed at %s stage: %v", e.Platform, e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }
