// Package dispatcher implements the per-platform chat dispatcher: it decides
// whether a detection result is alert-worthy and fans the alert out to the
// platform audience.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/tinywideclouds/go-alert-dispatcher/internal/feedback"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/filter"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/urlresolver"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/detection"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// State is the dispatcher lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateDispatching
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDispatching:
		return "dispatching"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Audience is the subset of audience.Registry the dispatcher relies on.
type Audience interface {
	Load(ctx context.Context) error
	RefreshIfStale(ctx context.Context) (bool, error)
	Current() []string
}

// Config holds the per-platform policy.
type Config struct {
	Platform string
	Filter   dispatch.NotificationFilter
	// Resolver defaults to a placeholder-only PrefixResolver.
	Resolver dispatch.URLResolver
	// RatePerSecond throttles sends; zero means unlimited.
	RatePerSecond float64
}

// ChatDispatcher sends alerts for one platform.
type ChatDispatcher struct {
	cfg      Config
	audience Audience
	sender   dispatch.Sender
	limiter  *rate.Limiter
	logger   *slog.Logger

	connectMu sync.Mutex
	state     atomic.Int32
	inFlight  atomic.Int32
	setupErr  error
}

// New wires a dispatcher. It performs no I/O; call Connect before Handle.
func New(cfg Config, aud Audience, sender dispatch.Sender, logger *slog.Logger) (*ChatDispatcher, error) {
	if cfg.Platform == "" {
		return nil, errors.New("dispatcher platform is required")
	}
	if aud == nil || sender == nil {
		return nil, fmt.Errorf("%s dispatcher requires an audience and a sender", cfg.Platform)
	}
	if cfg.Filter == nil {
		return nil, fmt.Errorf("%s dispatcher requires a notification filter", cfg.Platform)
	}
	if cfg.Resolver == nil {
		cfg.Resolver = &urlresolver.PrefixResolver{}
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(1, int(cfg.RatePerSecond)))
	}

	return &ChatDispatcher{
		cfg:      cfg,
		audience: aud,
		sender:   sender,
		limiter:  limiter,
		logger:   logger.With("component", "ChatDispatcher", "platform", cfg.Platform),
	}, nil
}

// Name implements detection.Handler.
func (d *ChatDispatcher) Name() string { return "chat:" + d.cfg.Platform }

// Platform returns the platform id.
func (d *ChatDispatcher) Platform() string { return d.cfg.Platform }

// State reports Dispatching while any Handle call is in progress.
func (d *ChatDispatcher) State() State {
	s := State(d.state.Load())
	if s == StateReady && d.inFlight.Load() > 0 {
		return StateDispatching
	}
	return s
}

// Connect loads the audience and establishes the platform session.
// Failures are returned as *dispatch.SetupError and leave the dispatcher Failed.
func (d *ChatDispatcher) Connect(ctx context.Context) error {
	d.connectMu.Lock()
	defer d.connectMu.Unlock()

	switch State(d.state.Load()) {
	case StateReady:
		return nil
	case StateFailed:
		return d.setupErr
	}

	if err := d.audience.Load(ctx); err != nil {
		return d.fail(dispatch.StageAudience, err)
	}
	if err := d.sender.Connect(ctx); err != nil {
		return d.fail(dispatch.StageSession, err)
	}

	audienceSize.WithLabelValues(d.cfg.Platform).Set(float64(len(d.audience.Current())))
	d.state.Store(int32(StateReady))
	d.logger.Info("Dispatcher ready", "audience_size", len(d.audience.Current()))
	return nil
}

func (d *ChatDispatcher) fail(stage string, err error) error {
	d.setupErr = &dispatch.SetupError{Platform: d.cfg.Platform, Stage: stage, Err: err}
	d.state.Store(int32(StateFailed))
	d.logger.Error("Dispatcher setup failed", "stage", stage, "err", err)
	return d.setupErr
}

// Handle implements detection.Handler. Refresh and delivery failures are
// logged and counted, never returned.
func (d *ChatDispatcher) Handle(ctx context.Context, r *detection.Result) error {
	if State(d.state.Load()) != StateReady {
		return dispatch.ErrNotReady
	}
	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)

	d.refreshAudience(ctx)

	notify, panicked := filter.Evaluate(d.cfg.Filter, r)
	if panicked {
		filterPanicsTotal.WithLabelValues(d.cfg.Platform).Inc()
		d.logger.Error("Notification filter panicked; not notifying", "image_id", r.ImageID.String())
	}
	if !notify {
		return nil
	}

	msg := dispatch.Message{
		Text:        feedback.Encode(r.ImageID, ""),
		ImageURL:    d.cfg.Resolver.DrawnImageURL(r.DrawnImagePath),
		RawImageURL: d.cfg.Resolver.RawImageURL(r.DrawnImagePath),
		ImageID:     r.ImageID.String(),
	}

	recipients := d.audience.Current()
	if len(recipients) == 0 {
		d.logger.Debug("No audience registered; nothing to send", "image_id", msg.ImageID)
		return nil
	}

	sent, failed := 0, 0
	for _, recipient := range recipients {
		msg.Recipient = recipient
		if err := d.sendOne(ctx, msg); err != nil {
			failed++
			continue
		}
		sent++
	}

	d.logger.Info("Alert dispatched", "image_id", msg.ImageID, "sent", sent, "failed", failed)
	return nil
}

func (d *ChatDispatcher) refreshAudience(ctx context.Context) {
	refreshed, err := d.audience.RefreshIfStale(ctx)
	if err != nil {
		audienceRefreshTotal.WithLabelValues(d.cfg.Platform, "failed").Inc()
		d.logger.Warn("Audience refresh failed; keeping cached audience", "err", err)
		return
	}
	if refreshed {
		audienceRefreshTotal.WithLabelValues(d.cfg.Platform, "ok").Inc()
		audienceSize.WithLabelValues(d.cfg.Platform).Set(float64(len(d.audience.Current())))
	}
}

// sendOne makes one delivery attempt. A panicking sender counts as a failed
// send for this recipient only.
func (d *ChatDispatcher) sendOne(ctx context.Context, msg dispatch.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sender panicked: %v", rec)
			sendsTotal.WithLabelValues(d.cfg.Platform, "failed").Inc()
			d.logger.Error("Sender panicked", "recipient", msg.Recipient, "panic", rec)
		}
	}()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			sendsTotal.WithLabelValues(d.cfg.Platform, "failed").Inc()
			d.logger.Warn("Send throttled out", "recipient", msg.Recipient, "err", err)
			return err
		}
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		status := "failed"
		if errors.Is(err, dispatch.ErrInvalidRecipient) {
			status = "invalid"
		}
		sendsTotal.WithLabelValues(d.cfg.Platform, status).Inc()
		d.logger.Warn("Alert delivery failed", "recipient", msg.Recipient, "status", status, "err", err)
		return err
	}

	sendsTotal.WithLabelValues(d.cfg.Platform, "ok").Inc()
	return nil
}

// Close ends the platform session. The dispatcher must be connected again before reuse.
func (d *ChatDispatcher) Close() error {
	d.connectMu.Lock()
	defer d.connectMu.Unlock()

	if State(d.state.Load()) == StateReady {
		d.state.Store(int32(StateUninitialized))
	}
	return d.sender.Close()
}
