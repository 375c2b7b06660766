package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/detection"
)

// ErrNilResult is returned by Dispatch when given no result.
var ErrNilResult = errors.New("nil detection result")

// NotificationPipeline runs every registered handler, in registration order,
// on each detection result. One handler's failure never stops the others.
type NotificationPipeline struct {
	mu       sync.RWMutex
	handlers []detection.Handler
	logger   *slog.Logger
}

func New(logger *slog.Logger, handlers ...detection.Handler) *NotificationPipeline {
	return &NotificationPipeline{
		handlers: append([]detection.Handler(nil), handlers...),
		logger:   logger.With("component", "NotificationPipeline"),
	}
}

// Add appends a handler after those already registered.
func (p *NotificationPipeline) Add(h detection.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Handlers returns a copy of the registered handlers in order.
func (p *NotificationPipeline) Handlers() []detection.Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]detection.Handler(nil), p.handlers...)
}

// Dispatch passes r to each handler in turn. Extra key/value pairs are added
// to the log context.
func (p *NotificationPipeline) Dispatch(ctx context.Context, r *detection.Result, logAttrs ...any) error {
	if r == nil {
		return ErrNilResult
	}

	logger := p.logger.With("dispatch_id", uuid.NewString(), "image_id", r.ImageID.String()).With(logAttrs...)
	for _, h := range p.Handlers() {
		start := time.Now()
		err := runHandler(ctx, h, r)
		handlerDuration.WithLabelValues(h.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			handlerFailures.WithLabelValues(h.Name()).Inc()
			logger.Error("Detection handler failed", "handler", h.Name(), "err", err)
		}
	}
	return nil
}

func runHandler(ctx context.Context, h detection.Handler, r *detection.Result) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return h.Handle(ctx, r)
}
