// Package audience keeps the per-platform set of subscriber ids, refreshed
// from the persistent store on a time-based watermark.
package audience

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// RefreshTimeout bounds a single shared refresh query.
const RefreshTimeout = 30 * time.Second

// Options tunes refresh behavior.
type Options struct {
	// RefreshPeriod of zero disables refresh; the initial load is then permanent.
	RefreshPeriod time.Duration
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// snapshot is replaced wholesale on every successful refresh, never edited.
type snapshot struct {
	ids       []string
	watermark time.Time
}

// Registry owns the audience of one dispatcher.
// Reads are lock-free; refreshes are serialized so concurrent stale readers
// share a single store query.
type Registry struct {
	platform string
	store    dispatch.AudienceStore
	period   time.Duration
	now      func() time.Time
	current  atomic.Pointer[snapshot]
	flight   singleflight.Group
	logger   *slog.Logger
}

// New creates a registry backed by store. Call Load before use.
func New(platform string, store dispatch.AudienceStore, opts Options, logger *slog.Logger) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		platform: platform,
		store:    store,
		period:   opts.RefreshPeriod,
		now:      now,
		logger:   logger.With("component", "AudienceRegistry", "platform", platform),
	}
}

// NewStatic creates a registry with a fixed audience that never queries a store.
func NewStatic(platform string, ids []string, logger *slog.Logger) *Registry {
	r := New(platform, nil, Options{}, logger)
	r.replace(ids)
	return r
}

// Platform returns the platform this audience belongs to.
func (r *Registry) Platform() string { return r.platform }

// Load performs the initial query. A store failure here is a setup failure;
// there is no retry at this layer.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		if r.current.Load() == nil {
			r.replace(nil)
		}
		return nil
	}
	ids, err := r.store.ListAudience(ctx, r.platform)
	if err != nil {
		return fmt.Errorf("initial audience load for %s: %w", r.platform, err)
	}
	r.replace(ids)
	r.logger.Info("Audience loaded", "size", len(ids))
	return nil
}

// RefreshIfStale re-queries the store when the watermark is older than the
// refresh period. On failure the cached ids and the watermark are kept, so the
// next call tries again.
func (r *Registry) RefreshIfStale(ctx context.Context) (bool, error) {
	if r.store == nil || r.period <= 0 || !r.stale() {
		return false, nil
	}

	v, err, _ := r.flight.Do(r.platform, func() (interface{}, error) {
		// Another flight may have finished between our check and now.
		if !r.stale() {
			return false, nil
		}
		// Shared by every waiting caller; detached from any one caller's cancellation.
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RefreshTimeout)
		defer cancel()
		ids, err := r.store.ListAudience(qctx, r.platform)
		if err != nil {
			return false, err
		}
		r.replace(ids)
		r.logger.Debug("Audience refreshed", "size", len(ids))
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("audience refresh for %s: %w", r.platform, err)
	}
	return v.(bool), nil
}

// Current returns the cached audience, sorted. Callers must not modify it.
func (r *Registry) Current() []string {
	if s := r.current.Load(); s != nil {
		return s.ids
	}
	return nil
}

// Watermark returns the time of the last successful load or refresh.
func (r *Registry) Watermark() time.Time {
	if s := r.current.Load(); s != nil {
		return s.watermark
	}
	return time.Time{}
}

func (r *Registry) stale() bool {
	s := r.current.Load()
	if s == nil {
		return true
	}
	return r.now().Sub(s.watermark) > r.period
}

func (r *Registry) replace(ids []string) {
	set := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := set[id]; dup || id == "" {
			continue
		}
		set[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)
	r.current.Store(&snapshot{ids: unique, watermark: r.now()})
}
