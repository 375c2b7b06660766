// Package filter provides the NotificationFilter predicates used to decide
// whether a detection result should raise an alert.
package filter

import (
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/detection"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// Func adapts a plain predicate to dispatch.NotificationFilter.
type Func func(r *detection.Result) bool

func (f Func) ShouldNotify(r *detection.Result) bool { return f(r) }

// Always notifies on every result.
var Always dispatch.NotificationFilter = Func(func(*detection.Result) bool { return true })

// Never suppresses every result.
var Never dispatch.NotificationFilter = Func(func(*detection.Result) bool { return false })

// LabelFilter notifies when any detected object carries one of Labels with a
// score of at least MinConfidence. An empty label set matches every label.
type LabelFilter struct {
	labels        map[string]struct{}
	minConfidence float64
}

func NewLabelFilter(labels []string, minConfidence float64) *LabelFilter {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return &LabelFilter{labels: set, minConfidence: minConfidence}
}

func (f *LabelFilter) ShouldNotify(r *detection.Result) bool {
	if r == nil {
		return false
	}
	for _, obj := range r.DetectedObjects {
		if obj.Score < f.minConfidence {
			continue
		}
		if len(f.labels) == 0 {
			return true
		}
		if _, ok := f.labels[obj.Label]; ok {
			return true
		}
	}
	return false
}

// Evaluate runs the filter and treats a panic as "do not notify".
func Evaluate(f dispatch.NotificationFilter, r *detection.Result) (notify bool, panicked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			notify, panicked = false, true
		}
	}()
	return f.ShouldNotify(r), false
}
