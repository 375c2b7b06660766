package pipeline

import (
	"context"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/detection"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// RecorderHandlerName is the handler name used in logs and metrics.
const RecorderHandlerName = "detection_recorder"

// NewRecorderHandler persists every result. Register it ahead of the dispatchers.
func NewRecorderHandler(recorder dispatch.DetectionRecorder) detection.Handler {
	return detection.HandlerFunc{
		HandlerName: RecorderHandlerName,
		Fn: func(ctx context.Context, r *detection.Result) error {
			return recorder.RecordDetection(ctx, r)
		},
	}
}
