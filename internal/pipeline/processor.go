package pipeline

import (
	"context"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/detection"
)

// NewProcessor hands each transformed result to the notification pipeline.
func NewProcessor(p *NotificationPipeline) messagepipeline.StreamProcessor[detection.Result] {
	return func(ctx context.Context, original messagepipeline.Message, result *detection.Result) error {
		return p.Dispatch(ctx, result, "pubsub_msg_id", original.ID)
	}
}
