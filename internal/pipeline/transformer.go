// Package pipeline contains the detection-result pipeline: the ordered handler
// chain and the stream components that feed it.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/detection"
)

// DetectionResultTransformer is a dataflow Transformer that unmarshals a raw
// message payload into a detection.Result.
// Malformed payloads return skip=true so the StreamingService can dead-letter them.
func DetectionResultTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*detection.Result, bool, error) {
	var result detection.Result
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal detection result from message %s: %w", msg.ID, err)
	}
	if result.ImageID.Channel == "" {
		return nil, true, fmt.Errorf("detection result in message %s has no image id", msg.ID)
	}
	return &result, false, nil
}
