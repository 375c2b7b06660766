// Package detection contains the public domain model for object-detection
// results consumed by the alert dispatcher.
package detection

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MethodBBox is the detection method tag for bounding-box detectors.
const MethodBBox = "bbox"

// ImageID identifies a single processed frame.
type ImageID struct {
	Channel    string `json:"channel" firestore:"channel"`
	Timestamp  int64  `json:"timestamp" firestore:"timestamp"`
	FileFormat string `json:"file_format" firestore:"file_format"`
}

// String renders the id as <channel>_<timestamp>.<format>, e.g. "demo_1541860141.jpg".
func (id ImageID) String() string {
	return fmt.Sprintf("%s_%d.%s", id.Channel, id.Timestamp, id.FileFormat)
}

// ParseImageID is the inverse of ImageID.String.
// Channels may contain underscores; the timestamp is taken from the last one.
func ParseImageID(s string) (ImageID, error) {
	dot := strings.LastIndex(s, ".")
	if dot <= 0 || dot == len(s)-1 {
		return ImageID{}, fmt.Errorf("image id %q: missing file format", s)
	}
	head, format := s[:dot], s[dot+1:]

	sep := strings.LastIndex(head, "_")
	if sep <= 0 {
		return ImageID{}, fmt.Errorf("image id %q: missing channel or timestamp", s)
	}
	ts, err := strconv.ParseInt(head[sep+1:], 10, 64)
	if err != nil {
		return ImageID{}, fmt.Errorf("image id %q: invalid timestamp: %w", s, err)
	}

	return ImageID{Channel: head[:sep], Timestamp: ts, FileFormat: format}, nil
}

// BoundedBox is one detected object.
// Meta is a per-object placeholder later filled in by feedback processing.
type BoundedBox struct {
	X1    int     `json:"x1"`
	Y1    int     `json:"y1"`
	X2    int     `json:"x2"`
	Y2    int     `json:"y2"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
	Meta  string  `json:"meta,omitempty"`
}

// Result is the output of the upstream detector for one frame.
type Result struct {
	ImageID         ImageID      `json:"image_id"`
	DetectedObjects []BoundedBox `json:"detected_objects"`
	DrawnImagePath  string       `json:"drawn_image_path,omitempty"`
	DetectionMethod string       `json:"detection_method,omitempty"`
}

// Labels returns the distinct labels present in the result, sorted.
func (r *Result) Labels() []string {
	seen := make(map[string]struct{}, len(r.DetectedObjects))
	for _, obj := range r.DetectedObjects {
		seen[obj.Label] = struct{}{}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Handler consumes a finished detection result.
type Handler interface {
	// Name identifies the handler in logs and metrics.
	Name() string
	Handle(ctx context.Context, r *Result) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, r *Result) error
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Handle(ctx context.Context, r *Result) error { return h.Fn(ctx, r) }
