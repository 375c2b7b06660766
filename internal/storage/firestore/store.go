// Package firestore persists registered audiences and detection records in Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/detection"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

const (
	AudienceCollection  = "registered_audiences"
	DetectionCollection = "detections"
)

// Store implements dispatch.AudienceRegistrar and dispatch.DetectionRecorder.
type Store struct {
	client *firestore.Client
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

var (
	_ dispatch.AudienceRegistrar = (*Store)(nil)
	_ dispatch.DetectionRecorder = (*Store)(nil)
)

type audienceRecord struct {
	PlatformID string    `firestore:"platform_id"`
	UserID     string    `firestore:"user_id"`
	UpdatedAt  time.Time `firestore:"updated_at"`
}

type detectionRecord struct {
	ImageID         detection.ImageID `firestore:"image_id"`
	Labels          []string          `firestore:"labels"`
	Objects         []objectRecord    `firestore:"objects"`
	DrawnImagePath  string            `firestore:"drawn_image_path"`
	DetectionMethod string            `firestore:"detection_method"`
	RecordedAt      time.Time         `firestore:"recorded_at"`
}

type objectRecord struct {
	X1    int     `firestore:"x1"`
	Y1    int     `firestore:"y1"`
	X2    int     `firestore:"x2"`
	Y2    int     `firestore:"y2"`
	Label string  `firestore:"label"`
	Score float64 `firestore:"score"`
	Meta  string  `firestore:"meta"`
}

func (s *Store) RegisterAudience(ctx context.Context, a dispatch.RegisteredAudience) error {
	record := audienceRecord{
		PlatformID: a.PlatformID,
		UserID:     a.UserID,
		UpdatedAt:  time.Now(),
	}
	if _, err := s.audienceRef(a).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to register audience: %w", err)
	}
	return nil
}

func (s *Store) UnregisterAudience(ctx context.Context, a dispatch.RegisteredAudience) error {
	_, err := s.audienceRef(a).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to unregister audience: %w", err)
	}
	return nil
}

// ListAudience returns the user ids registered for platform, sorted.
func (s *Store) ListAudience(ctx context.Context, platform string) ([]string, error) {
	iter := s.client.Collection(AudienceCollection).Where("platform_id", "==", platform).Documents(ctx)
	defer iter.Stop()

	ids := make([]string, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record audienceRecord
		if err := doc.DataTo(&record); err != nil {
			continue
		}
		if record.UserID != "" {
			ids = append(ids, record.UserID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RecordDetection writes detections/<image id>, overwriting any earlier record.
func (s *Store) RecordDetection(ctx context.Context, r *detection.Result) error {
	objects := make([]objectRecord, 0, len(r.DetectedObjects))
	for _, o := range r.DetectedObjects {
		objects = append(objects, objectRecord{
			X1: o.X1, Y1: o.Y1, X2: o.X2, Y2: o.Y2,
			Label: o.Label, Score: o.Score, Meta: o.Meta,
		})
	}

	record := detectionRecord{
		ImageID:         r.ImageID,
		Labels:          r.Labels(),
		Objects:         objects,
		DrawnImagePath:  r.DrawnImagePath,
		DetectionMethod: r.DetectionMethod,
		RecordedAt:      time.Now(),
	}
	if _, err := s.client.Collection(DetectionCollection).Doc(r.ImageID.String()).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to record detection %s: %w", r.ImageID, err)
	}
	return nil
}

// audienceRef keys documents by a hash of platform and user so ids containing
// '/' remain valid document names.
func (s *Store) audienceRef(a dispatch.RegisteredAudience) *firestore.DocumentRef {
	return s.client.Collection(AudienceCollection).Doc(audienceDocID(a))
}

func audienceDocID(a dispatch.RegisteredAudience) string {
	sum := sha256.Sum256([]byte(a.PlatformID + "|" + a.UserID))
	return hex.EncodeToString(sum[:])
}
