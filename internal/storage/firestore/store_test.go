//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-alert-dispatcher/internal/storage/firestore"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/detection"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

func setupSuite(t *testing.T) (context.Context, *firestore.Client, *fs.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-audience-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, client, fs.NewStore(client)
}

func TestStore_Integration(t *testing.T) {
	ctx, client, store := setupSuite(t)

	t.Run("Audience Lifecycle", func(t *testing.T) {
		for _, a := range []dispatch.RegisteredAudience{
			{PlatformID: "line", UserID: "U2"},
			{PlatformID: "line", UserID: "U1"},
			{PlatformID: "line", UserID: "U1"},
			{PlatformID: "whatsapp", UserID: "+886912345678"},
		} {
			require.NoError(t, store.RegisterAudience(ctx, a))
		}

		ids, err := store.ListAudience(ctx, "line")
		require.NoError(t, err)
		assert.Equal(t, []string{"U1", "U2"}, ids)

		require.NoError(t, store.UnregisterAudience(ctx, dispatch.RegisteredAudience{PlatformID: "line", UserID: "U2"}))
		require.NoError(t, store.UnregisterAudience(ctx, dispatch.RegisteredAudience{PlatformID: "line", UserID: "never-registered"}))

		ids, err = store.ListAudience(ctx, "line")
		require.NoError(t, err)
		assert.Equal(t, []string{"U1"}, ids)

		ids, err = store.ListAudience(ctx, "facebook")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Record Detection", func(t *testing.T) {
		result := &detection.Result{
			ImageID:         detection.ImageID{Channel: "demo", Timestamp: 1541860141, FileFormat: "jpg"},
			DetectedObjects: []detection.BoundedBox{{X1: 1, Y1: 2, X2: 3, Y2: 4, Label: "person", Score: 0.8}},
			DrawnImagePath:  "detected_image/demo_1541860141.jpg",
			DetectionMethod: detection.MethodBBox,
		}
		require.NoError(t, store.RecordDetection(ctx, result))

		snap, err := client.Collection(fs.DetectionCollection).Doc("demo_1541860141.jpg").Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "detected_image/demo_1541860141.jpg", snap.Data()["drawn_image_path"])
		assert.Equal(t, []interface{}{"person"}, snap.Data()["labels"])
	})
}
