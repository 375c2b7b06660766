package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/pipeline"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/detection"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Typed Mocks ---

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordDetection(ctx context.Context, r *detection.Result) error {
	return m.Called(ctx, r).Error(0)
}

// recordingHandler appends its name to a shared trace.
func recordingHandler(name string, trace *[]string, err error) detection.Handler {
	return detection.HandlerFunc{
		HandlerName: name,
		Fn: func(context.Context, *detection.Result) error {
			*trace = append(*trace, name)
			return err
		},
	}
}

func sampleResult() *detection.Result {
	return &detection.Result{
		ImageID:         detection.ImageID{Channel: "demo", Timestamp: 1541860141, FileFormat: "jpg"},
		DetectedObjects: []detection.BoundedBox{{Label: "person", Score: 0.9}},
	}
}

func TestNotificationPipeline_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Runs Handlers In Order", func(t *testing.T) {
		var trace []string
		p := pipeline.New(newTestLogger(),
			recordingHandler("db", &trace, nil),
			recordingHandler("line", &trace, nil),
		)
		p.Add(recordingHandler("whatsapp", &trace, nil))

		require.NoError(t, p.Dispatch(ctx, sampleResult()))
		assert.Equal(t, []string{"db", "line", "whatsapp"}, trace)
		assert.Len(t, p.Handlers(), 3)
	})

	t.Run("Isolates Errors And Panics", func(t *testing.T) {
		var trace []string
		panicking := detection.HandlerFunc{
			HandlerName: "panics",
			Fn: func(context.Context, *detection.Result) error {
				trace = append(trace, "panics")
				panic("boom")
			},
		}
		p := pipeline.New(newTestLogger(),
			recordingHandler("fails", &trace, errors.New("db down")),
			panicking,
			recordingHandler("last", &trace, nil),
		)

		require.NoError(t, p.Dispatch(ctx, sampleResult()))
		assert.Equal(t, []string{"fails", "panics", "last"}, trace)
	})

	t.Run("Nil Result", func(t *testing.T) {
		p := pipeline.New(newTestLogger())
		assert.ErrorIs(t, p.Dispatch(ctx, nil), pipeline.ErrNilResult)
	})

	t.Run("No Handlers", func(t *testing.T) {
		assert.NoError(t, pipeline.New(newTestLogger()).Dispatch(ctx, sampleResult()))
	})
}

func TestRecorderHandler(t *testing.T) {
	ctx := context.Background()
	result := sampleResult()

	recorder := new(mockRecorder)
	recorder.On("RecordDetection", ctx, result).Return(nil).Once()

	h := pipeline.NewRecorderHandler(recorder)
	assert.Equal(t, pipeline.RecorderHandlerName, h.Name())
	require.NoError(t, h.Handle(ctx, result))
	recorder.AssertExpectations(t)
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	result := sampleResult()

	recorder := new(mockRecorder)
	recorder.On("RecordDetection", ctx, result).Return(errors.New("db down")).Once()

	var trace []string
	p := pipeline.New(newTestLogger(), pipeline.NewRecorderHandler(recorder), recordingHandler("line", &trace, nil))
	processor := pipeline.NewProcessor(p)

	original := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "msg-1"}}
	require.NoError(t, processor(ctx, original, result))

	assert.Equal(t, []string{"line"}, trace, "recorder failure must not stop the chat handlers")
	recorder.AssertExpectations(t)

	assert.ErrorIs(t, processor(ctx, original, nil), pipeline.ErrNilResult)
}
