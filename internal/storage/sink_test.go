package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
	"github.com/JakeFAU/site-summarizer/internal/storage/memory"
)

type failingSink struct{ err error }

func (f failingSink) Write(context.Context, scrape.Result) error { return f.err }

func TestMultiSinkWritesEveryBackend(t *testing.T) {
	t.Parallel()

	first, second := memory.NewResultStore(), memory.NewResultStore()
	sink, err := NewMultiSink(nil, Named{Name: "a", Sink: first}, Named{Name: "b", Sink: second})
	require.NoError(t, err)

	result := scrape.Result{SourceURL: "https://example.com", Data: []scrape.Summary{{URL: "u"}}}
	require.NoError(t, sink.Write(context.Background(), result))

	for _, store := range []*memory.ResultStore{first, second} {
		got, ok := store.Lookup("https://example.com")
		require.True(t, ok)
		require.Equal(t, result, got)
	}
}

func TestMultiSinkJoinsErrorsAndContinues(t *testing.T) {
	t.Parallel()

	boom := errors.New("bucket missing")
	after := memory.NewResultStore()
	sink, err := NewMultiSink(nil, Named{Name: "gcs", Sink: failingSink{err: boom}}, Named{Name: "memory", Sink: after})
	require.NoError(t, err)

	err = sink.Write(context.Background(), scrape.Result{SourceURL: "https://example.com"})
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "gcs: bucket missing")
	_, ok := after.Lookup("https://example.com")
	require.True(t, ok)
}

func TestNewMultiSinkValidation(t *testing.T) {
	t.Parallel()

	_, err := NewMultiSink(nil)
	require.Error(t, err)
	_, err = NewMultiSink(nil, Named{Name: "nil"})
	require.Error(t, err)
}
