package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aicoder88/roigpt-sub000/internal/consent"
	"github.com/aicoder88/roigpt-sub000/internal/domain"
	"github.com/aicoder88/roigpt-sub000/internal/provider"
	"github.com/aicoder88/roigpt-sub000/internal/provider/providertest"
	"github.com/aicoder88/roigpt-sub000/internal/storage/memory"
)

func TestProviderCallsAreTraced(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	good := providertest.New("good")
	bad := providertest.New("bad")
	bad.TrackErr = errors.New("vendor unavailable")

	store := consent.NewStore(memory.New(), "analytics-consent", nil)
	d := New(Options{
		Providers: []provider.Provider{good, bad},
		Consent:   store,
		Session:   fixedSession("sess-1"),
		Policy:    production,
		Tracer:    tp.Tracer("test"),
	})
	t.Cleanup(func() { _ = d.Close() })

	store.Set(ctx, true)
	d.Track(ctx, domain.Event{Name: "signup"})

	var tracks []sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "analytics.track" {
			tracks = append(tracks, s)
		}
	}
	require.Len(t, tracks, 2)

	byProvider := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range tracks {
		for _, kv := range s.Attributes() {
			if kv.Key == attribute.Key("analytics.provider") {
				byProvider[kv.Value.AsString()] = s
			}
		}
	}
	require.Contains(t, byProvider, "good")
	require.Contains(t, byProvider, "bad")
	assert.Equal(t, codes.Unset, byProvider["good"].Status().Code)
	assert.Equal(t, codes.Error, byProvider["bad"].Status().Code)
	assert.Equal(t, "vendor unavailable", byProvider["bad"].Status().Description)
}
