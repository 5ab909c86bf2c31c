package track

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
)

type recorder struct{ events []domain.Event }

func (r *recorder) Track(_ context.Context, ev domain.Event) { r.events = append(r.events, ev) }

func TestHelpersBuildValidEvents(t *testing.T) {
	ctx := context.Background()
	r := &recorder{}

	PageView(ctx, r, "/services", "Services")
	ButtonClick(ctx, r, "Book a call", "hero")
	FormStart(ctx, r, "contact")
	FormSubmit(ctx, r, "contact", true)
	LinkClick(ctx, r, "https://example.com", "Example", true)
	DownloadStart(ctx, r, "case-study.pdf", "pdf")
	NewsletterSignup(ctx, r, "footer")
	VideoPlay(ctx, r, "Intro", 12.5)
	Error(ctx, r, "render failed", false)

	names := make([]string, len(r.events))
	for i := range r.events {
		names[i] = r.events[i].Name
		assert.Empty(t, domain.ValidateEvent(&r.events[i]), r.events[i].Name)
		assert.True(t, r.events[i].Timestamp.IsZero(), "timestamp belongs to the dispatcher")
	}
	assert.Equal(t, []string{
		EventPageView, EventButtonClick, EventFormStart, EventFormSubmit, EventLinkClick,
		EventDownloadStart, EventNewsletterSignup, EventVideoPlay, EventError,
	}, names)

	submit := r.events[3]
	require.NotNil(t, submit.Value)
	assert.Equal(t, 1.0, *submit.Value)
	assert.Equal(t, "/services", r.events[0].Properties["path"])
	assert.Equal(t, 12.5, *r.events[7].Value)
}

func TestFormSubmitFailure(t *testing.T) {
	r := &recorder{}
	FormSubmit(context.Background(), r, "contact", false)
	require.Len(t, r.events, 1)
	assert.Equal(t, 0.0, *r.events[0].Value)
	assert.Equal(t, false, r.events[0].Properties["success"])
}
