// Package track holds the convenience calls the UI layer uses to emit
// well-formed analytics events.
package track

import (
	"context"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
)

// Tracker accepts events. *dispatcher.Dispatcher satisfies it.
type Tracker interface {
	Track(ctx context.Context, ev domain.Event)
}

// Event names emitted by the helpers below.
const (
	EventPageView         = "page_view"
	EventButtonClick      = "button_click"
	EventFormStart        = "form_start"
	EventFormSubmit       = "form_submit"
	EventLinkClick        = "link_click"
	EventDownloadStart    = "download_start"
	EventNewsletterSignup = "newsletter_signup"
	EventVideoPlay        = "video_play"
	EventError            = "error"
)

func PageView(ctx context.Context, t Tracker, path, title string) {
	t.Track(ctx, domain.Event{
		Name:       EventPageView,
		Category:   "navigation",
		Action:     "view",
		Label:      title,
		Properties: map[string]any{"path": path, "title": title},
	})
}

func ButtonClick(ctx context.Context, t Tracker, button, location string) {
	t.Track(ctx, domain.Event{
		Name:       EventButtonClick,
		Category:   "engagement",
		Action:     "click",
		Label:      button,
		Properties: map[string]any{"button": button, "location": location},
	})
}

func FormStart(ctx context.Context, t Tracker, form string) {
	t.Track(ctx, domain.Event{
		Name:       EventFormStart,
		Category:   "form",
		Action:     "start",
		Label:      form,
		Properties: map[string]any{"form": form},
	})
}

// FormSubmit records a submission; Value is 1 on success and 0 otherwise.
func FormSubmit(ctx context.Context, t Tracker, form string, success bool) {
	v := 0.0
	if success {
		v = 1
	}
	t.Track(ctx, domain.Event{
		Name:       EventFormSubmit,
		Category:   "form",
		Action:     "submit",
		Label:      form,
		Value:      domain.Float(v),
		Properties: map[string]any{"form": form, "success": success},
	})
}

func LinkClick(ctx context.Context, t Tracker, url, text string, external bool) {
	t.Track(ctx, domain.Event{
		Name:       EventLinkClick,
		Category:   "engagement",
		Action:     "click",
		Label:      url,
		Properties: map[string]any{"url": url, "text": text, "external": external},
	})
}

func DownloadStart(ctx context.Context, t Tracker, file, fileType string) {
	t.Track(ctx, domain.Event{
		Name:       EventDownloadStart,
		Category:   "download",
		Action:     "start",
		Label:      file,
		Properties: map[string]any{"file": file, "file_type": fileType},
	})
}

func NewsletterSignup(ctx context.Context, t Tracker, source string) {
	t.Track(ctx, domain.Event{
		Name:       EventNewsletterSignup,
		Category:   "conversion",
		Action:     "signup",
		Label:      source,
		Properties: map[string]any{"source": source},
	})
}

// VideoPlay records playback of title at position seconds.
func VideoPlay(ctx context.Context, t Tracker, title string, position float64) {
	t.Track(ctx, domain.Event{
		Name:       EventVideoPlay,
		Category:   "media",
		Action:     "play",
		Label:      title,
		Value:      domain.Float(position),
		Properties: map[string]any{"title": title},
	})
}

func Error(ctx context.Context, t Tracker, message string, fatal bool) {
	t.Track(ctx, domain.Event{
		Name:       EventError,
		Category:   "error",
		Action:     "exception",
		Label:      message,
		Properties: map[string]any{"message": message, "fatal": fatal},
	})
}
