// Package plausible sends pageviews and custom events to the Plausible
// Events API. Plausible is cookie-less and never identifies users, so
// Identify and SetUserProperties are deliberate no-ops.
package plausible

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
	"github.com/aicoder88/roigpt-sub000/internal/provider"
)

const DefaultEndpoint = "https://plausible.io/api/event"

type Config struct {
	Domain    string
	Endpoint  string
	SiteURL   string
	UserAgent string
	Timeout   time.Duration
}

type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	ready  atomic.Bool
}

func New(cfg Config, client *http.Client, logger *zap.Logger) *Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.SiteURL == "" && cfg.Domain != "" {
		cfg.SiteURL = "https://" + cfg.Domain
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "analyticsd"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, client: client, logger: logger}
}

func (p *Provider) Name() string { return string(provider.KindPlausible) }

func (p *Provider) Initialize(context.Context) error {
	if strings.TrimSpace(p.cfg.Domain) == "" {
		return provider.MissingCredential(provider.KindPlausible, "domain")
	}
	p.ready.Store(true)
	return nil
}

func (p *Provider) Track(ctx context.Context, ev domain.Event) error {
	props := scalarProps(ev.Properties)
	if ev.Category != "" {
		props["category"] = ev.Category
	}
	if ev.Action != "" {
		props["action"] = ev.Action
	}
	if ev.Label != "" {
		props["label"] = ev.Label
	}
	body := eventBody{
		Name:   ev.Name,
		URL:    p.pageURL(ev.Properties),
		Domain: p.cfg.Domain,
		Props:  props,
	}
	if ev.Value != nil {
		// Plausible carries numeric values only as revenue; keep it as a prop.
		body.Props["value"] = fmt.Sprint(*ev.Value)
	}
	return p.send(ctx, body)
}

func (p *Provider) Page(ctx context.Context, name string, props map[string]any) error {
	sp := scalarProps(props)
	if name != "" {
		sp["title"] = name
	}
	return p.send(ctx, eventBody{
		Name:     "pageview",
		URL:      p.pageURL(props),
		Domain:   p.cfg.Domain,
		Referrer: stringProp(props, "referrer"),
		Props:    sp,
	})
}

func (p *Provider) Identify(context.Context, string, map[string]any) error { return nil }

func (p *Provider) SetUserProperties(context.Context, map[string]any) error { return nil }

func (p *Provider) Reset(context.Context) error { return nil }

type eventBody struct {
	Name     string            `json:"name"`
	URL      string            `json:"url"`
	Domain   string            `json:"domain"`
	Referrer string            `json:"referrer,omitempty"`
	Props    map[string]string `json:"props,omitempty"`
}

func (p *Provider) send(ctx context.Context, body eventBody) error {
	if !p.ready.Load() {
		return provider.ErrNotInitialized
	}
	if len(body.Props) == 0 {
		body.Props = nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode plausible event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build plausible request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("plausible event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("plausible event: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// pageURL resolves "url" or "path" properties against the site URL.
func (p *Provider) pageURL(props map[string]any) string {
	if u := stringProp(props, "url"); u != "" {
		return u
	}
	path := stringProp(props, "path")
	if path == "" {
		return p.cfg.SiteURL + "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(p.cfg.SiteURL, "/") + path
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// scalarProps flattens custom properties to strings; Plausible rejects
// nested values. url, path and referrer are sent as top-level fields.
func scalarProps(props map[string]any) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		switch k {
		case "url", "path", "referrer":
			continue
		}
		switch v := v.(type) {
		case nil:
		case string:
			out[k] = v
		case bool, int, int32, int64, float32, float64:
			out[k] = fmt.Sprint(v)
		default:
			if b, err := json.Marshal(v); err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}
