// Package ga4 sends events to Google Analytics 4 through the Measurement
// Protocol. It supports full user identification.
package ga4

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
	"github.com/aicoder88/roigpt-sub000/internal/provider"
)

const DefaultEndpoint = "https://www.google-analytics.com/mp/collect"

type Config struct {
	MeasurementID string
	APISecret     string
	Endpoint      string
	// ClientID identifies the device/session to GA4. Required by the
	// protocol; the registry passes the session id.
	ClientID func(ctx context.Context) string
	Timeout  time.Duration
}

type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu        sync.Mutex
	ready     bool
	userID    string
	userProps map[string]any
}

func New(cfg Config, client *http.Client, logger *zap.Logger) *Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
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
	return &Provider{cfg: cfg, client: client, logger: logger, userProps: map[string]any{}}
}

func (p *Provider) Name() string { return string(provider.KindGA4) }

func (p *Provider) Initialize(context.Context) error {
	if strings.TrimSpace(p.cfg.MeasurementID) == "" {
		return provider.MissingCredential(provider.KindGA4, "measurement id")
	}
	if strings.TrimSpace(p.cfg.APISecret) == "" {
		return provider.MissingCredential(provider.KindGA4, "api secret")
	}
	p.mu.Lock()
	p.ready = true
	p.mu.Unlock()
	p.logger.Debug("ga4 initialized", zap.String("measurement_id", p.cfg.MeasurementID))
	return nil
}

func (p *Provider) Track(ctx context.Context, ev domain.Event) error {
	params := map[string]any{}
	maps.Copy(params, ev.Properties)
	if ev.Category != "" {
		params["event_category"] = ev.Category
	}
	if ev.Action != "" {
		params["event_action"] = ev.Action
	}
	if ev.Label != "" {
		params["event_label"] = ev.Label
	}
	if ev.Value != nil {
		params["value"] = *ev.Value
	}
	if ev.SessionID != "" {
		params["session_id"] = ev.SessionID
	}
	return p.send(ctx, ev.UserID, measurementEvent{
		Name:            eventName(ev.Name),
		Params:          params,
		TimestampMicros: ev.Timestamp.UnixMicro(),
	})
}

func (p *Provider) Page(ctx context.Context, name string, props map[string]any) error {
	params := map[string]any{}
	maps.Copy(params, props)
	params["page_title"] = name
	return p.send(ctx, "", measurementEvent{Name: "page_view", Params: params})
}

func (p *Provider) Identify(_ context.Context, userID string, props map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userID = userID
	maps.Copy(p.userProps, props)
	return nil
}

func (p *Provider) SetUserProperties(_ context.Context, props map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	maps.Copy(p.userProps, props)
	return nil
}

func (p *Provider) Reset(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userID = ""
	p.userProps = map[string]any{}
	return nil
}

// Identity returns the current user id and a copy of the user properties.
func (p *Provider) Identity() (string, map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID, maps.Clone(p.userProps)
}

type userProperty struct {
	Value any `json:"value"`
}

type measurementEvent struct {
	Name            string         `json:"name"`
	Params          map[string]any `json:"params,omitempty"`
	TimestampMicros int64          `json:"timestamp_micros,omitempty"`
}

type payload struct {
	ClientID       string                  `json:"client_id"`
	UserID         string                  `json:"user_id,omitempty"`
	UserProperties map[string]userProperty `json:"user_properties,omitempty"`
	Events         []measurementEvent      `json:"events"`
}

func (p *Provider) send(ctx context.Context, eventUserID string, ev measurementEvent) error {
	p.mu.Lock()
	if !p.ready {
		p.mu.Unlock()
		return provider.ErrNotInitialized
	}
	body := payload{UserID: p.userID, Events: []measurementEvent{ev}}
	if eventUserID != "" {
		body.UserID = eventUserID
	}
	if len(p.userProps) > 0 {
		body.UserProperties = make(map[string]userProperty, len(p.userProps))
		for k, v := range p.userProps {
			body.UserProperties[k] = userProperty{Value: v}
		}
	}
	p.mu.Unlock()

	if p.cfg.ClientID != nil {
		body.ClientID = p.cfg.ClientID(ctx)
	}
	if body.ClientID == "" {
		body.ClientID = "anonymous"
	}

	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode ga4 payload: %w", err)
	}

	q := url.Values{}
	q.Set("measurement_id", p.cfg.MeasurementID)
	q.Set("api_secret", p.cfg.APISecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"?"+q.Encode(), bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build ga4 request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ga4 collect: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ga4 collect: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// eventName maps names onto GA4's allowed charset (letters, digits, underscore).
func eventName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}
