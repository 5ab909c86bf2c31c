package transporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aicoder88/roigpt-sub000/internal/config"
	"github.com/aicoder88/roigpt-sub000/internal/consent"
	"github.com/aicoder88/roigpt-sub000/internal/dispatcher"
	"github.com/aicoder88/roigpt-sub000/internal/domain"
	"github.com/aicoder88/roigpt-sub000/internal/provider"
	"github.com/aicoder88/roigpt-sub000/internal/provider/providertest"
	"github.com/aicoder88/roigpt-sub000/internal/storage/memory"
	spg "github.com/aicoder88/roigpt-sub000/internal/storage/postgres"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixedSession string

func (s fixedSession) ID(context.Context) string { return string(s) }

type fakeStats struct {
	eventName string
	from, to  int64
	err       error
}

func (f *fakeStats) QueryTotals(_ context.Context, eventName string, from, to int64) (spg.MetricsTotals, error) {
	f.eventName, f.from, f.to = eventName, from, to
	return spg.MetricsTotals{Count: 7, UniqueSessions: 3, UniqueUsers: 2}, f.err
}

func (f *fakeStats) QueryBucketsDaily(context.Context, string, int64, int64) ([]spg.MetricsBucket, error) {
	return []spg.MetricsBucket{{BucketStart: 86400, Count: 7, UniqueSessions: 3}}, f.err
}

type failingPinger struct{}

func (failingPinger) Ready(context.Context) error { return errors.New("down") }

type server struct {
	handler http.Handler
	deps    *ServerDeps
	fake    *providertest.Fake
	consent *consent.Store
}

func newServer(t *testing.T, cfg config.HTTPConfig) *server {
	t.Helper()
	fake := providertest.New("fake")
	fake.SupportsIdentify = true
	kv := memory.New()
	store := consent.NewStore(kv, "analytics-consent", nil)
	d := dispatcher.New(dispatcher.Options{
		Providers: []provider.Provider{fake},
		Consent:   store,
		Session:   fixedSession("sess-1"),
		Policy:    dispatcher.Policy{Production: true, RequireConsent: true},
	})
	t.Cleanup(func() { _ = d.Close() })

	deps := &ServerDeps{
		Cfg:        cfg,
		Dispatcher: d,
		Consent:    store,
		Ready:      kv,
		Now:        func() time.Time { return time.Unix(1_700_000_000, 0) },
	}
	return &server{handler: deps.Router(), deps: deps, fake: fake, consent: store}
}

func (s *server) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	return w
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var p Problem
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	return p
}

func TestHealthAndReady(t *testing.T) {
	s := newServer(t, config.HTTPConfig{})
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/readyz", "").Code)

	s.deps.Ready = failingPinger{}
	w := s.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not ready", decodeProblem(t, w).Title)
}

func TestConsentLifecycleDrivesDelivery(t *testing.T) {
	s := newServer(t, config.HTTPConfig{})

	w := s.do(http.MethodPost, "/v1/track", `{"name":"early","properties":{"plan":"pro"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, s.fake.Events())

	w = s.do(http.MethodGet, "/v1/consent", "")
	assert.JSONEq(t, `{"consent":"unknown"}`, w.Body.String())

	w = s.do(http.MethodPut, "/v1/consent", `{"granted":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"consent":"granted"}`, w.Body.String())
	assert.Equal(t, []string{"early"}, s.fake.EventNames())

	s.do(http.MethodPost, "/v1/track", `{"name":"late"}`)
	assert.Equal(t, []string{"early", "late"}, s.fake.EventNames())

	w = s.do(http.MethodGet, "/v1/status", "")
	var st dispatcher.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.True(t, st.Initialized)
	assert.True(t, st.Trackable)
	assert.Equal(t, []string{"fake"}, st.Providers)
	assert.Equal(t, domain.ConsentGranted, st.Consent)

	w = s.do(http.MethodDelete, "/v1/consent", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, domain.ConsentUnknown, s.consent.Get(context.Background()))
}

func TestIdentifyPageAndUserProperties(t *testing.T) {
	s := newServer(t, config.HTTPConfig{})
	s.consent.Set(context.Background(), true)

	assert.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/v1/identify", `{"user_id":"u-1","properties":{"tier":"gold"}}`).Code)
	assert.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/v1/page", `{"name":"/pricing"}`).Code)
	assert.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/v1/user-properties", `{"properties":{"beta":true}}`).Code)
	assert.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/v1/reset", "").Code)

	require.Len(t, s.fake.Identifies(), 1)
	assert.Equal(t, "u-1", s.fake.Identifies()[0].UserID)
	require.Len(t, s.fake.Pages(), 1)
	assert.Equal(t, "/pricing", s.fake.Pages()[0].Name)
	require.Len(t, s.fake.UserProps(), 1)
	assert.Equal(t, 1, s.fake.Resets())
}

func TestRequestValidation(t *testing.T) {
	s := newServer(t, config.HTTPConfig{})

	cases := []struct {
		name, method, path, body, field string
	}{
		{"track without name", http.MethodPost, "/v1/track", `{"category":"x"}`, "name"},
		{"identify without user", http.MethodPost, "/v1/identify", `{}`, "user_id"},
		{"page without name", http.MethodPost, "/v1/page", `{}`, "name"},
		{"empty user properties", http.MethodPost, "/v1/user-properties", `{"properties":{}}`, "properties"},
		{"consent without decision", http.MethodPut, "/v1/consent", `{}`, "granted"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(tc.method, tc.path, tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			p := decodeProblem(t, w)
			assert.Equal(t, "validation failed", p.Title)
			assert.Contains(t, p.Errors, tc.field)
		})
	}

	w := s.do(http.MethodPost, "/v1/track", `{"name":"x","unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid json", decodeProblem(t, w).Title)
}

func TestRequireJSONAndMethodRouting(t *testing.T) {
	s := newServer(t, config.HTTPConfig{})

	r := httptest.NewRequest(http.MethodPost, "/v1/track", strings.NewReader(`{"name":"x"}`))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	assert.Equal(t, http.StatusMethodNotAllowed, s.do(http.MethodGet, "/v1/track", "").Code)
}

func TestBodyLimit(t *testing.T) {
	s := newServer(t, config.HTTPConfig{MaxBodyBytes: 16})
	w := s.do(http.MethodPost, "/v1/track", `{"name":"a-name-well-past-the-limit"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	s := newServer(t, config.HTTPConfig{APIKeys: []string{"k1", " k2 "}})

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/status", "", "X-API-Key", "nope").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/status", "", "X-API-Key", "k2").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "").Code)
}

func TestMetricsWithoutWarehouse(t *testing.T) {
	s := newServer(t, config.HTTPConfig{})
	w := s.do(http.MethodGet, "/v1/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetrics(t *testing.T) {
	s := newServer(t, config.HTTPConfig{})
	stats := &fakeStats{}
	s.deps.Stats = stats

	w := s.do(http.MethodGet, "/v1/metrics?event_name=signup&group_by=day", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"totals":{"count":7,"unique_sessions":3,"unique_users":2},
		"buckets":[{"bucket_start":86400,"count":7,"unique_sessions":3}]
	}`, w.Body.String())
	assert.Equal(t, "signup", stats.eventName)
	assert.Equal(t, int64(1_700_000_000), stats.to)
	assert.Equal(t, int64(1_700_000_000-86400), stats.from)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/v1/metrics?from=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/v1/metrics?group_by=week", "").Code)

	stats.err = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, s.do(http.MethodGet, "/v1/metrics", "").Code)
}

func TestMetricsWindow(t *testing.T) {
	const now = int64(10_000_000)

	from, to, fe := metricsWindow("", "", now)
	require.Nil(t, fe)
	assert.Equal(t, now-defaultWindowSeconds, from)
	assert.Equal(t, now, to)

	from, to, fe = metricsWindow("0", "", now)
	require.Nil(t, fe)
	assert.Equal(t, now-maxWindowSeconds, from, "window is capped")
	assert.Equal(t, now, to)

	_, _, fe = metricsWindow("200", "100", now)
	require.NotNil(t, fe)
	assert.Equal(t, "from", fe.Field)
}

func TestRateLimitPerMinute(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	h := RateLimitPerMinute(2, clock)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	hit := func() int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, hit())
	assert.Equal(t, http.StatusOK, hit())
	assert.Equal(t, http.StatusTooManyRequests, hit())

	now = now.Add(30 * time.Second)
	assert.Equal(t, http.StatusOK, hit())
}
