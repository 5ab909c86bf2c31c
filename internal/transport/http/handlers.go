package transporthttp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aicoder88/roigpt-sub000/internal/config"
	"github.com/aicoder88/roigpt-sub000/internal/dispatcher"
	"github.com/aicoder88/roigpt-sub000/internal/domain"
	"github.com/aicoder88/roigpt-sub000/internal/storage"
	spg "github.com/aicoder88/roigpt-sub000/internal/storage/postgres"
)

// Dispatcher is the part of dispatcher.Dispatcher the handlers call.
type Dispatcher interface {
	Track(ctx context.Context, ev domain.Event)
	Identify(ctx context.Context, userID string, props map[string]any)
	Page(ctx context.Context, name string, props map[string]any)
	SetUserProperties(ctx context.Context, props map[string]any)
	Reset(ctx context.Context)
	Status(ctx context.Context) dispatcher.Status
}

type ConsentStore interface {
	Get(ctx context.Context) domain.Consent
	Set(ctx context.Context, granted bool)
	Clear(ctx context.Context)
}

// Stats answers warehouse metrics queries.
type Stats interface {
	QueryTotals(ctx context.Context, eventName string, from, to int64) (spg.MetricsTotals, error)
	QueryBucketsDaily(ctx context.Context, eventName string, from, to int64) ([]spg.MetricsBucket, error)
}

type ServerDeps struct {
	Cfg        config.HTTPConfig
	Dispatcher Dispatcher
	Consent    ConsentStore
	Ready      storage.Pinger
	// Stats is nil when no warehouse is configured.
	Stats  Stats
	Logger *zap.Logger
	Now    func() time.Time
}

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func accepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func validationProblem(w http.ResponseWriter, errs []domain.FieldError) {
	prob := map[string][]string{}
	for _, fe := range errs {
		prob[fe.Field] = append(prob[fe.Field], fe.Msg)
	}
	WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", prob)
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if d.Ready != nil {
		if err := d.Ready.Ready(r.Context()); err != nil {
			d.Logger.Warn("readiness check failed", zap.Error(err))
			WriteProblem(w, http.StatusServiceUnavailable, "not ready", "consent storage not reachable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Dispatcher operations ---

func (d *ServerDeps) HandleTrack(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var ev domain.Event
	if err := decodeJSONStrict(r, &ev); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	if errs := domain.ValidateEvent(&ev); len(errs) > 0 {
		validationProblem(w, errs)
		return
	}
	d.Dispatcher.Track(r.Context(), ev)
	accepted(w)
}

type identifyReq struct {
	UserID     string         `json:"user_id"`
	Properties map[string]any `json:"properties,omitempty"`
}

func (d *ServerDeps) HandleIdentify(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req identifyReq
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	var errs []domain.FieldError
	switch {
	case req.UserID == "":
		errs = append(errs, domain.FieldError{Field: "user_id", Msg: "required"})
	case len(req.UserID) > domain.MaxUserIDLen:
		errs = append(errs, domain.FieldError{Field: "user_id", Msg: "max length " + strconv.Itoa(domain.MaxUserIDLen)})
	}
	errs = append(errs, domain.ValidateProperties("properties", req.Properties)...)
	if len(errs) > 0 {
		validationProblem(w, errs)
		return
	}
	d.Dispatcher.Identify(r.Context(), req.UserID, req.Properties)
	accepted(w)
}

type pageReq struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

func (d *ServerDeps) HandlePage(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req pageReq
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	var errs []domain.FieldError
	if req.Name == "" {
		errs = append(errs, domain.FieldError{Field: "name", Msg: "required"})
	}
	errs = append(errs, domain.ValidateProperties("properties", req.Properties)...)
	if len(errs) > 0 {
		validationProblem(w, errs)
		return
	}
	d.Dispatcher.Page(r.Context(), req.Name, req.Properties)
	accepted(w)
}

type userPropsReq struct {
	Properties map[string]any `json:"properties"`
}

func (d *ServerDeps) HandleUserProperties(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req userPropsReq
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	var errs []domain.FieldError
	if len(req.Properties) == 0 {
		errs = append(errs, domain.FieldError{Field: "properties", Msg: "required"})
	}
	errs = append(errs, domain.ValidateProperties("properties", req.Properties)...)
	if len(errs) > 0 {
		validationProblem(w, errs)
		return
	}
	d.Dispatcher.SetUserProperties(r.Context(), req.Properties)
	accepted(w)
}

func (d *ServerDeps) HandleReset(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	d.Dispatcher.Reset(r.Context())
	accepted(w)
}

// --- Consent ---

type consentResp struct {
	Consent domain.Consent `json:"consent"`
}

type consentReq struct {
	Granted *bool `json:"granted"`
}

func (d *ServerDeps) HandleGetConsent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, consentResp{Consent: d.Consent.Get(r.Context())})
}

func (d *ServerDeps) HandlePutConsent(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req consentReq
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	if req.Granted == nil {
		validationProblem(w, []domain.FieldError{{Field: "granted", Msg: "required"}})
		return
	}
	d.Consent.Set(r.Context(), *req.Granted)
	writeJSON(w, http.StatusOK, consentResp{Consent: domain.ConsentFromBool(*req.Granted)})
}

func (d *ServerDeps) HandleDeleteConsent(w http.ResponseWriter, r *http.Request) {
	d.Consent.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// --- Status ---

func (d *ServerDeps) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Dispatcher.Status(r.Context()))
}

// --- Metrics ---

type metricsResp struct {
	Totals  spg.MetricsTotals   `json:"totals"`
	Buckets []spg.MetricsBucket `json:"buckets,omitempty"`
}

const defaultWindowSeconds = int64(24 * 60 * 60)
const maxWindowSeconds = int64(90 * 24 * 60 * 60)

func parseEpoch(s, field string) (int64, *domain.FieldError) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &domain.FieldError{Field: field, Msg: "must be epoch seconds"}
	}
	return v, nil
}

// metricsWindow resolves the [from, to] range from optional query
// parameters, defaulting to the last 24h and capping at 90 days.
func metricsWindow(fromStr, toStr string, now int64) (from, to int64, fe *domain.FieldError) {
	switch {
	case fromStr == "" && toStr == "":
		from, to = now-defaultWindowSeconds, now
	case toStr == "":
		if from, fe = parseEpoch(fromStr, "from"); fe != nil {
			return 0, 0, fe
		}
		to = now
	case fromStr == "":
		if to, fe = parseEpoch(toStr, "to"); fe != nil {
			return 0, 0, fe
		}
		from = to - defaultWindowSeconds
	default:
		if from, fe = parseEpoch(fromStr, "from"); fe != nil {
			return 0, 0, fe
		}
		if to, fe = parseEpoch(toStr, "to"); fe != nil {
			return 0, 0, fe
		}
	}
	if from > to {
		return 0, 0, &domain.FieldError{Field: "from", Msg: "must not be after to"}
	}
	if to-from > maxWindowSeconds {
		from = to - maxWindowSeconds
	}
	return from, to, nil
}

func (d *ServerDeps) HandleGetMetrics(w http.ResponseWriter, r *http.Request) {
	if d.Stats == nil {
		WriteProblem(w, http.StatusNotFound, "not found", "warehouse is not configured", nil)
		return
	}
	q := r.URL.Query()
	eventName := strings.TrimSpace(q.Get("event_name"))
	groupBy := q.Get("group_by")
	if groupBy != "" && groupBy != "day" {
		validationProblem(w, []domain.FieldError{{Field: "group_by", Msg: "must be day"}})
		return
	}

	from, to, fe := metricsWindow(q.Get("from"), q.Get("to"), d.Now().Unix())
	if fe != nil {
		validationProblem(w, []domain.FieldError{*fe})
		return
	}

	ctx := r.Context()
	tot, err := d.Stats.QueryTotals(ctx, eventName, from, to)
	if err != nil {
		d.Logger.Error("metrics totals query failed", zap.Error(err))
		WriteProblem(w, http.StatusInternalServerError, "query error", "metrics query failed", nil)
		return
	}
	resp := metricsResp{Totals: tot}
	if groupBy == "day" {
		if resp.Buckets, err = d.Stats.QueryBucketsDaily(ctx, eventName, from, to); err != nil {
			d.Logger.Error("metrics buckets query failed", zap.Error(err))
			WriteProblem(w, http.StatusInternalServerError, "query error", "metrics query failed", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Router ---

func (d *ServerDeps) Router() http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.HandleHealthz)
	mux.HandleFunc("GET /readyz", d.HandleReadyz)

	auth := APIKeyAuth(d.Cfg.APIKeys)
	post := func(h http.HandlerFunc) http.Handler {
		var out http.Handler = h
		out = BodyLimit(d.Cfg.MaxBodyBytes)(out)
		out = RequireJSON(out)
		return auth(out)
	}

	mux.Handle("POST /v1/track", post(d.HandleTrack))
	mux.Handle("POST /v1/identify", post(d.HandleIdentify))
	mux.Handle("POST /v1/page", post(d.HandlePage))
	mux.Handle("POST /v1/user-properties", post(d.HandleUserProperties))
	mux.Handle("POST /v1/reset", auth(http.HandlerFunc(d.HandleReset)))

	mux.Handle("GET /v1/consent", auth(http.HandlerFunc(d.HandleGetConsent)))
	mux.Handle("PUT /v1/consent", post(d.HandlePutConsent))
	mux.Handle("DELETE /v1/consent", auth(http.HandlerFunc(d.HandleDeleteConsent)))

	mux.Handle("GET /v1/status", auth(http.HandlerFunc(d.HandleStatus)))

	var getMetrics http.Handler = http.HandlerFunc(d.HandleGetMetrics)
	getMetrics = RateLimitPerMinute(d.Cfg.RateLimitMetricsPerMin, d.Now)(getMetrics)
	mux.Handle("GET /v1/metrics", auth(getMetrics))

	return AccessLog(d.Logger)(mux)
}
