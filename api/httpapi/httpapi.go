package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	wsadapter "questkit/adapters/websocket"
	"questkit/analytics"
	"questkit/catalog"
	"questkit/core"
	"questkit/criteria"
	"questkit/engine"
	"questkit/leaderboard"
	"questkit/realtime"
)

const maxBodyBytes = 1 << 20

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup is how long a client must stay idle before its bucket
	// is evicted. Defaults to five minutes.
	RateLimitCleanup time.Duration
	// Catalog backs GET /catalog and template-based quest creation.
	Catalog *catalog.Catalog
	// Metrics backs GET /stats; the route is absent when nil.
	Metrics *analytics.QuestMetrics
	// Leaderboard backs GET /leaderboard; the route is absent when nil.
	Leaderboard *leaderboard.Board
	Logger      *slog.Logger
}

type api struct {
	svc     *engine.QuestService
	catalog *catalog.Catalog
	metrics *analytics.QuestMetrics
	board   *leaderboard.Board
	logger  *slog.Logger
}

// NewMux builds an http.Handler exposing the quest REST API and WebSocket stream.
// Routes:
//   - GET    {prefix}/healthz
//   - WS     {prefix}/ws[?user_id=]
//   - POST   {prefix}/evaluate
//   - GET    {prefix}/catalog
//   - GET    {prefix}/stats
//   - GET    {prefix}/leaderboard[?limit=&user_id=]
//   - GET    {prefix}/users/{id}/quests
//   - POST   {prefix}/users/{id}/quests
//   - GET    {prefix}/users/{id}/quests/{questID}
//   - DELETE {prefix}/users/{id}/quests/{questID}
//   - POST   {prefix}/users/{id}/actions
func NewMux(svc *engine.QuestService, hub *realtime.Hub, opts Options) http.Handler {
	a := &api{svc: svc, catalog: opts.Catalog, metrics: opts.Metrics, board: opts.Leaderboard, logger: opts.Logger}
	if a.catalog == nil {
		a.catalog = catalog.Empty()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	route(http.MethodGet, "/healthz", a.healthCheck)
	if hub != nil {
		mux.Handle("GET "+withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub, a.logger))
	}
	route(http.MethodPost, "/evaluate", a.evaluate)
	route(http.MethodGet, "/catalog", a.listCatalog)
	if a.metrics != nil {
		route(http.MethodGet, "/stats", a.stats)
	}
	if a.board != nil {
		route(http.MethodGet, "/leaderboard", a.leaderboard)
	}
	route(http.MethodGet, "/users/{id}/quests", a.listQuests)
	route(http.MethodPost, "/users/{id}/quests", a.createQuest)
	route(http.MethodGet, "/users/{id}/quests/{questID}", a.getQuest)
	route(http.MethodDelete, "/users/{id}/quests/{questID}", a.deleteQuest)
	route(http.MethodPost, "/users/{id}/actions", a.recordAction)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, newRateLimiter(opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup))
	}
	return handler
}

// healthCheck verifies storage answers a read for a probe user.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok"},
	}
	code := http.StatusOK
	if _, err := a.svc.ListQuests(ctx, "healthcheck_probe"); err != nil {
		a.logger.WarnContext(ctx, "health check failed", "error", err)
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"] = map[string]any{"storage": "failed"}
	}
	writeJSONStatus(w, code, status)
}

type evaluateRequest struct {
	Type            core.CriterionType `json:"type"`
	Config          map[string]any     `json:"config"`
	Event           map[string]any     `json:"event"`
	CurrentProgress int64              `json:"current_progress"`
	TargetCount     int64              `json:"target_count"`
	UserID          core.UserID        `json:"user_id,omitempty"`
	Timezone        string             `json:"timezone,omitempty"`
}

type evaluateResponse struct {
	Result      *core.Result          `json:"result"`
	Diagnostics []criteria.Diagnostic `json:"diagnostics"`
}

// evaluate runs one criterion against one event without touching storage.
func (a *api) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp := evaluateResponse{Diagnostics: []criteria.Diagnostic{}}
	var mu sync.Mutex
	collect := criteria.DiagnosticFunc(func(_ context.Context, d criteria.Diagnostic) {
		mu.Lock()
		defer mu.Unlock()
		resp.Diagnostics = append(resp.Diagnostics, d)
	})
	eval := criteria.New(
		criteria.WithLogger(a.logger),
		criteria.WithDiagnosticSink(criteria.MultiSink(criteria.LogSink(a.logger), collect)),
	)
	resp.Result = eval.Evaluate(r.Context(), criteria.Request{
		Criterion: core.Criterion{
			ID:              "adhoc",
			Type:            req.Type,
			Config:          req.Config,
			CurrentProgress: req.CurrentProgress,
			TargetCount:     req.TargetCount,
		},
		Event:    req.Event,
		UserID:   req.UserID,
		Timezone: req.Timezone,
	})
	writeJSON(w, resp)
}

func (a *api) listCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"templates": a.catalog.List()})
}

func (a *api) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.metrics.Snapshot())
}

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// leaderboard returns the top entries, plus the caller's own standing when
// user_id is given.
func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLeaderboardLimit {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer between 1 and 100", nil)
			return
		}
		limit = n
	}
	resp := map[string]any{"entries": a.board.TopN(limit), "users": a.board.Len()}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		user, err := core.NormalizeUserID(core.UserID(raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
			return
		}
		if e, ok := a.board.Get(user); ok {
			resp["user"] = e
		}
	}
	writeJSON(w, resp)
}

func (a *api) listQuests(w http.ResponseWriter, r *http.Request) {
	user, ok := pathUser(w, r)
	if !ok {
		return
	}
	quests, err := a.svc.ListQuests(r.Context(), user)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"quests": quests})
}

// createQuestRequest is either {"template": "id"} or a full quest body.
type createQuestRequest struct {
	Template string `json:"template,omitempty"`
	core.Quest
}

func (a *api) createQuest(w http.ResponseWriter, r *http.Request) {
	user, ok := pathUser(w, r)
	if !ok {
		return
	}
	var req createQuestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	q := req.Quest
	if req.Template != "" {
		inst, err := a.catalog.Instantiate(req.Template, user, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown_template", err.Error(), nil)
			return
		}
		inst.ID = req.ID
		if !req.ActivatedAt.IsZero() {
			inst.ActivatedAt = req.ActivatedAt
		}
		q = inst
	}
	q.UserID = user
	created, err := a.svc.CreateQuest(r.Context(), q)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, created)
}

func (a *api) getQuest(w http.ResponseWriter, r *http.Request) {
	user, ok := pathUser(w, r)
	if !ok {
		return
	}
	q, err := a.svc.GetQuest(r.Context(), user, core.QuestID(r.PathValue("questID")))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, q)
}

func (a *api) deleteQuest(w http.ResponseWriter, r *http.Request) {
	user, ok := pathUser(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeleteQuest(r.Context(), user, core.QuestID(r.PathValue("questID"))); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) recordAction(w http.ResponseWriter, r *http.Request) {
	user, ok := pathUser(w, r)
	if !ok {
		return
	}
	var action core.Action
	if !decodeBody(w, r, &action) {
		return
	}
	outcome, err := a.svc.RecordAction(r.Context(), user, action)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, outcome)
}

// Helpers

func pathUser(w http.ResponseWriter, r *http.Request) (core.UserID, bool) {
	user, err := core.NormalizeUserID(core.UserID(r.PathValue("id")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
		return "", false
	}
	return user, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return false
	}
	return true
}

func (a *api) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrQuestNotFound):
		writeError(w, http.StatusNotFound, "quest_not_found", err.Error(), nil)
	case errors.Is(err, core.ErrQuestExists):
		writeError(w, http.StatusConflict, "quest_exists", err.Error(), nil)
	case errors.Is(err, core.ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidQuest):
		writeError(w, http.StatusBadRequest, "invalid_quest", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, "invalid_action", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidTimezone):
		writeError(w, http.StatusBadRequest, "invalid_timezone", err.Error(), nil)
	default:
		a.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSONStatus(w, status, apiError{Code: code, Message: msg, Details: details})
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(next http.Handler, apiKeys []string) http.Handler {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			return
		}
		if _, ok := allowed[key]; !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies a token-bucket limiter per client key.
func withRateLimit(next http.Handler, limiter *rateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	// Browsers cannot set headers on WebSocket upgrades.
	if r.Header.Get("Upgrade") != "" {
		return r.URL.Query().Get("api_key")
	}
	return ""
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

const defaultRateLimitCleanup = 5 * time.Minute

type rateLimiter struct {
	perSec    float64
	burst     float64
	idle      time.Duration
	now       func() time.Time
	mu        sync.Mutex
	b         map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rpm, burst int, idle time.Duration) *rateLimiter {
	if idle <= 0 {
		idle = defaultRateLimitCleanup
	}
	return &rateLimiter{
		perSec: float64(rpm) / 60,
		burst:  float64(burst),
		idle:   idle,
		now:    time.Now,
		b:      make(map[string]*bucket),
	}
}

func (l *rateLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastSweep.IsZero() {
		l.lastSweep = now
	} else if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}

	b, ok := l.b[key]
	if !ok {
		l.b[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}

	b.tokens = l.refill(b, now)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *rateLimiter) refill(b *bucket, now time.Time) float64 {
	return min(l.burst, b.tokens+now.Sub(b.last).Seconds()*l.perSec)
}

// sweep drops buckets idle for l.idle that have refilled to burst; a fresh
// bucket for the same key behaves identically.
func (l *rateLimiter) sweep(now time.Time) {
	for key, b := range l.b {
		if now.Sub(b.last) >= l.idle && l.refill(b, now) >= l.burst {
			delete(l.b, key)
		}
	}
	l.lastSweep = now
}

func (l *rateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.b)
}
