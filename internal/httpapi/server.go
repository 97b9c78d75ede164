package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"stockfeed/internal/domain"
	"stockfeed/internal/preferences"
	"stockfeed/internal/store"
)

const (
	maxPageSize     = 100
	maxSuggestions  = 20
	defaultTrending = 10
	trendingWindow  = 24 * time.Hour
	ssePingInterval = 15 * time.Second
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockfeed_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockfeed_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Server serves the stockfeed HTTP API.
type Server struct {
	bars       store.BarStore
	portfolios store.PortfolioStore
	prefs      *preferences.Store
	log        *slog.Logger
	pageSize   int
	now        func() time.Time
}

// NewServer creates a new API server. pageSize is used when a request does
// not name one.
func NewServer(bars store.BarStore, portfolios store.PortfolioStore, prefs *preferences.Store, log *slog.Logger, pageSize int) *Server {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Server{
		bars:       bars,
		portfolios: portfolios,
		prefs:      prefs,
		log:        log,
		pageSize:   pageSize,
		now:        time.Now,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	s.handle(mux, "GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	s.handle(mux, "GET /api/symbols", s.handleSymbols)
	s.handle(mux, "GET /api/symbols/{symbol}/bars", s.handleBars)
	s.handle(mux, "GET /api/recommendations", s.handleRecommendations)
	s.handle(mux, "POST /api/portfolios/{owner}/hits", s.handleHit)
	s.handle(mux, "GET /api/users/{user}/portfolio", s.handleGetPortfolio)
	s.handle(mux, "POST /api/users/{user}/portfolio_items", s.handleAddItem)
	s.handle(mux, "PUT /api/users/{user}/portfolio_items/{id}", s.handleUpdateItem)
	s.handle(mux, "DELETE /api/users/{user}/portfolio_items/{id}", s.handleDeleteItem)
	s.handle(mux, "GET /api/users/{user}/preferences", s.handleGetPreference)
	s.handle(mux, "PUT /api/users/{user}/preferences", s.handlePutPreference)
	s.handle(mux, "GET /api/preferences/events", s.handlePreferenceEvents)
	s.handle(mux, "GET /api/trending", s.handleTrending)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// handle registers fn under pattern and records request metrics for it.
func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		requestsTotal.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers stream through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeStoreError maps store errors to a status code.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error("store request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// parsePaging reads page and size query params. Size is capped at
// maxPageSize.
func (s *Server) parsePaging(r *http.Request) (page, size int, err error) {
	q := r.URL.Query()
	size = s.pageSize
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 0 {
			return 0, 0, fmt.Errorf("invalid page %q", v)
		}
	}
	if v := q.Get("size"); v != "" {
		if size, err = strconv.Atoi(v); err != nil || size <= 0 {
			return 0, 0, fmt.Errorf("invalid size %q", v)
		}
	}
	return page, min(size, maxPageSize), nil
}

// ---------------------------------------------------------------------------
// Symbols and bars
// ---------------------------------------------------------------------------

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	prefix := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("prefix")))
	all, err := s.bars.ListSymbols(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	matches := lo.Filter(all, func(sym string, _ int) bool { return strings.HasPrefix(sym, prefix) })
	if len(matches) > maxSuggestions {
		matches = matches[:maxSuggestions]
	}
	writeJSON(w, SymbolsResponse{Symbols: lo.Ternary(matches == nil, []string{}, matches)})
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	ivName := r.URL.Query().Get("interval")
	if ivName == "" {
		ivName = domain.IntervalDay.String()
	}
	iv, err := domain.ParseInterval(ivName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, size, err := s.parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bars, last, err := s.bars.BarPage(r.Context(), symbol, iv, page, size)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	// The first page of a symbol counts as a view for trending.
	if page == 0 {
		if err := s.portfolios.RecordView(r.Context(), symbol, s.now()); err != nil {
			s.log.Warn("recording symbol view", "symbol", symbol, "error", err)
		}
	}
	if bars == nil {
		bars = []domain.Bar{}
	}
	writeJSON(w, BarsPage{Symbol: symbol, Interval: iv.String(), Page: page, Bars: bars, IsLastPage: last})
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	limit := defaultTrending
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = min(n, maxPageSize)
	}
	top, err := s.portfolios.Trending(r.Context(), s.now().Add(-trendingWindow), limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if top == nil {
		top = []store.SymbolCount{}
	}
	writeJSON(w, TrendingResponse{Symbols: top})
}

// ---------------------------------------------------------------------------
// Recommendations and portfolios
// ---------------------------------------------------------------------------

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	critName := q.Get("criterion")
	if critName == "" {
		critName = string(domain.CriterionPortfolio)
	}
	crit, err := domain.ParseCriterion(critName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, size, err := s.parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rq := store.RecommendQuery{Criterion: crit, User: q.Get("user"), Page: page, Size: size}
	if crit == domain.CriterionPreference && rq.User != "" {
		if pref, ok := s.prefs.Get(rq.User); ok {
			rq.Sectors = pref.Sectors
		}
	}

	ps, last, err := s.portfolios.Recommend(r.Context(), rq)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if ps == nil {
		ps = []domain.Portfolio{}
	}
	writeJSON(w, PortfolioPage{Criterion: string(crit), Page: page, Portfolios: ps, IsLastPage: last})
}

func (s *Server) handleHit(w http.ResponseWriter, r *http.Request) {
	if err := s.portfolios.RecordHit(r.Context(), r.PathValue("owner")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.portfolios.Portfolio(r.Context(), r.PathValue("user"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	symbols := lo.Uniq(lo.Map(p.Items, func(it domain.PortfolioItem, _ int) string { return it.Symbol }))
	prices, err := s.bars.LatestCloses(r.Context(), symbols)
	if err != nil {
		s.log.Warn("loading latest closes, valuing at cost", "owner", p.Owner, "error", err)
		prices = nil
	}
	writeJSON(w, PortfolioView{
		Portfolio: p,
		Holdings:  p.Proportions(prices),
		Total:     p.Total(prices),
	})
}

func decodeItem(r *http.Request) (domain.PortfolioItem, error) {
	var it domain.PortfolioItem
	if err := json.NewDecoder(r.Body).Decode(&it); err != nil {
		return it, fmt.Errorf("invalid JSON body: %w", err)
	}
	return it, it.Validate()
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	it, err := decodeItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	added, err := s.portfolios.AddItem(r.Context(), r.PathValue("user"), it)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(added)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	it, err := decodeItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	it.ID = id
	if err := s.portfolios.UpdateItem(r.Context(), r.PathValue("user"), it); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	if err := s.portfolios.DeleteItem(r.Context(), r.PathValue("user"), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Preferences
// ---------------------------------------------------------------------------

func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	p, ok := s.prefs.Get(user)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no preference for %q", user))
		return
	}
	writeJSON(w, PreferenceResponse{User: user, Preference: p})
}

func (s *Server) handlePutPreference(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	var p domain.Preference
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.prefs.Set(user, p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, PreferenceResponse{User: user, Preference: p})
}

// handlePreferenceEvents streams preference changes as server-sent events,
// starting with a snapshot.
func (s *Server) handlePreferenceEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := s.prefs.Subscribe(16)
	defer s.prefs.Unsubscribe(id)

	send := func(ev preferences.Event) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.Error("marshalling preference event", "error", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(preferences.Event{Type: "snapshot", Data: s.prefs.Snapshot()}) {
		return
	}

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok || !send(ev) {
				return
			}
		}
	}
}
