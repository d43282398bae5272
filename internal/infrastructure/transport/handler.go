package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"umlgen/app/usecase"
	"umlgen/internal/domain/entity"
	"umlgen/internal/domain/repository"
	"umlgen/internal/streaming"
)

const defaultDiagramsLimit = 20

var errNoDiagram = errors.New("failed to generate diagram")

type Options struct {
	// OutputDir is served read-only under URLPrefix.
	OutputDir string
	URLPrefix string
	// Registerer receives the HTTP collectors; nil means the default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

type UMLHandler struct {
	pipeline usecase.PipelineUsecase
	runs     usecase.RunUsecase
	hub      streaming.EventHub
	logger   *slog.Logger
	upgrader websocket.Upgrader

	outputDir string
	urlPrefix string
	gatherer  prometheus.Gatherer

	// metrics
	reqDuration *prometheus.HistogramVec
	reqCount    *prometheus.CounterVec
	errCount    *prometheus.CounterVec
}

func NewUMLHandler(
	pipeline usecase.PipelineUsecase,
	runs usecase.RunUsecase,
	hub streaming.EventHub,
	opts Options,
	logger *slog.Logger,
) *UMLHandler {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.URLPrefix == "" {
		opts.URLPrefix = "/diagrams"
	}
	if hub == nil {
		hub = streaming.Nop{}
	}

	reqDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "umlgen_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"method", "path", "status"},
	)

	reqCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "umlgen_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "path"},
	)

	errCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "umlgen_http_errors_total",
			Help: "Total number of HTTP request errors.",
		},
		[]string{"method", "path", "status"},
	)

	opts.Registerer.MustRegister(reqDuration, reqCount, errCount)

	return &UMLHandler{
		pipeline: pipeline,
		runs:     runs,
		hub:      hub,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		outputDir:   opts.OutputDir,
		urlPrefix:   strings.TrimSuffix(opts.URLPrefix, "/"),
		gatherer:    opts.Gatherer,
		reqDuration: reqDuration,
		reqCount:    reqCount,
		errCount:    errCount,
	}
}

// withMetrics labels requests by route template so run ids stay out of the
// label set.
func (h *UMLHandler) withMetrics(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		method := r.Method

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rw, r)

		duration := time.Since(start).Seconds()
		statusStr := strconv.Itoa(rw.status)

		h.reqCount.WithLabelValues(method, path).Inc()
		h.reqDuration.WithLabelValues(method, path, statusStr).Observe(duration)

		if rw.status >= 400 {
			h.errCount.WithLabelValues(method, path, statusStr).Inc()
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (h *UMLHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/generate", h.withMetrics(h.handleGenerate)).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/runs", h.withMetrics(h.handleSubmitRun)).Methods(http.MethodPost)
	api.HandleFunc("/runs", h.withMetrics(h.handleListRuns)).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", h.withMetrics(h.handleGetRun)).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", h.withMetrics(h.handleDeleteRun)).Methods(http.MethodDelete)
	api.HandleFunc("/runs/{id}/events", h.withMetrics(h.handleRunEvents)).Methods(http.MethodGet)
	api.HandleFunc("/diagrams", h.withMetrics(h.handleListDiagrams)).Methods(http.MethodGet)
	api.HandleFunc("/health", h.withMetrics(h.handleHealth)).Methods(http.MethodGet)

	if h.outputDir != "" {
		prefix := h.urlPrefix + "/"
		r.PathPrefix(prefix).Handler(http.StripPrefix(prefix, http.FileServer(http.Dir(h.outputDir))))
	}

	// Prometheus
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrInvalidMode), errors.Is(err, entity.ErrEmptyRequirement):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type generateReq struct {
	Requirement string `json:"requirement"`
	// Mode defaults to critique when absent.
	Mode *int `json:"mode,omitempty"`
}

func decodeGenerateReq(r *http.Request) (string, entity.Mode, error) {
	var req generateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", 0, fmt.Errorf("bad request body: %w", err)
	}
	mode := entity.DefaultMode
	if req.Mode != nil {
		mode = entity.Mode(*req.Mode)
	}
	if _, err := entity.NewGenerationRequest("", req.Requirement, mode); err != nil {
		return "", 0, err
	}
	return req.Requirement, mode, nil
}

type generateResp struct {
	RunID      string            `json:"run_id"`
	DiagramURL map[string]string `json:"diagram_url"`
}

// POST /generate
func (h *UMLHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	requirement, mode, err := decodeGenerateReq(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	run, err := h.pipeline.Generate(r.Context(), requirement, mode)
	if err != nil {
		h.logger.Error("generate failed", "mode", mode.String(), "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	urls, ok := diagramURLs(run)
	if !ok {
		h.logger.Warn("run finished without diagrams", "run_id", run.ID, "mode", mode.String())
		writeError(w, http.StatusInternalServerError, errNoDiagram)
		return
	}
	writeJSON(w, http.StatusOK, generateResp{RunID: run.ID, DiagramURL: urls})
}

// diagramURLs shapes the URLs the way the web client expects them. ok is
// false when a diagram the mode promises was not written.
func diagramURLs(run *entity.Run) (map[string]string, bool) {
	base, _ := run.Diagram(entity.LabelBase)
	if run.Mode == entity.ModeDirect {
		if base.URL == "" {
			return nil, false
		}
		return map[string]string{"diagram_url": base.URL}, true
	}

	enhanced, _ := run.Diagram(entity.LabelEnhanced)
	if base.URL == "" || enhanced.URL == "" {
		return nil, false
	}
	return map[string]string{
		"base_diagram_url":     base.URL,
		"enhanced_diagram_url": enhanced.URL,
	}, true
}

// POST /api/v1/runs
func (h *UMLHandler) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	requirement, mode, err := decodeGenerateReq(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	run, err := h.runs.Submit(r.Context(), requirement, mode)
	if err != nil {
		h.logger.Error("submit run failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// GET /api/v1/runs
func (h *UMLHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListRuns(r.Context())
	if err != nil {
		h.logger.Error("list runs failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []*entity.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GET /api/v1/runs/{id}
func (h *UMLHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		if statusFor(err) != http.StatusNotFound {
			h.logger.Error("get run failed", "run_id", id, "err", err)
		}
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// DELETE /api/v1/runs/{id}
func (h *UMLHandler) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.runs.DeleteRun(r.Context(), id); err != nil {
		if statusFor(err) != http.StatusNotFound {
			h.logger.Error("delete run failed", "run_id", id, "err", err)
		}
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/runs/{id}/events
//
// Sends the stored run as a snapshot, then streams the run's events until it
// completes or fails.
func (h *UMLHandler) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// subscribe before the snapshot so no event falls in between
	events, unsubscribe, err := h.hub.Subscribe(ctx, streaming.Filter{RunID: id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "run_id", id, "err", err)
		return
	}
	defer conn.Close()

	// reader: notices the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := streaming.Event{RunID: id, EventType: "run.snapshot", Payload: run, At: time.Now().UTC()}
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}
	if run.Status == entity.RunStatusCompleted || run.Status == entity.RunStatusFailed {
		h.closeStream(conn)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", "run_id", id, "err", err)
				return
			}
			if ev.EventType == streaming.EventRunCompleted || ev.EventType == streaming.EventRunFailed {
				h.closeStream(conn)
				return
			}
		}
	}
}

func (h *UMLHandler) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// GET /api/v1/diagrams?limit=N
func (h *UMLHandler) handleListDiagrams(w http.ResponseWriter, r *http.Request) {
	limit := defaultDiagramsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	images, err := h.runs.RecentDiagrams(r.Context(), limit)
	if err != nil {
		h.logger.Error("list diagrams failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if images == nil {
		images = []repository.StoredImage{}
	}
	writeJSON(w, http.StatusOK, images)
}

// GET /api/v1/health
func (h *UMLHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"ok": true,
		"ts": time.Now().UTC(),
	}
	writeJSON(w, http.StatusOK, status)
}
