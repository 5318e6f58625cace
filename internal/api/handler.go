// Package api serves a dialogue document and its batches over HTTP.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Hyrsta/AiSpea/internal/datalab"
	"github.com/Hyrsta/AiSpea/internal/dataloader"
	"github.com/Hyrsta/AiSpea/internal/dialogue"
	"github.com/Hyrsta/AiSpea/internal/observe"
)

type HandlerDeps struct {
	// Dataset is the document served by the /api/v1 document routes. Nil
	// makes those routes answer 503.
	Dataset *dialogue.Dataset

	// DB enables the datalab routes. Nil makes them answer 503.
	DB *sql.DB

	// LoaderOptions are applied before the per-request query parameters.
	LoaderOptions []dataloader.Option

	Metrics *observe.Metrics

	// MetricsHandler serves /metrics; promhttp.Handler() when nil.
	MetricsHandler http.Handler
}

type Handler struct {
	dataset        *dialogue.Dataset
	db             *sql.DB
	loaderOpts     []dataloader.Option
	metrics        *observe.Metrics
	metricsHandler http.Handler
}

func NewHandler(deps HandlerDeps) *Handler {
	h := &Handler{
		dataset:        deps.Dataset,
		db:             deps.DB,
		loaderOpts:     deps.LoaderOptions,
		metrics:        deps.Metrics,
		metricsHandler: deps.MetricsHandler,
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	if h.metricsHandler == nil {
		h.metricsHandler = promhttp.Handler()
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.Handle("GET /metrics", h.metricsHandler)

	// loaded document
	mux.HandleFunc("GET /api/v1/document", h.withCORS(h.handleGetDocument))
	mux.HandleFunc("GET /api/v1/samples/{index}", h.withCORS(h.handleGetSample))
	mux.HandleFunc("GET /api/v1/batches.jsonl", h.withCORS(h.handleBatchesJSONL))

	// datalab
	mux.HandleFunc("GET /api/v1/datalab/conversations/{id}/batches.jsonl", h.withCORS(h.handleDatalabBatchesJSONL))

	return observe.Middleware(h.metrics)(mux)
}

func (h *Handler) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Traceparent")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Type,X-Correlation-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"ts":       time.Now().UTC().Format(time.RFC3339),
		"document": h.dataset != nil,
		"datalab":  h.db != nil,
	})
}

// ----------------------------
// Document
// ----------------------------

type documentResponse struct {
	Metadata  map[string]any `json:"metadata"`
	Labels    map[string]any `json:"labels"`
	TurnCount int            `json:"turn_count"`
}

func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	if h.dataset == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no dialogue document loaded")
		return
	}
	doc := h.dataset.Document()
	writeJSON(w, http.StatusOK, documentResponse{
		Metadata:  doc.Metadata(),
		Labels:    doc.Labels(),
		TurnCount: doc.Len(),
	})
}

func (h *Handler) handleGetSample(w http.ResponseWriter, r *http.Request) {
	if h.dataset == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no dialogue document loaded")
		return
	}
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	s, err := h.dataset.Get(idx)
	if err != nil {
		if errors.Is(err, dialogue.ErrIndexOutOfRange) {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		observe.Logger(r.Context()).Error("get sample failed", "index", idx, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to build sample")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleBatchesJSONL(w http.ResponseWriter, r *http.Request) {
	if h.dataset == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no dialogue document loaded")
		return
	}
	h.streamBatches(w, r, h.dataset)
}

// ----------------------------
// Datalab
// ----------------------------

func (h *Handler) handleDatalabBatchesJSONL(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "datalab database not configured")
		return
	}
	id, err := parsePathInt64(r, "id")
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	start := time.Now()
	doc, err := datalab.GetDocument(r.Context(), h.db, id)
	if err != nil {
		switch {
		case errors.Is(err, datalab.ErrNotFound):
			writeJSONError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, datalab.ErrSchemaMissing):
			writeJSONError(w, http.StatusServiceUnavailable, "datalab schema missing")
		default:
			observe.Logger(r.Context()).Error("load datalab conversation failed", "conversation_id", id, "err", err)
			writeJSONError(w, http.StatusInternalServerError, "failed to load conversation")
		}
		return
	}
	h.metrics.RecordDocumentLoad(r.Context(), "datalab", time.Since(start).Seconds())

	h.streamBatches(w, r, dialogue.NewDataset(doc))
}

// streamBatches writes one epoch of ds as JSON lines, one batch per line.
// Query parameters batch_size, shuffle and seed override the defaults.
func (h *Handler) streamBatches(w http.ResponseWriter, r *http.Request, ds *dialogue.Dataset) {
	opts, err := h.loaderOptions(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	loader, err := dataloader.New[dialogue.Sample](ds, opts...)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Batch-Count", strconv.Itoa(loader.NumBatches()))
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	for batch, err := range loader.All() {
		if err != nil {
			// Headers are already sent; the truncated stream is the signal.
			observe.Logger(r.Context()).Error("batch stream failed", "err", err)
			return
		}
		if err := enc.Encode(batch); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (h *Handler) loaderOptions(r *http.Request) ([]dataloader.Option, error) {
	q := r.URL.Query()
	opts := append([]dataloader.Option(nil), h.loaderOpts...)
	opts = append(opts, dataloader.WithMetrics(h.metrics))

	if v := strings.TrimSpace(q.Get("batch_size")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("batch_size must be an integer")
		}
		opts = append(opts, dataloader.WithBatchSize(n))
	}
	if v := strings.TrimSpace(q.Get("shuffle")); v != "" {
		on, err := parseBool(v)
		if err != nil {
			return nil, errors.New("shuffle must be a boolean")
		}
		opts = append(opts, dataloader.WithShuffle(on))
	}
	if v := strings.TrimSpace(q.Get("seed")); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errors.New("seed must be a non-negative integer")
		}
		opts = append(opts, dataloader.WithSeed(seed))
	}
	return opts, nil
}

// ----------------------------
// Helpers
// ----------------------------

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true, nil
	case "0", "false", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func parsePathInt64(r *http.Request, param string) (int64, error) {
	v := r.PathValue(param)
	if v == "" {
		return 0, errors.New("missing")
	}
	return strconv.ParseInt(v, 10, 64)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
