package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/fakeollama/internal/backend"
	"github.com/kalambet/fakeollama/internal/ollama"
	"github.com/kalambet/fakeollama/internal/storage"
	"github.com/kalambet/fakeollama/internal/transcode"
)

const maxRequestBodySize = 8 << 20 // 8MB

// UsageRecorder stores one ledger row per completed request.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u storage.Usage) error
}

// Deps holds the collaborators of the native-surface handler. All of them
// are read-only after construction and shared by every request.
type Deps struct {
	Backend *backend.Client
	Models  []string
	// Token enables bearer auth on every route except GET / when non-empty.
	Token         string
	ForceTerminal bool
	// Usage is optional; nil disables recording.
	Usage UsageRecorder
	// Now defaults to time.Now.
	Now func() time.Time
}

type handler struct {
	Deps
}

// NewHandler returns an http.Handler implementing the native chat surface on
// top of an OpenAI-compatible backend.
func NewHandler(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handler{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer, requestID, accessLog)

	r.Get("/", handleRoot)
	r.Head("/", handleRoot)

	r.Group(func(r chi.Router) {
		if d.Token != "" {
			r.Use(BearerAuth(d.Token))
		}
		r.Post("/api/chat", h.handleChat)
		r.Post("/v1/chat/completions", h.handleChat)
		r.Post("/api/generate", h.handleGenerate)
		r.Get("/api/tags", h.handleTags)
	})

	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, ollama.RunningBanner)
}

func (h *handler) handleTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ollama.Catalog(h.Models, h.Now()))
}

func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ollama.ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.forward(w, r, req)
}

func (h *handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req ollama.GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.forward(w, r, req.ChatRequest())
}

// forward dispatches req to the backend and writes the transcoded answer.
func (h *handler) forward(w http.ResponseWriter, r *http.Request, req ollama.ChatRequest) {
	slog.Debug("forwarding request",
		"route", r.URL.Path,
		"model", req.Model,
		"messages", len(req.Messages),
		"stream", req.Stream,
	)

	u := storage.Usage{Route: r.URL.Path, Model: req.Model, Stream: req.Stream}
	start := time.Now()
	defer func() {
		u.DurationMs = time.Since(start).Milliseconds()
		h.recordUsage(context.WithoutCancel(r.Context()), u)
	}()

	rc, err := h.Backend.Chat(r.Context(), ollama.ToBackendRequest(req))
	if err != nil {
		var se *backend.StatusError
		if errors.As(err, &se) {
			u.Status = se.Code
			passThrough(w, se)
			return
		}
		slog.Error("backend unreachable", "error", err, "model", req.Model)
		u.Status = http.StatusInternalServerError
		plainError(w, http.StatusInternalServerError, "Error forwarding request: %v", err)
		return
	}
	defer rc.Close()

	if req.Stream {
		dec := transcode.NewDecoder(rc, req.Model,
			transcode.WithForceTerminal(h.ForceTerminal),
			transcode.WithClock(h.Now),
		)
		u.Status = http.StatusOK
		err = h.streamResponse(w, dec)
		u.Records = dec.Emitted()
		switch {
		case err != nil:
			slog.Warn("stream ended early", "error", err, "model", req.Model, "records", u.Records)
		case !dec.Terminated():
			slog.Warn("backend stream ended without [DONE]", "model", req.Model, "records", u.Records)
		}
		return
	}

	rec, err := transcode.Aggregate(rc, req.Model, h.Now())
	if err != nil {
		slog.Error("aggregating backend response", "error", err, "model", req.Model)
		u.Status = http.StatusInternalServerError
		plainError(w, http.StatusInternalServerError, "Error processing backend response: %v", err)
		return
	}
	u.Status = http.StatusOK
	u.Records = 1
	u.PromptTokens = *rec.PromptEvalCount
	u.CompletionTokens = *rec.EvalCount
	writeJSON(w, http.StatusOK, rec)
}

// streamResponse writes each record of dec as one NDJSON line, flushing
// after every record. The backend is only read as fast as the client
// accepts output.
func (h *handler) streamResponse(w http.ResponseWriter, dec *transcode.Decoder) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		plainError(w, http.StatusInternalServerError, "streaming not supported")
		return errors.New("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for {
		rec, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
		flusher.Flush()
	}
}

func (h *handler) recordUsage(ctx context.Context, u storage.Usage) {
	if h.Usage == nil {
		return
	}
	if err := h.Usage.RecordUsage(ctx, u); err != nil {
		slog.Warn("recording usage", "error", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

// passThrough relays a backend error response unchanged.
func passThrough(w http.ResponseWriter, se *backend.StatusError) {
	if se.ContentType != "" {
		w.Header().Set("Content-Type", se.ContentType)
	}
	w.WriteHeader(se.Code)
	w.Write(se.Body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "error", err)
	}
}

// httpError writes an error in the native surface's {"error": "..."} shape.
func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func plainError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprintf(w, format, args...)
}
