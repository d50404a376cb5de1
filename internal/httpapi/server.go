// Package httpapi exposes the orchestrator commands over HTTP so editors
// without an embedded client can drive text generation.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"textgen/internal/orchestrator"
	"textgen/internal/state"
	"textgen/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	GenerateBudget(ctx context.Context, ed orchestrator.Editor, budget int) error
	Restart(ctx context.Context, ed orchestrator.Editor) error
	Quit(ed orchestrator.Editor) error
	ChangeTokenLength(ed orchestrator.Editor, n int) error
	ListModels() []types.Model
	Status() types.StatusResponse
	Ready() bool
}

// NewMux builds the router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	r.Use(MetricsMiddleware)
	if mw := corsMiddleware(corsOpts); mw != nil {
		r.Use(mw)
	}

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		models := svc.ListModels()
		if models == nil {
			models = []types.Model{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": models})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", handleGenerate(svc))
		r.Post("/restart", handleCommand(func(ctx context.Context, ed orchestrator.Editor) error {
			return svc.Restart(ctx, ed)
		}))
		r.Post("/stop", handleCommand(func(_ context.Context, ed orchestrator.Editor) error {
			return svc.Quit(ed)
		}))
		r.Put("/max_tokens", handleMaxTokens(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// handleGenerate godoc
// @Summary      Generate a continuation
// @Description  Sends the text as the prompt and returns it extended by the generated continuation. Backend failures return the original text with a message.
// @Tags         generate
// @Accept       json
// @Produce      json
// @Param        request  body      types.GenerateRequest  true  "Selection"
// @Success      200      {object}  types.GenerateResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /v1/generate [post]
func handleGenerate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.MaxTokens < 0 || req.MaxTokens > state.MaxTokens {
			writeJSONError(w, http.StatusBadRequest, state.RangeError{Given: req.MaxTokens}.Error())
			return
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelDebug {
			logEvent(lvl, r).Int("prompt_bytes", len(req.Text)).Int("max_tokens", req.MaxTokens).Msg("generate start")
		}

		ed := orchestrator.NewBuffer(req.Text)
		if req.Confirm {
			ed.WithAnswer("y")
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := svc.GenerateBudget(ctx, ed, req.MaxTokens); err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusFor(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure("worker_busy")
			}
			writeJSONError(w, status, err.Error())
			logEnd(r, lvl, status, start, err)
			return
		}
		text, replaced := ed.Result()
		writeJSON(w, http.StatusOK, types.GenerateResponse{Text: text, Replaced: replaced, Messages: ed.Messages()})
		logEnd(r, lvl, http.StatusOK, start, nil)
	}
}

// handleCommand runs a message-only command such as restart or stop.
func handleCommand(run func(ctx context.Context, ed orchestrator.Editor) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lvl := requestLogLevel(r)
		start := time.Now()
		ed := orchestrator.NewBuffer("")
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := run(ctx, ed); err != nil {
			status := statusFor(err)
			writeJSONError(w, status, err.Error())
			logEnd(r, lvl, status, start, err)
			return
		}
		writeJSON(w, http.StatusOK, types.MessagesResponse{Messages: ed.Messages()})
		logEnd(r, lvl, http.StatusOK, start, nil)
	}
}

func handleMaxTokens(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.MaxTokensRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		ed := orchestrator.NewBuffer("")
		if err := svc.ChangeTokenLength(ed, req.MaxTokens); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.MessagesResponse{Messages: ed.Messages()})
	}
}

// decodeJSON enforces the content type and body cap. It writes the error
// response itself and reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
