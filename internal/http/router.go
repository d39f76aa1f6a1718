package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/service/redaction"
)

const maxRedactBody = 1 << 20

// ReadinessChecker reports whether the service accepts traffic.
type ReadinessChecker interface {
	Ready() bool
}

// Redactor masks PII in text.
type Redactor interface {
	Redact(ctx context.Context, text string) (models.RedactedTranscript, error)
}

type redactRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application ReadinessChecker, redactor Redactor) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/redact", redactHandler(redactor))
	})

	return r
}

// redactHandler accepts {"text": "..."} as JSON or the raw text as text/plain.
func redactHandler(redactor Redactor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRedactBody))
		if err != nil {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		text := string(body)
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType != "text/plain" {
			var req redactRequest
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid JSON body")
				return
			}
			text = req.Text
		}

		out, err := redactor.Redact(r.Context(), text)
		switch {
		case errors.Is(err, redaction.ErrMalformedText):
			writeError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		case err != nil:
			log.Error().Err(err).Str("requestId", middleware.GetReqID(r.Context())).Msg("Redaction failed")
			writeError(w, r, http.StatusInternalServerError, "redaction failed")
			return
		}

		// raw PII stays inside the service
		out.OriginalText = ""
		for i := range out.Matches {
			out.Matches[i].OriginalText = ""
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: middleware.GetReqID(r.Context())})
}
