package internal

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/rs/zerolog/log"

	"github.com/forge-ai/readmeforge/shared/apperr"
	"github.com/forge-ai/readmeforge/shared/relay"
)

const (
	maxBodyBytes = 64 << 10

	msgHarvestFailed  = "Unable to fetch repository data. Verify the URL and GitHub token."
	msgProviderFailed = "Unable to reach the LLM provider."
	msgStreamFailed   = "LLM stream failed."
)

type Server struct {
	cfg     Config
	relay   *relay.Relay
	active  atomic.Int64
	started time.Time
}

func NewServer(cfg Config, r *relay.Relay) *Server {
	return &Server{cfg: cfg, relay: r, started: time.Now()}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/api/generate", s.handleGenerate)
	r.Get("/api/status", s.handleStatus)
	r.Get("/ws/generate", s.serveWS)
	return r
}

// handleGenerate streams raw README text back as it arrives. Failures before
// the first byte are JSON errors; a failure after that aborts the response.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		jsonErr(w, r, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	var req relay.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonErr(w, r, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonErr(w, r, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	job, err := relay.Parse(req)
	if err != nil {
		jsonErr(w, r, validationMessage(err), http.StatusBadRequest)
		return
	}

	sess, err := s.relay.Start(r.Context(), job, "http")
	if err != nil {
		msg, code := startFailure(err)
		jsonErr(w, r, msg, code)
		return
	}
	defer sess.Close()

	s.active.Add(1)
	defer s.active.Add(-1)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	for {
		frag, err := sess.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			// Headers are gone; only a broken connection tells the client.
			panic(http.ErrAbortHandler)
		}
		if _, err := io.WriteString(w, frag); err != nil {
			return
		}
		_ = rc.Flush()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, r, map[string]any{
		"status":         "online",
		"active_streams": s.active.Load(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"version":        "1.0.0",
	}, http.StatusOK)
}

func validationMessage(err error) string {
	if appErr, ok := apperr.As(err); ok && appErr.Type == apperr.ValidationError {
		return appErr.Message
	}
	return "Invalid request"
}

// startFailure maps a pre-stream failure to a caller-safe message. Upstream
// bodies never reach the caller.
func startFailure(err error) (string, int) {
	var stageErr *relay.StageError
	if errors.As(err, &stageErr) && stageErr.Stage == relay.StageHarvest {
		return msgHarvestFailed, http.StatusBadGateway
	}
	if apperr.IsType(err, apperr.ValidationError) {
		return validationMessage(err), http.StatusBadRequest
	}
	return msgProviderFailed, http.StatusBadGateway
}

// streamFailure is the message sent over WebSocket when a stream dies.
func streamFailure(err error) string {
	if apperr.IsType(err, apperr.TimeoutError) || apperr.IsType(err, apperr.SizeLimitError) {
		appErr, _ := apperr.As(err)
		return appErr.Message
	}
	return msgStreamFailed
}

func jsonOK(w http.ResponseWriter, r *http.Request, v any, code int) {
	render.Status(r, code)
	render.JSON(w, r, v)
}

func jsonErr(w http.ResponseWriter, r *http.Request, msg string, code int) {
	render.Status(r, code)
	render.JSON(w, r, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}
