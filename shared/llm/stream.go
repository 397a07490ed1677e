package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forge-ai/readmeforge/shared/apperr"
)

const (
	DefaultTimeout  = 60 * time.Second
	DefaultMaxBytes = 512 * 1024

	DefaultOpenAIURL       = "https://api.openai.com/v1/chat/completions"
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1/chat/completions"
	DefaultGeminiBaseURL   = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultOpenAIModel     = "gpt-4o"
	DefaultOpenRouterModel = "anthropic/claude-3.5-sonnet"
	DefaultGeminiModel     = "gemini-2.5-flash"
	DefaultReferer         = "https://github-readme-generator.com"

	readSize = 32 * 1024
)

// ErrClosed is returned by Recv after Close.
var ErrClosed = errors.New("llm: stream closed")

type Config struct {
	HTTPClient *http.Client
	// Timeout bounds the whole call: connect plus the entire body read.
	Timeout time.Duration
	// MaxBytes caps the raw bytes read from the provider.
	MaxBytes int64

	OpenAIURL     string
	OpenRouterURL string
	GeminiBaseURL string

	OpenAIModel     string
	OpenRouterModel string
	GeminiModel     string

	Referer string
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.OpenAIURL == "" {
		c.OpenAIURL = DefaultOpenAIURL
	}
	if c.OpenRouterURL == "" {
		c.OpenRouterURL = DefaultOpenRouterURL
	}
	if c.GeminiBaseURL == "" {
		c.GeminiBaseURL = DefaultGeminiBaseURL
	}
	if c.OpenAIModel == "" {
		c.OpenAIModel = DefaultOpenAIModel
	}
	if c.OpenRouterModel == "" {
		c.OpenRouterModel = DefaultOpenRouterModel
	}
	if c.GeminiModel == "" {
		c.GeminiModel = DefaultGeminiModel
	}
	if c.Referer == "" {
		c.Referer = DefaultReferer
	}
	return c
}

// Streamer opens provider streams. It holds static configuration only and is
// safe for concurrent use.
type Streamer struct {
	cfg Config
}

func New(cfg Config) *Streamer {
	return &Streamer{cfg: cfg.withDefaults()}
}

// Open sends req upstream and returns once response headers arrive. A non-2xx
// answer is returned as an UpstreamError before any fragment is produced.
func (s *Streamer) Open(ctx context.Context, req Request) (*Stream, error) {
	spec, err := BuildRequest(s.cfg, req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(spec.Body)
	if err != nil {
		return nil, apperr.NewInternalError("encode provider request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.URL, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, apperr.NewInternalError("build provider request", err)
	}
	httpReq.Header = spec.Header.Clone()

	started := time.Now()
	resp, err := s.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		cause := classifyContext(ctx, err)
		cancel()
		return nil, cause
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBytes))
		resp.Body.Close()
		cancel()
		log.Debug().
			Str("provider", req.Provider.String()).
			Int("status", resp.StatusCode).
			Str("body", truncate(raw, 512)).
			Msg("provider rejected request")
		return nil, apperr.NewUpstreamError("LLM API Error", resp.StatusCode, string(raw))
	}

	log.Debug().
		Str("provider", req.Provider.String()).
		Dur("ttfb", time.Since(started)).
		Msg("provider stream opened")

	return &Stream{
		ctx:      ctx,
		cancel:   cancel,
		body:     resp.Body,
		dec:      newDecoder(req.Provider),
		buf:      make([]byte, readSize),
		maxBytes: s.cfg.MaxBytes,
		provider: req.Provider,
	}, nil
}

// Stream is one upstream response. Recv must be called from a single
// goroutine; Close may be called from any goroutine.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	dec    decoder
	buf    []byte

	pending  []string
	received int64
	maxBytes int64
	err      error
	provider Provider

	closed  atomic.Bool
	release sync.Once
}

// Recv returns the next fragment, or io.EOF once the provider finished.
// After any error every further call returns that same error.
func (s *Stream) Recv() (string, error) {
	for {
		if s.err == nil && s.closed.Load() {
			s.pending = nil
			s.err = ErrClosed
		}
		if len(s.pending) > 0 {
			frag := s.pending[0]
			s.pending = s.pending[1:]
			return frag, nil
		}
		if s.err != nil {
			return "", s.err
		}
		s.fill()
	}
}

// Received returns the raw byte count read from the provider so far.
func (s *Stream) Received() int64 { return s.received }

// Close abandons the stream and releases the upstream connection.
func (s *Stream) Close() error {
	s.closed.Store(true)
	s.releaseConn()
	return nil
}

func (s *Stream) fill() {
	n, err := s.body.Read(s.buf)
	if n > 0 {
		s.received += int64(n)
		if s.received > s.maxBytes {
			s.fail(apperr.NewSizeLimitError("LLM response exceeded safety limit.", s.maxBytes))
			return
		}
		s.pending = append(s.pending, s.dec.Feed(s.buf[:n])...)
	}

	switch {
	case err == nil:
		return
	case errors.Is(err, io.EOF):
		tail, ferr := s.dec.Finish()
		if ferr != nil {
			s.fail(ferr)
			return
		}
		s.pending = append(s.pending, tail...)
		s.err = io.EOF
		s.releaseConn()
	case s.closed.Load():
		s.fail(ErrClosed)
	default:
		s.fail(classifyContext(s.ctx, err))
	}
}

// fail ends the stream; fragments not yet delivered are dropped.
func (s *Stream) fail(err error) {
	s.pending = nil
	s.err = err
	s.releaseConn()
}

func (s *Stream) releaseConn() {
	s.release.Do(func() {
		s.cancel()
		_ = s.body.Close()

		ev := log.Debug().
			Str("provider", s.provider.String()).
			Int64("bytes", s.received)
		if d, ok := s.dec.(*sseDecoder); ok {
			ev = ev.Int("malformed", d.malformed)
		}
		ev.Msg("provider stream released")
	})
}

func classifyContext(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperr.NewTimeoutError("LLM response aborted or timed out.", err)
	case errors.Is(ctx.Err(), context.Canceled):
		return context.Canceled
	}
	return apperr.NewNetworkError("LLM provider unreachable", err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
