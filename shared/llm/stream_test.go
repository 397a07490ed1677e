package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/readmeforge/shared/apperr"
)

const helloSSE = "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
	"data: [DONE]\n\n"

// scriptedBody returns one chunk per Read, then EOF. When block is set it
// waits for the request context instead of returning EOF.
type scriptedBody struct {
	ctx    context.Context
	chunks [][]byte
	block  bool
	closed bool
}

func (b *scriptedBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		if b.block {
			<-b.ctx.Done()
			return 0, b.ctx.Err()
		}
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	if n < len(b.chunks[0]) {
		b.chunks[0] = b.chunks[0][n:]
	} else {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *scriptedBody) Close() error {
	b.closed = true
	return nil
}

type stubTransport struct {
	status int
	chunks [][]byte
	block  bool

	req  *http.Request
	body *scriptedBody
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.req = req
	status := s.status
	if status == 0 {
		status = http.StatusOK
	}
	s.body = &scriptedBody{ctx: req.Context(), chunks: s.chunks, block: s.block}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       s.body,
		Request:    req,
	}, nil
}

func chunks(parts ...string) [][]byte {
	out := make([][]byte, 0, len(parts))
	for _, p := range parts {
		out = append(out, []byte(p))
	}
	return out
}

func newStubStreamer(rt http.RoundTripper, mutate func(*Config)) *Streamer {
	cfg := Config{HTTPClient: &http.Client{Transport: rt}}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func collect(t *testing.T, st *Stream) ([]string, error) {
	t.Helper()
	var frags []string
	for {
		frag, err := st.Recv()
		if err != nil {
			return frags, err
		}
		frags = append(frags, frag)
	}
}

func openAIRequest() Request {
	return Request{Provider: OpenAI, APIKey: "sk-test", System: "sys", Prompt: "write"}
}

func TestSSEAcrossEverySplitPoint(t *testing.T) {
	for i := 1; i < len(helloSSE); i++ {
		rt := &stubTransport{chunks: chunks(helloSSE[:i], helloSSE[i:])}
		st, err := newStubStreamer(rt, nil).Open(context.Background(), openAIRequest())
		require.NoError(t, err)

		frags, err := collect(t, st)
		require.ErrorIs(t, err, io.EOF, "split at %d", i)
		assert.Equal(t, []string{"Hel", "lo"}, frags, "split at %d", i)
		assert.True(t, rt.body.closed)
	}
}

func TestSSEByteAtATime(t *testing.T) {
	parts := make([]string, 0, len(helloSSE))
	for i := range helloSSE {
		parts = append(parts, helloSSE[i:i+1])
	}
	rt := &stubTransport{chunks: chunks(parts...)}
	st, err := newStubStreamer(rt, nil).Open(context.Background(), openAIRequest())
	require.NoError(t, err)

	frags, err := collect(t, st)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"Hel", "lo"}, frags)
}

func TestSSEMalformedLineIsSkipped(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\r\n\r\n" +
		"data: {not json\n\n" +
		": keep-alive comment\n" +
		"event: ping\n" +
		"data:{\"choices\":[{\"delta\":{\"content\":\"B\"}}]}\n\n"
	rt := &stubTransport{chunks: chunks(body)}
	st, err := newStubStreamer(rt, nil).Open(context.Background(), openAIRequest())
	require.NoError(t, err)

	frags, err := collect(t, st)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"A", "B"}, frags)
}

func TestSSEUnterminatedFinalLine(t *testing.T) {
	rt := &stubTransport{chunks: chunks("data: {\"choices\":[{\"delta\":{\"content\":\"tail\"}}]}")}
	st, err := newStubStreamer(rt, nil).Open(context.Background(), openAIRequest())
	require.NoError(t, err)

	frags, err := collect(t, st)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"tail"}, frags)
}

func TestSizeLimitStopsFragments(t *testing.T) {
	first := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n"
	second := "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"
	rt := &stubTransport{chunks: chunks(first, second)}
	s := newStubStreamer(rt, func(c *Config) { c.MaxBytes = int64(len(first) + 5) })

	st, err := s.Open(context.Background(), openAIRequest())
	require.NoError(t, err)

	frag, err := st.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hel", frag)

	_, err = st.Recv()
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.SizeLimitError))

	_, again := st.Recv()
	assert.Same(t, err, again, "terminal error is sticky")
	assert.True(t, rt.body.closed)
	assert.Error(t, rt.req.Context().Err(), "request context cancelled")
}

func TestSizeLimitDiscardsBufferedFragments(t *testing.T) {
	rt := &stubTransport{chunks: chunks(helloSSE)}
	s := newStubStreamer(rt, func(c *Config) { c.MaxBytes = 10 })

	st, err := s.Open(context.Background(), openAIRequest())
	require.NoError(t, err)

	frags, err := collect(t, st)
	assert.Empty(t, frags)
	assert.True(t, apperr.IsType(err, apperr.SizeLimitError))
}

func TestGeminiSingleFragment(t *testing.T) {
	doc := `{"candidates":[{"content":{"parts":[{"text":"Hi"}]}}]}`
	rt := &stubTransport{chunks: chunks(doc[:10], doc[10:30], doc[30:])}
	st, err := newStubStreamer(rt, nil).Open(context.Background(), Request{Provider: Gemini, APIKey: "g-key", Prompt: "p"})
	require.NoError(t, err)

	frags, err := collect(t, st)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"Hi"}, frags)
}

func TestGeminiUnparseableBody(t *testing.T) {
	rt := &stubTransport{chunks: chunks(`{"candidates":[`)}
	st, err := newStubStreamer(rt, nil).Open(context.Background(), Request{Provider: Gemini, APIKey: "g-key", Prompt: "p"})
	require.NoError(t, err)

	frags, err := collect(t, st)
	assert.Empty(t, frags)
	assert.True(t, apperr.IsType(err, apperr.DecodeError))
}

func TestGeminiEmptyCandidates(t *testing.T) {
	rt := &stubTransport{chunks: chunks(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`)}
	st, err := newStubStreamer(rt, nil).Open(context.Background(), Request{Provider: Gemini, APIKey: "g-key", Prompt: "p"})
	require.NoError(t, err)

	frags, err := collect(t, st)
	require.ErrorIs(t, err, io.EOF)
	assert.Empty(t, frags)
}

func TestUpstreamErrorBeforeFirstFragment(t *testing.T) {
	rt := &stubTransport{status: http.StatusUnauthorized, chunks: chunks(`{"error":{"message":"bad key"}}`)}
	st, err := newStubStreamer(rt, nil).Open(context.Background(), openAIRequest())
	require.Error(t, err)
	assert.Nil(t, st)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.UpstreamError, appErr.Type)
	assert.Equal(t, http.StatusUnauthorized, appErr.Status)
	assert.Equal(t, `{"error":{"message":"bad key"}}`, appErr.Body)
	assert.True(t, rt.body.closed)
}

func TestTimeoutCoversBodyRead(t *testing.T) {
	rt := &stubTransport{chunks: chunks("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n"), block: true}
	s := newStubStreamer(rt, func(c *Config) { c.Timeout = 50 * time.Millisecond })

	st, err := s.Open(context.Background(), openAIRequest())
	require.NoError(t, err)

	frags, err := collect(t, st)
	assert.Equal(t, []string{"x"}, frags)
	assert.True(t, apperr.IsType(err, apperr.TimeoutError), "got %v", err)
}

func TestCallerCancellation(t *testing.T) {
	rt := &stubTransport{block: true}
	ctx, cancel := context.WithCancel(context.Background())
	st, err := newStubStreamer(rt, nil).Open(ctx, openAIRequest())
	require.NoError(t, err)

	cancel()
	_, err = st.Recv()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseIsIdempotent(t *testing.T) {
	rt := &stubTransport{chunks: chunks(helloSSE)}
	st, err := newStubStreamer(rt, nil).Open(context.Background(), openAIRequest())
	require.NoError(t, err)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	_, err = st.Recv()
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, rt.body.closed)
}

func TestCloseCancelsUpstream(t *testing.T) {
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	}))
	defer srv.Close()

	s := New(Config{HTTPClient: srv.Client(), OpenAIURL: srv.URL})
	st, err := s.Open(context.Background(), openAIRequest())
	require.NoError(t, err)

	frag, err := st.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", frag)

	require.NoError(t, st.Close())
	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not cancelled")
	}
}

func TestNetworkError(t *testing.T) {
	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset by peer")
	})
	_, err := newStubStreamer(rt, nil).Open(context.Background(), openAIRequest())
	assert.True(t, apperr.IsType(err, apperr.NetworkError), "got %v", err)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestOpenSendsShapedRequest(t *testing.T) {
	rt := &stubTransport{chunks: chunks(helloSSE)}
	s := newStubStreamer(rt, func(c *Config) { c.OpenRouterURL = "https://router.test/v1/chat" })

	st, err := s.Open(context.Background(), Request{Provider: OpenRouter, APIKey: "or-key", Prompt: "p"})
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, http.MethodPost, rt.req.Method)
	assert.Equal(t, "https://router.test/v1/chat", rt.req.URL.String())
	assert.Equal(t, "Bearer or-key", rt.req.Header.Get("Authorization"))
	assert.Equal(t, DefaultReferer, rt.req.Header.Get("HTTP-Referer"))

	raw, err := io.ReadAll(rt.req.Body)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(raw, []byte(`"model":"anthropic/claude-3.5-sonnet"`)), string(raw))
	assert.True(t, strings.Contains(string(raw), `"stream":true`))
}
