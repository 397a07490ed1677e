package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/readmeforge/shared/apperr"
	"github.com/forge-ai/readmeforge/shared/harvest"
	"github.com/forge-ai/readmeforge/shared/llm"
	"github.com/forge-ai/readmeforge/shared/relay"
	"github.com/forge-ai/readmeforge/shared/validate"
)

type snapshotHarvester struct{}

func (snapshotHarvester) Fetch(_ context.Context, ref validate.RepoRef, _ string) (*harvest.Snapshot, error) {
	return &harvest.Snapshot{Owner: ref.Owner, Repo: ref.Repo, Description: "demo"}, nil
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func geminiRelay(body string) *relay.Relay {
	return relay.New(snapshotHarvester{}, llm.New(llm.Config{
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body)), Request: r}, nil
		})},
	}), nil)
}

func TestGenerateWritesReadme(t *testing.T) {
	job, err := relay.Parse(relay.Request{URL: "https://github.com/octo/hello", APIKey: "k", Provider: "gemini"})
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := generate(context.Background(), geminiRelay(`{"candidates":[{"content":{"parts":[{"text":"# hello"}]}}]}`), job, &out)
	require.NoError(t, err)
	assert.Equal(t, "# hello", out.String())
	assert.Equal(t, int64(7), n)
}

func TestGenerateSurfacesDecodeFailure(t *testing.T) {
	job, err := relay.Parse(relay.Request{URL: "https://github.com/octo/hello", APIKey: "k", Provider: "gemini"})
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = generate(context.Background(), geminiRelay(`not json`), job, &out)
	assert.True(t, apperr.IsType(err, apperr.DecodeError))
	assert.Empty(t, out.String())
}

func TestRunGenerateValidatesFirst(t *testing.T) {
	err := runGenerate(context.Background(), generateOptions{
		req: relay.Request{URL: "https://example.com/a/b", APIKey: "k"},
		out: t.TempDir() + "/README.md",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ValidationError))
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	gen, _, err := root.Find([]string{"generate"})
	require.NoError(t, err)
	assert.Equal(t, "generate", gen.Name())
	assert.Equal(t, "README.md", gen.Flags().Lookup("out").DefValue)

	watch, _, err := root.Find([]string{"watch"})
	require.NoError(t, err)
	assert.Equal(t, "readme.#", watch.Flags().Lookup("pattern").DefValue)
}
