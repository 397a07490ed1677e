// Package harvest pulls a small, representative snapshot of a GitHub
// repository: its description and the contents of up to MaxFiles source and
// manifest files from the default branch.
package harvest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/github"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/forge-ai/readmeforge/shared/apperr"
	"github.com/forge-ai/readmeforge/shared/validate"
)

const (
	DefaultBaseURL     = "https://api.github.com/"
	DefaultUserAgent   = "readme-generator"
	DefaultMaxFiles    = 20
	DefaultMaxFileSize = 20000

	noDescription = "No description provided."
)

// Candidate is one entry of the recursive tree listing.
type Candidate struct {
	Path string
	Type string
	Size int
	SHA  string
	URL  string
}

type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type Snapshot struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	Description string `json:"description"`
	Files       []File `json:"files"`
}

type Config struct {
	BaseURL     string
	UserAgent   string
	HTTPClient  *http.Client
	MaxFiles    int
	MaxFileSize int
	Concurrency int
}

// Harvester holds static configuration only. Tokens are passed per call.
type Harvester struct {
	cfg Config
}

func New(cfg Config) *Harvester {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.MaxFiles
	}
	return &Harvester{cfg: cfg}
}

// client builds a go-github client for one call. The bearer token is only
// attached when non-empty and never outlives the call.
func (h *Harvester) client(token string) (*github.Client, error) {
	base, err := url.Parse(h.cfg.BaseURL)
	if err != nil {
		return nil, apperr.NewInternalError("invalid GitHub API base URL", err)
	}

	hc := *h.cfg.HTTPClient
	if token != "" {
		hc.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   h.cfg.HTTPClient.Transport,
		}
	}

	gh := github.NewClient(&hc)
	gh.BaseURL = base
	gh.UserAgent = h.cfg.UserAgent
	return gh, nil
}

// Fetch returns the repository snapshot or the first error encountered.
// A partial snapshot is never returned.
func (h *Harvester) Fetch(ctx context.Context, ref validate.RepoRef, token string) (*Snapshot, error) {
	gh, err := h.client(token)
	if err != nil {
		return nil, err
	}

	repo, _, err := gh.Repositories.Get(ctx, ref.Owner, ref.Repo)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, apperr.NewNotFoundError("Repository not found or private", map[string]any{
				"owner": ref.Owner,
				"repo":  ref.Repo,
			})
		}
		return nil, classify(ctx, err, "GitHub repo fetch")
	}

	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = "HEAD"
	}

	tree, _, err := gh.Git.GetTree(ctx, ref.Owner, ref.Repo, branch, true)
	if err != nil {
		return nil, classify(ctx, err, "Failed to fetch file tree")
	}

	entries := make([]Candidate, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entries = append(entries, Candidate{
			Path: e.GetPath(),
			Type: e.GetType(),
			Size: e.GetSize(),
			SHA:  e.GetSHA(),
			URL:  fmt.Sprintf("%srepos/%s/%s/git/blobs/%s", h.cfg.BaseURL, ref.Owner, ref.Repo, e.GetSHA()),
		})
	}
	selected := Select(entries, h.cfg.MaxFiles, h.cfg.MaxFileSize)

	log.Debug().
		Str("repo", ref.String()).
		Str("branch", branch).
		Int("entries", len(entries)).
		Int("selected", len(selected)).
		Msg("tree filtered")

	files := make([]File, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Concurrency)
	for i, c := range selected {
		g.Go(func() error {
			content, err := fetchBlob(gctx, gh, ref, c)
			if err != nil {
				return err
			}
			files[i] = File{Path: c.Path, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	description := repo.GetDescription()
	if description == "" {
		description = noDescription
	}

	return &Snapshot{
		Owner:       ref.Owner,
		Repo:        ref.Repo,
		Description: description,
		Files:       files,
	}, nil
}

func fetchBlob(ctx context.Context, gh *github.Client, ref validate.RepoRef, c Candidate) (string, error) {
	blob, _, err := gh.Git.GetBlob(ctx, ref.Owner, ref.Repo, c.SHA)
	if err != nil {
		return "", classify(ctx, err, "Failed to fetch file "+c.Path)
	}
	content, err := decodeContent(blob.GetContent(), blob.GetEncoding())
	if err != nil {
		return "", apperr.NewDecodeError("Failed to decode file "+c.Path, err)
	}
	return content, nil
}

// decodeContent strips all whitespace (GitHub wraps base64 at 60 columns)
// and replaces invalid UTF-8 with U+FFFD.
func decodeContent(content, encoding string) (string, error) {
	switch encoding {
	case "", "base64":
		raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(content), ""))
		if err != nil {
			return "", err
		}
		return strings.ToValidUTF8(string(raw), "\uFFFD"), nil
	case "utf-8":
		return strings.ToValidUTF8(content, "\uFFFD"), nil
	}
	return "", fmt.Errorf("unsupported encoding %q", encoding)
}

func statusOf(err error) int {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode
	}
	return 0
}

// classify maps a go-github error onto the taxonomy. go-github consumes the
// response body, so UpstreamError.Body holds its parsed Message.
func classify(ctx context.Context, err error, what string) error {
	var (
		respErr  *github.ErrorResponse
		rateErr  *github.RateLimitError
		abuseErr *github.AbuseRateLimitError
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperr.NewTimeoutError(what+" timed out", err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &rateErr):
		return apperr.NewUpstreamError(what+" failed", responseStatus(rateErr.Response), rateErr.Message)
	case errors.As(err, &abuseErr):
		return apperr.NewUpstreamError(what+" failed", responseStatus(abuseErr.Response), abuseErr.Message)
	case errors.As(err, &respErr):
		return apperr.NewUpstreamError(what+" failed", responseStatus(respErr.Response), respErr.Message)
	}
	return apperr.NewNetworkError(what+" failed", err)
}

func responseStatus(resp *http.Response) int {
	if resp == nil {
		return http.StatusBadGateway
	}
	return resp.StatusCode
}
