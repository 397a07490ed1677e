// Package relay runs one README generation: validated input, repository
// harvest, prompt assembly and the provider stream, with lifecycle events
// published along the way. The gateway and the CLI both drive it.
package relay

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/forge-ai/readmeforge/shared/apperr"
	"github.com/forge-ai/readmeforge/shared/llm"
	"github.com/forge-ai/readmeforge/shared/prompt"
	"github.com/forge-ai/readmeforge/shared/validate"
)

// Request is the caller-facing input, as sent by the web client.
type Request struct {
	URL            string `json:"url"`
	APIKey         string `json:"apiKey"`
	Provider       string `json:"provider"`
	Style          string `json:"style"`
	ProjectDetails string `json:"projectDetails"`
	GitHubToken    string `json:"githubToken"`
	CustomEndpoint string `json:"customEndpoint"`
	Model          string `json:"model,omitempty"`
}

// Job is a validated Request. It holds credentials and must not be logged
// other than through MarshalZerologObject.
type Job struct {
	Ref         validate.RepoRef
	Provider    llm.Provider
	Style       prompt.Style
	Details     string
	APIKey      string
	GitHubToken string
	Endpoint    string
	Model       string
}

// Parse validates req. Every failure is a ValidationError whose message is
// safe to show the caller.
func Parse(req Request) (*Job, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" || len(url) > validate.MaxURLLength {
		return nil, apperr.NewValidationError("Missing URL or URL is too long")
	}

	apiKey, err := validate.Secret(req.APIKey, "API key")
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, apperr.NewValidationError("Missing URL or API Key")
	}

	ref, err := validate.RepositoryURL(url)
	if err != nil {
		return nil, apperr.NewValidationError("Please provide a valid GitHub repository URL.")
	}

	job := &Job{
		Ref:      ref,
		Provider: llm.ParseProvider(req.Provider),
		Style:    prompt.NormalizeStyle(req.Style),
		Details:  validate.Text(req.ProjectDetails),
		APIKey:   apiKey,
		Model:    strings.TrimSpace(req.Model),
	}

	if job.GitHubToken, err = validate.Secret(req.GitHubToken, "GitHub token"); err != nil {
		return nil, err
	}

	if job.Provider == llm.OpenRouter {
		if job.Endpoint, err = validate.CustomEndpoint(req.CustomEndpoint); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// MarshalZerologObject logs the non-secret parts of the job.
func (j *Job) MarshalZerologObject(e *zerolog.Event) {
	e.Str("repo", j.Ref.String()).
		Str("provider", j.Provider.String()).
		Str("style", string(j.Style)).
		Bool("token", j.GitHubToken != "").
		Bool("endpoint", j.Endpoint != "")
	if j.Model != "" {
		e.Str("model", j.Model)
	}
}
