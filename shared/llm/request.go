package llm

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/forge-ai/readmeforge/shared/apperr"
	"github.com/forge-ai/readmeforge/shared/validate"
)

// Request carries everything one call needs, credentials included. Nothing
// in it is retained by the Streamer.
type Request struct {
	Provider Provider
	APIKey   string
	// Endpoint overrides the OpenRouter URL. Ignored for other providers.
	Endpoint string
	System   string
	Prompt   string
	// Model overrides the configured model for the provider.
	Model string
}

// RequestSpec is the fully shaped upstream request.
type RequestSpec struct {
	URL    string
	Header http.Header
	Body   any
}

var modelPattern = regexp.MustCompile(`^[A-Za-z0-9._:/-]+$`)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatBody struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiBody struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

// BuildRequest shapes req for its provider.
func BuildRequest(cfg Config, req Request) (RequestSpec, error) {
	cfg = cfg.withDefaults()
	if req.APIKey == "" {
		return RequestSpec{}, apperr.NewValidationError("API key is required.")
	}

	model, err := resolveModel(cfg, req)
	if err != nil {
		return RequestSpec{}, err
	}

	switch req.Provider {
	case Gemini:
		return geminiRequest(cfg, req, model), nil
	case OpenRouter:
		url := cfg.OpenRouterURL
		if req.Endpoint != "" {
			endpoint, err := validate.CustomEndpoint(req.Endpoint)
			if err != nil {
				return RequestSpec{}, err
			}
			url = endpoint
		}
		spec := chatRequest(url, req, model)
		spec.Header.Set("HTTP-Referer", cfg.Referer)
		return spec, nil
	default:
		return chatRequest(cfg.OpenAIURL, req, model), nil
	}
}

func resolveModel(cfg Config, req Request) (string, error) {
	var model string
	switch req.Provider {
	case Gemini:
		model = cfg.GeminiModel
	case OpenRouter:
		model = cfg.OpenRouterModel
	default:
		model = cfg.OpenAIModel
	}
	if req.Model == "" {
		return model, nil
	}
	if !modelPattern.MatchString(req.Model) || (req.Provider == Gemini && strings.Contains(req.Model, "/")) {
		return "", apperr.NewValidationError("Model name contains invalid characters.")
	}
	return req.Model, nil
}

func chatRequest(url string, req Request, model string) RequestSpec {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "text/event-stream")
	h.Set("Authorization", "Bearer "+req.APIKey)

	return RequestSpec{
		URL:    url,
		Header: h,
		Body:   chatBody{Model: model, Messages: messages, Stream: true},
	}
}

// geminiRequest sends the key as a header so it never lands in a URL.
func geminiRequest(cfg Config, req Request, model string) RequestSpec {
	body := geminiBody{Contents: []geminiContent{{Parts: []geminiPart{{Text: req.Prompt}}}}}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("x-goog-api-key", req.APIKey)

	return RequestSpec{
		URL:    strings.TrimRight(cfg.GeminiBaseURL, "/") + "/" + model + ":generateContent",
		Header: h,
		Body:   body,
	}
}
