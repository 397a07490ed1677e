// Package llm relays a prompt to one of three LLM providers and exposes the
// answer as a sequence of text fragments. OpenAI and OpenRouter stream
// server-sent events; Gemini answers with one JSON document that is buffered
// and emitted as a single fragment.
package llm

import "strings"

// Provider selects a request shape and a response decoder.
type Provider string

const (
	OpenAI     Provider = "openai"
	OpenRouter Provider = "openrouter"
	Gemini     Provider = "gemini"
)

// ParseProvider maps user input to a Provider. Unknown values fall back to
// OpenAI.
func ParseProvider(s string) Provider {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case OpenRouter, Gemini:
		return p
	}
	return OpenAI
}

// Streaming reports whether the provider answers with an event stream.
func (p Provider) Streaming() bool { return p != Gemini }

func (p Provider) String() string { return string(p) }
