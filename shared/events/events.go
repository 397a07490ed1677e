// Package events defines the generation lifecycle messages published on
// RabbitMQ. Payloads describe what happened to a request; they never carry
// credentials, prompts or generated text.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Routing keys on the readmeforge.events topic exchange.
const (
	GenerationRequested = "readme.requested"
	GenerationCompleted = "readme.completed"
	GenerationFailed    = "readme.failed"

	// AllGenerations matches every lifecycle key.
	AllGenerations = "readme.#"
)

// Envelope wraps every message.
type Envelope struct {
	ID         string          `json:"id"`
	RoutingKey string          `json:"routing_key"`
	Timestamp  time.Time       `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func Wrap(routingKey string, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", routingKey, err)
	}
	return json.Marshal(Envelope{
		ID:         uuid.New().String(),
		RoutingKey: routingKey,
		Timestamp:  time.Now().UTC(),
		Payload:    p,
	})
}

func Unwrap[T any](raw []byte) (*T, error) {
	env, err := UnwrapEnvelope(raw)
	if err != nil {
		return nil, err
	}
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.RoutingKey, err)
	}
	return &t, nil
}

func UnwrapEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// Generation identifies one request through its lifecycle.
type Generation struct {
	GenerationID string `json:"generation_id"`
	Owner        string `json:"owner"`
	Repo         string `json:"repo"`
	Provider     string `json:"provider"`
	Style        string `json:"style"`
	Transport    string `json:"transport"` // "http" | "ws" | "cli"
}

type GenerationRequestedPayload struct {
	Generation
	HasToken    bool `json:"has_token"`
	HasEndpoint bool `json:"has_endpoint"`
}

type GenerationCompletedPayload struct {
	Generation
	Files      int   `json:"files"`
	Fragments  int   `json:"fragments"`
	Bytes      int64 `json:"bytes"`
	DurationMS int64 `json:"duration_ms"`
}

type GenerationFailedPayload struct {
	Generation
	// Stage is "harvest" or "stream".
	Stage      string `json:"stage"`
	Kind       string `json:"kind"`
	Status     int    `json:"status,omitempty"`
	Fragments  int    `json:"fragments"`
	DurationMS int64  `json:"duration_ms"`
}
