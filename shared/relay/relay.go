package relay

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/forge-ai/readmeforge/shared/apperr"
	"github.com/forge-ai/readmeforge/shared/events"
	"github.com/forge-ai/readmeforge/shared/harvest"
	"github.com/forge-ai/readmeforge/shared/llm"
	"github.com/forge-ai/readmeforge/shared/mq"
	"github.com/forge-ai/readmeforge/shared/prompt"
	"github.com/forge-ai/readmeforge/shared/validate"
)

const (
	StageHarvest = "harvest"
	StageStream  = "stream"

	publishTimeout = 2 * time.Second
)

type Harvester interface {
	Fetch(ctx context.Context, ref validate.RepoRef, token string) (*harvest.Snapshot, error)
}

type Streamer interface {
	Open(ctx context.Context, req llm.Request) (*llm.Stream, error)
}

// StageError reports which step failed before streaming started.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

type Relay struct {
	harvester Harvester
	streamer  Streamer
	events    mq.Publisher
}

// New wires a Relay. A nil publisher disables events.
func New(h Harvester, s Streamer, p mq.Publisher) *Relay {
	if p == nil {
		p = mq.Nop{}
	}
	return &Relay{harvester: h, streamer: s, events: p}
}

// Session is one running generation. Next must be called from one goroutine.
type Session struct {
	ID string

	relay     *Relay
	gen       events.Generation
	stream    *llm.Stream
	files     int
	fragments int
	started   time.Time
	finished  bool
}

// Start harvests the repository and opens the provider stream. Errors are
// *StageError values wrapping the underlying apperr.
func (r *Relay) Start(ctx context.Context, job *Job, transport string) (*Session, error) {
	gen := events.Generation{
		GenerationID: uuid.New().String(),
		Owner:        job.Ref.Owner,
		Repo:         job.Ref.Repo,
		Provider:     job.Provider.String(),
		Style:        string(job.Style),
		Transport:    transport,
	}
	started := time.Now()
	logger := log.With().Str("generation", gen.GenerationID).Logger()
	logger.Info().Object("job", job).Str("transport", transport).Msg("generation requested")

	r.publish(events.GenerationRequested, events.GenerationRequestedPayload{
		Generation:  gen,
		HasToken:    job.GitHubToken != "",
		HasEndpoint: job.Endpoint != "",
	})

	snap, err := r.harvester.Fetch(ctx, job.Ref, job.GitHubToken)
	if err != nil {
		logger.Warn().Err(err).Msg("harvest failed")
		r.publishFailure(gen, StageHarvest, err, 0, started)
		return nil, &StageError{Stage: StageHarvest, Err: err}
	}
	logger.Debug().Int("files", len(snap.Files)).Msg("repository harvested")

	stream, err := r.streamer.Open(ctx, llm.Request{
		Provider: job.Provider,
		APIKey:   job.APIKey,
		Endpoint: job.Endpoint,
		System:   prompt.System,
		Prompt:   prompt.Build(snap, job.Style, job.Details),
		Model:    job.Model,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("provider stream failed to open")
		r.publishFailure(gen, StageStream, err, 0, started)
		return nil, &StageError{Stage: StageStream, Err: err}
	}

	return &Session{
		ID:      gen.GenerationID,
		relay:   r,
		gen:     gen,
		stream:  stream,
		files:   len(snap.Files),
		started: started,
	}, nil
}

// Next returns the next fragment, io.EOF at the end, or the terminal error.
func (s *Session) Next() (string, error) {
	frag, err := s.stream.Recv()
	if err == nil {
		s.fragments++
		return frag, nil
	}
	if !s.finished {
		s.finished = true
		if errors.Is(err, io.EOF) {
			log.Info().
				Str("generation", s.ID).
				Int("fragments", s.fragments).
				Int64("bytes", s.stream.Received()).
				Dur("took", time.Since(s.started)).
				Msg("generation completed")
			s.relay.publish(events.GenerationCompleted, events.GenerationCompletedPayload{
				Generation: s.gen,
				Files:      s.files,
				Fragments:  s.fragments,
				Bytes:      s.stream.Received(),
				DurationMS: time.Since(s.started).Milliseconds(),
			})
		} else {
			log.Warn().Err(err).Str("generation", s.ID).Int("fragments", s.fragments).Msg("generation aborted mid-stream")
			s.relay.publishFailure(s.gen, StageStream, err, s.fragments, s.started)
		}
	}
	return "", err
}

// Fragments returns how many fragments have been delivered.
func (s *Session) Fragments() int { return s.fragments }

// Close releases the provider connection. A session closed before it
// finished is reported as cancelled.
func (s *Session) Close() error {
	if !s.finished {
		s.finished = true
		s.relay.publishFailure(s.gen, StageStream, context.Canceled, s.fragments, s.started)
	}
	return s.stream.Close()
}

func (r *Relay) publishFailure(gen events.Generation, stage string, err error, fragments int, started time.Time) {
	p := events.GenerationFailedPayload{
		Generation: gen,
		Stage:      stage,
		Kind:       Kind(err),
		Fragments:  fragments,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if appErr, ok := apperr.As(err); ok {
		p.Status = appErr.Status
	}
	r.publish(events.GenerationFailed, p)
}

// publish is best effort and detached from the request context, so a
// client disconnect still gets reported.
func (r *Relay) publish(routingKey string, payload any) {
	body, err := events.Wrap(routingKey, payload)
	if err != nil {
		log.Error().Err(err).Str("key", routingKey).Msg("event encode failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.events.Publish(ctx, routingKey, body); err != nil {
		log.Warn().Err(err).Str("key", routingKey).Msg("event publish failed")
	}
}

// Kind classifies err for events and logs.
func Kind(err error) string {
	if appErr, ok := apperr.As(err); ok {
		return string(appErr.Type)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, llm.ErrClosed) {
		return "CANCELLED"
	}
	return string(apperr.InternalError)
}
