// gateway is the public-facing README generation service.
// It accepts a repository URL and provider credentials over HTTP or
// WebSocket, harvests the repository from GitHub, and streams the
// provider's README text straight back to the caller. Lifecycle events
// go to RabbitMQ when AMQP_URL is set.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/forge-ai/readmeforge/services/gateway/internal"
	"github.com/forge-ai/readmeforge/shared/harvest"
	"github.com/forge-ai/readmeforge/shared/llm"
	"github.com/forge-ai/readmeforge/shared/mq"
	"github.com/forge-ai/readmeforge/shared/relay"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	_ = godotenv.Load()

	cfg := internal.ConfigFromEnv()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var publisher mq.Publisher = mq.Nop{}
	if cfg.AMQPURL != "" {
		broker, err := mq.New(cfg.AMQPURL)
		if err != nil {
			log.Fatal().Err(err).Msg("mq connect")
		}
		defer broker.Close()
		publisher = broker
	} else {
		log.Warn().Msg("AMQP_URL not set, generation events disabled")
	}

	rl := relay.New(
		harvest.New(cfg.HarvestConfig()),
		llm.New(cfg.LLMConfig()),
		publisher,
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           internal.NewServer(cfg, rl).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; cancel() }()

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Info().Str("port", cfg.Port).Bool("dial_guard", cfg.DialGuard).Msg("gateway online")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}
