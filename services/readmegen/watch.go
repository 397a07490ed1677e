package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forge-ai/readmeforge/shared/events"
	"github.com/forge-ai/readmeforge/shared/mq"
)

func newWatchCmd() *cobra.Command {
	var amqpURL, pattern string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail generation lifecycle events from RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			if amqpURL == "" {
				return errors.New("--amqp or AMQP_URL is required")
			}
			broker, err := mq.New(amqpURL)
			if err != nil {
				return err
			}
			defer broker.Close()

			deliveries, err := broker.Tail(pattern)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info().Str("pattern", pattern).Msg("watching events")
			for {
				select {
				case <-ctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return errors.New("event stream closed by broker")
					}
					env, err := events.UnwrapEnvelope(d.Body)
					if err != nil {
						log.Warn().Err(err).Msg("skipping malformed event")
						continue
					}
					log.Info().
						Str("key", env.RoutingKey).
						Time("ts", env.Timestamp).
						RawJSON("payload", env.Payload).
						Msg("event")
				}
			}
		},
	}
	cmd.Flags().StringVar(&amqpURL, "amqp", os.Getenv("AMQP_URL"), "RabbitMQ URL (default $AMQP_URL)")
	cmd.Flags().StringVar(&pattern, "pattern", events.AllGenerations, "Routing key pattern to bind")
	return cmd
}
