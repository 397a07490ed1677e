package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forge-ai/readmeforge/shared/harvest"
	"github.com/forge-ai/readmeforge/shared/llm"
	"github.com/forge-ai/readmeforge/shared/mq"
	"github.com/forge-ai/readmeforge/shared/relay"
	"github.com/forge-ai/readmeforge/shared/validate"
)

type generateOptions struct {
	req      relay.Request
	out      string
	amqpURL  string
	timeout  time.Duration
	maxFiles int
}

func newGenerateCmd() *cobra.Command {
	var o generateOptions
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a README for one repository",
		Example: `  readmegen generate --url https://github.com/octo/hello --provider gemini --style light
  readmegen generate --url https://github.com/octo/hello --out -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runGenerate(ctx, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.req.URL, "url", "", "GitHub repository URL")
	f.StringVar(&o.req.Provider, "provider", "openai", "LLM provider: openai, openrouter or gemini")
	f.StringVar(&o.req.APIKey, "api-key", os.Getenv("LLM_API_KEY"), "Provider API key (default $LLM_API_KEY)")
	f.StringVar(&o.req.GitHubToken, "github-token", os.Getenv("GITHUB_TOKEN"), "GitHub token for private repos and rate limits (default $GITHUB_TOKEN)")
	f.StringVar(&o.req.Style, "style", "normal", "README depth: light, simple, normal, medium or deep")
	f.StringVar(&o.req.ProjectDetails, "details", "", "Extra project context for the prompt")
	f.StringVar(&o.req.CustomEndpoint, "endpoint", "", "OpenRouter-compatible endpoint override")
	f.StringVar(&o.req.Model, "model", "", "Model override")
	f.StringVarP(&o.out, "out", "o", "README.md", "Output file, or - for stdout")
	f.StringVar(&o.amqpURL, "amqp", os.Getenv("AMQP_URL"), "Publish lifecycle events to this broker")
	f.DurationVar(&o.timeout, "timeout", llm.DefaultTimeout, "Whole-stream provider timeout")
	f.IntVar(&o.maxFiles, "max-files", harvest.DefaultMaxFiles, "Maximum files sent to the model")
	cmd.MarkFlagRequired("url")
	return cmd
}

func runGenerate(ctx context.Context, o generateOptions) error {
	job, err := relay.Parse(o.req)
	if err != nil {
		return err
	}

	var publisher mq.Publisher
	if o.amqpURL != "" {
		broker, err := mq.New(o.amqpURL)
		if err != nil {
			return fmt.Errorf("mq connect: %w", err)
		}
		defer broker.Close()
		publisher = broker
	}

	rl := relay.New(
		harvest.New(harvest.Config{
			HTTPClient: &http.Client{Timeout: 30 * time.Second},
			MaxFiles:   o.maxFiles,
		}),
		llm.New(llm.Config{
			HTTPClient: &http.Client{Transport: validate.GuardedTransport()},
			Timeout:    o.timeout,
		}),
		publisher,
	)

	if o.out == "-" {
		_, err := generate(ctx, rl, job, os.Stdout)
		return err
	}

	file, err := os.Create(o.out)
	if err != nil {
		return err
	}

	bar := pb.Full.Start64(0)
	bar.Set(pb.Bytes, true)
	n, err := generate(ctx, rl, job, bar.NewProxyWriter(file))
	bar.Finish()

	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(o.out)
		return err
	}
	log.Info().Str("file", o.out).Int64("bytes", n).Str("repo", job.Ref.String()).Msg("README written")
	return nil
}

// generate copies one session's fragments into w and reports bytes written.
func generate(ctx context.Context, rl *relay.Relay, job *relay.Job, w io.Writer) (int64, error) {
	sess, err := rl.Start(ctx, job, "cli")
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	var written int64
	for {
		frag, err := sess.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := io.WriteString(w, frag)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}
