package internal

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/forge-ai/readmeforge/shared/harvest"
	"github.com/forge-ai/readmeforge/shared/llm"
	"github.com/forge-ai/readmeforge/shared/validate"
)

type Config struct {
	Port        string
	AMQPURL     string
	CORSOrigins []string
	DialGuard   bool
	Debug       bool

	LLMTimeout      time.Duration
	LLMMaxBytes     int64
	OpenAIURL       string
	OpenRouterURL   string
	GeminiBaseURL   string
	OpenAIModel     string
	OpenRouterModel string
	GeminiModel     string
	Referer         string

	GitHubAPIURL       string
	HarvestMaxFiles    int
	HarvestMaxFileSize int
}

func ConfigFromEnv() Config {
	return Config{
		Port:        env("PORT", "8080"),
		AMQPURL:     env("AMQP_URL", ""),
		CORSOrigins: envList("CORS_ORIGINS", []string{"*"}),
		DialGuard:   envBool("DIAL_GUARD", true),
		Debug:       envBool("DEBUG", false),

		LLMTimeout:      envDuration("LLM_TIMEOUT", llm.DefaultTimeout),
		LLMMaxBytes:     int64(envInt("LLM_MAX_STREAM_BYTES", llm.DefaultMaxBytes)),
		OpenAIURL:       env("OPENAI_URL", llm.DefaultOpenAIURL),
		OpenRouterURL:   env("OPENROUTER_URL", llm.DefaultOpenRouterURL),
		GeminiBaseURL:   env("GEMINI_BASE_URL", llm.DefaultGeminiBaseURL),
		OpenAIModel:     env("OPENAI_MODEL", llm.DefaultOpenAIModel),
		OpenRouterModel: env("OPENROUTER_MODEL", llm.DefaultOpenRouterModel),
		GeminiModel:     env("GEMINI_MODEL", llm.DefaultGeminiModel),
		Referer:         env("OPENROUTER_REFERER", llm.DefaultReferer),

		GitHubAPIURL:       env("GITHUB_API_URL", harvest.DefaultBaseURL),
		HarvestMaxFiles:    envInt("HARVEST_MAX_FILES", harvest.DefaultMaxFiles),
		HarvestMaxFileSize: envInt("HARVEST_MAX_FILE_SIZE", harvest.DefaultMaxFileSize),
	}
}

// LLMConfig builds the provider adapter config. With DialGuard on, the
// transport refuses private addresses after DNS resolution.
func (c Config) LLMConfig() llm.Config {
	client := &http.Client{}
	if c.DialGuard {
		client.Transport = validate.GuardedTransport()
	}
	return llm.Config{
		HTTPClient:      client,
		Timeout:         c.LLMTimeout,
		MaxBytes:        c.LLMMaxBytes,
		OpenAIURL:       c.OpenAIURL,
		OpenRouterURL:   c.OpenRouterURL,
		GeminiBaseURL:   c.GeminiBaseURL,
		OpenAIModel:     c.OpenAIModel,
		OpenRouterModel: c.OpenRouterModel,
		GeminiModel:     c.GeminiModel,
		Referer:         c.Referer,
	}
}

func (c Config) HarvestConfig() harvest.Config {
	return harvest.Config{
		BaseURL:     c.GitHubAPIURL,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		MaxFiles:    c.HarvestMaxFiles,
		MaxFileSize: c.HarvestMaxFileSize,
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		n, _ := strconv.Atoi(v)
		if n > 0 {
			return n
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envList(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
