// Package llmproxy forwards chat translation requests to an upstream LLM
// provider behind a shared key check and a per-provider request window.
package llmproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"quill/api/internal/metrics"
	"quill/api/internal/ratelimit"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate_limited")
	ErrMissingMessages = errors.New("missing messages array")
	ErrNoContent       = errors.New("no content")
	ErrUpstream        = errors.New("upstream error")
	ErrUnknownProvider = errors.New("unknown provider")
)

// RateLimitError is returned when the provider window is exhausted.
type RateLimitError struct {
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate_limited: retry after %ds", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

const DefaultMaxPerMinute = 60

type Provider struct {
	Name         string
	Endpoint     string
	DefaultModel string
	// UpstreamKey authenticates against the provider and is also the key
	// callers must present.
	UpstreamKey  string
	MaxPerMinute int
}

// DeepSeek and OpenAI return the stock provider definitions.
func DeepSeek(key string, maxPerMinute int) Provider {
	return Provider{Name: "deepseek", Endpoint: "https://api.deepseek.com/chat/completions", DefaultModel: "deepseek-chat", UpstreamKey: key, MaxPerMinute: maxPerMinute}
}

func OpenAI(key string, maxPerMinute int) Provider {
	return Provider{Name: "openai", Endpoint: "https://api.openai.com/v1/chat/completions", DefaultModel: "gpt-5-mini", UpstreamKey: key, MaxPerMinute: maxPerMinute}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TranslateParams struct {
	Provider string            `json:"provider,omitempty"`
	APIKey   string            `json:"api_key"`
	Messages []json.RawMessage `json:"messages"`
	Model    string            `json:"model,omitempty"`
}

type Options struct {
	Limiter ratelimit.Limiter
	// Echo skips the upstream call and returns the normalized request.
	Echo       bool
	MaxRetries int
	Timeout    time.Duration
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Proxy serves one provider.
type Proxy struct {
	provider Provider
	limiter  ratelimit.Limiter
	client   *http.Client
	echo     bool
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func New(provider Provider, opts Options) (*Proxy, error) {
	if provider.UpstreamKey == "" {
		return nil, fmt.Errorf("provider %s: missing upstream key", provider.Name)
	}
	if provider.MaxPerMinute <= 0 {
		provider.MaxPerMinute = DefaultMaxPerMinute
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewMemory(ratelimit.DefaultWindow)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	logger := opts.Logger.With().Str("provider", provider.Name).Logger()

	retrying := retryablehttp.NewClient()
	retrying.RetryMax = opts.MaxRetries
	retrying.HTTPClient.Timeout = opts.Timeout
	retrying.Logger = leveledLogger{log: logger}

	return &Proxy{
		provider: provider,
		limiter:  opts.Limiter,
		client:   retrying.StandardClient(),
		echo:     opts.Echo,
		log:      logger,
		metrics:  opts.Metrics,
	}, nil
}

func (p *Proxy) Name() string { return p.provider.Name }

// Translate checks the caller key, counts the call against the provider
// window, normalizes messages and returns the first completion choice.
func (p *Proxy) Translate(ctx context.Context, params TranslateParams) (result string, err error) {
	defer func() {
		p.metrics.Translation(p.provider.Name, outcome(err))
	}()

	if params.APIKey != p.provider.UpstreamKey {
		return "", ErrUnauthorized
	}
	decision, err := p.limiter.Allow(ctx, p.provider.Name, p.provider.MaxPerMinute)
	if err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	if !decision.Allowed {
		return "", &RateLimitError{RetryAfter: decision.RetryAfterSeconds()}
	}
	if len(params.Messages) == 0 {
		return "", ErrMissingMessages
	}

	model := strings.TrimSpace(params.Model)
	if model == "" {
		model = p.provider.DefaultModel
	}
	messages := NormalizeMessages(params.Messages)

	if p.echo {
		data, err := json.Marshal(struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}{model, messages})
		if err != nil {
			return "", fmt.Errorf("encode echo: %w", err)
		}
		return string(data), nil
	}
	return p.complete(ctx, model, messages)
}

type completionRequest struct {
	Model    string    `json:"model"`
	Stream   bool      `json:"stream"`
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *Proxy) complete(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(completionRequest{Model: model, Stream: false, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.provider.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.provider.UpstreamKey)

	started := time.Now()
	res, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer res.Body.Close()
	p.log.Debug().Int("status", res.StatusCode).Dur("duration", time.Since(started)).Str("model", model).Msg("upstream completion")

	if res.StatusCode < 200 || res.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("%w: upstream %d: %s", ErrUpstream, res.StatusCode, strings.TrimSpace(string(text)))
	}
	var decoded completionResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode upstream response: %v", ErrNoContent, err)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == nil {
		return "", ErrNoContent
	}
	return *decoded.Choices[0].Message.Content, nil
}

// NormalizeMessages gives every message a role, defaulting to "user", and a
// string content. Non-string content is re-encoded as JSON text.
func NormalizeMessages(raw []json.RawMessage) []Message {
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			fields = nil
		}
		msg := Message{Role: "user", Content: `""`}

		if raw, ok := fields["role"]; ok {
			var role string
			if err := json.Unmarshal(raw, &role); err == nil {
				msg.Role = role
			}
		}
		if content, ok := fields["content"]; ok && string(content) != "null" {
			var s string
			if err := json.Unmarshal(content, &s); err == nil {
				msg.Content = s
			} else {
				var compact bytes.Buffer
				if err := json.Compact(&compact, content); err == nil {
					msg.Content = compact.String()
				} else {
					msg.Content = string(content)
				}
			}
		}
		out = append(out, msg)
	}
	return out
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrMissingMessages):
		return "invalid"
	case errors.Is(err, ErrNoContent):
		return "no_content"
	default:
		return "error"
	}
}

// leveledLogger routes retryablehttp's retry logging through zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}
