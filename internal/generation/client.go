// Package generation wraps the Gemini API for text generation and
// embeddings.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/genai"

	"github.com/starford/tiwaz/internal/apperr"
)

// FallbackModel is used when neither the caller nor the configuration names
// a model.
const FallbackModel = "gemini-2.5-pro"

// embedAttempts caps the embedding path, the only one that retries.
const embedAttempts = 3

// defaultMaxOutputTokens applies when a request leaves the limit unset.
var defaultMaxOutputTokens = map[string]int{
	"gemini-2.5-pro":   8192,
	"gemini-2.5-flash": 8192,
}

type Config struct {
	APIKey         string
	BaseURL        string
	APIVersion     string
	DefaultModel   string
	EmbeddingModel string
	Timeout        time.Duration
}

// Options tune one generation request. Zero values take the defaults.
type Options struct {
	Model             string
	SystemInstruction string
	MaxOutputTokens   int
	Temperature       *float64
}

type Client struct {
	cfg     Config
	models  *genai.Models
	initErr error
	logger  *slog.Logger
	backOff func() backoff.BackOff
}

func New(cfg Config, logger *slog.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/"
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = "v1beta"
	}
	if strings.TrimSpace(cfg.EmbeddingModel) == "" {
		cfg.EmbeddingModel = "text-embedding-004"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:     cfg,
		logger:  logger,
		backOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	// Without a key the client stays unset and every call reports a
	// configuration error.
	if strings.TrimSpace(cfg.APIKey) != "" {
		gc, err := genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey:     cfg.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: &http.Client{Timeout: cfg.Timeout},
			HTTPOptions: genai.HTTPOptions{
				BaseURL:    cfg.BaseURL,
				APIVersion: cfg.APIVersion,
			},
		})
		if err != nil {
			c.initErr = fmt.Errorf("generation: %w: %v", apperr.ErrConfiguration, err)
		} else {
			c.models = gc.Models
		}
	}
	return c
}

// Model picks the model for a request: explicit, then configured, then
// FallbackModel.
func (c *Client) Model(explicit string) string {
	if m := strings.TrimSpace(explicit); m != "" {
		return m
	}
	if m := strings.TrimSpace(c.cfg.DefaultModel); m != "" {
		return m
	}
	return FallbackModel
}

func (c *Client) ready() error {
	if c.initErr != nil {
		return c.initErr
	}
	if c.models == nil {
		return fmt.Errorf("generation: %w: api key is not set", apperr.ErrConfiguration)
	}
	return nil
}

// Generate sends prompt as a single user turn and returns the answer text.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	model := c.Model(opts.Model)
	cfg := &genai.GenerateContentConfig{}
	maxTokens := opts.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = maxOutputTokens(model)
	}
	cfg.MaxOutputTokens = int32(maxTokens)
	if opts.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if s := strings.TrimSpace(opts.SystemInstruction); s != "" {
		cfg.SystemInstruction = genai.NewContentFromText(s, genai.RoleUser)
	}

	resp, err := c.models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", c.classify(err, "generateContent", model)
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("generation: prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", errors.New("generation: response returned no candidates")
	}
	return strings.TrimSpace(resp.Text()), nil
}

func maxOutputTokens(model string) int {
	for family, n := range defaultMaxOutputTokens {
		if strings.HasPrefix(model, family) {
			return n
		}
	}
	return 0
}

// Embed returns the embedding vector of text. Transient failures are retried
// with exponential backoff, at most three attempts in total.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	model := c.cfg.EmbeddingModel

	var values []float32
	attempt := 0
	op := func() error {
		attempt++
		resp, err := c.models.EmbedContent(ctx, model, genai.Text(text), nil)
		if err != nil {
			err = c.classify(err, "embedContent", model)
			if !errors.Is(err, apperr.ErrTransientProvider) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("embedding attempt failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			return err
		}
		if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
			return backoff.Permanent(errors.New("generation: response returned no embedding"))
		}
		values = resp.Embeddings[0].Values
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.backOff(), embedAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return values, nil
}

// classify maps an SDK error onto the application error kinds. Status 429
// and 5xx responses are transient, as is any failure without a status.
func (c *Client) classify(err error, method, model string) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("generation: %s: %w: %v", method, apperr.ErrTransientProvider, err)
	}
	c.logger.Error("generation request failed",
		slog.String("method", method),
		slog.String("model", model),
		slog.Int("status", apiErr.Code),
		slog.String("message", strings.TrimSpace(apiErr.Message)))
	if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
		return fmt.Errorf("generation: %s: %w: status %d", method, apperr.ErrTransientProvider, apiErr.Code)
	}
	return fmt.Errorf("generation: %s failed with status %d: %w", method, apiErr.Code, err)
}
