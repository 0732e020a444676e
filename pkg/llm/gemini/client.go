// Package gemini provides an llm.Provider backed by the Google
// Generative AI API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// Config holds the configuration for the Gemini client
type Config struct {
	APIKey      string
	Model       string
	Temperature float64
}

// Client is a Gemini completion client
type Client struct {
	client *genai.Client
	model  string
	temp   float64
	log    *slog.Logger
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	c := &Client{
		client: client,
		model:  cfg.Model,
		temp:   cfg.Temperature,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IsConfigured returns true if the provider is properly configured
func (c *Client) IsConfigured() bool {
	return c.client != nil
}

// Complete generates a completion for the given prompt
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if !c.IsConfigured() {
		return "", fmt.Errorf("gemini provider is not configured")
	}

	temp := float32(c.temp)
	start := time.Now()

	result, err := c.client.Models.GenerateContent(
		ctx,
		c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature: &temp,
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	text := result.Text()

	c.log.Debug("gemini completion finished",
		slog.String("model", c.model),
		slog.Int("response_chars", len(text)),
		slog.Duration("duration", time.Since(start)),
	)

	return text, nil
}
