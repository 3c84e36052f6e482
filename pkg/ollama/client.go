package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/region-classifier/pkg/classification"
	"github.com/menta2k/region-classifier/pkg/types"
)

// DefaultModel is a small vision model that follows JSON instructions well
const DefaultModel = "openbmb/minicpm-v4.5"

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
	model  string
	prompt string
}

// NewClient creates a new Ollama client. ollamaURL may include a path such
// as /api/chat; only scheme and host are kept.
func NewClient(ollamaURL, model string) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q needs scheme and host", ollamaURL)
	}
	if model == "" {
		model = DefaultModel
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	// explicit base URL so OLLAMA_HOST from the environment is ignored
	return &Client{
		client: api.NewClient(baseURL, http.DefaultClient),
		model:  model,
		prompt: classification.DefaultPrompt,
	}, nil
}

// WithPrompt returns a copy of the client using prompt instead of the default
func (c *Client) WithPrompt(prompt string) *Client {
	cp := *c
	cp.prompt = prompt
	return &cp
}

// Classify asks the vision model for labels describing the image
func (c *Client) Classify(ctx context.Context, image []byte) ([]types.Label, error) {
	// CPU inference of vision models is slow
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	options := map[string]any{
		"temperature": 0.1,
	}
	modelLower := strings.ToLower(c.model)
	if strings.Contains(modelLower, "minicpm-v4") || strings.Contains(modelLower, "minicpm-v-4") {
		options["num_ctx"] = 4096
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: c.prompt,
				Images:  []api.ImageData{api.ImageData(image)},
			},
		},
		Stream:  &streamFalse,
		Options: options,
	}

	var content strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}
	if content.Len() == 0 {
		return nil, fmt.Errorf("empty response from ollama")
	}

	labels, err := classification.ParseLabels(content.String())
	if err != nil {
		return nil, fmt.Errorf("ollama response: %w", err)
	}
	return labels, nil
}
