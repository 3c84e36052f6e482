package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/region-classifier/pkg/classification"
	"github.com/menta2k/region-classifier/pkg/types"
)

// DefaultBaseURL is the hosted inference endpoint
const DefaultBaseURL = "https://api-inference.huggingface.co/models"

// DefaultModel is a real-vs-generated image detector
const DefaultModel = "dima806/deepfake_vs_real_image_detection"

// Client calls an image-classification model over the inference HTTP API
type Client struct {
	baseURL    string
	model      string
	token      string
	httpClient *http.Client
}

type apiError struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time,omitempty"`
}

// NewClient creates a client for model. An empty baseURL or model selects the defaults.
func NewClient(baseURL, model, token string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if strings.ContainsAny(model, " ?#") {
		return nil, fmt.Errorf("invalid model name %q", model)
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   strings.Trim(model, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}, nil
}

// Model returns the model the client queries
func (c *Client) Model() string {
	return c.model
}

// Classify posts the raw image bytes and returns the labels in the order the API gave them
func (c *Client) Classify(ctx context.Context, image []byte) ([]types.Label, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.model, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(image))
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.EstimatedTime > 0 {
				return nil, fmt.Errorf("server returned status %d: %s (ready in ~%.0fs)", resp.StatusCode, apiErr.Error, apiErr.EstimatedTime)
			}
			return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	labels, err := classification.ParseLabels(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return labels, nil
}
