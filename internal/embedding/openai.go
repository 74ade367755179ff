package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Harshitk-cp/agentd/internal/domain"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 200
)

// OpenAIConfig selects the endpoint and model. Zero fields take the
// defaults above.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// Dimensions shortens the returned vectors when the model supports
	// it. Zero keeps the model's native size.
	Dimensions int
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// OpenAIClient embeds procedure triggers and goal descriptions through an
// OpenAI-compatible /embeddings endpoint. Failures wrap
// domain.ErrEmbeddingUnavailable or domain.ErrEmbeddingRejected.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	cfg = cfg.withDefaults()
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *OpenAIClient) Model() string { return c.cfg.Model }

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty input", domain.ErrEmbeddingRejected)
	}

	body, err := json.Marshal(embeddingRequest{
		Model:      c.cfg.Model,
		Input:      text,
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrEmbeddingRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrEmbeddingRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrEmbeddingUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, respBody)
	}

	var result embeddingResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrEmbeddingRejected, err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmbeddingRejected, result.Error.Message)
	}
	for _, d := range result.Data {
		if d.Index == 0 && len(d.Embedding) > 0 {
			if c.cfg.Dimensions > 0 && len(d.Embedding) != c.cfg.Dimensions {
				return nil, fmt.Errorf("%w: model %s returned %d dimensions, want %d",
					domain.ErrEmbeddingRejected, c.cfg.Model, len(d.Embedding), c.cfg.Dimensions)
			}
			return d.Embedding, nil
		}
	}
	return nil, fmt.Errorf("%w: model %s returned no embedding", domain.ErrEmbeddingRejected, c.cfg.Model)
}

// statusError maps an HTTP status onto the embedding error classes the
// reflection path acts on.
func statusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	class := domain.ErrEmbeddingRejected
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		class = domain.ErrEmbeddingUnavailable
	}
	return fmt.Errorf("%w: status %d: %s", class, status, msg)
}

