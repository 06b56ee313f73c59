package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Cross-encoder scoring server defaults.
const (
	DefaultCrossEncoderEndpoint = "http://localhost:9659"
	DefaultCrossEncoderModel    = "reranker-small"
	DefaultCrossEncoderTimeout  = 30 * time.Second
)

// CrossEncoderConfig holds configuration for the HTTP cross-encoder backend.
type CrossEncoderConfig struct {
	// Endpoint is the scoring server URL (default: http://localhost:9659).
	Endpoint string

	// Model is the reranker model alias served at the endpoint.
	Model string

	// Timeout bounds each scoring request (default: 30s).
	Timeout time.Duration
}

// DefaultCrossEncoderConfig returns default cross-encoder configuration.
func DefaultCrossEncoderConfig() CrossEncoderConfig {
	return CrossEncoderConfig{
		Endpoint: DefaultCrossEncoderEndpoint,
		Model:    DefaultCrossEncoderModel,
		Timeout:  DefaultCrossEncoderTimeout,
	}
}

// CrossEncoderModel scores (query, document) pairs against a local scoring
// server speaking a small JSON protocol. It satisfies PairModel.
type CrossEncoderModel struct {
	client *http.Client
	config CrossEncoderConfig
}

var _ PairModel = (*CrossEncoderModel)(nil)

// NewCrossEncoderLoader returns a ModelLoader that health-checks the scoring
// server and hands back a ready CrossEncoderModel. Plug it into NewReranker;
// the health check runs once per (re)load attempt, not per score.
func NewCrossEncoderLoader(cfg CrossEncoderConfig) ModelLoader {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultCrossEncoderEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultCrossEncoderModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCrossEncoderTimeout
	}

	return func(ctx context.Context) (PairModel, error) {
		m := &CrossEncoderModel{
			client: &http.Client{
				Transport: &http.Transport{
					MaxIdleConns:        10,
					MaxIdleConnsPerHost: 10,
					IdleConnTimeout:     30 * time.Second,
				},
			},
			config: cfg,
		}

		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := m.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("cross-encoder health check failed: %w", err)
		}

		slog.Debug("cross_encoder_loaded",
			slog.String("endpoint", cfg.Endpoint),
			slog.String("model", cfg.Model))
		return m, nil
	}
}

func (m *CrossEncoderModel) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to scoring server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("scoring server unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// scoreRequest is the JSON request to the /score endpoint.
type scoreRequest struct {
	Query    string `json:"query"`
	Document string `json:"document"`
	Model    string `json:"model,omitempty"`
}

// scoreResponse is the JSON response from the /score endpoint.
type scoreResponse struct {
	Score            float64 `json:"score"`
	Model            string  `json:"model"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// ScorePair sends one (query, document) pair to the scoring server and
// returns its relevance score.
func (m *CrossEncoderModel) ScorePair(ctx context.Context, query, document string) (float64, error) {
	payload, err := json.Marshal(scoreRequest{
		Query:    query,
		Document: document,
		Model:    m.config.Model,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal score request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, m.config.Endpoint+"/score", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("score request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("score failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode score response: %w", err)
	}
	return result.Score, nil
}
