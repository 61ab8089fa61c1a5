package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inkdex/search-go/vector"
)

const healthTimeout = 2 * time.Second

// HTTPProvider calls a CLIP inference service over JSON/HTTP.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPProvider creates a provider for baseURL. A zero timeout leaves the
// deadline to the caller's context.
func NewHTTPProvider(name, baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *HTTPProvider) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	body := map[string]string{"image_data": base64.StdEncoding.EncodeToString(image)}
	return p.embed(ctx, "/embed_image", body)
}

func (p *HTTPProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return p.embed(ctx, "/embed_text", map[string]string{"text": text})
}

func (p *HTTPProvider) embed(ctx context.Context, path string, payload any) ([]float32, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: timeout after %s: %w", p.name, p.timeout, err)
		}
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s: status %d: %s", p.name, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if err := vector.Validate(out.Embedding); err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return out.Embedding, nil
}

type healthResponse struct {
	Status       string `json:"status"`
	GPUAvailable *bool  `json:"gpu_available"`
	ModelLoaded  *bool  `json:"model_loaded"`
	ModelName    string `json:"model_name,omitempty"`
	EmbeddingDim int    `json:"embedding_dim,omitempty"`
}

// Health probes GET /health. The provider is healthy when it reports "ok"
// (or "healthy") and does not report a missing GPU.
func (p *HTTPProvider) Health(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return unhealthy(p.baseURL, err)
	}
	p.authorize(req)

	start := time.Now()
	resp, err := p.client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		st := unhealthy(p.baseURL, err)
		st.LatencyMS = latency
		return st
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		st := unhealthy(p.baseURL, fmt.Errorf("HTTP %d", resp.StatusCode))
		st.LatencyMS = latency
		return st
	}

	var data healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		st := unhealthy(p.baseURL, fmt.Errorf("decode health: %w", err))
		st.LatencyMS = latency
		return st
	}

	status := StatusUnhealthy
	if (data.Status == "ok" || data.Status == StatusHealthy) && (data.GPUAvailable == nil || *data.GPUAvailable) {
		status = StatusHealthy
	}
	details := map[string]any{
		"gpu_available": data.GPUAvailable,
		"model_loaded":  data.ModelLoaded,
	}
	if data.ModelName != "" {
		details["model_name"] = data.ModelName
	}
	if data.EmbeddingDim != 0 {
		details["embedding_dim"] = data.EmbeddingDim
	}
	return HealthStatus{URL: p.baseURL, Status: status, LatencyMS: latency, Details: details}
}

func (p *HTTPProvider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}
