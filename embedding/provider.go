// Package embedding turns images and text into CLIP vectors through one or
// more inference services.
package embedding

import "context"

// Provider produces 768-wide CLIP embeddings.
type Provider interface {
	Name() string
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Health(ctx context.Context) HealthStatus
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus is the result of probing one provider.
type HealthStatus struct {
	URL       string         `json:"url"`
	Status    string         `json:"status"`
	LatencyMS int64          `json:"response_time_ms"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Healthy reports whether the provider answered and has its model ready.
func (h HealthStatus) Healthy() bool {
	return h.Status == StatusHealthy
}

func unhealthy(url string, err error) HealthStatus {
	return HealthStatus{URL: url, Status: StatusUnhealthy, Error: err.Error()}
}
