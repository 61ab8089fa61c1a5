package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inkdex/search-go/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCooldown = time.Minute
	warmupTimeout   = 30 * time.Second
	warmupText      = "warmup"
)

// Options controls how Client chooses between its providers.
type Options struct {
	PreferPrimary  bool
	EnableFallback bool
	// Cooldown is how long a failed primary is skipped. Defaults to one minute.
	Cooldown time.Duration
	// PrimaryTimeout is reported by CheckHealth only; providers enforce their own.
	PrimaryTimeout time.Duration
}

// Client embeds through a primary provider and falls back to a secondary one.
// Either provider may be nil.
type Client struct {
	primary   Provider
	secondary Provider
	opts      Options
	now       func() time.Time

	mu             sync.Mutex
	unhealthyUntil time.Time

	wg sync.WaitGroup
}

// NewClient builds a fallback client. primary is normally the local GPU
// service and secondary the remote serverless one.
func NewClient(primary, secondary Provider, opts Options) *Client {
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	return &Client{
		primary:   primary,
		secondary: secondary,
		opts:      opts,
		now:       time.Now,
	}
}

type attempt struct {
	provider Provider
	primary  bool
}

func (c *Client) attempts() []attempt {
	var out []attempt
	if c.primary != nil && c.opts.PreferPrimary && !c.coolingDown() {
		out = append(out, attempt{provider: c.primary, primary: true})
	}
	if c.secondary != nil && (len(out) == 0 || c.opts.EnableFallback) {
		out = append(out, attempt{provider: c.secondary})
	}
	if len(out) == 0 && c.primary != nil {
		// nothing else to try, so ignore the cooldown
		out = append(out, attempt{provider: c.primary, primary: true})
	}
	return out
}

func (c *Client) coolingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.unhealthyUntil)
}

func (c *Client) setPrimaryHealthy(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.unhealthyUntil = time.Time{}
	} else {
		c.unhealthyUntil = c.now().Add(c.opts.Cooldown)
	}
}

// EmbedImage embeds raw image bytes.
func (c *Client) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	return c.run(ctx, "image", func(p Provider) ([]float32, error) {
		return p.EmbedImage(ctx, image)
	})
}

// EmbedText embeds a text query.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return c.run(ctx, "text", func(p Provider) ([]float32, error) {
		return p.EmbedText(ctx, text)
	})
}

func (c *Client) run(ctx context.Context, kind string, call func(Provider) ([]float32, error)) ([]float32, error) {
	plan := c.attempts()
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: no embedding provider configured", models.ErrEmbeddingUnavailable)
	}

	var errs []error
	for i, a := range plan {
		start := c.now()
		emb, err := call(a.provider)
		entry := logrus.WithFields(logrus.Fields{
			"provider":      a.provider.Name(),
			"kind":          kind,
			"latency_ms":    c.now().Sub(start).Milliseconds(),
			"fallback_used": i > 0,
		})
		if err == nil {
			if a.primary {
				c.setPrimaryHealthy(true)
			}
			entry.Info("embedding generated")
			return emb, nil
		}

		entry.WithError(err).Warn("embedding provider failed")
		if a.primary {
			c.setPrimaryHealthy(false)
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingUnavailable, errors.Join(errs...))
}

// Warmup starts a background text embedding so a cold serverless provider
// spins up before real traffic. It prefers the secondary provider and reports
// whether a warmup was started. Failures are only logged.
func (c *Client) Warmup(ctx context.Context) bool {
	p := c.secondary
	if p == nil {
		p = c.primary
	}
	if p == nil {
		logrus.Warn("warmup skipped: no embedding provider configured")
		return false
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), warmupTimeout)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		start := c.now()
		_, err := p.EmbedText(ctx, warmupText)
		entry := logrus.WithFields(logrus.Fields{
			"provider":   p.Name(),
			"latency_ms": c.now().Sub(start).Milliseconds(),
		})
		if err != nil {
			entry.WithError(err).Warn("warmup failed (non-critical)")
			return
		}
		entry.Info("provider warmed")
	}()
	return true
}

// Wait blocks until background warmups finish.
func (c *Client) Wait() {
	c.wg.Wait()
}

// HealthReport describes both providers and the routing configuration.
type HealthReport struct {
	Local     HealthStatus `json:"local"`
	Remote    HealthStatus `json:"remote"`
	Config    HealthConfig `json:"config"`
	Timestamp time.Time    `json:"timestamp"`
}

type HealthConfig struct {
	PreferLocal     bool   `json:"preferLocal"`
	LocalTimeout    string `json:"localTimeout"`
	FallbackEnabled bool   `json:"fallbackEnabled"`
}

// AnyHealthy reports whether at least one provider can serve requests.
func (r HealthReport) AnyHealthy() bool {
	return r.Local.Healthy() || r.Remote.Healthy()
}

// CheckHealth probes both providers concurrently.
func (c *Client) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{
		Config: HealthConfig{
			PreferLocal:     c.opts.PreferPrimary,
			LocalTimeout:    c.opts.PrimaryTimeout.String(),
			FallbackEnabled: c.opts.EnableFallback,
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report.Local = probe(gctx, c.primary)
		return nil
	})
	g.Go(func() error {
		report.Remote = probe(gctx, c.secondary)
		return nil
	})
	_ = g.Wait()

	report.Timestamp = c.now().UTC()
	return report
}

func probe(ctx context.Context, p Provider) HealthStatus {
	if p == nil {
		return HealthStatus{URL: "not configured", Status: StatusUnhealthy, Error: "URL not configured"}
	}
	return p.Health(ctx)
}
