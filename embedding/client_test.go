package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/inkdex/search-go/models"
)

type fakeProvider struct {
	name   string
	vec    []float32
	err    error
	health HealthStatus

	mu    sync.Mutex
	calls int
	texts []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.vec, f.err
}

func (f *fakeProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts = append(f.texts, text)
	return f.vec, f.err
}

func (f *fakeProvider) Health(ctx context.Context) HealthStatus { return f.health }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func unitVector(i int) []float32 {
	v := make([]float32, models.EmbeddingDim)
	v[i] = 1
	return v
}

func TestClientUsesPrimaryWhenHealthy(t *testing.T) {
	local := &fakeProvider{name: "local", vec: unitVector(0)}
	remote := &fakeProvider{name: "remote", vec: unitVector(1)}
	c := NewClient(local, remote, Options{PreferPrimary: true, EnableFallback: true})

	emb, err := c.EmbedText(context.Background(), "dragon tattoo")
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}
	if emb[0] != 1 {
		t.Error("expected primary embedding")
	}
	if remote.callCount() != 0 {
		t.Errorf("expected remote untouched, got %d calls", remote.callCount())
	}
}

func TestClientFallsBackOnPrimaryFailure(t *testing.T) {
	local := &fakeProvider{name: "local", err: errors.New("timeout after 5s")}
	remote := &fakeProvider{name: "remote", vec: unitVector(1)}
	c := NewClient(local, remote, Options{PreferPrimary: true, EnableFallback: true})

	emb, err := c.EmbedImage(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("EmbedImage failed: %v", err)
	}
	if emb[1] != 1 {
		t.Error("expected remote embedding")
	}

	// primary is cooling down: the next call goes straight to remote
	if _, err := c.EmbedImage(context.Background(), []byte("img")); err != nil {
		t.Fatalf("second EmbedImage failed: %v", err)
	}
	if local.callCount() != 1 {
		t.Errorf("expected 1 local call during cooldown, got %d", local.callCount())
	}
	if remote.callCount() != 2 {
		t.Errorf("expected 2 remote calls, got %d", remote.callCount())
	}
}

func TestClientRetriesPrimaryAfterCooldown(t *testing.T) {
	local := &fakeProvider{name: "local", err: errors.New("down")}
	remote := &fakeProvider{name: "remote", vec: unitVector(1)}
	c := NewClient(local, remote, Options{PreferPrimary: true, EnableFallback: true, Cooldown: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if _, err := c.EmbedText(context.Background(), "koi"); err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}
	now = now.Add(61 * time.Second)
	if _, err := c.EmbedText(context.Background(), "koi"); err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}
	if local.callCount() != 2 {
		t.Errorf("expected primary retried after cooldown, got %d calls", local.callCount())
	}
}

func TestClientBothFail(t *testing.T) {
	local := &fakeProvider{name: "local", err: errors.New("local down")}
	remote := &fakeProvider{name: "remote", err: errors.New("remote down")}
	c := NewClient(local, remote, Options{PreferPrimary: true, EnableFallback: true})

	_, err := c.EmbedText(context.Background(), "rose")
	if !errors.Is(err, models.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if local.callCount() != 1 || remote.callCount() != 1 {
		t.Errorf("expected exactly one attempt each, got local=%d remote=%d", local.callCount(), remote.callCount())
	}
}

func TestClientFallbackDisabled(t *testing.T) {
	local := &fakeProvider{name: "local", err: errors.New("local down")}
	remote := &fakeProvider{name: "remote", vec: unitVector(1)}
	c := NewClient(local, remote, Options{PreferPrimary: true, EnableFallback: false})

	_, err := c.EmbedText(context.Background(), "rose")
	if !errors.Is(err, models.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if remote.callCount() != 0 {
		t.Errorf("expected remote untouched, got %d calls", remote.callCount())
	}
}

func TestClientNoProviders(t *testing.T) {
	c := NewClient(nil, nil, Options{})
	if _, err := c.EmbedText(context.Background(), "rose"); !errors.Is(err, models.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if c.Warmup(context.Background()) {
		t.Error("expected warmup to be skipped")
	}
}

func TestWarmupIsNonFatal(t *testing.T) {
	remote := &fakeProvider{name: "remote", err: errors.New("cold start failed")}
	c := NewClient(nil, remote, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	if !c.Warmup(ctx) {
		t.Fatal("expected warmup to start")
	}
	// cancelling the request context must not abort the warmup
	cancel()
	c.Wait()

	if remote.callCount() != 1 {
		t.Fatalf("expected one warmup call, got %d", remote.callCount())
	}
	if remote.texts[0] != "warmup" {
		t.Errorf("expected warmup text, got %q", remote.texts[0])
	}
}

func TestCheckHealth(t *testing.T) {
	local := &fakeProvider{name: "local", health: HealthStatus{Status: StatusUnhealthy, Error: "gpu unavailable"}}
	remote := &fakeProvider{name: "remote", health: HealthStatus{Status: StatusHealthy}}
	c := NewClient(local, remote, Options{PreferPrimary: true, EnableFallback: true, PrimaryTimeout: 5 * time.Second})

	report := c.CheckHealth(context.Background())
	if report.Local.Healthy() {
		t.Error("expected local unhealthy")
	}
	if !report.Remote.Healthy() {
		t.Error("expected remote healthy")
	}
	if !report.AnyHealthy() {
		t.Error("expected AnyHealthy")
	}
	if report.Config.LocalTimeout != "5s" {
		t.Errorf("unexpected timeout %q", report.Config.LocalTimeout)
	}

	none := NewClient(nil, nil, Options{}).CheckHealth(context.Background())
	if none.AnyHealthy() {
		t.Error("expected no healthy provider")
	}
	if none.Local.Error != "URL not configured" {
		t.Errorf("unexpected error %q", none.Local.Error)
	}
}
