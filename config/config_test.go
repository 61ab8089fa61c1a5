package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"DATABASE_URL":   "postgres://localhost/inkdex",
		"LOCAL_CLIP_URL": "https://clip.example.com/",
	}))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.LocalTimeout != 5*time.Second {
		t.Errorf("expected 5s local timeout, got %v", cfg.LocalTimeout)
	}
	if cfg.RemoteTimeout != 30*time.Second {
		t.Errorf("expected 30s remote timeout, got %v", cfg.RemoteTimeout)
	}
	if cfg.LocalClipURL != "https://clip.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.LocalClipURL)
	}
	if !cfg.EnableFallback || !cfg.PreferLocalClip {
		t.Error("expected fallback and local preference enabled by default")
	}
	if cfg.CandidatePool != 2000 {
		t.Errorf("expected candidate pool 2000, got %d", cfg.CandidatePool)
	}
}

func TestFromEnvRewritesSQLAlchemyScheme(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"DATABASE_URL":    "postgresql+psycopg://u:p@db:5432/inkdex",
		"REMOTE_CLIP_URL": "https://remote.example.com",
	}))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.DatabaseURL != "postgres://u:p@db:5432/inkdex" {
		t.Errorf("unexpected database URL %s", cfg.DatabaseURL)
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantErr string
	}{
		{
			name:    "missing database url",
			vars:    map[string]string{"LOCAL_CLIP_URL": "http://clip"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "no providers",
			vars:    map[string]string{"STORE_DRIVER": "sqlite"},
			wantErr: "LOCAL_CLIP_URL",
		},
		{
			name:    "timeout out of range",
			vars:    map[string]string{"STORE_DRIVER": "sqlite", "LOCAL_CLIP_URL": "http://clip", "LOCAL_CLIP_TIMEOUT": "90000"},
			wantErr: "LOCAL_CLIP_TIMEOUT",
		},
		{
			name:    "boost above bound",
			vars:    map[string]string{"STORE_DRIVER": "sqlite", "LOCAL_CLIP_URL": "http://clip", "RANK_PRO_BOOST": "0.5"},
			wantErr: "RANK_PRO_BOOST",
		},
		{
			name:    "unknown store driver",
			vars:    map[string]string{"STORE_DRIVER": "mongo", "LOCAL_CLIP_URL": "http://clip"},
			wantErr: "STORE_DRIVER",
		},
		{
			name:    "unknown index driver",
			vars:    map[string]string{"STORE_DRIVER": "sqlite", "INDEX_DRIVER": "faiss", "LOCAL_CLIP_URL": "http://clip"},
			wantErr: "INDEX_DRIVER",
		},
		{
			name:    "bad boolean",
			vars:    map[string]string{"STORE_DRIVER": "sqlite", "LOCAL_CLIP_URL": "http://clip", "ENABLE_REMOTE_FALLBACK": "maybe"},
			wantErr: "ENABLE_REMOTE_FALLBACK",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(env(tt.vars))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFromEnvCORSList(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"STORE_DRIVER":   "sqlite",
		"LOCAL_CLIP_URL": "http://clip",
		"CORS_ORIGINS":   "https://inkdex.io, https://www.inkdex.io,",
	}))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://www.inkdex.io" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSOrigins)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	for _, key := range []string{"STORE_DRIVER", "SQLITE_PATH", "REMOTE_CLIP_URL", "LOCAL_CLIP_URL", "PORT", "INDEX_DRIVER"} {
		// registers the restore, then clears the variable for the test
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("PORT", "9090")

	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")
	os.WriteFile(first, []byte("STORE_DRIVER=sqlite\nSQLITE_PATH=/tmp/first.db\nPORT=7000\n"), 0o600)
	os.WriteFile(second, []byte("SQLITE_PATH=/tmp/second.db\nREMOTE_CLIP_URL=https://clip.example.com\n"), 0o600)

	cfg, err := Load(filepath.Join(dir, "missing.env"), first, second)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StoreDriver != "sqlite" || cfg.SQLitePath != "/tmp/first.db" {
		t.Errorf("expected earlier file to win, got %s %s", cfg.StoreDriver, cfg.SQLitePath)
	}
	if cfg.RemoteClipURL != "https://clip.example.com" {
		t.Errorf("expected later file to fill unset keys, got %q", cfg.RemoteClipURL)
	}
	if cfg.Port != "9090" {
		t.Errorf("environment must win over .env files, got %s", cfg.Port)
	}
}
