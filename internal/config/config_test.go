package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("ADMIN_SECRET", "")
	t.Setenv("ADMIN_SECRET_HASH", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.DBPath != "data/habit-hero.db" {
		t.Errorf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.AdminSecret != "" || cfg.AdminSecretHash != "" {
		t.Error("expected reset to be disabled by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("MAX_RETRIES", "not-a-number")
	t.Setenv("ADMIN_SECRET", "hunter2")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("expected cache ttl 30s, got %v", cfg.CacheTTL)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected invalid int to fall back to 3, got %d", cfg.MaxRetries)
	}
	if cfg.AdminSecret != "hunter2" {
		t.Errorf("expected admin secret from env, got %q", cfg.AdminSecret)
	}
}

func TestLoadFile_LayersFileUnderEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "habithero.toml")
	content := `
port = 7000
db_path = "/var/lib/habit.db"
timezone = "Asia/Shanghai"
parent_session_ttl = "1h"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7100")
	t.Setenv("DB_PATH", "")

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 7100 {
		t.Errorf("expected env to win with 7100, got %d", cfg.Port)
	}
	if cfg.DBPath != "/var/lib/habit.db" {
		t.Errorf("expected file db path, got %q", cfg.DBPath)
	}
	if cfg.ParentSessionTTL != time.Hour {
		t.Errorf("expected 1h session ttl, got %v", cfg.ParentSessionTTL)
	}

	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("expected valid location, got %v", err)
	}
	if loc.String() != "Asia/Shanghai" {
		t.Errorf("expected Asia/Shanghai, got %s", loc)
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("port = ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLocation_Invalid(t *testing.T) {
	cfg := config.Defaults()
	cfg.Timezone = "Mars/Olympus"
	if _, err := cfg.Location(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nHH_TEST_A=from-file\nHH_TEST_B=\"quoted\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HH_TEST_A", "from-env")
	t.Setenv("HH_TEST_B", "")
	os.Unsetenv("HH_TEST_B")

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := os.Getenv("HH_TEST_A"); got != "from-env" {
		t.Errorf("expected existing env to win, got %q", got)
	}
	if got := os.Getenv("HH_TEST_B"); got != "quoted" {
		t.Errorf("expected unquoted value, got %q", got)
	}
	os.Unsetenv("HH_TEST_B")

	if err := config.LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("expected missing file to be ignored, got %v", err)
	}
}

func TestLoad_RejectsNonPositiveDurations(t *testing.T) {
	for _, key := range []string{"CACHE_TTL", "SETTINGS_WRITE_TIMEOUT", "PARENT_SESSION_TTL", "HTTP_TIMEOUT"} {
		for _, v := range []string{"0s", "-1s"} {
			t.Run(key+"="+v, func(t *testing.T) {
				t.Setenv(key, v)
				if _, err := config.Load(); err == nil || !strings.Contains(err.Error(), key) {
					t.Errorf("expected %s=%s rejected, got %v", key, v, err)
				}
			})
		}
	}
}

func TestLoadFile_RejectsZeroCacheTTL(t *testing.T) {
	t.Setenv("CACHE_TTL", "")
	path := filepath.Join(t.TempDir(), "habithero.toml")
	if err := os.WriteFile(path, []byte(`cache_ttl = "0s"`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadFile(path); err == nil {
		t.Fatal("expected zero cache_ttl rejected")
	}
}
