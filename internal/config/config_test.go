package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cleanenvport "github.com/wb-go/wbf/config/cleanenv-port"
)

const _minimal = `
database:
  dsn: postgres://u:p@localhost:5432/prayer
auth:
  jwt_secret: 0123456789abcdef0123
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadPath_Defaults(t *testing.T) {
	cfg, err := LoadPath(writeConfig(t, _minimal))
	if err != nil {
		t.Fatalf("LoadPath: %v", err)
	}

	if cfg.Env != "local" || cfg.App.Name != "prayerflow" {
		t.Errorf("env/app = %q/%q", cfg.Env, cfg.App.Name)
	}
	if cfg.HTTP.Port != "8080" || cfg.Metrics.Port != "9090" {
		t.Errorf("ports = %s/%s", cfg.HTTP.Port, cfg.Metrics.Port)
	}
	if cfg.Service.MinApprovalDelay != time.Hour || cfg.Service.MaxApprovalDelay != 4*time.Hour {
		t.Errorf("approval delay = [%s, %s]", cfg.Service.MinApprovalDelay, cfg.Service.MaxApprovalDelay)
	}
	if cfg.Service.MaxRetries != 3 || cfg.Service.BaseRetryDelay != 5*time.Minute {
		t.Errorf("retries = %d/%s", cfg.Service.MaxRetries, cfg.Service.BaseRetryDelay)
	}
	if !cfg.Dispatcher.Enabled || cfg.Rabbit.Enabled {
		t.Errorf("dispatcher/rabbit enabled = %v/%v", cfg.Dispatcher.Enabled, cfg.Rabbit.Enabled)
	}
	if cfg.Rabbit.PublishTimeout != 2*time.Second || cfg.Rabbit.ConnectTimeout != 10*time.Second {
		t.Errorf("rabbit timeouts = %s/%s", cfg.Rabbit.PublishTimeout, cfg.Rabbit.ConnectTimeout)
	}
	if cfg.Database.PoolMax <= 0 {
		t.Errorf("pool max = %d", cfg.Database.PoolMax)
	}
}

func TestLoadPath_EnvOverridesFile(t *testing.T) {
	t.Setenv("SERVICE_MAX_RETRIES", "7")
	t.Setenv("HTTP_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadPath(writeConfig(t, _minimal+"service:\n  max_retries: 2\n"))
	if err != nil {
		t.Fatalf("LoadPath: %v", err)
	}
	if cfg.Service.MaxRetries != 7 {
		t.Errorf("max retries = %d, want 7", cfg.Service.MaxRetries)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 {
		t.Errorf("cors origins = %v", cfg.HTTP.CORSOrigins)
	}
}

func TestLoadPath_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"short jwt secret", "database:\n  dsn: x\nauth:\n  jwt_secret: short\n", "JWTSecret"},
		{"missing dsn", "auth:\n  jwt_secret: 0123456789abcdef0123\n", "DSN"},
		{"inverted approval delay", _minimal + "service:\n  min_approval_delay: 3h\n  max_approval_delay: 2h\n", "MaxApprovalDelay"},
		{"rabbit without url", _minimal + "rabbit:\n  enabled: true\n", "URL"},
		{"twilio without token", _minimal + "twilio:\n  account_sid: AC123\n", "AuthToken"},
		{"unknown env", _minimal + "env: moon\n", "Env"},
		{"batch size too large", _minimal + "service:\n  batch_size: 1001\n", "BatchSize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPath(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !errors.Is(err, cleanenvport.ErrConfigValidation) {
				t.Errorf("error %v is not a validation error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestLoad_Path(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	if _, err := Load(""); !errors.Is(err, ErrConfigPathNotSet) {
		t.Errorf("expected ErrConfigPathNotSet, got %v", err)
	}

	t.Setenv("CONFIG_PATH", writeConfig(t, _minimal))
	if _, err := Load(""); err != nil {
		t.Errorf("Load from CONFIG_PATH: %v", err)
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, cleanenvport.ErrConfigFileNotFound) {
		t.Errorf("expected ErrConfigFileNotFound, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	desc, err := Describe()
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	for _, name := range []string{"DB_DSN", "AUTH_JWT_SECRET", "RABBIT_PUBLISH_TIMEOUT"} {
		if !strings.Contains(desc, name) {
			t.Errorf("description lacks %s", name)
		}
	}
}
