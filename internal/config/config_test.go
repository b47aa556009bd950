package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func expectErrorContaining(t *testing.T, err error, parts ...string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", parts)
	}
	for _, part := range parts {
		if !strings.Contains(err.Error(), part) {
			t.Fatalf("expected error to contain %q, got %v", part, err)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := FromViper(newViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.HTTP.Addr)
	}
	if cfg.HTTP.ShutdownTimeout != 15*time.Second {
		t.Fatalf("unexpected shutdown timeout: %v", cfg.HTTP.ShutdownTimeout)
	}
	if cfg.HTTP.Mode != "release" {
		t.Fatalf("unexpected mode: %s", cfg.HTTP.Mode)
	}
	if cfg.Detection.Backend != "opencv" {
		t.Fatalf("unexpected backend: %s", cfg.Detection.Backend)
	}
	if cfg.Verification.Threshold != nil {
		t.Fatalf("expected backend default threshold, got %v", *cfg.Verification.Threshold)
	}
	if cfg.Redis.Addr != "" {
		t.Fatalf("expected redis disabled, got %s", cfg.Redis.Addr)
	}
	if cfg.HTTP.MaxBodyBytes != 20<<20 {
		t.Fatalf("unexpected body limit: %d", cfg.HTTP.MaxBodyBytes)
	}
}

func TestThresholdParsing(t *testing.T) {
	for _, raw := range []string{"0.3", " 0.4 "} {
		v := newViper()
		v.Set("verification.threshold", raw)
		cfg, err := FromViper(v)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", raw, err)
		}
		if cfg.Verification.Threshold == nil {
			t.Fatalf("expected threshold for %q", raw)
		}
	}

	v := newViper()
	v.Set("verification.threshold", "default")
	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Verification.Threshold != nil {
		t.Fatalf("expected nil threshold, got %v", *cfg.Verification.Threshold)
	}

	v = newViper()
	v.Set("verification.threshold", "abc")
	_, err = FromViper(v)
	expectErrorContaining(t, err, "verification.threshold")

	v = newViper()
	v.Set("verification.threshold", "-1")
	_, err = FromViper(v)
	expectErrorContaining(t, err, "must be positive")
}

func TestValidateCollectsErrors(t *testing.T) {
	v := newViper()
	v.Set("http.addr", "")
	v.Set("detection.backend", "")
	v.Set("http.request_timeout", "0s")

	_, err := FromViper(v)
	expectErrorContaining(t, err,
		"http.addr is required",
		"detection.backend is required",
		"http.request_timeout must be positive",
	)
}

func TestValidateRejectsUnknownGinMode(t *testing.T) {
	v := newViper()
	v.Set("http.mode", "production")

	_, err := FromViper(v)
	expectErrorContaining(t, err, "http.mode", `"production"`)

	for _, mode := range []string{"debug", "release", "test"} {
		v := newViper()
		v.Set("http.mode", mode)
		if _, err := FromViper(v); err != nil {
			t.Fatalf("expected mode %q to be accepted, got %v", mode, err)
		}
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("VERIFICATION_THRESHOLD", "0.4")
	t.Setenv("DETECTION_BACKEND", "retinaface")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_CACHE_TTL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("unexpected addr: %s", cfg.HTTP.Addr)
	}
	if cfg.Verification.Threshold == nil || *cfg.Verification.Threshold != 0.4 {
		t.Fatalf("unexpected threshold: %v", cfg.Verification.Threshold)
	}
	if cfg.Detection.Backend != "retinaface" {
		t.Fatalf("unexpected backend: %s", cfg.Detection.Backend)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.CacheTTL != 30*time.Second {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "gateway.yaml")
	content := "face_service:\n  addr: deepface:50051\nimages:\n  temp_dir: /shared/images\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.FaceService.Addr != "deepface:50051" {
		t.Fatalf("unexpected face service addr: %s", cfg.FaceService.Addr)
	}
	if cfg.Images.TempDir != "/shared/images" {
		t.Fatalf("unexpected temp dir: %s", cfg.Images.TempDir)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
