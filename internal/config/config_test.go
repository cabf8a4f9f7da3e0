package config

import (
	"errors"
	"math"
	"testing"
	"time"
)

const testKey = "cw_0x689RpI-jtRR7oE8h_eQsKImvJapLeSbXpwF4e4="

func TestDefaults_Embedded(t *testing.T) {
	cfg := Defaults()

	if cfg.Quality.MinConfidence != 0.6 {
		t.Errorf("expected min confidence 0.6, got %f", cfg.Quality.MinConfidence)
	}
	if cfg.Quality.MaxAbsYaw != 30 {
		t.Errorf("expected max yaw 30, got %f", cfg.Quality.MaxAbsYaw)
	}
	if cfg.Quality.FrameStride != 3 {
		t.Errorf("expected stride 3, got %d", cfg.Quality.FrameStride)
	}
	if cfg.Quality.FallbackMinConfidence != 0.1 {
		t.Errorf("expected fallback confidence 0.1, got %f", cfg.Quality.FallbackMinConfidence)
	}
	if cfg.Match.Threshold != 0.7 {
		t.Errorf("expected threshold 0.7, got %f", cfg.Match.Threshold)
	}
	if cfg.Aggregate.ClusterCount != 5 {
		t.Errorf("expected K=5, got %d", cfg.Aggregate.ClusterCount)
	}
	if cfg.Detector.WorkerTimeout != 30*time.Second {
		t.Errorf("expected worker timeout 30s, got %v", cfg.Detector.WorkerTimeout)
	}
}

func TestLoad_MissingSecretKey(t *testing.T) {
	t.Setenv("EMBEDDING_SECRET_KEY", "")

	_, err := Load()
	if !errors.Is(err, ErrMissingSecretKey) {
		t.Fatalf("expected ErrMissingSecretKey, got %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EMBEDDING_SECRET_KEY", testKey)
	t.Setenv("EMBEDDING_PREVIOUS_KEYS", "old1, ,old2")
	t.Setenv("SIMILARITY_THRESHOLD", "0.65")
	t.Setenv("CLUSTER_COUNT", "3")
	t.Setenv("SELECTOR_STRATEGY", "mean")
	t.Setenv("FRAME_STRIDE", "5")
	t.Setenv("STORE_BACKEND", "bolt")
	t.Setenv("WORKER_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Crypto.SecretKey != testKey {
		t.Errorf("secret key not loaded")
	}
	if len(cfg.Crypto.PreviousKeys) != 2 {
		t.Errorf("expected 2 previous keys, got %v", cfg.Crypto.PreviousKeys)
	}
	if cfg.Match.Threshold != 0.65 {
		t.Errorf("expected threshold 0.65, got %f", cfg.Match.Threshold)
	}
	if cfg.Aggregate.ClusterCount != 3 {
		t.Errorf("expected K=3, got %d", cfg.Aggregate.ClusterCount)
	}
	if cfg.Aggregate.Strategy != "mean" {
		t.Errorf("expected mean strategy, got %s", cfg.Aggregate.Strategy)
	}
	if cfg.Quality.FrameStride != 5 {
		t.Errorf("expected stride 5, got %d", cfg.Quality.FrameStride)
	}
	if cfg.Store.Backend != "bolt" {
		t.Errorf("expected bolt backend, got %s", cfg.Store.Backend)
	}
	if cfg.Detector.WorkerTimeout != 5*time.Second {
		t.Errorf("expected 5s worker timeout, got %v", cfg.Detector.WorkerTimeout)
	}
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("EMBEDDING_SECRET_KEY", testKey)
	t.Setenv("CLUSTER_COUNT", "-2")
	t.Setenv("FRAME_STRIDE", "abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Aggregate.ClusterCount != 5 {
		t.Errorf("expected default K for negative input, got %d", cfg.Aggregate.ClusterCount)
	}
	if cfg.Quality.FrameStride != 3 {
		t.Errorf("expected default stride for invalid input, got %d", cfg.Quality.FrameStride)
	}
}

func TestLoad_RejectsUnknownStrategy(t *testing.T) {
	t.Setenv("EMBEDDING_SECRET_KEY", testKey)
	t.Setenv("SELECTOR_STRATEGY", "weighted")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestLoad_RejectsThresholdOutOfRange(t *testing.T) {
	t.Setenv("EMBEDDING_SECRET_KEY", testKey)
	t.Setenv("SIMILARITY_THRESHOLD", "1.5")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for threshold 1.5")
	}
}

func TestLoad_YawBounds(t *testing.T) {
	cfg := Defaults()
	if !math.IsInf(cfg.Quality.FallbackMaxAbsYaw, 1) {
		t.Errorf("expected unbounded fallback yaw by default, got %f", cfg.Quality.FallbackMaxAbsYaw)
	}

	t.Setenv("EMBEDDING_SECRET_KEY", testKey)
	t.Setenv("QUALITY_MAX_ABS_YAW", "0")
	t.Setenv("FALLBACK_MAX_ABS_YAW", "-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Quality.MaxAbsYaw != 0 {
		t.Errorf("zero yaw bound must stay literal, got %f", cfg.Quality.MaxAbsYaw)
	}
	if !math.IsInf(cfg.Quality.FallbackMaxAbsYaw, 1) {
		t.Errorf("negative yaw bound must disable the bound, got %f", cfg.Quality.FallbackMaxAbsYaw)
	}

	t.Setenv("QUALITY_MAX_ABS_YAW", "NaN")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for NaN yaw bound")
	}
}

func TestDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "faces")
	t.Setenv("POSTGRES_PORT", "")

	if got := databaseURL(); got != "postgres://u:p@db:5432/faces" {
		t.Errorf("unexpected url %q", got)
	}

	t.Setenv("DATABASE_URL", "postgres://explicit/db")
	if got := databaseURL(); got != "postgres://explicit/db" {
		t.Errorf("expected DATABASE_URL to win, got %q", got)
	}
}

func TestMaxUploadBytes(t *testing.T) {
	w := WebConfig{MaxUploadMB: 2}
	if w.MaxUploadBytes() != 2<<20 {
		t.Errorf("expected %d, got %d", 2<<20, w.MaxUploadBytes())
	}
}
