package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrMissingSecretKey is returned by Load when EMBEDDING_SECRET_KEY is unset.
// Without it no stored embedding can be written or read.
var ErrMissingSecretKey = errors.New("EMBEDDING_SECRET_KEY is required")

type Config struct {
	Crypto    CryptoConfig    `yaml:"-"`
	Quality   QualityConfig   `yaml:"quality"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Match     MatchConfig     `yaml:"match"`
	Frame     FrameConfig     `yaml:"frame"`
	Detector  DetectorConfig  `yaml:"detector"`
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
	Web       WebConfig       `yaml:"web"`
}

type CryptoConfig struct {
	SecretKey    string   // Fernet key used for encryption and decryption
	PreviousKeys []string // rotated-out keys, decrypt only
}

type QualityConfig struct {
	MinConfidence         float64 `yaml:"min_confidence"`
	MaxAbsYaw             float64 `yaml:"max_abs_yaw"`
	FrameStride           int     `yaml:"frame_stride"`
	FallbackMinConfidence float64 `yaml:"fallback_min_confidence"`
	FallbackMaxAbsYaw     float64 `yaml:"fallback_max_abs_yaw"`
	FallbackStride        int     `yaml:"fallback_stride"`
}

type AggregateConfig struct {
	OutlierMinSimilarity float64 `yaml:"outlier_min_similarity"`
	Strategy             string  `yaml:"strategy"`      // mean | cluster
	ClusterCount         int     `yaml:"cluster_count"` // K
	ClusterSpace         string  `yaml:"cluster_space"` // embedding | pose
	ClusterCollapse      bool    `yaml:"cluster_collapse"`
	ClusterSeed          int64   `yaml:"cluster_seed"`
	ClusterMaxIter       int     `yaml:"cluster_max_iter"`
}

type MatchConfig struct {
	Threshold          float64 `yaml:"threshold"`
	IdentifyCandidates int     `yaml:"identify_candidates"`
}

type FrameConfig struct {
	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`
	MaxFrames int `yaml:"max_frames"`
}

type DetectorConfig struct {
	Kind          string        `yaml:"kind"` // worker | http
	URL           string        `yaml:"url"`
	Python        string        `yaml:"python"`
	WorkerScript  string        `yaml:"worker_script"`
	WorkerCount   int           `yaml:"worker_count"`
	WorkerTimeout time.Duration `yaml:"worker_timeout"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"` // postgres | redis | bolt
	DatabaseURL string `yaml:"-"`
	RedisURL    string `yaml:"-"`
	BoltPath    string `yaml:"bolt_path"`
	KeyPrefix   string `yaml:"key_prefix"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	MaxUploadMB    int64    `yaml:"max_upload_mb"`
	AllowedOrigins []string `yaml:"-"`
}

// Defaults returns the embedded defaults without consulting the environment.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	cfg.Quality.normalizeYaw()
	return &cfg
}

// normalizeYaw turns a negative yaw bound into +Inf (no bound). Zero is
// kept as a literal bound that admits only frontal faces.
func (q *QualityConfig) normalizeYaw() {
	if q.MaxAbsYaw < 0 {
		q.MaxAbsYaw = math.Inf(1)
	}
	if q.FallbackMaxAbsYaw < 0 {
		q.FallbackMaxAbsYaw = math.Inf(1)
	}
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float.
// Returns the default value if the env var is unset or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for part := range strings.SplitSeq(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// databaseURL prefers DATABASE_URL, then assembles one from POSTGRES_* variables.
func databaseURL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return "postgres://localhost:5432/faceauth"
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

// Load builds the configuration from embedded defaults and the environment.
// The result is read-only for the lifetime of the process.
func Load() (*Config, error) {
	cfg := Defaults()

	cfg.Crypto = CryptoConfig{
		SecretKey:    os.Getenv("EMBEDDING_SECRET_KEY"),
		PreviousKeys: envList("EMBEDDING_PREVIOUS_KEYS"),
	}
	if cfg.Crypto.SecretKey == "" {
		return nil, ErrMissingSecretKey
	}

	q := &cfg.Quality
	q.MinConfidence = envFloat("QUALITY_MIN_CONFIDENCE", q.MinConfidence)
	q.MaxAbsYaw = envFloat("QUALITY_MAX_ABS_YAW", q.MaxAbsYaw)
	q.FrameStride = envInt("FRAME_STRIDE", q.FrameStride)
	q.FallbackMinConfidence = envFloat("FALLBACK_MIN_CONFIDENCE", q.FallbackMinConfidence)
	q.FallbackMaxAbsYaw = envFloat("FALLBACK_MAX_ABS_YAW", q.FallbackMaxAbsYaw)
	q.normalizeYaw()

	a := &cfg.Aggregate
	a.OutlierMinSimilarity = envFloat("OUTLIER_MIN_SIMILARITY", a.OutlierMinSimilarity)
	a.Strategy = envString("SELECTOR_STRATEGY", a.Strategy)
	a.ClusterCount = envInt("CLUSTER_COUNT", a.ClusterCount)
	a.ClusterSpace = envString("CLUSTER_SPACE", a.ClusterSpace)
	a.ClusterCollapse = envBool("CLUSTER_COLLAPSE", a.ClusterCollapse)

	cfg.Match.Threshold = envFloat("SIMILARITY_THRESHOLD", cfg.Match.Threshold)

	cfg.Frame.MaxWidth = envInt("FRAME_MAX_WIDTH", cfg.Frame.MaxWidth)
	cfg.Frame.MaxHeight = envInt("FRAME_MAX_HEIGHT", cfg.Frame.MaxHeight)
	cfg.Frame.MaxFrames = envInt("FRAME_MAX_FRAMES", cfg.Frame.MaxFrames)

	d := &cfg.Detector
	d.Kind = envString("DETECTOR", d.Kind)
	d.URL = envString("DETECTOR_URL", d.URL)
	d.Python = envString("WORKER_PYTHON", d.Python)
	d.WorkerScript = envString("WORKER_SCRIPT", d.WorkerScript)
	d.WorkerCount = envInt("WORKER_COUNT", d.WorkerCount)
	d.WorkerTimeout = envDuration("WORKER_TIMEOUT", d.WorkerTimeout)

	s := &cfg.Store
	s.Backend = envString("STORE_BACKEND", s.Backend)
	s.DatabaseURL = databaseURL()
	s.RedisURL = envString("REDIS_URL", "redis://localhost:6379/0")
	s.BoltPath = envString("BOLT_PATH", s.BoltPath)
	s.KeyPrefix = envString("STORE_KEY_PREFIX", s.KeyPrefix)

	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.JSON = envBool("LOG_JSON", cfg.Log.JSON)

	cfg.Web.Host = envString("WEB_HOST", cfg.Web.Host)
	cfg.Web.Port = envInt("WEB_PORT", cfg.Web.Port)
	cfg.Web.AllowedOrigins = envList("WEB_ALLOWED_ORIGINS")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that would otherwise surface as confusing
// behavior deep inside the pipeline.
func (c *Config) Validate() error {
	if c.Match.Threshold <= -1 || c.Match.Threshold >= 1 {
		return fmt.Errorf("similarity threshold must be in (-1, 1), got %f", c.Match.Threshold)
	}
	if c.Quality.MinConfidence < 0 || c.Quality.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be in [0, 1], got %f", c.Quality.MinConfidence)
	}
	if c.Quality.FallbackMinConfidence < 0 || c.Quality.FallbackMinConfidence > 1 {
		return fmt.Errorf("fallback min confidence must be in [0, 1], got %f", c.Quality.FallbackMinConfidence)
	}
	if math.IsNaN(c.Quality.MaxAbsYaw) || math.IsNaN(c.Quality.FallbackMaxAbsYaw) {
		return errors.New("yaw bounds must be numbers (negative disables the bound)")
	}
	if c.Quality.FrameStride < 1 {
		return fmt.Errorf("frame stride must be >= 1, got %d", c.Quality.FrameStride)
	}
	if c.Aggregate.ClusterCount < 1 {
		return fmt.Errorf("cluster count must be >= 1, got %d", c.Aggregate.ClusterCount)
	}
	switch c.Aggregate.Strategy {
	case "mean", "cluster":
	default:
		return fmt.Errorf("unknown selector strategy %q (use mean or cluster)", c.Aggregate.Strategy)
	}
	switch c.Aggregate.ClusterSpace {
	case "embedding", "pose":
	default:
		return fmt.Errorf("unknown cluster space %q (use embedding or pose)", c.Aggregate.ClusterSpace)
	}
	switch c.Store.Backend {
	case "postgres", "redis", "bolt", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Detector.Kind {
	case "worker", "http":
	default:
		return fmt.Errorf("unknown detector %q (use worker or http)", c.Detector.Kind)
	}
	return nil
}

// MaxUploadBytes returns the multipart upload limit in bytes.
func (w WebConfig) MaxUploadBytes() int64 {
	return w.MaxUploadMB << 20
}
