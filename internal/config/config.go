package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Storage     StorageConfig     `yaml:"storage"`
	Engine      EngineConfig      `yaml:"engine"`
	Verifier    VerifierConfig    `yaml:"verifier"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Web         WebConfig         `yaml:"web"`
	Log         LogConfig         `yaml:"log"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`       // PostgreSQL connection URL
	MaxConns int    `yaml:"max_conns"` // pgxpool max connections (default 10)
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // "postgres", "files" or "memory"
	Root    string `yaml:"root"`    // root directory for the files backend
}

type EngineConfig struct {
	Backend string        `yaml:"backend"` // "worker" or "http"
	URL     string        `yaml:"url"`     // inference server URL for the http backend
	Workers int           `yaml:"workers"` // python worker processes
	Python  string        `yaml:"python"`
	Script  string        `yaml:"script"`
	Timeout time.Duration `yaml:"timeout"` // per call read deadline
}

type VerifierConfig struct {
	Backend    string  `yaml:"backend"` // "engine" or "rekognition"
	Region     string  `yaml:"region"`
	Similarity float64 `yaml:"similarity"` // rekognition similarity threshold, percent
}

type RecognitionConfig struct {
	Dim            int           `yaml:"dim"`
	Slots          int           `yaml:"slots"`
	Threshold      float64       `yaml:"threshold"`
	Margin         float64       `yaml:"margin"`
	VerifyOrder    []int         `yaml:"verify_order"`
	MinBrightness  float64       `yaml:"min_brightness"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	EmbedWorkers   int           `yaml:"embed_workers"`
	ScratchDir     string        `yaml:"scratch_dir"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults match the Facenet enrollment format: 128-d embeddings, 5 images per identity.
const (
	DefaultDim           = 128
	DefaultSlots         = 5
	DefaultThreshold     = 0.4
	DefaultMargin        = 0.1
	DefaultMinBrightness = 50
)

// DefaultVerifyOrder tries the front-facing capture first.
var DefaultVerifyOrder = []int{2, 0, 1, 3, 4}

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

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInts parses a comma separated list such as "2,0,1,3,4".
func envInts(key string, defaultVal []int) []int {
	s := os.Getenv(key)
	if s == "" {
		return append([]int(nil), defaultVal...)
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return append([]int(nil), defaultVal...)
		}
		out = append(out, n)
	}
	return out
}

// Load builds the configuration from environment variables, then overlays the YAML
// file named by ROLLCALL_CONFIG when it is set.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: envInt("DATABASE_MAX_CONNS", 10),
		},
		Storage: StorageConfig{
			Backend: envString("STORAGE_BACKEND", "files"),
			Root:    envString("STORAGE_ROOT", "data"),
		},
		Engine: EngineConfig{
			Backend: envString("ENGINE_BACKEND", "worker"),
			URL:     os.Getenv("ENGINE_URL"),
			Workers: envInt("ENGINE_WORKERS", 1),
			Python:  envString("ENGINE_PYTHON", "python3"),
			Script:  envString("ENGINE_SCRIPT", "python/worker.py"),
			Timeout: envDuration("ENGINE_TIMEOUT", 60*time.Second),
		},
		Verifier: VerifierConfig{
			Backend:    envString("VERIFIER_BACKEND", "engine"),
			Region:     os.Getenv("AWS_REGION"),
			Similarity: envFloat("REKOGNITION_SIMILARITY", 80),
		},
		Recognition: RecognitionConfig{
			Dim:            envInt("EMBEDDING_DIM", DefaultDim),
			Slots:          envInt("EMBEDDING_SLOTS", DefaultSlots),
			Threshold:      envFloat("MATCH_THRESHOLD", DefaultThreshold),
			Margin:         envFloat("CROP_MARGIN", DefaultMargin),
			VerifyOrder:    envInts("VERIFY_ORDER", DefaultVerifyOrder),
			MinBrightness:  envFloat("MIN_BRIGHTNESS", DefaultMinBrightness),
			RequestTimeout: envDuration("REQUEST_TIMEOUT", 2*time.Minute),
			EmbedWorkers:   envInt("EMBED_WORKERS", 1),
			ScratchDir:     envString("SCRATCH_DIR", os.TempDir()),
		},
		Web: WebConfig{
			Host: envString("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 3000),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "console"),
		},
	}

	if path := os.Getenv("ROLLCALL_CONFIG"); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// MergeFile overlays the values present in a YAML file onto cfg.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the recognition pipeline cannot run with.
func (c *Config) Validate() error {
	r := c.Recognition
	if r.Dim < 1 {
		return fmt.Errorf("embedding dim must be >= 1, got %d", r.Dim)
	}
	if r.Slots < 1 {
		return fmt.Errorf("embedding slots must be >= 1, got %d", r.Slots)
	}
	if r.Threshold <= 0 || r.Threshold > 1.0 {
		return fmt.Errorf("match threshold must be between 0.0 and 1.0, got %f", r.Threshold)
	}
	if r.Margin < 0 || r.Margin >= 1.0 {
		return fmt.Errorf("crop margin must be in [0, 1), got %f", r.Margin)
	}
	for _, slot := range r.VerifyOrder {
		if slot < 0 || slot >= r.Slots {
			return fmt.Errorf("verify order slot %d out of range 0..%d", slot, r.Slots-1)
		}
	}
	if r.EmbedWorkers < 1 {
		return fmt.Errorf("embed workers must be >= 1, got %d", r.EmbedWorkers)
	}
	switch c.Storage.Backend {
	case "files":
		if c.Storage.Root == "" {
			return fmt.Errorf("storage root is required for the files backend")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Engine.Backend {
	case "worker":
		if c.Engine.Workers < 1 {
			return fmt.Errorf("engine workers must be >= 1, got %d", c.Engine.Workers)
		}
	case "http":
		if c.Engine.URL == "" {
			return fmt.Errorf("ENGINE_URL is required for the http engine")
		}
	default:
		return fmt.Errorf("unknown engine backend %q", c.Engine.Backend)
	}
	switch c.Verifier.Backend {
	case "engine", "rekognition":
	default:
		return fmt.Errorf("unknown verifier backend %q", c.Verifier.Backend)
	}
	return nil
}
