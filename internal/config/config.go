package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration. Values come from defaults,
// then an optional YAML file, then environment variables (highest precedence).
type Config struct {
	HTTPAddr   string `yaml:"http_addr"`
	DBPath     string `yaml:"db_path"`
	ContentDir string `yaml:"content_dir"`
	Workers    int    `yaml:"workers"`
	Verbose    bool   `yaml:"verbose"`

	// AllowlistPath is the path to the file of benign values that suppress
	// findings (one value per line).
	AllowlistPath string `yaml:"allowlist_path"`

	LLM       LLMConfig       `yaml:"llm"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Admission AdmissionConfig `yaml:"admission"`
}

// LLMConfig configures the default LLM provider used when no per-user
// override is supplied.
type LLMConfig struct {
	Provider       string        `yaml:"provider"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	ChunkSizeBytes int           `yaml:"chunk_size_bytes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SchedulerConfig configures the recovery scheduler.
type SchedulerConfig struct {
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	StallThreshold time.Duration `yaml:"stall_threshold"`
}

// AdmissionConfig bounds how often a user may trigger (re)analysis.
type AdmissionConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	MaxUsers    int           `yaml:"max_users"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:      ":8080",
		DBPath:        "loghawk.db",
		ContentDir:    "uploads",
		Workers:       runtime.NumCPU(),
		AllowlistPath: "allowlist.txt",
		LLM: LLMConfig{
			Provider:       "ollama",
			Model:          "llama3.2",
			BaseURL:        "http://localhost:11434",
			ChunkSizeBytes: 12000,
			RequestTimeout: 60 * time.Second,
		},
		Scheduler: SchedulerConfig{
			SweepInterval:  5 * time.Minute,
			StallThreshold: 15 * time.Minute,
		},
		Admission: AdmissionConfig{
			MaxRequests: 5,
			Window:      time.Minute,
			MaxUsers:    10000,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path (skipped when path is empty or missing) and environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.LLM.ChunkSizeBytes <= 0 {
		cfg.LLM.ChunkSizeBytes = 12000
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("LOGHAWK_HTTP_ADDR", c.HTTPAddr)
	c.DBPath = getEnv("LOGHAWK_DB_PATH", c.DBPath)
	c.ContentDir = getEnv("LOGHAWK_CONTENT_DIR", c.ContentDir)
	c.Workers = getEnvInt("LOGHAWK_WORKERS", c.Workers)
	c.AllowlistPath = getEnv("LOGHAWK_ALLOWLIST_PATH", c.AllowlistPath)

	c.LLM.Provider = getEnv("LOGHAWK_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.APIKey = getEnv("LOGHAWK_LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getEnv("LOGHAWK_LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = getEnv("LOGHAWK_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.ChunkSizeBytes = getEnvInt("LOGHAWK_LLM_CHUNK_BYTES", c.LLM.ChunkSizeBytes)
	c.LLM.RequestTimeout = getEnvDuration("LOGHAWK_LLM_TIMEOUT", c.LLM.RequestTimeout)

	c.Scheduler.SweepInterval = getEnvDuration("LOGHAWK_SWEEP_INTERVAL", c.Scheduler.SweepInterval)
	c.Scheduler.StallThreshold = getEnvDuration("LOGHAWK_STALL_THRESHOLD", c.Scheduler.StallThreshold)

	c.Admission.MaxRequests = getEnvInt("LOGHAWK_ADMISSION_MAX", c.Admission.MaxRequests)
	c.Admission.Window = getEnvDuration("LOGHAWK_ADMISSION_WINDOW", c.Admission.Window)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
