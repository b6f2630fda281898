package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// WorkDir hosts per-job scratch directories. Empty means the system
	// temp dir.
	WorkDir string `yaml:"work_dir"`

	// MaxConcurrent bounds how many downloads run at once, zero means
	// unbounded.
	MaxConcurrent int64 `yaml:"max_concurrent"`

	Engine Engine `yaml:"engine"`
	CORS   CORS   `yaml:"cors"`
}

type Engine struct {
	AutoInstall      bool          `yaml:"auto_install"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	MergeFormat      string        `yaml:"merge_format"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func MustLoad(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("config: cannot read file %q: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("config: cannot unmarshal yaml: %v", err)
	}

	if cfg.Addr == "" {
		log.Fatalf("config: addr is empty")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrent < 0 {
		cfg.MaxConcurrent = 0
	}
	if cfg.Engine.ProgressInterval <= 0 {
		cfg.Engine.ProgressInterval = 500 * time.Millisecond
	}
	if cfg.Engine.MergeFormat == "" {
		cfg.Engine.MergeFormat = "mp4"
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	return &cfg
}
