package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Detector DetectorConfig `yaml:"detector"`
	Gallery  GalleryConfig  `yaml:"gallery"`
	Scrape   ScrapeConfig   `yaml:"scrape"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DetectorConfig points at the external face detection/encoding service.
type DetectorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type GalleryConfig struct {
	MatchThreshold float64 `yaml:"match_threshold"`
	MatchTopN      int     `yaml:"match_top_n"`
	DefaultLimit   int     `yaml:"default_limit"`
	MaxLimit       int     `yaml:"max_limit"`
}

type ScrapeConfig struct {
	WorkerCount   int           `yaml:"worker_count"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	JobRetention  time.Duration `yaml:"job_retention"`
	MaxImageBytes int64         `yaml:"max_image_bytes"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Detector.Timeout == 0 {
		cfg.Detector.Timeout = 60 * time.Second
	}
	if cfg.Gallery.MatchThreshold == 0 {
		cfg.Gallery.MatchThreshold = 0.5
	}
	if cfg.Gallery.MatchTopN == 0 {
		cfg.Gallery.MatchTopN = 3
	}
	if cfg.Gallery.DefaultLimit == 0 {
		cfg.Gallery.DefaultLimit = 40
	}
	if cfg.Gallery.MaxLimit == 0 {
		cfg.Gallery.MaxLimit = 100
	}
	if cfg.Scrape.WorkerCount == 0 {
		cfg.Scrape.WorkerCount = 2
	}
	if cfg.Scrape.FetchTimeout == 0 {
		cfg.Scrape.FetchTimeout = 10 * time.Second
	}
	if cfg.Scrape.JobRetention == 0 {
		cfg.Scrape.JobRetention = 7 * 24 * time.Hour
	}
	if cfg.Scrape.MaxImageBytes == 0 {
		cfg.Scrape.MaxImageBytes = 25 << 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHIRP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHIRP_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("CHIRP_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("CHIRP_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("CHIRP_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("CHIRP_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("CHIRP_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("CHIRP_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CHIRP_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("CHIRP_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("CHIRP_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("CHIRP_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("CHIRP_DETECTOR_URL"); v != "" {
		cfg.Detector.URL = v
	}
	if v := os.Getenv("CHIRP_SCRAPE_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scrape.WorkerCount = n
		}
	}
}
