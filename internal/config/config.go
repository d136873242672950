package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"CONCH_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"CONCH_DB_MAX_CONNS" default:"8"`

	RedisURL   string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	NATSURL    string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	StreamName string `envconfig:"CONCH_STREAM" default:"CONCH"`

	DBLPXMLGzURL string `envconfig:"DBLP_XML_GZ_URL" default:"https://dblp.org/xml/dblp.xml.gz"`
	DBLPDTDURL   string `envconfig:"DBLP_DTD_URL" default:"https://dblp.org/xml/dblp.dtd"`
	DBLPBaseURL  string `envconfig:"DBLP_BASE_URL" default:"https://dblp.org/"`

	DataDir        string        `envconfig:"CONCH_DATA_DIR" default:"./data"`
	FetchChunkSize int           `envconfig:"FETCH_CHUNK_SIZE" default:"1048576"`
	FetchTimeout   time.Duration `envconfig:"FETCH_TIMEOUT" default:"2h"`

	ORCIDAPIURL    string  `envconfig:"ORCID_API_URL" default:"https://pub.orcid.org/v3.0"`
	ORCIDRateLimit float64 `envconfig:"ORCID_RATE_LIMIT" default:"22"`

	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"4"`
	WorkerAckWait     time.Duration `envconfig:"WORKER_ACK_WAIT" default:"2m"`
	WorkerMaxDeliver  int           `envconfig:"WORKER_MAX_DELIVER" default:"5"`

	RunLockTTL time.Duration `envconfig:"RUN_LOCK_TTL" default:"12h"`

	HTTPAddr           string `envconfig:"HTTP_ADDR" default:":8080"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("CONCH_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("CONCH_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("CONCH_DB_MIN_CONNS (%d) cannot exceed CONCH_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if strings.TrimSpace(c.NATSURL) == "" {
		return fmt.Errorf("NATS_URL is required")
	}
	if strings.TrimSpace(c.StreamName) == "" {
		return fmt.Errorf("CONCH_STREAM is required")
	}
	for name, raw := range map[string]string{
		"DBLP_XML_GZ_URL": c.DBLPXMLGzURL,
		"DBLP_DTD_URL":    c.DBLPDTDURL,
		"DBLP_BASE_URL":   c.DBLPBaseURL,
		"ORCID_API_URL":   c.ORCIDAPIURL,
	} {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("CONCH_DATA_DIR is required")
	}
	if c.FetchChunkSize < 1 {
		return fmt.Errorf("FETCH_CHUNK_SIZE must be >= 1")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be > 0")
	}
	if c.ORCIDRateLimit <= 0 {
		return fmt.Errorf("ORCID_RATE_LIMIT must be > 0")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be >= 1")
	}
	if c.WorkerMaxDeliver < 1 {
		return fmt.Errorf("WORKER_MAX_DELIVER must be >= 1")
	}
	if c.RunLockTTL <= 0 {
		return fmt.Errorf("RUN_LOCK_TTL must be > 0")
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
