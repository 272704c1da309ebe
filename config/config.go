// Package config loads server settings from built-in defaults, an optional
// YAML file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config holds runtime settings for the sync server.
//
// DatabaseURL selects the store: empty runs on the in-memory store,
// anything else is a PostgreSQL DSN. MaxInflight bounds the requests a
// session may queue behind the one running.
type Config struct {
	Port          string        `yaml:"port"`
	DatabaseURL   string        `yaml:"database_url"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	LogLevel      string        `yaml:"log_level"`
	LogPretty     bool          `yaml:"log_pretty"`
	FanOut        bool          `yaml:"fanout"`
	AllowOrigins  string        `yaml:"allow_origins"`
	BcryptCost    int           `yaml:"bcrypt_cost"`
	MaxInflight   int           `yaml:"max_inflight"`
}

// LoadDefaults populates c with development defaults.
func (c *Config) LoadDefaults() {
	c.Port = "8080"
	c.DatabaseURL = ""
	c.TokenTTL = 24 * time.Hour
	c.SweepInterval = 10 * time.Minute
	c.LogLevel = "info"
	c.LogPretty = false
	c.FanOut = false
	c.AllowOrigins = "*"
	c.BcryptCost = bcrypt.DefaultCost
	c.MaxInflight = 32
}

// Load builds the configuration. The YAML file is read from LUMI_CONFIG
// when set; a missing .env file is ignored.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	// .env only fills variables the environment does not already set, so it
	// is loaded first and LUMI_CONFIG may come from it.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	if path := os.Getenv("LUMI_CONFIG"); path != "" {
		if err := cfg.parseYAML(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.parseEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parseYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) parseEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("LUMI_PORT", &c.Port)
	str("LUMI_DATABASE_URL", &c.DatabaseURL)
	str("LUMI_LOG_LEVEL", &c.LogLevel)
	str("LUMI_ALLOW_ORIGINS", &c.AllowOrigins)

	for key, dst := range map[string]*time.Duration{
		"LUMI_TOKEN_TTL":      &c.TokenTTL,
		"LUMI_SWEEP_INTERVAL": &c.SweepInterval,
	} {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	for key, dst := range map[string]*bool{
		"LUMI_LOG_PRETTY": &c.LogPretty,
		"LUMI_FANOUT":     &c.FanOut,
	} {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	for key, dst := range map[string]*int{
		"LUMI_BCRYPT_COST":  &c.BcryptCost,
		"LUMI_MAX_INFLIGHT": &c.MaxInflight,
	} {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port must not be empty"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("token ttl must be positive, got %s", c.TokenTTL))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep interval must be positive, got %s", c.SweepInterval))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("bcrypt cost must be within [%d, %d], got %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost))
	}
	if c.MaxInflight <= 0 {
		errs = append(errs, fmt.Errorf("max inflight must be positive, got %d", c.MaxInflight))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}
