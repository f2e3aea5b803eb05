package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Agent      Agent      `yaml:"agent"`
	Storage    Storage    `yaml:"storage"`
	Generation Generation `yaml:"generation"`
	Redis      Redis      `yaml:"redis"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

// Agent controls the discovery cycle.
type Agent struct {
	IntervalMS         int64    `yaml:"interval_ms"`
	MaxProducts        int      `yaml:"max_products"`
	BatchSize          int      `yaml:"batch_size"`
	CategoriesPerCycle int      `yaml:"categories_per_cycle"`
	Categories         []string `yaml:"categories"`
	MarketplaceDomains []string `yaml:"marketplace_domains"`
	Seed               int64    `yaml:"seed"`
	AutoStart          bool     `yaml:"auto_start"`
}

type Storage struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	InitAttempts int    `yaml:"init_attempts"`
	InitDelayMS  int64  `yaml:"init_delay_ms"`
}

type Generation struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	OllamaURL     string `yaml:"ollama_url"`
	OpenAIModel   string `yaml:"openai_model"`
	APIKeyEnv     string `yaml:"api_key_env"`
	BedrockModel  string `yaml:"bedrock_model"`
	BedrockRegion string `yaml:"bedrock_region"`
	MaxTokens     int    `yaml:"max_tokens"`
	Feeds         []Feed `yaml:"feeds"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Redis struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	LockKey    string `yaml:"lock_key"`
	LockTTLSec int    `yaml:"lock_ttl_seconds"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for trenddrop.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "trenddrop")
}

// DataDir returns the XDG data directory for trenddrop.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "trenddrop")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/trenddrop/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'trenddrop init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, _ := parse(nil)
	return cfg
}

// FromEnv returns the defaults with environment overrides applied.
// Used when no config file exists, e.g. in containers.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Agent: Agent{
			IntervalMS:         3_600_000,
			MaxProducts:        1000,
			BatchSize:          10,
			CategoriesPerCycle: 10,
		},
		Storage: Storage{
			Driver:       "sqlite",
			InitAttempts: 5,
			InitDelayMS:  2000,
		},
		Generation: Generation{
			Provider:      "static",
			Model:         "qwen2.5:7b",
			OllamaURL:     "http://localhost:11434",
			OpenAIModel:   "gpt-4o-mini",
			APIKeyEnv:     "OPENAI_API_KEY",
			BedrockRegion: "us-east-1",
			MaxTokens:     1024,
		},
		Redis: Redis{
			LockKey:    "trenddrop:cycle",
			LockTTLSec: 900,
		},
		Server:  Server{Host: "127.0.0.1", Port: 8000},
		Logging: Logging{Level: "INFO", Format: "text"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.Driver = "postgres"
		c.Storage.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if v := os.Getenv("MAX_PRODUCTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_PRODUCTS %q: %w", v, err)
		}
		c.Agent.MaxProducts = n
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// Interval returns the cycle interval as a duration.
func (a Agent) Interval() time.Duration {
	return time.Duration(a.IntervalMS) * time.Millisecond
}

// InitDelay returns the fixed delay between storage init attempts.
func (s Storage) InitDelay() time.Duration {
	return time.Duration(s.InitDelayMS) * time.Millisecond
}

// LockTTL returns the Redis cycle lock expiry.
func (r Redis) LockTTL() time.Duration {
	return time.Duration(r.LockTTLSec) * time.Second
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
