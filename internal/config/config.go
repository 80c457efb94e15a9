package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI  = "openai"
	ProviderGateway = "gateway"

	defaultHost       = "0.0.0.0"
	defaultPort       = 8011
	defaultDBPath     = "/data/meal-lens.db"
	defaultLogEnv     = "development"
	defaultBaseURL    = "https://router.huggingface.co/v1"
	defaultModel      = "google/gemma-3n-E2B-it"
	defaultProxyURL   = "http://mcp-compose-http-proxy:9876"
	defaultMaxTokens  = 2000
	defaultTimeout    = 120 * time.Second
	defaultMaxRetries = 3
)

// Config is the service configuration. Values come from an optional YAML file,
// then environment variables, then command-line flags applied by main.
type Config struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	DBPath string `yaml:"db_path"`
	LogEnv string `yaml:"log_env"`
	Model  Model  `yaml:"model"`

	// PublicURL is how MCP clients reach this server; the SSE endpoint event
	// advertises PublicURL + "/message". Defaults to http://host:port.
	PublicURL string `yaml:"public_url"`
}

// Model configures the image-to-text backend.
type Model struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Name        string        `yaml:"name"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature *float64      `yaml:"temperature,omitempty"`
	Timeout     time.Duration `yaml:"-"`
	MaxRetries  int           `yaml:"max_retries"`

	// Gateway provider only.
	ProxyURL    string `yaml:"proxy_url"`
	ProxyAPIKey string `yaml:"proxy_api_key"`

	timeoutRaw string
}

type rawModel struct {
	Provider    string   `yaml:"provider"`
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Name        string   `yaml:"name"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
	Timeout     string   `yaml:"timeout"`
	MaxRetries  *int     `yaml:"max_retries"`
	ProxyURL    string   `yaml:"proxy_url"`
	ProxyAPIKey string   `yaml:"proxy_api_key"`
}

// Load reads path (if non-empty) and applies .env files, environment
// overrides and defaults.
func Load(path string, envFiles ...string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load(envFiles...)

	if path == "" {
		return LoadFromReader(strings.NewReader(""))
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	return LoadFromReader(file)
}

// LoadFromReader builds a Config from YAML in r.
func LoadFromReader(r io.Reader) (*Config, error) {
	var raw struct {
		Host   string   `yaml:"host"`
		Port   int      `yaml:"port"`
		DBPath string   `yaml:"db_path"`
		LogEnv    string   `yaml:"log_env"`
		Model     rawModel `yaml:"model"`
		PublicURL string   `yaml:"public_url"`
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg := &Config{
		Host:   raw.Host,
		Port:   raw.Port,
		DBPath: raw.DBPath,
		LogEnv:    raw.LogEnv,
		PublicURL: raw.PublicURL,
		Model: Model{
			Provider:    raw.Model.Provider,
			BaseURL:     raw.Model.BaseURL,
			APIKey:      raw.Model.APIKey,
			Name:        raw.Model.Name,
			MaxTokens:   raw.Model.MaxTokens,
			Temperature: raw.Model.Temperature,
			MaxRetries:  -1,
			ProxyURL:    raw.Model.ProxyURL,
			ProxyAPIKey: raw.Model.ProxyAPIKey,
			timeoutRaw:  raw.Model.Timeout,
		},
	}
	if raw.Model.MaxRetries != nil {
		cfg.Model.MaxRetries = *raw.Model.MaxRetries
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Model.parseTimeout(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("config: db_path is required")
	}
	m := c.Model
	switch m.Provider {
	case ProviderOpenAI:
		if strings.TrimSpace(m.BaseURL) == "" {
			return errors.New("config: model.base_url is required")
		}
	case ProviderGateway:
		if strings.TrimSpace(m.ProxyURL) == "" {
			return errors.New("config: model.proxy_url is required")
		}
	default:
		return fmt.Errorf("config: unknown model provider %q", m.Provider)
	}
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("config: model.name is required")
	}
	if m.MaxTokens <= 0 {
		return errors.New("config: model.max_tokens must be positive")
	}
	if m.Timeout <= 0 {
		return errors.New("config: model.timeout must be positive")
	}
	if m.MaxRetries < 0 {
		return errors.New("config: model.max_retries cannot be negative")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MessageURL is the absolute URL MCP clients post JSON-RPC messages to.
func (c *Config) MessageURL() string {
	base := strings.TrimRight(c.PublicURL, "/")
	if base == "" {
		host := c.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		base = fmt.Sprintf("http://%s:%d", host, c.Port)
	}
	return base + "/message"
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	if c.LogEnv == "" {
		c.LogEnv = defaultLogEnv
	}

	m := &c.Model
	if m.Provider == "" {
		m.Provider = ProviderOpenAI
	}
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	if m.BaseURL == "" {
		m.BaseURL = defaultBaseURL
	}
	if m.Name == "" {
		m.Name = defaultModel
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = defaultMaxTokens
	}
	if m.MaxRetries == -1 {
		m.MaxRetries = defaultMaxRetries
	}
	if m.Provider == ProviderGateway && m.ProxyURL == "" {
		m.ProxyURL = defaultProxyURL
	}
}

func (c *Config) applyEnvOverrides() error {
	c.Host = expandAndOverride(c.Host, "MEAL_LENS_HOST")
	c.DBPath = expandAndOverride(c.DBPath, "MEAL_LENS_DB_PATH")
	c.LogEnv = expandAndOverride(c.LogEnv, "MEAL_LENS_ENV")
	c.PublicURL = expandAndOverride(c.PublicURL, "MEAL_LENS_PUBLIC_URL")
	if raw := os.Getenv("MEAL_LENS_PORT"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("config: invalid MEAL_LENS_PORT %q: %w", raw, err)
		}
		c.Port = v
	}

	m := &c.Model
	m.Provider = expandAndOverride(m.Provider, "MEAL_LENS_PROVIDER")
	m.BaseURL = expandAndOverride(m.BaseURL, "MEAL_LENS_BASE_URL")
	// HF_TOKEN wins over OPENAI_API_KEY only when the latter is unset.
	m.APIKey = expandAndOverride(m.APIKey, "HF_TOKEN")
	m.APIKey = expandAndOverride(m.APIKey, "OPENAI_API_KEY")
	m.APIKey = expandAndOverride(m.APIKey, "MEAL_LENS_API_KEY")
	m.Name = expandAndOverride(m.Name, "OPENROUTER_MODEL")
	m.Name = expandAndOverride(m.Name, "MEAL_LENS_MODEL")
	m.ProxyURL = expandAndOverride(m.ProxyURL, "MCP_PROXY_URL")
	m.ProxyAPIKey = expandAndOverride(m.ProxyAPIKey, "MCP_PROXY_API_KEY")

	if raw := os.Getenv("MEAL_LENS_TIMEOUT"); raw != "" {
		m.timeoutRaw = raw
	} else {
		m.timeoutRaw = os.ExpandEnv(m.timeoutRaw)
	}
	if raw := os.Getenv("MEAL_LENS_MAX_RETRIES"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("config: invalid MEAL_LENS_MAX_RETRIES %q: %w", raw, err)
		}
		m.MaxRetries = v
	}
	return nil
}

func (m *Model) parseTimeout() error {
	if strings.TrimSpace(m.timeoutRaw) == "" {
		m.Timeout = defaultTimeout
		return nil
	}
	d, err := time.ParseDuration(m.timeoutRaw)
	if err != nil {
		return fmt.Errorf("config: invalid model.timeout %q: %w", m.timeoutRaw, err)
	}
	if d <= 0 {
		return fmt.Errorf("config: model.timeout must be positive, got %s", d)
	}
	m.Timeout = d
	return nil
}

func expandAndOverride(current, envKey string) string {
	current = os.ExpandEnv(current)
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return current
}
