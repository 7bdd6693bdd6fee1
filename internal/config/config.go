package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Depth profiles map to the number of queries a research plan targets.
const (
	DepthQuick      = "quick"
	DepthDetailed   = "detailed"
	DepthExhaustive = "exhaustive"
)

// smallModels lists model name prefixes known to be small (< 7B params).
// Runs against these default to compact mode unless overridden.
var smallModels = []string{
	"phi3", "phi",
	"gemma2:2b", "gemma:2b",
	"tinyllama",
	"qwen2:0.5b", "qwen2:1.5b",
	"stablelm2",
}

// Config is the root configuration for a kestrel process.
type Config struct {
	Provider  string          `mapstructure:"provider" yaml:"provider"`
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Search    SearchConfig    `mapstructure:"search" yaml:"search"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// ProviderConfig describes one LLM backend.
type ProviderConfig struct {
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

// ProvidersConfig holds per-backend settings keyed by provider name.
type ProvidersConfig struct {
	Ollama    ProviderConfig `mapstructure:"ollama" yaml:"ollama"`
	OpenAI    ProviderConfig `mapstructure:"openai" yaml:"openai"`
	Anthropic ProviderConfig `mapstructure:"anthropic" yaml:"anthropic"`
	Google    ProviderConfig `mapstructure:"google" yaml:"google"`
}

// AgentConfig controls the research loop.
type AgentConfig struct {
	MaxIterations    int    `mapstructure:"max_iterations" yaml:"max_iterations"`
	ResearchDepth    string `mapstructure:"research_depth" yaml:"research_depth"`
	MaxSearchResults int    `mapstructure:"max_search_results" yaml:"max_search_results"`
	// CompactMode overrides small-model auto-detection when set.
	CompactMode *bool `mapstructure:"compact_mode" yaml:"compact_mode,omitempty"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	// ReadIdleTimeout bounds the gap between streamed chunks, not the whole
	// response, so slow token-by-token generation does not trip it.
	ReadIdleTimeout time.Duration `mapstructure:"read_idle_timeout" yaml:"read_idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// SearchConfig controls the web search and extraction tools.
type SearchConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ServerConfig configures the kestreld HTTP server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout" yaml:"graceful_timeout"`
	StreamBuffer    int           `mapstructure:"stream_buffer" yaml:"stream_buffer"`
}

// StorageConfig configures the run archive and optional status cache.
type StorageConfig struct {
	SQLitePath string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr  string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	StatusTTL  time.Duration `mapstructure:"status_ttl" yaml:"status_ttl"`
}

// OutputConfig configures report artifacts.
type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "json" or "console"
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: "ollama",
		Providers: ProvidersConfig{
			Ollama:    ProviderConfig{Model: "llama3", BaseURL: "http://localhost:11434"},
			OpenAI:    ProviderConfig{Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
			Anthropic: ProviderConfig{Model: "claude-3-5-sonnet-20241022", BaseURL: "https://api.anthropic.com"},
			Google:    ProviderConfig{Model: "gemini-2.0-flash", BaseURL: "https://generativelanguage.googleapis.com"},
		},
		Agent: AgentConfig{
			MaxIterations:    3,
			ResearchDepth:    DepthDetailed,
			MaxSearchResults: 5,
			ConnectTimeout:   30 * time.Second,
			ReadIdleTimeout:  5 * time.Minute,
			RequestTimeout:   2 * time.Minute,
		},
		Search: SearchConfig{
			RequestsPerSecond: 1,
			Burst:             2,
			Timeout:           15 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // streaming responses must not be cut off
			GracefulTimeout: 10 * time.Second,
			StreamBuffer:    256,
		},
		Storage: StorageConfig{
			SQLitePath: "kestrel.db",
			StatusTTL:  24 * time.Hour,
		},
		Output:  OutputConfig{Directory: "outputs"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration from path (or KESTREL_CONFIG, or ./kestrel.yaml),
// layered on top of defaults, then applies environment overrides. A missing
// config file is not an error; defaults plus env are used.
func Load(path string) (*Config, error) {
	// .env is optional and only supplies API keys and similar secrets.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("KESTREL_CONFIG")
	}
	if path == "" {
		path = "kestrel.yaml"
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// File absent: fall through with defaults.
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment overrides on top of file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("KESTREL_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Providers.Google.APIKey = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		c.Providers.Ollama.BaseURL = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KESTREL_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// Validate rejects configurations the loop cannot run with.
func (c *Config) Validate() error {
	switch c.Provider {
	case "ollama", "openai", "anthropic", "google":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	switch c.Agent.ResearchDepth {
	case DepthQuick, DepthDetailed, DepthExhaustive:
	default:
		return fmt.Errorf("unknown research depth %q", c.Agent.ResearchDepth)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.MaxSearchResults < 1 {
		return fmt.Errorf("max_search_results must be >= 1, got %d", c.Agent.MaxSearchResults)
	}
	return nil
}

// ProviderNames lists the backends the gateway knows how to build.
var ProviderNames = []string{"ollama", "openai", "anthropic", "google"}

// ActiveProvider returns the settings for the selected provider.
func (c *Config) ActiveProvider() ProviderConfig {
	return c.ProviderConfig(c.Provider)
}

// ProviderConfig returns the settings for a named provider.
func (c *Config) ProviderConfig(name string) ProviderConfig {
	switch name {
	case "openai":
		return c.Providers.OpenAI
	case "anthropic":
		return c.Providers.Anthropic
	case "google":
		return c.Providers.Google
	default:
		return c.Providers.Ollama
	}
}

// CompactMode reports whether prompts and content limits should be scaled
// down. Explicit config wins; otherwise it is inferred from the model name.
func (c *Config) CompactMode() bool {
	if c.Agent.CompactMode != nil {
		return *c.Agent.CompactMode
	}
	model := strings.ToLower(c.ActiveProvider().Model)
	for _, s := range smallModels {
		if strings.HasPrefix(model, s) {
			return true
		}
	}
	return false
}

// QueryTarget returns the plan size for a depth profile.
func QueryTarget(depth string) int {
	switch depth {
	case DepthQuick:
		return 3
	case DepthExhaustive:
		return 8
	default:
		return 5
	}
}

// Content limits scale with compact mode; the loop's control flow does not.

func (c *Config) MaxContentChars() int {
	if c.CompactMode() {
		return 2000
	}
	return 6000
}

func (c *Config) MaxPagesToExtract() int {
	if c.CompactMode() {
		return 2
	}
	return 3
}

func (c *Config) MaxReportTokens() int {
	if c.CompactMode() {
		return 2000
	}
	return 8000
}

func (c *Config) MaxAnalysisTokens() int {
	if c.CompactMode() {
		return 500
	}
	return 4096
}
