package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/copilotkit-support/AI-shopping-assistant/internal/domain"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Tavily   TavilyConfig
	OpenAI   OpenAIConfig
	Pipeline PipelineConfig
	Cache    CacheConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TavilyConfig holds the search and extraction API configuration
type TavilyConfig struct {
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// OpenAIConfig holds the language model API configuration
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PipelineConfig holds the extraction pipeline bounds
type PipelineConfig struct {
	Retailers        []string      `mapstructure:"retailers"`
	MaxSearchResults int           `mapstructure:"max_search_results"`
	PerRetailerCap   int           `mapstructure:"per_retailer_cap"`
	FollowLimit      int           `mapstructure:"follow_limit"`
	MergeTarget      int           `mapstructure:"merge_target"`
	BufferSize       int           `mapstructure:"buffer_size"`
	WorkerPoolSize   int           `mapstructure:"worker_pool_size"`
	ExtractTimeout   time.Duration `mapstructure:"extract_timeout"`
	MaxContentChars  int           `mapstructure:"max_content_chars"`
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/shoplens/")

	// SHOPLENS_OPENAI_API_KEY -> openai.api_key
	v.SetEnvPrefix("SHOPLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; env vars and defaults are enough
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Credentials have empty defaults so the env vars are picked up by Unmarshal
	v.SetDefault("tavily.api_key", "")
	v.SetDefault("tavily.base_url", "https://api.tavily.com")
	v.SetDefault("tavily.requests_per_minute", 100)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", "120s")

	v.SetDefault("pipeline.retailers", []string{"amazon.com", "target.com", "ebay.com"})
	v.SetDefault("pipeline.max_search_results", 8)
	v.SetDefault("pipeline.per_retailer_cap", 2)
	v.SetDefault("pipeline.follow_limit", 6)
	v.SetDefault("pipeline.merge_target", 5)
	v.SetDefault("pipeline.buffer_size", 10)
	v.SetDefault("pipeline.worker_pool_size", 3)
	v.SetDefault("pipeline.extract_timeout", "120s")
	v.SetDefault("pipeline.max_content_chars", 200000)

	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("cache.max_entries", 500)
}

// validate checks structural settings. Missing credentials are not an error
// here; they fail each turn that needs them.
func validate(config *Config) error {
	if len(config.Pipeline.Retailers) == 0 {
		return fmt.Errorf("at least one retailer is required (set SHOPLENS_PIPELINE_RETAILERS)")
	}
	if config.Pipeline.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive, got: %d", config.Pipeline.WorkerPoolSize)
	}
	if config.Pipeline.MergeTarget <= 0 {
		return fmt.Errorf("merge target must be positive, got: %d", config.Pipeline.MergeTarget)
	}
	if config.Pipeline.BufferSize < config.Pipeline.MergeTarget {
		return fmt.Errorf("buffer size (%d) must not be smaller than merge target (%d)",
			config.Pipeline.BufferSize, config.Pipeline.MergeTarget)
	}
	if config.Pipeline.MaxContentChars <= 0 {
		return fmt.Errorf("max content chars must be positive, got: %d", config.Pipeline.MaxContentChars)
	}
	return nil
}

// CheckCredentials reports which collaborator keys are missing
func (c *Config) CheckCredentials() error {
	var missing []string
	if c.Tavily.APIKey == "" {
		missing = append(missing, "SHOPLENS_TAVILY_API_KEY")
	}
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "SHOPLENS_OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrMissingCredential, strings.Join(missing, ", "))
	}
	return nil
}
