package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Tokenizer kinds.
const (
	TokenizerTiktoken = "tiktoken"
	TokenizerChars    = "chars"
)

// Transports.
const (
	TransportHTTP     = "http"
	TransportMCPStdio = "mcp-stdio"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Context   ContextConfig
	History   HistoryConfig
	Tokenizer TokenizerConfig
	Log       LogConfig
	MCP       MCPConfig
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            string `mapstructure:"port"`
	PrincipalHeader string `mapstructure:"principal_header"`
	AllowedOrigin   string `mapstructure:"allowed_origin"`
	Transport       string `mapstructure:"transport"`
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Temperature  float32       `mapstructure:"temperature"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ContextConfig describes the model's context window. The history budget is
// MaxTokens minus ReserveTokens.
type ContextConfig struct {
	MaxTokens     int `mapstructure:"max_tokens"`
	ReserveTokens int `mapstructure:"reserve_tokens"`
}

// HistoryConfig selects and tunes the conversation store.
type HistoryConfig struct {
	Driver        string        `mapstructure:"driver"`
	DSN           string        `mapstructure:"dsn"`
	Retention     time.Duration `mapstructure:"retention"`
	PageSize      int           `mapstructure:"page_size"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type TokenizerConfig struct {
	Kind          string  `mapstructure:"kind"`
	Encoding      string  `mapstructure:"encoding"`
	CharsPerToken float64 `mapstructure:"chars_per_token"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MCPConfig configures the stdio MCP transport. The local user is the only
// principal there, so the owner id is fixed.
type MCPConfig struct {
	OwnerID string `mapstructure:"owner_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.principal_header", "X-Authenticated-User")
	v.SetDefault("server.allowed_origin", "*")
	v.SetDefault("server.transport", TransportHTTP)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("context.max_tokens", 200000)
	v.SetDefault("context.reserve_tokens", 1000)

	v.SetDefault("history.driver", DriverSQLite)
	v.SetDefault("history.dsn", "history.db")
	v.SetDefault("history.retention", 30*24*time.Hour)
	v.SetDefault("history.page_size", 100)
	v.SetDefault("history.sweep_interval", time.Hour)

	v.SetDefault("tokenizer.kind", TokenizerTiktoken)
	v.SetDefault("tokenizer.encoding", "cl100k_base")
	v.SetDefault("tokenizer.chars_per_token", 4.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("mcp.owner_id", "local")
}

// Load loads the configuration from config.yaml (or the file named by
// CONFIG_PATH), overlaid with CALMCHAT_* environment variables.
func Load() (*Config, error) {
	return LoadWithFlags(nil)
}

// LoadWithFlags is Load with command-line flags bound on top. Flags are
// matched to keys by name ("config" selects the file, "transport" maps to
// server.transport, "log-level" to log.level).
func LoadWithFlags(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CALMCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("CONFIG_PATH")
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			path = f.Value.String()
		}
		if err := bindFlag(v, flags, "server.transport", "transport"); err != nil {
			return nil, err
		}
		if err := bindFlag(v, flags, "log.level", "log-level"); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func bindFlag(v *viper.Viper, flags *pflag.FlagSet, key, name string) error {
	f := flags.Lookup(name)
	if f == nil {
		return nil
	}
	if err := v.BindPFlag(key, f); err != nil {
		return fmt.Errorf("bind flag %s: %w", name, err)
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Context.MaxTokens <= 0 {
		return fmt.Errorf("context.max_tokens must be positive, got %d", c.Context.MaxTokens)
	}
	if c.Context.ReserveTokens < 0 || c.Context.ReserveTokens >= c.Context.MaxTokens {
		return fmt.Errorf("context.reserve_tokens must be in [0, %d), got %d", c.Context.MaxTokens, c.Context.ReserveTokens)
	}
	switch c.History.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown history.driver %q", c.History.Driver)
	}
	if c.History.PageSize <= 0 {
		return fmt.Errorf("history.page_size must be positive, got %d", c.History.PageSize)
	}
	if c.History.Retention <= 0 {
		return fmt.Errorf("history.retention must be positive, got %s", c.History.Retention)
	}
	switch c.Tokenizer.Kind {
	case TokenizerTiktoken, TokenizerChars:
	default:
		return fmt.Errorf("unknown tokenizer.kind %q", c.Tokenizer.Kind)
	}
	switch c.Server.Transport {
	case TransportHTTP, TransportMCPStdio:
	default:
		return fmt.Errorf("unknown server.transport %q", c.Server.Transport)
	}
	return nil
}

// HistoryBudget is the number of tokens of history that may be sent to the
// model for one request.
func (c *Config) HistoryBudget() int {
	return c.Context.MaxTokens - c.Context.ReserveTokens
}
