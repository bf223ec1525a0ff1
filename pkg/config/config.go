package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Platform   PlatformConfig
	Comparison ComparisonConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type LLMConfig struct {
	APIKey          string
	UserModel       string // simulated-user utterances
	HangupModel     string // hangup checks
	ValidationModel string // turn scoring and outcome scoring
	TimeoutSec      int
}

// PlatformConfig points at the voice platform that hosts deployed agents.
type PlatformConfig struct {
	BaseURL    string
	APIKey     string
	TimeoutSec int
}

type ComparisonConfig struct {
	NumSimulations           int
	MaxConcurrentSimulations int
	ConversationTimeoutSec   int
	MaxConversationTurns     int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/voicearena")

	viper.SetEnvPrefix("VOICEARENA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/voicearena.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlHours", 6)

	viper.SetDefault("llm.userModel", "gpt-4o-mini")
	viper.SetDefault("llm.hangupModel", "gpt-4o-mini")
	viper.SetDefault("llm.validationModel", "gpt-4o")
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("platform.baseURL", "https://api.bolna.ai")
	viper.SetDefault("platform.timeoutSec", 10)

	viper.SetDefault("comparison.numSimulations", 5)
	viper.SetDefault("comparison.maxConcurrentSimulations", 3)
	viper.SetDefault("comparison.conversationTimeoutSec", 300)
	viper.SetDefault("comparison.maxConversationTurns", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
