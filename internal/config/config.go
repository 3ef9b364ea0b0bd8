package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	AppName   string `mapstructure:"app_name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
}

// ServerConfig holds the thin HTTP wiring layer's configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig holds ArangoDB connection configuration.
type DatabaseConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// OrchestrationConfig bounds the DAG engine's concurrency and the chain
// manager's polling behavior. Values are applied as-is; zero/negative
// values fall back to the defaults each engine already carries.
type OrchestrationConfig struct {
	MaxConcurrency       int `mapstructure:"max_concurrency"`
	DefaultTaskTimeoutS  int `mapstructure:"default_task_timeout_seconds"`
	ChainPollIntervalMs  int `mapstructure:"chain_poll_interval_ms"`
	ChainPollTimeoutSecs int `mapstructure:"chain_poll_timeout_seconds"`
}

// Load loads configuration from file and environment variables, in that
// precedence order: built-in defaults, config file, WFCORE_-prefixed
// environment variables, then the explicit overrides below for the
// secrets/values operators most commonly set per-environment.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		AppName:   "workflowcore",
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Database: DatabaseConfig{
			Endpoint: "http://localhost:8529",
			Database: "workflowcore",
			Username: "root",
		},
		Orchestration: OrchestrationConfig{
			MaxConcurrency:       10,
			DefaultTaskTimeoutS:  300,
			ChainPollIntervalMs:  500,
			ChainPollTimeoutSecs: 600,
		},
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		if filepath.IsAbs(configPath) {
			viper.SetConfigFile(configPath)
		} else {
			viper.AddConfigPath(filepath.Dir(configPath))
			viper.SetConfigName(filepath.Base(configPath[:len(configPath)-len(filepath.Ext(configPath))]))
		}
	}

	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/workflowcore")

	viper.SetEnvPrefix("WFCORE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, err
	}

	if password := os.Getenv("WFCORE_DATABASE_PASSWORD"); password != "" {
		config.Database.Password = password
	}
	if port := os.Getenv("WFCORE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if concurrency := os.Getenv("WFCORE_ORCHESTRATION_MAX_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Orchestration.MaxConcurrency = c
		}
	}

	return config, nil
}
