package config

import (
	"errors"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	APIKey         string        `mapstructure:"apiKey"`
	Pprof          bool          `mapstructure:"pprof"`
	BodyLimitMB    int64         `mapstructure:"bodyLimitMB"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	Production     bool          `mapstructure:"production"`
	Debug          bool          `mapstructure:"debug"`
}

// Load prepares a viper instance: .env files are merged into the process
// environment, config.yaml is read when present, and every key can be
// overridden from the environment.
func Load(configFile string) (*viper.Viper, error) {
	// a missing .env is the common case
	_ = godotenv.Load()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}
	v.AutomaticEnv()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8788")
	v.SetDefault("server.pprof", false)
	v.SetDefault("server.bodyLimitMB", 50)
	v.SetDefault("server.requestTimeout", 60*time.Second)
	return v, nil
}

// Server extracts the server section. HOST and PORT from the environment win
// over the file so that container platforms can inject them.
func Server(v *viper.Viper) (ServerConfig, error) {
	var cfg ServerConfig
	if err := v.UnmarshalKey("server", &cfg); err != nil {
		return cfg, err
	}
	src := NewResolver(NewViperSource(v))
	if host, ok := src.Value("HOST"); ok {
		cfg.Host = host
	}
	if port, ok := src.Value("PORT"); ok {
		cfg.Port = port
	}
	if cfg.BodyLimitMB <= 0 {
		cfg.BodyLimitMB = 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return cfg, nil
}
