package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/phillip-england/registro/internal/registro"
)

// Config holds settings shared by the api, client and cli processes.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Client   ClientConfig   `yaml:"client"`
	DB       DBConfig       `yaml:"db"`
	Log      LogConfig      `yaml:"log"`
	Registro RegistroConfig `yaml:"registro"`
}

type APIConfig struct {
	Addr          string `yaml:"addr"`
	ClearPassword string `yaml:"clear_password"`
}

type ClientConfig struct {
	Addr         string        `yaml:"addr"`
	APIBaseURL   string        `yaml:"api_base_url"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type RegistroConfig struct {
	Scope           registro.Scope `yaml:"scope"`
	RefreshInterval time.Duration  `yaml:"refresh_interval"`
}

func Default() Config {
	return Config{
		API: APIConfig{Addr: ":8080"},
		Client: ClientConfig{
			Addr:         ":3000",
			APIBaseURL:   "http://localhost:8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		DB:  DBConfig{Path: "data/registro.db"},
		Log: LogConfig{Level: "info"},
		Registro: RegistroConfig{
			Scope:           registro.ScopeProduction,
			RefreshInterval: 30 * time.Second,
		},
	}
}

// Load reads defaults, then an optional YAML file named by
// REGISTRO_CONFIG_PATH, then environment overrides.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("REGISTRO_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if v := env("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v, ok := os.LookupEnv("CLEAR_PASSWORD"); ok {
		cfg.API.ClearPassword = v
	}
	if v := env("CLIENT_ADDR"); v != "" {
		cfg.Client.Addr = v
	}
	if v := env("API_BASE_URL"); v != "" {
		cfg.Client.APIBaseURL = v
	}
	if v := env("REGISTRO_DB_PATH"); v != "" {
		cfg.DB.Path = v
	}
	if v := env("REGISTRO_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := env("REGISTRO_SCOPE"); v != "" {
		cfg.Registro.Scope = registro.Scope(v)
	}
	if v := env("REGISTRO_REFRESH_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REGISTRO_REFRESH_INTERVAL: %w", err)
		}
		cfg.Registro.RefreshInterval = interval
	}

	scope, err := registro.ParseScope(string(cfg.Registro.Scope))
	if err != nil {
		return Config{}, fmt.Errorf("invalid REGISTRO_SCOPE: %w", err)
	}
	cfg.Registro.Scope = scope
	if cfg.Registro.RefreshInterval < 0 {
		return Config{}, fmt.Errorf("invalid REGISTRO_REFRESH_INTERVAL: must not be negative")
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}
