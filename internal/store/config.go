package store

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the gateway configuration loaded from config.yaml.
type Config struct {
	Server struct {
		Host        string `yaml:"host"`
		Port        int    `yaml:"port"`
		CORSOrigins string `yaml:"cors_origins"`
	} `yaml:"server"`

	KIS struct {
		BaseURL              string  `yaml:"base_url"`
		WSBaseURL            string  `yaml:"ws_base_url"`
		WSPath               string  `yaml:"ws_path"`
		TimeoutSeconds       float64 `yaml:"timeout_seconds"`
		MaxRequestsPerSecond int     `yaml:"max_requests_per_second"`
		RequestRetries       int     `yaml:"request_retries"`
	} `yaml:"kis"`

	Cache struct {
		OverviewTTLSeconds    float64 `yaml:"overview_ttl_seconds"`
		IntradayTTLSeconds    float64 `yaml:"intraday_ttl_seconds"`
		DailyTTLSeconds       float64 `yaml:"daily_ttl_seconds"`
		BypassCooldownSeconds float64 `yaml:"bypass_cooldown_seconds"`
	} `yaml:"cache"`

	Intraday struct {
		MaxCalls int `yaml:"max_calls"`
	} `yaml:"intraday"`
}

// Secrets holds KIS credentials, sourced from the environment only.
type Secrets struct {
	AppKey    string `envconfig:"KIS_APP_KEY"`
	AppSecret string `envconfig:"KIS_APP_SECRET"`
}

func (c *Config) Validate() error {
	if c.KIS.BaseURL == "" {
		return fmt.Errorf("kis.base_url cannot be empty")
	}
	if c.KIS.WSBaseURL == "" {
		return fmt.Errorf("kis.ws_base_url cannot be empty")
	}
	if c.KIS.TimeoutSeconds <= 0 {
		return fmt.Errorf("kis.timeout_seconds must be positive, got %.2f", c.KIS.TimeoutSeconds)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	return nil
}

// CORSOriginList splits the configured comma-separated origins.
func (c *Config) CORSOriginList() []string {
	parts := strings.Split(c.Server.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.KIS.BaseURL == "" {
		c.KIS.BaseURL = "https://openapi.koreainvestment.com:9443"
	}
	if c.KIS.WSBaseURL == "" {
		c.KIS.WSBaseURL = "ws://ops.koreainvestment.com:21000"
	}
	if c.KIS.WSPath == "" {
		c.KIS.WSPath = "/tryitout"
	}
	if c.KIS.TimeoutSeconds == 0 {
		c.KIS.TimeoutSeconds = 10
	}
	if c.KIS.MaxRequestsPerSecond == 0 {
		c.KIS.MaxRequestsPerSecond = 15
	}
	if c.KIS.RequestRetries == 0 {
		c.KIS.RequestRetries = 1
	}
	if c.Cache.OverviewTTLSeconds == 0 {
		c.Cache.OverviewTTLSeconds = 3
	}
	if c.Cache.IntradayTTLSeconds == 0 {
		c.Cache.IntradayTTLSeconds = 15
	}
	if c.Cache.DailyTTLSeconds == 0 {
		c.Cache.DailyTTLSeconds = 120
	}
	if c.Cache.BypassCooldownSeconds == 0 {
		c.Cache.BypassCooldownSeconds = 30
	}
	if c.Intraday.MaxCalls == 0 {
		c.Intraday.MaxCalls = 20
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

// LoadSecrets fills Secrets from the environment.
func LoadSecrets() (Secrets, error) {
	var s Secrets
	err := envconfig.Process("", &s)
	return s, err
}
