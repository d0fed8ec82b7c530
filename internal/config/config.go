package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DataFile         string        `mapstructure:"DATA_FILE"`
	FHIRBaseURL      string        `mapstructure:"FHIR_BASE_URL"`
	FHIRTimeout      time.Duration `mapstructure:"FHIR_TIMEOUT"`
	SimulationDelay  time.Duration `mapstructure:"SIMULATION_DELAY"`
	MaxUploadBytes   int64         `mapstructure:"MAX_UPLOAD_BYTES"`
	WebhookSecret    string        `mapstructure:"WEBHOOK_SECRET"`
	EventLogCapacity int           `mapstructure:"EVENT_LOG_CAPACITY"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DATA_FILE", "patients_data.csv")
	v.SetDefault("FHIR_BASE_URL", "https://hapi.fhir.org/baseR4/")
	v.SetDefault("FHIR_TIMEOUT", "15s")
	v.SetDefault("SIMULATION_DELAY", "2s")
	v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)
	v.SetDefault("WEBHOOK_SECRET", "demo-webhook-secret")
	v.SetDefault("EVENT_LOG_CAPACITY", 500)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATA_FILE")
	v.BindEnv("FHIR_BASE_URL")
	v.BindEnv("FHIR_TIMEOUT")
	v.BindEnv("SIMULATION_DELAY")
	v.BindEnv("MAX_UPLOAD_BYTES")
	v.BindEnv("WEBHOOK_SECRET")
	v.BindEnv("EVENT_LOG_CAPACITY")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is usable before anything touches
// the data file or the network.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataFile) == "" {
		return fmt.Errorf("DATA_FILE is required")
	}

	u, err := url.Parse(c.FHIRBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("FHIR_BASE_URL must be an absolute http(s) URL, got %q", c.FHIRBaseURL)
	}
	if c.FHIRTimeout <= 0 {
		return fmt.Errorf("FHIR_TIMEOUT must be positive, got %s", c.FHIRTimeout)
	}

	if c.SimulationDelay < 0 {
		return fmt.Errorf("SIMULATION_DELAY must not be negative, got %s", c.SimulationDelay)
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must not be negative, got %d", c.MaxUploadBytes)
	}
	if c.EventLogCapacity < 0 {
		return fmt.Errorf("EVENT_LOG_CAPACITY must not be negative, got %d", c.EventLogCapacity)
	}

	return nil
}
