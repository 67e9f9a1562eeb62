// Package config loads huddle settings from an optional YAML file and
// HUDDLE_* environment variables. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// EnvFile names the environment variable holding the YAML file path.
const EnvFile = "HUDDLE_CONFIG"

type Config struct {
	Port      string `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// MinAdvanceHours is the minimum lead time for new events.
	MinAdvanceHours int           `yaml:"min_advance_hours"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	FreeEventLimit  int           `yaml:"free_event_limit"`
	// TimeZone is used to read dates typed into chat commands.
	TimeZone string `yaml:"time_zone"`

	WhatsApp WhatsApp `yaml:"whatsapp"`
}

type WhatsApp struct {
	BaseURL       string `yaml:"base_url"`
	APIVersion    string `yaml:"api_version"`
	PhoneNumberID string `yaml:"phone_number_id"`
	AccessToken   string `yaml:"access_token"`
	VerifyToken   string `yaml:"verify_token"`
	AppSecret     string `yaml:"app_secret"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:            "8080",
		DBPath:          "huddle.db",
		LogLevel:        "info",
		LogFormat:       "text",
		MinAdvanceHours: 3,
		SweepInterval:   time.Hour,
		FreeEventLimit:  5,
		TimeZone:        "UTC",
		WhatsApp: WhatsApp{
			BaseURL:    "https://graph.facebook.com",
			APIVersion: "v17.0",
		},
	}
}

// Load reads path (skipped when empty) and then applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("HUDDLE_PORT", &c.Port)
	str("HUDDLE_DB_PATH", &c.DBPath)
	str("HUDDLE_LOG_LEVEL", &c.LogLevel)
	str("HUDDLE_LOG_FORMAT", &c.LogFormat)
	str("HUDDLE_TIME_ZONE", &c.TimeZone)
	str("HUDDLE_WHATSAPP_BASE_URL", &c.WhatsApp.BaseURL)
	str("HUDDLE_WHATSAPP_API_VERSION", &c.WhatsApp.APIVersion)
	str("HUDDLE_WHATSAPP_PHONE_NUMBER_ID", &c.WhatsApp.PhoneNumberID)
	str("HUDDLE_WHATSAPP_ACCESS_TOKEN", &c.WhatsApp.AccessToken)
	str("HUDDLE_WHATSAPP_VERIFY_TOKEN", &c.WhatsApp.VerifyToken)
	str("HUDDLE_WHATSAPP_APP_SECRET", &c.WhatsApp.AppSecret)

	var errs []error
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	integer("HUDDLE_MIN_ADVANCE_HOURS", &c.MinAdvanceHours)
	integer("HUDDLE_FREE_EVENT_LIMIT", &c.FreeEventLimit)

	if v, ok := lookup("HUDDLE_SWEEP_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HUDDLE_SWEEP_INTERVAL: %w", err))
		} else {
			c.SweepInterval = d
		}
	}
	return errors.Join(errs...)
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MinAdvanceHours < 0:
		return errors.New("min_advance_hours must not be negative")
	case c.SweepInterval <= 0:
		return errors.New("sweep_interval must be positive")
	case c.FreeEventLimit < 0:
		return errors.New("free_event_limit must not be negative")
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("time_zone: %w", err)
	}
	return nil
}

// MinAdvance returns the minimum event lead time as a duration.
func (c Config) MinAdvance() time.Duration {
	return time.Duration(c.MinAdvanceHours) * time.Hour
}

// Location returns the chat time zone. It falls back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
