package config

import "time"

// Config is the client configuration.
type Config struct {
	Version int `yaml:"version"`

	API     APIConfig     `yaml:"api"`
	Toggle  ToggleConfig  `yaml:"toggle"`
	Session SessionConfig `yaml:"session"`
	Catalog CatalogConfig `yaml:"catalog"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// APIConfig holds the dashboard API connection settings.
type APIConfig struct {
	BaseURL   string `yaml:"base_url"`
	Token     string `yaml:"token"`
	Timeout   string `yaml:"timeout"`
	UserAgent string `yaml:"user_agent"`
}

// ToggleConfig holds the debounce settings for boolean controls.
type ToggleConfig struct {
	Cooldown string `yaml:"cooldown"`
}

// SessionConfig holds the session-status poll settings.
type SessionConfig struct {
	PollInterval string `yaml:"poll_interval"`
}

// CatalogConfig holds the server catalog refresh settings.
type CatalogConfig struct {
	RefreshInterval string `yaml:"refresh_interval"`
}

// StorageConfig holds the local cache location. Empty means the default
// data directory.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig holds the Prometheus listener. Empty disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// TimeoutDuration parses the API timeout.
func (a APIConfig) TimeoutDuration() time.Duration {
	return parseDuration(a.Timeout, 15*time.Second)
}

// CooldownDuration parses the toggle cooldown.
func (t ToggleConfig) CooldownDuration() time.Duration {
	return parseDuration(t.Cooldown, time.Second)
}

// PollIntervalDuration parses the session poll interval.
func (s SessionConfig) PollIntervalDuration() time.Duration {
	return parseDuration(s.PollInterval, 10*time.Second)
}

// RefreshIntervalDuration parses the catalog refresh interval.
func (c CatalogConfig) RefreshIntervalDuration() time.Duration {
	return parseDuration(c.RefreshInterval, 30*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Version: 1,
		API: APIConfig{
			BaseURL:   "http://127.0.0.1:8080/api",
			Timeout:   "15s",
			UserAgent: "vpnpanel",
		},
		Toggle: ToggleConfig{
			Cooldown: "1s",
		},
		Session: SessionConfig{
			PollInterval: "10s",
		},
		Catalog: CatalogConfig{
			RefreshInterval: "30m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
