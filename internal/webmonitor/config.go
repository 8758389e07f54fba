package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string        `yaml:"addr"`
	StatusInterval time.Duration `yaml:"status_interval"`
	HistorySize    int           `yaml:"history_size"`
	ForceTimeout   time.Duration `yaml:"force_timeout"`
}

// DefaultConfig returns the default monitor settings.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: 2 * time.Second,
		HistorySize:    20,
		ForceTimeout:   2 * time.Minute,
	}
}
