// Package config loads the optional YAML configuration file and supplies
// the defaults the daemon runs with when no file is given.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Flags override the file.
type Config struct {
	DumpDir string `yaml:"dump_dir"`
	// Listen is the address of the dump-listing HTTP server; empty
	// disables it.
	Listen string `yaml:"listen"`

	Upstream struct {
		BaseURL  string `yaml:"base_url"`
		TokenURL string `yaml:"token_url"`
	} `yaml:"upstream"`

	Orders struct {
		CadenceSeconds        int `yaml:"cadence_seconds"`
		FailureBackoffSeconds int `yaml:"failure_backoff_seconds"`
	} `yaml:"orders"`

	Locations struct {
		QueueCapacity      int `yaml:"queue_capacity"`
		PushTimeoutSeconds int `yaml:"push_timeout_seconds"`
	} `yaml:"locations"`

	Histories struct {
		// Anchor is the daily UTC trigger time, HH:MM.
		Anchor string `yaml:"anchor"`
	} `yaml:"histories"`
}

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	c.DumpDir = "."
	c.Orders.CadenceSeconds = 300
	c.Orders.FailureBackoffSeconds = 120
	c.Locations.QueueCapacity = 4
	c.Locations.PushTimeoutSeconds = 15
	c.Histories.Anchor = "11:15"
	return c
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config %s: %w", path, err)
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	if c.Orders.CadenceSeconds <= 0 {
		return fmt.Errorf("config: orders cadence must be positive")
	}
	if c.Locations.QueueCapacity <= 0 {
		return fmt.Errorf("config: locations queue capacity must be positive")
	}
	if _, _, err := c.AnchorClock(); err != nil {
		return err
	}
	return nil
}

// OrdersCadence returns the tick interval of the orders worker.
func (c *Config) OrdersCadence() time.Duration {
	return time.Duration(c.Orders.CadenceSeconds) * time.Second
}

// OrdersBackoff returns the sweep failure backoff.
func (c *Config) OrdersBackoff() time.Duration {
	return time.Duration(c.Orders.FailureBackoffSeconds) * time.Second
}

// PushTimeout returns the orders-to-locations push timeout.
func (c *Config) PushTimeout() time.Duration {
	return time.Duration(c.Locations.PushTimeoutSeconds) * time.Second
}

// AnchorClock parses the daily history anchor into hour and minute.
func (c *Config) AnchorClock() (hour, minute int, err error) {
	if _, err := fmt.Sscanf(c.Histories.Anchor, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("config: bad histories anchor %q", c.Histories.Anchor)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("config: bad histories anchor %q", c.Histories.Anchor)
	}
	return hour, minute, nil
}
