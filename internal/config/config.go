// Package config is used to load the configuration file, environment and boot arguments
package config

import (
	"fmt"

	"github.com/blacktop/shiki/internal/bootargs"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type facts struct {
	OSVersion    string `mapstructure:"os-version"`
	CPU          string `mapstructure:"cpu"`
	IGPlatformID string `mapstructure:"ig-platform-id"`
	Companion    bool   `mapstructure:"companion"`
}

// Config is the configuration struct
type Config struct {
	BootArgs   string   `mapstructure:"boot-args"`
	Properties string   `mapstructure:"properties"`
	DeviceTree string   `mapstructure:"device-tree"`
	Images     []string `mapstructure:"images"`
	Output     string   `mapstructure:"output"`
	Facts      facts    `mapstructure:"facts"`
}

func (c *Config) verify() error {
	if c.Facts.IGPlatformID != "" {
		if _, err := parseFlags(c.Facts.IGPlatformID); err != nil {
			return fmt.Errorf("config: invalid ig-platform-id %q: %v", c.Facts.IGPlatformID, err)
		}
	}
	return nil
}

// Merge overlays the non-empty environment values
func (c *Config) Merge(e *Env) {
	if e == nil {
		return
	}
	if e.BootArgs != "" {
		c.BootArgs = e.BootArgs
	}
	if e.Properties != "" {
		c.Properties = e.Properties
	}
	if e.DeviceTree != "" {
		c.DeviceTree = e.DeviceTree
	}
	if e.OSVersion != "" {
		c.Facts.OSVersion = e.OSVersion
	}
	if e.CPU != "" {
		c.Facts.CPU = e.CPU
	}
	if e.IGPlatformID != "" {
		c.Facts.IGPlatformID = e.IGPlatformID
	}
	if e.Companion {
		c.Facts.Companion = true
	}
}

// Options parses the configured boot arguments
func (c *Config) Options() *Options {
	return Parse(bootargs.Parse(c.BootArgs))
}

// LoadConfig loads the configuration file (already read by viper) and the environment
func LoadConfig() (*Config, error) {
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Config, error) {
	var c Config

	if err := v.Unmarshal(&c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}

	e, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	c.Merge(e)

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return &c, nil
}
