package config

import (
	"fmt"

	"github.com/caarlos0/env/v8"
)

// Env holds the process environment overrides
type Env struct {
	BootArgs     string `env:"SHIKI_BOOT_ARGS"`
	Properties   string `env:"SHIKI_PROPERTIES"`
	DeviceTree   string `env:"SHIKI_DEVICE_TREE"`
	OSVersion    string `env:"SHIKI_OS_VERSION"`
	CPU          string `env:"SHIKI_CPU"`
	IGPlatformID string `env:"SHIKI_IG_PLATFORM_ID"`
	Companion    bool   `env:"SHIKI_COMPANION"`
}

// LoadEnv reads Env from the process environment
func LoadEnv() (*Env, error) {
	return loadEnv(env.Options{})
}

func loadEnv(opts env.Options) (*Env, error) {
	var e Env
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment: %v", err)
	}
	return &e, nil
}
