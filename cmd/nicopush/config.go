package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envConfig holds defaults read from the environment. Flags win over these.
type envConfig struct {
	DB         string `env:"NICOPUSH_DB"`
	Store      string `env:"NICOPUSH_STORE"`
	RelayURL   string `env:"NICOPUSH_RELAY_URL"`
	Session    string `env:"NICOPUSH_SESSION"`
	VAPIDKey   string `env:"NICOPUSH_VAPID_KEY"`
	VAPIDIndex int    `env:"NICOPUSH_VAPID_INDEX" envDefault:"-1"`
}

func loadEnvConfig() (envConfig, error) {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c *envConfig) override(o globalOpts) {
	if o.DB != "" {
		c.DB = o.DB
	}
	if o.Store != "" {
		c.Store = o.Store
	}
	if o.RelayURL != "" {
		c.RelayURL = o.RelayURL
	}
	if o.Session != "" {
		c.Session = o.Session
	}
	if o.VAPIDKey != "" {
		c.VAPIDKey = o.VAPIDKey
	}
	if o.VAPIDIndex != nil {
		c.VAPIDIndex = *o.VAPIDIndex
	}
}
