// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config carries the engine knobs an operator tunes without touching
// code. Zero values fall back to the engine defaults.
type Config struct {
	CallTimeout   time.Duration `env:"LUX_IPC_CALL_TIMEOUT"   envDefault:"5s"`
	FlushInterval time.Duration `env:"LUX_IPC_FLUSH_INTERVAL" envDefault:"0s"`
	Channel       string        `env:"LUX_IPC_CHANNEL"        envDefault:"lux.ipc"`
	LogLevel      string        `env:"LUX_IPC_LOG_LEVEL"      envDefault:"info"`
}

// ConfigFromEnv loads Config from the LUX_IPC_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("ipc: parse env: %w", err)
	}
	return cfg, nil
}

// Level parses LogLevel; unknown names fall back to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithConfig applies a Config to the engine: call timeout, flush
// interval, channel and the level filter on whatever logger the engine
// ends up with. Later options still override individual knobs.
func WithConfig(cfg Config) Option {
	return func(o *engineOptions) {
		if cfg.CallTimeout != 0 {
			o.callTimeout = cfg.CallTimeout
		}
		if cfg.FlushInterval != 0 {
			o.flushInterval = cfg.FlushInterval
		}
		if cfg.Channel != "" {
			o.channel = cfg.Channel
		}
		lvl := cfg.Level()
		o.level = &lvl
	}
}
