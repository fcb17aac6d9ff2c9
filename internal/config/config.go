/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the session daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Tiering   TieringConfig   `yaml:"tiering"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// RedisConfig selects the hot tier backend.
type RedisConfig struct {
	// Addrs lists Redis addresses. Empty means the in-memory hot tier.
	Addrs     []string `yaml:"addrs"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	KeyPrefix string   `yaml:"keyPrefix"`
}

// PostgresConfig selects the durable tier backend.
type PostgresConfig struct {
	// ConnString is the PostgreSQL URL. Empty means the in-memory durable tier.
	ConnString string `yaml:"connString"`
	MaxConns   int32  `yaml:"maxConns"`
}

// TieringConfig tunes the tiered store.
type TieringConfig struct {
	// HotRetentionMinutes is the hot-tier session TTL. Default: 120.
	HotRetentionMinutes int `yaml:"hotRetentionMinutes"`
	// ArchiveAfterIdleMinutes is the idle threshold for archival. Default: 30.
	ArchiveAfterIdleMinutes int `yaml:"archiveAfterIdleMinutes"`
	// MaxHotMessages caps messages kept in a repopulated hot session. Default: 50.
	MaxHotMessages int `yaml:"maxHotMessages"`
}

// SchedulerConfig tunes the archival scheduler.
type SchedulerConfig struct {
	// IntervalMinutes between sweeps. Default: 15.
	IntervalMinutes int `yaml:"intervalMinutes"`
	// BatchSize caps sessions archived per sweep. Default: 10.
	BatchSize int `yaml:"batchSize"`
	// Enabled gates the scheduler. Default: true.
	Enabled *bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	enabled := true
	return &Config{
		Tiering: TieringConfig{
			HotRetentionMinutes:     120,
			ArchiveAfterIdleMinutes: 30,
			MaxHotMessages:          50,
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes: 15,
			BatchSize:       10,
			Enabled:         &enabled,
		},
	}
}

// Load reads and parses a YAML config file, filling unset fields with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Tiering.HotRetentionMinutes == 0 {
		c.Tiering.HotRetentionMinutes = def.Tiering.HotRetentionMinutes
	}
	if c.Tiering.ArchiveAfterIdleMinutes == 0 {
		c.Tiering.ArchiveAfterIdleMinutes = def.Tiering.ArchiveAfterIdleMinutes
	}
	if c.Tiering.MaxHotMessages == 0 {
		c.Tiering.MaxHotMessages = def.Tiering.MaxHotMessages
	}
	if c.Scheduler.IntervalMinutes == 0 {
		c.Scheduler.IntervalMinutes = def.Scheduler.IntervalMinutes
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = def.Scheduler.BatchSize
	}
	if c.Scheduler.Enabled == nil {
		c.Scheduler.Enabled = def.Scheduler.Enabled
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Tiering.HotRetentionMinutes < 0 {
		return fmt.Errorf("tiering.hotRetentionMinutes must not be negative")
	}
	if c.Tiering.ArchiveAfterIdleMinutes < 0 {
		return fmt.Errorf("tiering.archiveAfterIdleMinutes must not be negative")
	}
	if c.Tiering.ArchiveAfterIdleMinutes > c.Tiering.HotRetentionMinutes {
		return fmt.Errorf("tiering.archiveAfterIdleMinutes (%d) must not exceed tiering.hotRetentionMinutes (%d): sessions would expire before archival",
			c.Tiering.ArchiveAfterIdleMinutes, c.Tiering.HotRetentionMinutes)
	}
	if c.Scheduler.IntervalMinutes < 0 {
		return fmt.Errorf("scheduler.intervalMinutes must not be negative")
	}
	return nil
}

// HotRetention returns the hot-tier TTL as a duration.
func (c *Config) HotRetention() time.Duration {
	return time.Duration(c.Tiering.HotRetentionMinutes) * time.Minute
}

// ArchiveAfterIdle returns the archival idle threshold as a duration.
func (c *Config) ArchiveAfterIdle() time.Duration {
	return time.Duration(c.Tiering.ArchiveAfterIdleMinutes) * time.Minute
}

// SchedulerInterval returns the sweep interval as a duration.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalMinutes) * time.Minute
}

// SchedulerEnabled reports whether the archival scheduler should run.
func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}
