// Copyright 2026 The Reef Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads reef.yaml, the per-environment configuration:
// channels in priority order, platform subdirs, cache location and
// version pins.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Channel is one package source. List order in the config is priority
// order: on identical package identities the earlier channel wins.
type Channel struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`

	// Subdirs overrides the global subdir list for this channel.
	Subdirs []string `yaml:"subdirs,omitempty"`

	// Priority overrides the list-order priority (lower wins).
	Priority *int `yaml:"priority,omitempty"`
}

// Config is the parsed reef.yaml.
type Config struct {
	Channels []Channel `yaml:"channels"`

	// Subdirs are the platform directories read from each channel.
	Subdirs []string `yaml:"subdirs,omitempty"`

	// CacheDir overrides the default package cache location.
	CacheDir string `yaml:"cache_dir,omitempty"`

	// Pins are specs the solver must honor in every transaction, e.g.
	// "python =3.11".
	Pins []string `yaml:"pins,omitempty"`

	// Required names packages whose lifecycle hooks must succeed; a
	// failed hook of any other package is logged and skipped.
	Required []string `yaml:"required,omitempty"`
}

// FileName is the config file looked up inside an environment's
// bookkeeping directory.
const FileName = "reef.yaml"

// Default returns the configuration used when no reef.yaml exists.
func Default() *Config {
	return &Config{
		Subdirs: []string{"noarch"},
	}
}

// Load reads a config file. A missing file yields the default config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(path string) error {
	seen := map[string]bool{}
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("%s: channel %d has no name", path, i)
		}
		if ch.URL == "" {
			return fmt.Errorf("%s: channel %q has no url", path, ch.Name)
		}
		if seen[ch.Name] {
			return fmt.Errorf("%s: duplicate channel %q", path, ch.Name)
		}
		seen[ch.Name] = true
	}
	return nil
}

// ChannelSubdirs returns the subdir list for one channel, falling back
// to the global list.
func (c *Config) ChannelSubdirs(ch Channel) []string {
	if len(ch.Subdirs) > 0 {
		return ch.Subdirs
	}
	if len(c.Subdirs) > 0 {
		return c.Subdirs
	}
	return []string{"noarch"}
}

// ResolveCacheDir returns the effective cache directory, creating the
// default under the user cache dir when unset.
func (c *Config) ResolveCacheDir() (string, error) {
	if c.CacheDir != "" {
		return c.CacheDir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "reef"), nil
}
