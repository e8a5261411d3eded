// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

// Package config parses provider chain configurations from JSON or YAML
// sources. Chain order follows declaration order; the built-in file provider
// is conventionally declared first.
package config

import (
	"encoding/json"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/ferrymq/authchain"
	"github.com/ferrymq/authchain/providers/badger"
	"github.com/ferrymq/authchain/providers/bolt"
	"github.com/ferrymq/authchain/providers/file"
	"github.com/ferrymq/authchain/providers/pebble"
	"github.com/ferrymq/authchain/providers/redis"
	"github.com/ferrymq/authchain/providers/static"
)

// config defines the structure of configuration data to be parsed from a config source.
type config struct {
	Providers []ProviderConfig `yaml:"providers" json:"providers"`
}

// ProviderConfig contains the configuration to enable one provider. Exactly
// one of the provider sections should be set per entry; the free-form options
// sequence is passed to the provider's lifecycle calls.
type ProviderConfig struct {
	File     *file.Options     `yaml:"file" json:"file"`
	AllowAll bool              `yaml:"allow_all" json:"allow_all"`
	Static   *static.Options   `yaml:"static" json:"static"`
	Bolt     *bolt.Options     `yaml:"bolt" json:"bolt"`
	Badger   *badger.Options   `yaml:"badger" json:"badger"`
	Pebble   *pebble.Options   `yaml:"pebble" json:"pebble"`
	Redis    *redis.Options    `yaml:"redis" json:"redis"`
	Options  authchain.Options `yaml:"options" json:"options"`
}

// ProviderLoadConfig pairs a constructed provider with the options supplied
// to its lifecycle calls.
type ProviderLoadConfig struct {
	Provider authchain.Provider
	Options  authchain.Options
}

// toProvider constructs the provider a config entry describes, or nil for an
// empty entry.
func (pc ProviderConfig) toProvider() authchain.Provider {
	switch {
	case pc.AllowAll:
		return new(file.AllowProvider)
	case pc.File != nil:
		return file.New(pc.File)
	case pc.Static != nil:
		return static.New(pc.Static)
	case pc.Bolt != nil:
		return bolt.New(pc.Bolt)
	case pc.Badger != nil:
		return badger.New(pc.Badger)
	case pc.Pebble != nil:
		return pebble.New(pc.Pebble)
	case pc.Redis != nil:
		return redis.New(pc.Redis)
	}

	return nil
}

// FromBytes unmarshals a byte slice of JSON or YAML config data into an
// ordered sequence of provider load configs.
func FromBytes(b []byte) ([]ProviderLoadConfig, error) {
	c := new(config)

	if len(b) == 0 {
		return nil, nil
	}

	if b[0] == '{' {
		err := json.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	} else {
		err := yaml.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	}

	var lcs []ProviderLoadConfig
	for _, pc := range c.Providers {
		p := pc.toProvider()
		if p == nil {
			continue
		}

		lcs = append(lcs, ProviderLoadConfig{
			Provider: p,
			Options:  pc.Options,
		})
	}

	return lcs, nil
}

// NewChain builds a chain from the provider load configs, in order. A
// provider which is rejected or fails its init is skipped and the chain
// continues with the remaining providers. The chain is returned un-started.
func NewChain(l *slog.Logger, lcs []ProviderLoadConfig) *authchain.Chain {
	c := authchain.New(l)
	for _, lc := range lcs {
		if err := c.Add(lc.Provider, lc.Options); err != nil {
			c.Log.Error("skipping provider", "error", err, "provider", lc.Provider.ID())
		}
	}

	return c
}
