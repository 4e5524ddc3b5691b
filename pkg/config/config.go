/*
 * Copyright 2026 FieldOps Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads service configuration from a file or the config store.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fieldops/driverd/pkg/kv"
	"github.com/fieldops/driverd/pkg/logger"
)

var (
	errKVStoreNotSet       = errors.New("KV store not initialized for CONFIG_SOURCE=kv; call SetKVStore first")
	errInvalidConfigSource = errors.New("invalid CONFIG_SOURCE value")
)

const (
	configSourceKV   = "kv"
	configSourceFile = "file"
)

// Config holds the configuration loading dependencies.
type Config struct {
	kvStore       kv.Store
	defaultLoader Loader
	logger        logger.Logger
}

// NewConfig initializes a Config with a file loader. A nil logger falls back
// to a discard logger.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Config{
		defaultLoader: &FileLoader{},
		logger:        log,
	}
}

// SetKVStore sets the store consulted when CONFIG_SOURCE=kv.
func (c *Config) SetKVStore(store kv.Store) {
	c.kvStore = store
}

// LoadAndValidate loads the configuration at path and validates it when the
// target implements Validator.
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	source := strings.ToLower(os.Getenv("CONFIG_SOURCE"))

	var loader Loader

	switch source {
	case configSourceKV:
		if c.kvStore == nil {
			return errKVStoreNotSet
		}

		loader = NewKVLoader(c.kvStore)
	case configSourceFile, "":
		loader = c.defaultLoader
	default:
		return fmt.Errorf("%w: %s (expected '%s' or '%s')",
			errInvalidConfigSource, source, configSourceFile, configSourceKV)
	}

	if err := loader.Load(ctx, path, cfg); err != nil {
		// KV misses fall back to the file on disk so a fresh install
		// can bootstrap its store.
		if source != configSourceKV {
			return err
		}

		c.logger.Warn().Err(err).Str("path", path).Msg("KV config load failed, falling back to file")

		if fileErr := c.defaultLoader.Load(ctx, path, cfg); fileErr != nil {
			return fmt.Errorf("failed to load configuration from KV (%w) and file (%w)", err, fileErr)
		}
	}

	if v, ok := cfg.(Validator); ok {
		return v.Validate()
	}

	return nil
}
