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

// Package kv is the config-store port: equipment configuration, registry
// files and reservation snapshots are persisted through it.
package kv

import "context"

// Store defines the key-value interface used for configuration persistence.
type Store interface {
	// Get retrieves the value for key. The second return reports whether
	// the key was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Watch monitors key for changes and delivers new values (nil on
	// delete) on the returned channel until the context is canceled.
	Watch(ctx context.Context, key string) (<-chan []byte, error)

	// Close releases the store's resources.
	Close() error
}
