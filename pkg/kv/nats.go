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

package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore implements Store on a JetStream key-value bucket.
type NATSStore struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	ctx    context.Context
	ownsNC bool
}

// NewNATSStore connects to NATS and binds (creating if needed) the bucket.
func NewNATSStore(ctx context.Context, natsURL, bucket string) (*NATSStore, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	store, err := NewNATSStoreWithConn(ctx, nc, bucket)
	if err != nil {
		nc.Close()

		return nil, err
	}

	store.ownsNC = true

	return store, nil
}

// NewNATSStoreWithConn binds the bucket on an existing connection. The caller
// retains ownership of the connection.
func NewNATSStoreWithConn(ctx context.Context, nc *nats.Conn, bucket string) (*NATSStore, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kvBucket, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket %s: %w", bucket, err)
	}

	return &NATSStore{nc: nc, kv: kvBucket, ctx: ctx}, nil
}

func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	return entry.Value(), true, nil
}

func (s *NATSStore) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}

	return nil
}

func (s *NATSStore) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}

	return nil
}

func (s *NATSStore) List(ctx context.Context, prefix string) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var keys []string

	for key := range lister.Keys() {
		if prefix == "" || len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func (s *NATSStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	watcher, err := s.kv.Watch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch key %s: %w", key, err)
	}

	ch := make(chan []byte, 1)
	go s.forwardWatchUpdates(ctx, watcher, ch)

	return ch, nil
}

// forwardWatchUpdates relays watcher entries to ch until either context is
// done or the watcher closes.
func (s *NATSStore) forwardWatchUpdates(ctx context.Context, watcher jetstream.KeyWatcher, ch chan<- []byte) {
	defer func() {
		_ = watcher.Stop()
		close(ch)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case update, ok := <-watcher.Updates():
			if !ok {
				return
			}

			if update == nil {
				// Initial replay marker from JetStream, not a value.
				continue
			}

			select {
			case ch <- update.Value():
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *NATSStore) Close() error {
	if s.ownsNC {
		s.nc.Close()
	}

	return nil
}

var _ Store = (*NATSStore)(nil)
