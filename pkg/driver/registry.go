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

package driver

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/fieldops/driverd/pkg/logger"
)

// Registry owns the live Remote instances, keyed by unique remote id so
// that devices sharing an endpoint share one driver connection.
type Registry struct {
	factories map[string]Factory
	remotes   map[string]*Remote

	deps RemoteDeps

	// allowDuplicates disables endpoint dedup: every device gets its own
	// remote keyed by equipment name.
	allowDuplicates bool

	// sockets caps concurrently open driver transports when
	// max_open_sockets is configured.
	sockets *semaphore.Weighted

	logger logger.Logger
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Deps            RemoteDeps
	AllowDuplicates bool
	// MaxOpenSockets limits live remotes; nil or non-positive means
	// unlimited.
	MaxOpenSockets *int64
	Logger         logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	r := &Registry{
		factories:       make(map[string]Factory),
		remotes:         make(map[string]*Remote),
		deps:            opts.Deps,
		allowDuplicates: opts.AllowDuplicates,
		logger:          log,
	}

	if opts.MaxOpenSockets != nil && *opts.MaxOpenSockets > 0 {
		r.sockets = semaphore.NewWeighted(*opts.MaxOpenSockets)
	}

	return r
}

// RegisterFactory makes a driver type available. Registering a second
// factory for the same type replaces the first.
func (r *Registry) RegisterFactory(f Factory) {
	r.factories[f.Type()] = f
}

// DriverTypes lists the registered driver types.
func (r *Registry) DriverTypes() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}

	return types
}

// GetOrCreate resolves the remote for a device, constructing it when the
// device's unique remote id has not been seen. A construction failure
// aborts the device configuration event.
func (r *Registry) GetOrCreate(ctx context.Context, equipmentName, driverType string, config json.RawMessage) (*Remote, error) {
	factory, ok := r.factories[driverType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriverType, driverType)
	}

	id := equipmentName

	if !r.allowDuplicates {
		derived, err := factory.UniqueRemoteID(equipmentName, config)
		if err != nil {
			return nil, fmt.Errorf("deriving unique remote id for %s: %w", equipmentName, err)
		}

		id = derived
	}

	if remote, ok := r.remotes[id]; ok {
		if remote.DriverType != driverType {
			return nil, fmt.Errorf("%w: remote %q is %s, device wants %s",
				ErrUnknownDriverType, id, remote.DriverType, driverType)
		}

		return remote, nil
	}

	if r.sockets != nil && !r.sockets.TryAcquire(1) {
		return nil, fmt.Errorf("%w: cannot open remote %q", ErrSocketLimit, id)
	}

	iface, err := factory.New(ctx, config)
	if err != nil {
		if r.sockets != nil {
			r.sockets.Release(1)
		}

		return nil, fmt.Errorf("constructing %s interface for %s: %w", driverType, equipmentName, err)
	}

	remote := newRemote(id, driverType, config, iface, r.deps)
	r.remotes[id] = remote

	r.logger.Info().Str("remote", id).Str("driver_type", driverType).Msg("Created remote")

	return remote, nil
}

// Get returns the remote with the given id, or nil.
func (r *Registry) Get(id string) *Remote {
	return r.remotes[id]
}

// Remotes returns every live remote.
func (r *Registry) Remotes() []*Remote {
	out := make([]*Remote, 0, len(r.remotes))
	for _, remote := range r.remotes {
		out = append(out, remote)
	}

	return out
}

// Release closes and drops a remote once it serves no more devices. It is
// a no-op while devices remain.
func (r *Registry) Release(id string) error {
	remote, ok := r.remotes[id]
	if !ok {
		return nil
	}

	if remote.DeviceCount() > 0 {
		return nil
	}

	delete(r.remotes, id)

	if r.sockets != nil {
		r.sockets.Release(1)
	}

	if err := remote.Close(); err != nil {
		r.logger.Warn().Err(err).Str("remote", id).Msg("Error closing remote")
		return err
	}

	return nil
}

// Close releases every remote regardless of device count.
func (r *Registry) Close() error {
	var firstErr error

	for id, remote := range r.remotes {
		delete(r.remotes, id)

		if r.sockets != nil {
			r.sockets.Release(1)
		}

		if err := remote.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
