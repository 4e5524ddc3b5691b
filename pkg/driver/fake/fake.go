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

// Package fake implements a loopback driver. Points are backed by an
// in-memory map seeded from registry starting values; writes to writable
// points are read back verbatim. It serves integration tests and
// scalability runs without touching real hardware.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fieldops/driverd/pkg/driver"
	"github.com/fieldops/driverd/pkg/models"
)

// DriverType is the driver_type string the fake factory answers to.
const DriverType = "fake"

// Config is the fake driver's driver_config payload.
type Config struct {
	// RemoteID overrides the derived unique remote id, letting tests force
	// devices onto a shared or separate remote.
	RemoteID string `json:"remote_id,omitempty"`
}

type point struct {
	value    interface{}
	starting interface{}
	writable bool
}

// Interface is the loopback driver instance.
type Interface struct {
	mu     sync.Mutex
	points map[string]*point
}

// Factory builds fake Interfaces.
type Factory struct{}

// NewFactory returns the fake driver factory.
func NewFactory() *Factory { return &Factory{} }

// Type implements driver.Factory.
func (f *Factory) Type() string { return DriverType }

// UniqueRemoteID implements driver.Factory. With no explicit remote_id every
// device gets its own remote.
func (f *Factory) UniqueRemoteID(equipmentName string, config json.RawMessage) (string, error) {
	var cfg Config

	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return "", fmt.Errorf("parsing fake driver config: %w", err)
		}
	}

	if cfg.RemoteID != "" {
		return cfg.RemoteID, nil
	}

	return equipmentName, nil
}

// New implements driver.Factory.
func (f *Factory) New(_ context.Context, config json.RawMessage) (driver.Interface, error) {
	var cfg Config

	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("parsing fake driver config: %w", err)
		}
	}

	return &Interface{points: make(map[string]*point)}, nil
}

// Configure implements driver.Interface.
func (i *Interface) Configure(_ context.Context, deviceTopic string, _ json.RawMessage, registry []models.RegistryRow) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, row := range registry {
		name := row.PointName()
		if name == "" {
			continue
		}

		id := deviceTopic + "/" + name

		if _, ok := i.points[id]; ok {
			continue
		}

		i.points[id] = &point{
			value:    row.StartingValue(),
			starting: row.StartingValue(),
			writable: row.Writable(),
		}
	}

	return nil
}

// GetMultiplePoints implements driver.Interface.
func (i *Interface) GetMultiplePoints(_ context.Context, ids []string) (map[string]interface{}, map[string]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	values := make(map[string]interface{}, len(ids))
	errs := map[string]string{}

	for _, id := range ids {
		p, ok := i.points[id]
		if !ok {
			errs[id] = fmt.Sprintf("unknown point %q", id)
			continue
		}

		values[id] = p.value
	}

	return values, errs, nil
}

// SetMultiplePoints implements driver.Interface. Writes to non-writable
// points are reported per point, not as a batch failure.
func (i *Interface) SetMultiplePoints(_ context.Context, pairs map[string]interface{}) (map[string]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	errs := map[string]string{}

	for id, value := range pairs {
		p, ok := i.points[id]
		if !ok {
			errs[id] = fmt.Sprintf("unknown point %q", id)
			continue
		}

		if !p.writable {
			errs[id] = fmt.Sprintf("point %q is not writable", id)
			continue
		}

		p.value = value
	}

	return errs, nil
}

// RevertPoint implements driver.Interface.
func (i *Interface) RevertPoint(_ context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	p, ok := i.points[id]
	if !ok {
		return fmt.Errorf("unknown point %q", id)
	}

	p.value = p.starting

	return nil
}

// RevertAll implements driver.Interface.
func (i *Interface) RevertAll(_ context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, p := range i.points {
		p.value = p.starting
	}

	return nil
}

// ScrapeAll implements driver.Interface.
func (i *Interface) ScrapeAll(_ context.Context) (map[string]interface{}, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	values := make(map[string]interface{}, len(i.points))
	for id, p := range i.points {
		values[id] = p.value
	}

	return values, nil
}

// Close implements driver.Interface.
func (i *Interface) Close() error { return nil }
