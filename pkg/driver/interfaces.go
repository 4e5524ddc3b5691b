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

// Package driver hosts the protocol interface port and the Remote layer that
// deduplicates driver instances across devices.
package driver

import (
	"context"
	"encoding/json"

	"github.com/fieldops/driverd/pkg/models"
)

// Interface is the port every protocol driver implements. Point ids are full
// equipment identifiers; a single Interface may serve several devices on one
// endpoint.
//
// Error contract: a protocol error on an individual point is reported in the
// per-point error map; a connection-level failure is returned as the error
// and fails the whole batch.
type Interface interface {
	// Configure registers a device's points with the driver.
	Configure(ctx context.Context, deviceTopic string, config json.RawMessage, registry []models.RegistryRow) error

	// GetMultiplePoints reads a batch of points.
	GetMultiplePoints(ctx context.Context, ids []string) (values map[string]interface{}, errs map[string]string, err error)

	// SetMultiplePoints writes a batch of points.
	SetMultiplePoints(ctx context.Context, pairs map[string]interface{}) (errs map[string]string, err error)

	// RevertPoint restores one point to its configured default.
	RevertPoint(ctx context.Context, id string) error

	// RevertAll restores every registered point.
	RevertAll(ctx context.Context) error

	// ScrapeAll reads every registered point.
	ScrapeAll(ctx context.Context) (map[string]interface{}, error)

	// Close releases the protocol transport.
	Close() error
}

// Factory builds Interface instances for one driver type.
type Factory interface {
	// Type is the driver_type string this factory answers to.
	Type() string

	// UniqueRemoteID derives the registry key for a device's interface
	// configuration. Devices with equal ids share one Remote.
	UniqueRemoteID(equipmentName string, config json.RawMessage) (string, error)

	// New constructs an unconfigured Interface.
	New(ctx context.Context, config json.RawMessage) (Interface, error)
}

// COVHandler receives asynchronous change-of-value notifications pushed by a
// driver outside the poll cycle.
type COVHandler func(deviceTopic string, values map[string]interface{})
