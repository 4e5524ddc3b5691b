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
	"time"

	"github.com/fieldops/driverd/pkg/bus"
	"github.com/fieldops/driverd/pkg/clock"
	"github.com/fieldops/driverd/pkg/equipment"
	"github.com/fieldops/driverd/pkg/logger"
	"github.com/fieldops/driverd/pkg/models"
)

// Remote is the facade over one driver interface instance. It owns the
// device nodes it serves and performs all protocol I/O for them.
type Remote struct {
	ID         string
	DriverType string

	config json.RawMessage
	iface  Interface

	tree    *equipment.Tree
	bus     bus.Bus
	clk     clock.Clock
	logger  logger.Logger
	agentID string

	// post runs a closure on the service loop; driver I/O happens off
	// loop and completions are posted back through it.
	post func(func())

	devices map[equipment.Handle]bool

	heartbeat      clock.Handle
	heartbeatState bool

	lastPollStart time.Time
}

// RemoteDeps carries the collaborator set shared by all remotes.
type RemoteDeps struct {
	Tree    *equipment.Tree
	Bus     bus.Bus
	Clock   clock.Clock
	Logger  logger.Logger
	AgentID string
	Post    func(func())
}

func newRemote(id, driverType string, config json.RawMessage, iface Interface, deps RemoteDeps) *Remote {
	post := deps.Post
	if post == nil {
		post = func(fn func()) { fn() }
	}

	return &Remote{
		ID:         id,
		DriverType: driverType,
		config:     config,
		iface:      iface,
		tree:       deps.Tree,
		bus:        deps.Bus,
		clk:        deps.Clock,
		logger:     deps.Logger,
		agentID:    deps.AgentID,
		post:       post,
		devices:    make(map[equipment.Handle]bool),
	}
}

// Interface exposes the underlying driver, mainly for tests.
func (r *Remote) Interface() Interface { return r.iface }

// AddDevice registers a device node and its registry rows with the driver.
func (r *Remote) AddDevice(ctx context.Context, node *equipment.Node, cfg *models.EquipmentConfig, rows []models.RegistryRow) error {
	if err := r.iface.Configure(ctx, node.Identifier, cfg.DriverConfig, rows); err != nil {
		return err
	}

	r.devices[node.Handle()] = true

	return nil
}

// RemoveDevice drops a device from the remote and returns the number of
// devices still served.
func (r *Remote) RemoveDevice(h equipment.Handle) int {
	delete(r.devices, h)
	return len(r.devices)
}

// DeviceCount returns the number of devices currently served.
func (r *Remote) DeviceCount() int { return len(r.devices) }

// ServesDevice reports whether the remote serves the device handle.
func (r *Remote) ServesDevice(h equipment.Handle) bool { return r.devices[h] }

// GetMultiplePoints performs an atomic-per-call batch read. It may be
// called off the service loop; the last-value updates are posted back to
// it. A connection-level failure is spread over every requested id.
func (r *Remote) GetMultiplePoints(ctx context.Context, ids []string) (map[string]interface{}, map[string]string) {
	values, errs, err := r.iface.GetMultiplePoints(ctx, ids)
	if err != nil {
		all := make(map[string]string, len(ids))

		for _, id := range ids {
			all[id] = err.Error()
		}

		return nil, all
	}

	if errs == nil {
		errs = map[string]string{}
	}

	now := r.clk.Now()

	r.post(func() {
		for id, value := range values {
			if node := r.tree.Lookup(id); node != nil && node.Point != nil {
				node.SetLastValue(value, now)
			}
		}
	})

	return values, errs
}

// SetMultiplePoints performs an atomic-per-call batch write.
func (r *Remote) SetMultiplePoints(ctx context.Context, pairs map[string]interface{}) map[string]string {
	errs, err := r.iface.SetMultiplePoints(ctx, pairs)
	if err != nil {
		all := make(map[string]string, len(pairs))

		for id := range pairs {
			all[id] = err.Error()
		}

		return all
	}

	if errs == nil {
		errs = map[string]string{}
	}

	return errs
}

// RevertPoint restores one point to its default.
func (r *Remote) RevertPoint(ctx context.Context, id string) error {
	return r.iface.RevertPoint(ctx, id)
}

// RevertAll restores every point served by this remote.
func (r *Remote) RevertAll(ctx context.Context) error {
	return r.iface.RevertAll(ctx)
}

// PollData reads every live point in the poll set and publishes according
// to its publish setup. The batch read runs on a worker goroutine; state
// updates and publications are posted back to the service loop. done, when
// non-nil, receives the poll start time (zero on total failure).
func (r *Remote) PollData(ctx context.Context, ps *PollSet, done func(time.Time, error)) {
	start := r.clk.Now()
	r.lastPollStart = start

	// Snapshot live identifiers on the loop; removed handles are skipped.
	ids := make([]string, 0, len(ps.Points))

	for _, h := range ps.Points {
		node := r.tree.Node(h)
		if node == nil || node.Point == nil {
			continue
		}

		if !r.tree.IsActive(h) {
			continue
		}

		ids = append(ids, node.Identifier)
	}

	if len(ids) == 0 {
		if done != nil {
			done(start, nil)
		}

		return
	}

	go func() {
		values, pointErrs, err := r.iface.GetMultiplePoints(ctx, ids)

		r.post(func() {
			if err != nil {
				r.logger.Warn().Err(err).Str("remote", r.ID).Int("points", len(ids)).Msg("Poll batch failed")

				if done != nil {
					done(time.Time{}, err)
				}

				return
			}

			for id, msg := range pointErrs {
				r.logger.Debug().Str("point", id).Str("error", msg).Msg("Point error during poll")
			}

			now := r.clk.Now()

			for id, value := range values {
				if node := r.tree.Lookup(id); node != nil && node.Point != nil {
					node.SetLastValue(value, now)
				}
			}

			r.publishPollResults(ctx, ps.Setup, values, start)

			if done != nil {
				done(start, nil)
			}
		})
	}()
}

// LastPollStart returns the start instant of the most recent poll.
func (r *Remote) LastPollStart() time.Time { return r.lastPollStart }

// PublishCOVValue pushes an asynchronous change-of-value notification from
// the device onto the bus using the point's configured publication layout.
func (r *Remote) PublishCOVValue(ctx context.Context, topic string, values map[string]interface{}) {
	now := r.clk.Now()

	for name, value := range values {
		pointTopic := r.tree.EquipmentID(topic) + "/" + name

		node := r.tree.Lookup(pointTopic)
		if node == nil || node.Point == nil {
			continue
		}

		node.SetLastValue(value, now)

		headers := models.NewHeaders(now, r.agentID)
		headers.Type = "COV"
		message := []interface{}{value, r.pointMeta(node)}

		if r.tree.IsPublishedSingleDepth(node) {
			r.publish(ctx, node.Identifier, headers, message)
		}

		if r.tree.IsPublishedSingleBreadth(node) {
			r.publish(ctx, equipment.BreadthTopic(r.tree.BreadthBase(), node.Identifier), headers, message)
		}
	}
}

// StartHeartbeat toggles the device's heart_beat_point at the given period.
func (r *Remote) StartHeartbeat(ctx context.Context, interval time.Duration) {
	if r.heartbeat != 0 || interval <= 0 {
		return
	}

	r.heartbeat = r.clk.Every(interval, func() {
		r.post(func() { r.beatOnce(ctx) })
	})
}

func (r *Remote) beatOnce(ctx context.Context) {
	r.heartbeatState = !r.heartbeatState

	value := 0
	if r.heartbeatState {
		value = 1
	}

	pairs := map[string]interface{}{}

	for h := range r.devices {
		device := r.tree.Node(h)
		if device == nil || device.Device == nil || device.Device.HeartBeatPoint == "" {
			continue
		}

		pairs[device.Identifier+"/"+device.Device.HeartBeatPoint] = value
	}

	if len(pairs) == 0 {
		return
	}

	go func() {
		if _, err := r.iface.SetMultiplePoints(ctx, pairs); err != nil {
			r.logger.Warn().Err(err).Str("remote", r.ID).Msg("Heartbeat write failed")
		}
	}()
}

// StopHeartbeat cancels the heartbeat timer.
func (r *Remote) StopHeartbeat() {
	if r.heartbeat != 0 {
		r.clk.Cancel(r.heartbeat)
		r.heartbeat = 0
	}
}

// Close stops timers and releases the driver transport.
func (r *Remote) Close() error {
	r.StopHeartbeat()
	return r.iface.Close()
}
