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

package facade

import (
	"context"
	"sort"
	"time"

	"github.com/fieldops/driverd/pkg/driver"
	"github.com/fieldops/driverd/pkg/equipment"
	"github.com/fieldops/driverd/pkg/models"
)

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// ioBatch is the off-loop work order cut from a query plan: the point ids
// to read or the pairs to write on one remote.
type ioBatch struct {
	remote *driver.Remote
	ids    []string
	pairs  map[string]interface{}
}

// queryPlan groups the points selected by a query by the remote serving
// them. Points whose device has no live remote are skipped. Runs on the
// command loop; the tag restriction is resolved by the caller beforehand.
func (s *Service) queryPlan(query models.Query, restrict map[string]bool) (map[*driver.Remote][]*equipment.Node, error) {
	points, err := s.tree.FindPoints(query.Topic, query.Regex, restrict)
	if err != nil {
		return nil, err
	}

	plan := make(map[*driver.Remote][]*equipment.Node)

	for _, point := range points {
		device := s.tree.DeviceFor(point)
		if device == nil || device.Device == nil {
			continue
		}

		remote := s.registry.Get(device.Device.RemoteID)
		if remote == nil {
			continue
		}

		plan[remote] = append(plan[remote], point)
	}

	return plan, nil
}

// raiseOnLocks enforces write arbitration for one device: an override
// always wins, then reservation holdership.
func (s *Service) raiseOnLocks(device *equipment.Node, requester string) error {
	if s.overrides[device.Identifier] {
		return equipment.ErrOverride
	}

	now := s.clk.Now()

	holder, held := s.reservations.Holder(device.Identifier, now)
	if held && holder != requester {
		return equipment.ErrReservationLock
	}

	if !held && s.cfg.RequireReservation() {
		return equipment.ErrReservationLock
	}

	return nil
}

// SetOverride places a device topic under a global write override.
func (s *Service) SetOverride(topic string) {
	s.overrides[s.tree.EquipmentID(topic)] = true
}

// ClearOverride lifts an override.
func (s *Service) ClearOverride(topic string) {
	delete(s.overrides, s.tree.EquipmentID(topic))
}

// Get reads the selected points, one batch per remote, and merges results.
// Planning runs on the command loop; the batch reads run on the calling
// goroutine so device latency never stalls the loop.
func (s *Service) Get(ctx context.Context, query models.Query) (models.PointResults, error) {
	restrict, err := s.resolveTagQuery(ctx, query.Tag)
	if err != nil {
		return models.PointResults{}, err
	}

	out, err := s.do(ctx, func() (interface{}, error) {
		plan, err := s.queryPlan(query, restrict)
		if err != nil {
			return nil, err
		}

		batches := make([]ioBatch, 0, len(plan))
		for remote, points := range plan {
			batches = append(batches, ioBatch{remote: remote, ids: identifiers(points)})
		}

		return batches, nil
	})
	if err != nil {
		return models.PointResults{}, err
	}

	results := models.PointResults{
		Values: map[string]interface{}{},
		Errors: map[string]string{},
	}

	for _, b := range out.([]ioBatch) {
		values, errs := b.remote.GetMultiplePoints(ctx, b.ids)

		for id, value := range values {
			results.Values[id] = value
		}

		for id, msg := range errs {
			results.Errors[id] = msg
		}
	}

	s.publishResults(ctx, results, true)

	return results, nil
}

// Set writes the selected points. Reservation and override failures are
// reported per point; writes proceed for unlocked devices. Lock checks run
// on the command loop, the batch writes off it.
func (s *Service) Set(ctx context.Context, req models.SetRequest) (models.PointResults, error) {
	restrict, err := s.resolveTagQuery(ctx, req.Tag)
	if err != nil {
		return models.PointResults{}, err
	}

	results := models.PointResults{
		Values: map[string]interface{}{},
		Errors: map[string]string{},
	}

	out, err := s.do(ctx, func() (interface{}, error) {
		plan, err := s.queryPlan(req.Query, restrict)
		if err != nil {
			return nil, err
		}

		valueFor, err := s.valueMapper(req)
		if err != nil {
			return nil, err
		}

		var batches []ioBatch

		for remote, points := range plan {
			pairs := map[string]interface{}{}

			for _, point := range points {
				device := s.tree.DeviceFor(point)
				if device == nil {
					continue
				}

				if lockErr := s.raiseOnLocks(device, req.Requester); lockErr != nil {
					results.Errors[point.Identifier] = lockErr.Error()
					continue
				}

				value, ok := valueFor(point.Identifier)
				if !ok {
					continue
				}

				pairs[point.Identifier] = value
			}

			if len(pairs) > 0 {
				batches = append(batches, ioBatch{remote: remote, pairs: pairs})
			}
		}

		return batches, nil
	})
	if err != nil {
		return models.PointResults{}, err
	}

	for _, b := range out.([]ioBatch) {
		for id, msg := range b.remote.SetMultiplePoints(ctx, b.pairs) {
			results.Errors[id] = msg
		}

		if req.ConfirmValues {
			confirmIDs := make([]string, 0, len(b.pairs))

			for id := range b.pairs {
				if _, failed := results.Errors[id]; !failed {
					confirmIDs = append(confirmIDs, id)
				}
			}

			values, errs := b.remote.GetMultiplePoints(ctx, confirmIDs)

			for id, value := range values {
				results.Values[id] = value
			}

			for id, msg := range errs {
				results.Errors[id] = msg
			}
		} else {
			for id := range b.pairs {
				if _, failed := results.Errors[id]; !failed {
					results.Values[id] = b.pairs[id]
				}
			}
		}
	}

	s.publishResults(ctx, results, false)

	return results, nil
}

// valueMapper resolves the per-point value: with map_points the request
// value is a point → value mapping, otherwise one scalar for every point.
func (s *Service) valueMapper(req models.SetRequest) (func(id string) (interface{}, bool), error) {
	if !req.MapPoints {
		return func(string) (interface{}, bool) { return req.Value, true }, nil
	}

	mapping, ok := req.Value.(map[string]interface{})
	if !ok {
		return nil, models.ErrInvalidConfig
	}

	normalized := make(map[string]interface{}, len(mapping))
	for topic, value := range mapping {
		normalized[s.tree.EquipmentID(topic)] = value
	}

	return func(id string) (interface{}, bool) {
		value, present := normalized[id]
		return value, present
	}, nil
}

// Revert restores the selected points to their configured defaults.
func (s *Service) Revert(ctx context.Context, query models.Query) (models.PointResults, error) {
	restrict, err := s.resolveTagQuery(ctx, query.Tag)
	if err != nil {
		return models.PointResults{}, err
	}

	out, err := s.do(ctx, func() (interface{}, error) {
		plan, err := s.queryPlan(query, restrict)
		if err != nil {
			return nil, err
		}

		batches := make([]ioBatch, 0, len(plan))
		for remote, points := range plan {
			batches = append(batches, ioBatch{remote: remote, ids: identifiers(points)})
		}

		return batches, nil
	})
	if err != nil {
		return models.PointResults{}, err
	}

	results := models.PointResults{
		Values: map[string]interface{}{},
		Errors: map[string]string{},
	}

	headers := models.NewHeaders(s.clk.Now(), s.cfg.AgentID)

	for _, b := range out.([]ioBatch) {
		for _, id := range b.ids {
			if err := b.remote.RevertPoint(ctx, id); err != nil {
				results.Errors[id] = err.Error()
				continue
			}

			results.Values[id] = true

			if err := s.bus.Publish(ctx, "devices/actuators/reverted/point/"+id, headers, nil); err != nil {
				s.logger.Warn().Err(err).Str("point", id).Msg("Revert publish failed")
			}
		}
	}

	s.publishResults(ctx, results, false)

	return results, nil
}

// publishResults mirrors operation outcomes onto the actuator result
// topics: per-point values for reads and one error message per failure.
func (s *Service) publishResults(ctx context.Context, results models.PointResults, withValues bool) {
	if len(results.Values) == 0 && len(results.Errors) == 0 {
		return
	}

	headers := models.NewHeaders(s.clk.Now(), s.cfg.AgentID)

	if withValues {
		for id, value := range results.Values {
			if err := s.bus.Publish(ctx, "devices/actuators/value/"+id, headers, value); err != nil {
				s.logger.Warn().Err(err).Str("point", id).Msg("Value publish failed")
			}
		}
	}

	for id, msg := range results.Errors {
		if err := s.bus.Publish(ctx, "devices/actuators/error/"+id, headers, msg); err != nil {
			s.logger.Warn().Err(err).Str("point", id).Msg("Error publish failed")
		}
	}
}

// Last returns the in-memory last values and update instants of the
// selected points without touching the device.
func (s *Service) Last(ctx context.Context, req models.LastRequest) (map[string]models.LastResult, error) {
	restrict, err := s.resolveTagQuery(ctx, req.Tag)
	if err != nil {
		return nil, err
	}

	out, err := s.do(ctx, func() (interface{}, error) {
		points, err := s.tree.FindPoints(req.Topic, req.Regex, restrict)
		if err != nil {
			return nil, err
		}

		wantValue := req.Value == nil || *req.Value
		wantUpdated := req.Updated == nil || *req.Updated

		results := make(map[string]models.LastResult, len(points))

		for _, point := range points {
			if point.Point == nil {
				continue
			}

			var entry models.LastResult

			if wantValue {
				entry.Value = point.Point.LastValue
			}

			if wantUpdated && !point.Point.LastUpdated.IsZero() {
				updated := point.Point.LastUpdated
				entry.Updated = &updated
			}

			results[point.Identifier] = entry
		}

		return results, nil
	})
	if err != nil {
		return nil, err
	}

	return out.(map[string]models.LastResult), nil
}

// Start resumes polling of the selected points at runtime.
func (s *Service) Start(ctx context.Context, query models.Query) (map[string]bool, error) {
	return s.toggleActive(ctx, query, true)
}

// Stop suspends polling of the selected points at runtime.
func (s *Service) Stop(ctx context.Context, query models.Query) (map[string]bool, error) {
	return s.toggleActive(ctx, query, false)
}

func (s *Service) toggleActive(ctx context.Context, query models.Query, active bool) (map[string]bool, error) {
	restrict, err := s.resolveTagQuery(ctx, query.Tag)
	if err != nil {
		return nil, err
	}

	out, err := s.do(ctx, func() (interface{}, error) {
		points, err := s.tree.FindPoints(query.Topic, query.Regex, restrict)
		if err != nil {
			return nil, err
		}

		results := make(map[string]bool, len(points))
		rebuild := false

		for _, point := range points {
			flag := active
			s.tree.SetActive(point.Handle(), &flag)

			if active {
				rebuild = s.sched.AddToSchedule(point) || rebuild
			} else {
				s.sched.RemoveFromSchedule(point)
			}

			results[point.Identifier] = true
		}

		if len(points) > 0 && (rebuild || s.cfg.Reschedule()) {
			s.sched.Schedule(ctx)
		}

		return results, nil
	})
	if err != nil {
		return nil, err
	}

	return out.(map[string]bool), nil
}

// Enable persists the active flag of the selected nodes on the config
// store, unlike Start/Stop which are runtime-only.
func (s *Service) Enable(ctx context.Context, query models.Query) (map[string]bool, error) {
	return s.persistActive(ctx, query, true)
}

// Disable clears the persisted active flag of the selected nodes.
func (s *Service) Disable(ctx context.Context, query models.Query) (map[string]bool, error) {
	return s.persistActive(ctx, query, false)
}

func (s *Service) persistActive(ctx context.Context, query models.Query, active bool) (map[string]bool, error) {
	restrict, err := s.resolveTagQuery(ctx, query.Tag)
	if err != nil {
		return nil, err
	}

	out, err := s.do(ctx, func() (interface{}, error) {
		points, err := s.tree.FindPoints(query.Topic, query.Regex, restrict)
		if err != nil {
			return nil, err
		}

		results := make(map[string]bool, len(points))

		for _, point := range points {
			device := s.tree.DeviceFor(point)
			if device == nil || device.Config == nil {
				results[point.Identifier] = false
				continue
			}

			flag := active
			device.Config.Active = &flag
			s.tree.SetActive(device.Handle(), &flag)

			if err := s.persistEquipmentConfig(ctx, device); err != nil {
				s.logger.Error().Err(err).Str("device", device.Identifier).Msg("Failed to persist active flag")

				results[point.Identifier] = false

				continue
			}

			results[point.Identifier] = true
		}

		return results, nil
	})
	if err != nil {
		return nil, err
	}

	return out.(map[string]bool), nil
}

// ListTopics lists the identifiers of matching points, optionally filtered
// to active (runtime) or enabled (persisted) points.
func (s *Service) ListTopics(ctx context.Context, req models.ListTopicsRequest) ([]string, error) {
	restrict, err := s.resolveTagQuery(ctx, req.Tag)
	if err != nil {
		return nil, err
	}

	out, err := s.do(ctx, func() (interface{}, error) {
		points, err := s.tree.FindPoints(req.Topic, req.Regex, restrict)
		if err != nil {
			return nil, err
		}

		topics := make([]string, 0, len(points))

		for _, point := range points {
			if req.Active && !s.tree.IsActive(point.Handle()) {
				continue
			}

			if req.Enabled {
				device := s.tree.DeviceFor(point)
				if device == nil || device.Config == nil || (device.Config.Active != nil && !*device.Config.Active) {
					continue
				}
			}

			topics = append(topics, point.Identifier)
		}

		sort.Strings(topics)

		return topics, nil
	})
	if err != nil {
		return nil, err
	}

	return out.([]string), nil
}

// Status is not implemented yet and says so.
func (s *Service) Status(context.Context, models.Query) (map[string]interface{}, error) {
	return nil, models.ErrNotImplemented
}

// ListInterfaces lists the driver types the registry can construct.
func (s *Service) ListInterfaces(ctx context.Context) ([]string, error) {
	out, err := s.do(ctx, func() (interface{}, error) {
		types := s.registry.DriverTypes()
		sort.Strings(types)

		return types, nil
	})
	if err != nil {
		return nil, err
	}

	return out.([]string), nil
}

// AddInterface would install a driver package at runtime; drivers are
// compiled in, so it reports not implemented.
func (s *Service) AddInterface(context.Context, string) error {
	return models.ErrNotImplemented
}

// RemoveInterface mirrors AddInterface.
func (s *Service) RemoveInterface(context.Context, string) error {
	return models.ErrNotImplemented
}

func identifiers(points []*equipment.Node) []string {
	ids := make([]string, 0, len(points))
	for _, p := range points {
		ids = append(ids, p.Identifier)
	}

	return ids
}
