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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldops/driverd/pkg/equipment"
	"github.com/fieldops/driverd/pkg/models"
)

const (
	equipmentKeyPrefix = "equipment/"
	registryKeyPrefix  = "registries/"
	configRefScheme    = "config://"
)

// AddNode adds a device or topic segment to the equipment tree, creating
// its remote when needed.
func (s *Service) AddNode(ctx context.Context, req models.AddNodeRequest) (bool, error) {
	out, err := s.do(ctx, func() (interface{}, error) {
		updateSchedule := req.UpdateSchedule == nil || *req.UpdateSchedule

		if err := s.configureNode(ctx, req.NodeTopic, &req.Config, updateSchedule); err != nil {
			return false, err
		}

		node := s.tree.Lookup(req.NodeTopic)
		if node != nil {
			if err := s.persistEquipmentConfig(ctx, node); err != nil {
				s.logger.Error().Err(err).Str("topic", node.Identifier).Msg("Failed to persist equipment config")
			}
		}

		return true, nil
	})
	if err != nil {
		return false, err
	}

	return out.(bool), nil
}

// configureNode applies one equipment configuration event to the tree,
// registry and schedule.
func (s *Service) configureNode(ctx context.Context, topic string, cfg *models.EquipmentConfig, updateSchedule bool) error {
	if !cfg.IsDevice() {
		_, err := s.tree.AddSegment(topic, cfg)
		return err
	}

	rows, err := s.resolveRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	identifier := s.tree.EquipmentID(topic)

	remote, err := s.registry.GetOrCreate(ctx, identifier, cfg.DriverType, cfg.DriverConfig)
	if err != nil {
		s.logger.Warn().Err(err).Str("device", identifier).Msg("Remote construction failed, device not configured")
		return err
	}

	node, err := s.tree.AddDevice(topic, cfg, remote.ID, rows)
	if err != nil {
		return err
	}

	if err := remote.AddDevice(ctx, node, cfg, rows); err != nil {
		s.logger.Warn().Err(err).Str("device", identifier).Msg("Driver rejected device, device not configured")
		s.tree.Remove(node.Handle())

		return err
	}

	if cfg.HeartBeatPoint != "" {
		remote.StartHeartbeat(ctx, secondsToDuration(s.cfg.RemoteHeartbeatInterval))
	}

	if !updateSchedule {
		return nil
	}

	rebuild := false

	for _, h := range node.Children() {
		point := s.tree.Node(h)
		if point == nil || point.Point == nil || !s.tree.IsActive(h) {
			continue
		}

		rebuild = s.sched.AddToSchedule(point) || rebuild
	}

	if rebuild || s.cfg.Reschedule() {
		s.sched.Schedule(ctx)
	}

	return nil
}

// RemoveNode removes a node. Devices release their remotes unless the
// request asks to leave them connected.
func (s *Service) RemoveNode(ctx context.Context, req models.RemoveNodeRequest) (bool, error) {
	out, err := s.do(ctx, func() (interface{}, error) {
		node := s.tree.Lookup(req.Topic)
		if node == nil {
			return false, nil
		}

		for _, point := range s.tree.Points(node.Handle()) {
			s.sched.RemoveFromSchedule(point)
		}

		identifier := node.Identifier
		result := s.tree.Remove(node.Handle())

		for _, device := range result.RemovedDevices {
			remote := s.registry.Get(device.Device.RemoteID)
			if remote == nil {
				continue
			}

			remote.RemoveDevice(device.Handle())

			if !req.LeaveDisconnected {
				if err := s.registry.Release(remote.ID); err != nil {
					s.logger.Warn().Err(err).Str("remote", remote.ID).Msg("Error releasing remote")
				}
			}
		}

		if s.store != nil && !result.ConfigCleared {
			if err := s.store.Delete(ctx, equipmentKeyPrefix+identifier); err != nil {
				s.logger.Warn().Err(err).Str("topic", identifier).Msg("Failed to delete persisted config")
			}
		}

		if s.cfg.Reschedule() {
			s.sched.Schedule(ctx)
		}

		return true, nil
	})
	if err != nil {
		return false, err
	}

	return out.(bool), nil
}

// resolveRegistry materializes a device's registry rows: an inline list, a
// config://<name> reference, or the registry_name fallback.
func (s *Service) resolveRegistry(ctx context.Context, cfg *models.EquipmentConfig) ([]models.RegistryRow, error) {
	raw := cfg.RegistryConfig

	if len(raw) == 0 {
		if cfg.RegistryName == "" {
			return nil, nil
		}

		return s.fetchRegistry(ctx, cfg.RegistryName)
	}

	var ref string
	if err := json.Unmarshal(raw, &ref); err == nil {
		name := strings.TrimPrefix(ref, configRefScheme)
		if name == "" {
			return nil, fmt.Errorf("%w: empty registry reference", models.ErrInvalidConfig)
		}

		return s.fetchRegistry(ctx, name)
	}

	var rows []models.RegistryRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: registry_config is neither a row list nor a reference: %w", models.ErrInvalidConfig, err)
	}

	return rows, nil
}

func (s *Service) fetchRegistry(ctx context.Context, name string) ([]models.RegistryRow, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: no config store to resolve registry %q", models.ErrInvalidConfig, name)
	}

	blob, found, err := s.store.Get(ctx, registryKeyPrefix+name)
	if err != nil {
		return nil, fmt.Errorf("fetching registry %q: %w", name, err)
	}

	if !found {
		return nil, fmt.Errorf("%w: registry %q not found", models.ErrInvalidConfig, name)
	}

	var rows []models.RegistryRow
	if err := json.Unmarshal(blob, &rows); err != nil {
		return nil, fmt.Errorf("decoding registry %q: %w", name, err)
	}

	return rows, nil
}

// persistEquipmentConfig writes a node's configuration to the config store.
func (s *Service) persistEquipmentConfig(ctx context.Context, node *equipment.Node) error {
	if s.store == nil || node.Config == nil {
		return nil
	}

	blob, err := json.Marshal(node.Config)
	if err != nil {
		return err
	}

	return s.store.Put(ctx, equipmentKeyPrefix+node.Identifier, blob)
}

// loadEquipment restores persisted equipment configurations at startup.
func (s *Service) loadEquipment(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	keys, err := s.store.List(ctx, equipmentKeyPrefix)
	if err != nil {
		return err
	}

	for _, key := range keys {
		blob, found, err := s.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}

		var cfg models.EquipmentConfig
		if err := json.Unmarshal(blob, &cfg); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Skipping undecodable equipment config")
			continue
		}

		topic := strings.TrimPrefix(key, equipmentKeyPrefix)

		if err := s.configureNode(ctx, topic, &cfg, false); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("Skipping equipment config that failed to apply")
		}
	}

	s.Post(func() {
		for _, point := range s.tree.Points(equipment.NoHandle) {
			if s.tree.IsActive(point.Handle()) {
				s.sched.AddToSchedule(point)
			}
		}
	})

	return nil
}

// startHeartbeats arms the heartbeat toggle on every remote serving a
// device with a heart_beat_point.
func (s *Service) startHeartbeats(ctx context.Context) {
	interval := secondsToDuration(s.cfg.RemoteHeartbeatInterval)

	for _, device := range s.tree.Devices(equipment.NoHandle) {
		if device.Device == nil || device.Device.HeartBeatPoint == "" {
			continue
		}

		if remote := s.registry.Get(device.Device.RemoteID); remote != nil {
			remote.StartHeartbeat(ctx, interval)
		}
	}
}
