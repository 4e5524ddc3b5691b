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
	"time"

	"github.com/fieldops/driverd/pkg/equipment"
	"github.com/fieldops/driverd/pkg/models"
)

// pointMeta assembles the metadata half of a point publication.
func (r *Remote) pointMeta(node *equipment.Node) map[string]interface{} {
	meta := map[string]interface{}{}

	if node.Point != nil {
		if node.Point.Units != "" {
			meta["units"] = node.Point.Units
		}

		if node.Point.Type != "" {
			meta["type"] = node.Point.Type
		}
	}

	return meta
}

func (r *Remote) publish(ctx context.Context, topic string, headers models.Headers, message interface{}) {
	if err := r.bus.Publish(ctx, topic, headers, message); err != nil {
		r.logger.Warn().Err(err).Str("topic", topic).Msg("Publish failed")
	}
}

// publishPollResults fans one slot's batch-read values out to the bus
// according to the slot's precomputed publish setup.
func (r *Remote) publishPollResults(ctx context.Context, setup *PublishSetup, values map[string]interface{}, start time.Time) {
	if setup.Empty() || len(values) == 0 {
		return
	}

	headers := models.NewHeaders(start, r.agentID)

	for depthTopic := range setup.SingleDepth {
		node := r.tree.Lookup(depthTopic)
		if node == nil {
			continue
		}

		if value, ok := values[depthTopic]; ok {
			r.publish(ctx, depthTopic, headers, []interface{}{value, r.pointMeta(node)})
		}
	}

	for _, pair := range setup.SingleBreadth {
		node := r.tree.Lookup(pair.Depth)
		if node == nil {
			continue
		}

		if value, ok := values[pair.Depth]; ok {
			r.publish(ctx, pair.Breadth, headers, []interface{}{value, r.pointMeta(node)})
		}
	}

	for deviceTopic, points := range setup.MultiDepth {
		valueMap := map[string]interface{}{}
		metaMap := map[string]interface{}{}

		for pointTopic := range points {
			node := r.tree.Lookup(pointTopic)
			if node == nil {
				continue
			}

			if value, ok := values[pointTopic]; ok {
				valueMap[node.Tag] = value
				metaMap[node.Tag] = r.pointMeta(node)
			}
		}

		if len(valueMap) > 0 {
			r.publish(ctx, deviceTopic+"/multi", headers, []interface{}{valueMap, metaMap})
		}
	}

	for deviceBreadth, names := range setup.MultiBreadth {
		valueMap := map[string]interface{}{}

		for id := range names {
			if value, ok := values[id]; ok {
				node := r.tree.Lookup(id)
				if node == nil {
					continue
				}

				valueMap[node.Tag] = value
			}
		}

		if len(valueMap) > 0 {
			r.publish(ctx, deviceBreadth+"/multi", headers, valueMap)
		}
	}
}

// PublishAll emits the device /all message: a two-element array of the
// point-value map and the point-meta map, built from last-known values.
func (r *Remote) PublishAll(ctx context.Context, device *equipment.Node) {
	valueMap := map[string]interface{}{}
	metaMap := map[string]interface{}{}

	for _, h := range device.Children() {
		node := r.tree.Node(h)
		if node == nil || node.Point == nil {
			continue
		}

		valueMap[node.Tag] = node.Point.LastValue
		metaMap[node.Tag] = r.pointMeta(node)
	}

	if len(valueMap) == 0 {
		return
	}

	headers := models.NewHeaders(r.clk.Now(), r.agentID)
	message := []interface{}{valueMap, metaMap}

	anyPoint := func() *equipment.Node {
		for _, h := range device.Children() {
			if node := r.tree.Node(h); node != nil && node.Point != nil {
				return node
			}
		}

		return nil
	}()

	if anyPoint == nil {
		return
	}

	if r.tree.IsPublishedAllDepth(anyPoint) {
		r.publish(ctx, device.Identifier+"/all", headers, message)
	}

	if r.tree.IsPublishedAllBreadth(anyPoint) {
		breadth := equipment.BreadthTopic(r.tree.BreadthBase(), device.Identifier)
		r.publish(ctx, breadth+"/all", headers, message)
	}
}
