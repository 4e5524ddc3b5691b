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

package equipment

import (
	"time"

	"github.com/fieldops/driverd/pkg/models"
)

// Kind tags the payload of a tree node.
type Kind int

const (
	KindTopic Kind = iota
	KindDevice
	KindPoint
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "DEVICE"
	case KindPoint:
		return "POINT"
	default:
		return "TOPIC_SEGMENT"
	}
}

// Handle is a stable integer id for a tree node. Schedules and poll sets
// store handles instead of pointers so a removed node is detected by a nil
// Tree.Node lookup rather than pinned in memory.
type Handle int32

// NoHandle is the zero, never-allocated handle.
const NoHandle Handle = 0

// DataSource identifies how a point's value is produced.
type DataSource int

const (
	// ShortPoll points are sampled by the cyclic poll scheduler.
	ShortPoll DataSource = iota
)

// DeviceData is the device-specific payload of a node.
type DeviceData struct {
	RemoteID           string
	RegistryName       string
	Publish            models.PublishFlags
	AllPublishInterval float64
	HeartBeatPoint     string
}

// PointData is the point-specific payload of a node.
type PointData struct {
	Source        DataSource
	LastValue     interface{}
	LastUpdated   time.Time
	StaleTimeout  time.Duration
	Writable      bool
	StartingValue interface{}
	Units         string
	Type          string
	Row           models.RegistryRow
}

// Stale reports whether the last observation is older than the staleness
// threshold. A zero threshold never goes stale.
func (p *PointData) Stale(now time.Time) bool {
	if p.StaleTimeout <= 0 || p.LastUpdated.IsZero() {
		return false
	}

	return now.Sub(p.LastUpdated) > p.StaleTimeout
}

// Node is one entry of the equipment tree. Shared attributes are embedded;
// exactly one of Device/Point is non-nil for non-topic kinds.
type Node struct {
	handle   Handle
	parent   Handle
	children []Handle // insertion order preserved for display

	Tag        string
	Identifier string
	Kind       Kind

	// Active is nil when the node inherits its active state.
	Active   *bool
	Meta     map[string]interface{}
	Interval float64
	Group    string

	Config *models.EquipmentConfig

	Device *DeviceData
	Point  *PointData
}

// Handle returns the node's arena handle.
func (n *Node) Handle() Handle { return n.handle }

// Parent returns the parent handle, NoHandle for the root.
func (n *Node) Parent() Handle { return n.parent }

// Children returns the node's children in insertion order.
func (n *Node) Children() []Handle {
	return append([]Handle(nil), n.children...)
}

// SetLastValue records a poll observation, atomically advancing the
// last-updated instant.
func (n *Node) SetLastValue(value interface{}, now time.Time) {
	if n.Point == nil {
		return
	}

	n.Point.LastValue = value
	n.Point.LastUpdated = now.UTC()
}
