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

import "github.com/fieldops/driverd/pkg/equipment"

// BreadthPair couples a point's depth topic with its breadth topic.
type BreadthPair struct {
	Depth   string
	Breadth string
}

// PublishSetup enumerates, for the points of one poll slot, the bucket
// structures used to assemble bus messages after the batch read.
type PublishSetup struct {
	// SingleDepth is the set of point-depth topics published individually.
	SingleDepth map[string]bool
	// SingleBreadth pairs depth topics with their breadth-first variants.
	SingleBreadth []BreadthPair
	// MultiDepth maps each device-depth topic to the point-depth topics
	// grouped into its multi message.
	MultiDepth map[string]map[string]bool
	// MultiBreadth maps each device-breadth topic to the point names
	// grouped into its multi message.
	MultiBreadth map[string]map[string]bool
}

// NewPublishSetup returns an empty setup.
func NewPublishSetup() *PublishSetup {
	return &PublishSetup{
		SingleDepth:  make(map[string]bool),
		MultiDepth:   make(map[string]map[string]bool),
		MultiBreadth: make(map[string]map[string]bool),
	}
}

// Empty reports whether no bucket selects anything.
func (s *PublishSetup) Empty() bool {
	return s == nil ||
		len(s.SingleDepth) == 0 && len(s.SingleBreadth) == 0 &&
			len(s.MultiDepth) == 0 && len(s.MultiBreadth) == 0
}

// PollSet is the unit of work executed at one schedule slot: the points to
// read from one remote and the precomputed publication buckets.
type PollSet struct {
	Remote *Remote
	// Points holds weak references: handles are re-resolved against the
	// tree at poll time, so a removed point is skipped rather than pinned.
	Points []equipment.Handle
	Setup  *PublishSetup
}
