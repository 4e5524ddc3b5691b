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

// Package equipment implements the hierarchical equipment model: a typed
// namespace of topic/device/point nodes with per-node configuration and
// runtime state. Nodes live in an arena keyed by stable handles; everything
// else in the service refers to nodes by handle.
package equipment

import (
	"strings"
	"time"

	"github.com/fieldops/driverd/pkg/logger"
	"github.com/fieldops/driverd/pkg/models"
)

// TreeOptions configure a new tree.
type TreeOptions struct {
	// RootTopic is the depth-first base, normally "devices".
	RootTopic string
	// BreadthBase is the breadth-first base, normally "points". Treated
	// as an opaque string.
	BreadthBase string
	// DefaultInterval is the per-point polling interval applied when
	// neither the device config nor the registry row sets one.
	DefaultInterval float64
	// Defaults are the root publish flags resolved from the agent config
	// version.
	Defaults models.PublishFlags
	Logger   logger.Logger
}

// Tree is the equipment model. It is not goroutine safe; all access happens
// on the service loop.
type Tree struct {
	opts   TreeOptions
	logger logger.Logger

	nodes   map[Handle]*Node
	byTopic map[string]Handle
	next    Handle
	root    Handle

	warnedDuplicates map[string]bool
}

// NewTree creates a tree containing only the root topic segment.
func NewTree(opts TreeOptions) *Tree {
	if opts.RootTopic == "" {
		opts.RootTopic = "devices"
	}

	if opts.BreadthBase == "" {
		opts.BreadthBase = "points"
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}

	opts.RootTopic = NormalizeTopic(opts.RootTopic)

	t := &Tree{
		opts:             opts,
		logger:           opts.Logger,
		nodes:            make(map[Handle]*Node),
		byTopic:          make(map[string]Handle),
		warnedDuplicates: make(map[string]bool),
	}

	t.root = t.allocate(NoHandle, opts.RootTopic, opts.RootTopic, KindTopic)

	return t
}

// Root returns the root handle.
func (t *Tree) Root() Handle { return t.root }

// RootTopic returns the depth-first base.
func (t *Tree) RootTopic() string { return t.opts.RootTopic }

// BreadthBase returns the breadth-first base.
func (t *Tree) BreadthBase() string { return t.opts.BreadthBase }

// EquipmentID normalizes topic against the tree root.
func (t *Tree) EquipmentID(topic string) string {
	return EquipmentID(t.opts.RootTopic, topic)
}

// Node resolves a handle; nil means the node has been removed. This is the
// stale-entry check poll callbacks rely on.
func (t *Tree) Node(h Handle) *Node {
	return t.nodes[h]
}

// Lookup resolves a (not necessarily normalized) topic to its node.
func (t *Tree) Lookup(topic string) *Node {
	h, ok := t.byTopic[t.EquipmentID(topic)]
	if !ok {
		return nil
	}

	return t.nodes[h]
}

func (t *Tree) allocate(parent Handle, identifier, tag string, kind Kind) Handle {
	t.next++
	h := t.next

	node := &Node{
		handle:     h,
		parent:     parent,
		Tag:        tag,
		Identifier: identifier,
		Kind:       kind,
	}

	t.nodes[h] = node
	t.byTopic[identifier] = h

	if parent != NoHandle {
		p := t.nodes[parent]
		p.children = append(p.children, h)
	}

	return h
}

// ensureSegments creates the missing ancestor topic segments of identifier
// and returns the handle of its deepest segment.
func (t *Tree) ensureSegments(identifier string) Handle {
	segments := strings.Split(identifier, separator)

	current := t.root
	path := segments[0]

	for _, seg := range segments[1:] {
		path = path + separator + seg

		if h, ok := t.byTopic[path]; ok {
			current = h
			continue
		}

		current = t.allocate(current, path, seg, KindTopic)
	}

	return current
}

// AddSegment idempotently creates a topic segment (and all missing
// ancestors) and returns its handle.
func (t *Tree) AddSegment(topic string, cfg *models.EquipmentConfig) (Handle, error) {
	identifier := t.EquipmentID(topic)

	if h, ok := t.byTopic[identifier]; ok {
		node := t.nodes[h]
		if cfg != nil && node.Config == nil {
			t.applyNodeConfig(node, cfg)
		}

		return h, nil
	}

	h := t.ensureSegments(identifier)

	if cfg != nil {
		t.applyNodeConfig(t.nodes[h], cfg)
	}

	return h, nil
}

func (t *Tree) applyNodeConfig(node *Node, cfg *models.EquipmentConfig) {
	node.Config = cfg
	node.Active = cfg.Active
	node.Group = cfg.Group

	if cfg.Interval != nil {
		node.Interval = *cfg.Interval
	}

	if cfg.EquipmentSpecificFields != nil && node.Meta == nil {
		node.Meta = cfg.EquipmentSpecificFields
	}
}

// AddDevice creates a device node (and missing ancestors) and materializes
// its point children from the registry rows. Adding an existing device
// returns the existing node unchanged.
func (t *Tree) AddDevice(topic string, cfg *models.EquipmentConfig, remoteID string, rows []models.RegistryRow) (*Node, error) {
	identifier := t.EquipmentID(topic)

	if h, ok := t.byTopic[identifier]; ok {
		existing := t.nodes[h]
		if existing.Kind == KindDevice {
			return existing, nil
		}

		if existing.Kind == KindPoint {
			return nil, ErrKindMismatch
		}

		// Upgrade a pre-existing topic segment in place.
		existing.Kind = KindDevice
		t.configureDevice(existing, cfg, remoteID)
		t.materializePoints(existing, cfg, rows)

		return existing, nil
	}

	h := t.ensureSegments(identifier)
	node := t.nodes[h]
	node.Kind = KindDevice
	t.configureDevice(node, cfg, remoteID)
	t.materializePoints(node, cfg, rows)

	return node, nil
}

func (t *Tree) configureDevice(node *Node, cfg *models.EquipmentConfig, remoteID string) {
	t.applyNodeConfig(node, cfg)

	device := &DeviceData{
		RemoteID:       remoteID,
		RegistryName:   cfg.RegistryName,
		Publish:        cfg.PublishFlags,
		HeartBeatPoint: cfg.HeartBeatPoint,
	}

	if cfg.AllPublishInterval != nil {
		device.AllPublishInterval = *cfg.AllPublishInterval
	}

	node.Device = device
}

func (t *Tree) materializePoints(device *Node, cfg *models.EquipmentConfig, rows []models.RegistryRow) {
	for _, row := range rows {
		name := row.PointName()
		if name == "" {
			t.logger.Warn().Str("device", device.Identifier).Msg("Skipping registry row without a point name")

			continue
		}

		if cfg.EquipmentSpecificFields != nil {
			row.Merge(cfg.EquipmentSpecificFields)
		}

		t.addPoint(device, cfg, row)
	}
}

func (t *Tree) addPoint(device *Node, cfg *models.EquipmentConfig, row models.RegistryRow) {
	identifier := device.Identifier + separator + row.PointName()

	if _, ok := t.byTopic[identifier]; ok {
		// Duplicate adds are a no-op; warn only once per topic.
		if !t.warnedDuplicates[identifier] {
			t.warnedDuplicates[identifier] = true
			t.logger.Warn().Str("point", identifier).Msg("Ignoring duplicate point")
		}

		return
	}

	h := t.allocate(device.Handle(), identifier, row.PointName(), KindPoint)
	node := t.nodes[h]

	node.Interval = t.pointInterval(cfg, row)
	node.Group = cfg.Group

	units, _ := row[models.RegUnits].(string)

	node.Point = &PointData{
		Source:        ShortPoll,
		Writable:      row.Writable(),
		StartingValue: row.StartingValue(),
		Units:         units,
		Type:          row.Type(),
		Row:           row,
		StaleTimeout:  stalenessFromRow(row),
	}
}

func (t *Tree) pointInterval(cfg *models.EquipmentConfig, row models.RegistryRow) float64 {
	if v, ok := row["Polling Interval"].(float64); ok && v > 0 {
		return v
	}

	if cfg.Interval != nil && *cfg.Interval > 0 {
		return *cfg.Interval
	}

	return t.opts.DefaultInterval
}

func stalenessFromRow(row models.RegistryRow) time.Duration {
	if v, ok := row["Stale Timeout"].(float64); ok && v > 0 {
		return time.Duration(v * float64(time.Second))
	}

	return 0
}

// RemoveResult reports what Remove did.
type RemoveResult struct {
	// RemovedDevices lists device nodes whose remotes must be released.
	RemovedDevices []*Node
	// RemovedPoints lists point handles dropped from the tree.
	RemovedPoints []Handle
	// ConfigCleared is true when the node kept concrete descendants and
	// only its configuration was cleared.
	ConfigCleared bool
}

// Remove removes the subtree at h. A node that still has concrete (device or
// point) descendants elsewhere below it keeps its position but loses its
// configuration. Removal of an unknown handle is a no-op. Emptied ancestor
// topic segments are pruned.
func (t *Tree) Remove(h Handle) RemoveResult {
	var result RemoveResult

	node, ok := t.nodes[h]
	if !ok {
		return result
	}

	if node.Kind == KindTopic && t.hasConcreteDescendant(node, h) {
		node.Config = nil
		node.Meta = nil
		node.Active = nil
		result.ConfigCleared = true

		return result
	}

	parent := node.parent
	t.removeSubtree(node, &result)

	if parent != NoHandle {
		t.pruneEmptySegments(parent)
	}

	return result
}

// hasConcreteDescendant reports whether any device or point lives strictly
// below node (excluding the subtree rooted at skip's own payload).
func (t *Tree) hasConcreteDescendant(node *Node, _ Handle) bool {
	for _, child := range node.children {
		c := t.nodes[child]
		if c == nil {
			continue
		}

		if c.Kind == KindDevice || c.Kind == KindPoint {
			return true
		}

		if t.hasConcreteDescendant(c, NoHandle) {
			return true
		}
	}

	return false
}

func (t *Tree) removeSubtree(node *Node, result *RemoveResult) {
	for _, child := range node.Children() {
		if c := t.nodes[child]; c != nil {
			t.removeSubtree(c, result)
		}
	}

	switch node.Kind {
	case KindDevice:
		result.RemovedDevices = append(result.RemovedDevices, node)
	case KindPoint:
		result.RemovedPoints = append(result.RemovedPoints, node.handle)
	case KindTopic:
	}

	t.detach(node)
}

func (t *Tree) detach(node *Node) {
	delete(t.nodes, node.handle)
	delete(t.byTopic, node.Identifier)

	if node.parent == NoHandle {
		return
	}

	parent := t.nodes[node.parent]
	if parent == nil {
		return
	}

	kept := parent.children[:0]

	for _, c := range parent.children {
		if c != node.handle {
			kept = append(kept, c)
		}
	}

	parent.children = kept
}

// pruneEmptySegments walks up from h removing topic segments left with no
// concrete descendants. The root always survives.
func (t *Tree) pruneEmptySegments(h Handle) {
	for h != NoHandle && h != t.root {
		node := t.nodes[h]
		if node == nil || node.Kind != KindTopic || len(node.children) > 0 {
			return
		}

		parent := node.parent
		t.detach(node)
		h = parent
	}
}

// Points returns every point node at or below h; NoHandle means the whole
// tree.
func (t *Tree) Points(h Handle) []*Node {
	return t.collect(h, KindPoint)
}

// Devices returns every device node at or below h; NoHandle means the whole
// tree.
func (t *Tree) Devices(h Handle) []*Node {
	return t.collect(h, KindDevice)
}

func (t *Tree) collect(h Handle, kind Kind) []*Node {
	if h == NoHandle {
		h = t.root
	}

	node := t.nodes[h]
	if node == nil {
		return nil
	}

	var out []*Node

	t.walk(node, func(n *Node) {
		if n.Kind == kind {
			out = append(out, n)
		}
	})

	return out
}

func (t *Tree) walk(node *Node, fn func(*Node)) {
	fn(node)

	for _, child := range node.children {
		if c := t.nodes[child]; c != nil {
			t.walk(c, fn)
		}
	}
}

// DeviceFor returns the nearest ancestor device of a point node.
func (t *Tree) DeviceFor(point *Node) *Node {
	for h := point.parent; h != NoHandle; {
		node := t.nodes[h]
		if node == nil {
			return nil
		}

		if node.Kind == KindDevice {
			return node
		}

		h = node.parent
	}

	return nil
}

// IsActive resolves the node's active state, inheriting from the nearest
// ancestor that sets it explicitly. Unset everywhere means active.
func (t *Tree) IsActive(h Handle) bool {
	for h != NoHandle {
		node := t.nodes[h]
		if node == nil {
			return false
		}

		if node.Active != nil {
			return *node.Active
		}

		h = node.parent
	}

	return true
}

// SetActive sets (or with nil clears) the node's explicit active flag.
func (t *Tree) SetActive(h Handle, active *bool) {
	if node := t.nodes[h]; node != nil {
		node.Active = active
	}
}

// Size returns the number of live nodes, root included.
func (t *Tree) Size() int { return len(t.nodes) }
