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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/driverd/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

func testRows(names ...string) []models.RegistryRow {
	rows := make([]models.RegistryRow, 0, len(names))

	for _, name := range names {
		rows = append(rows, models.RegistryRow{
			models.RegPointName:     name,
			models.RegDevicePoint:   name,
			models.RegUnits:         "degreesFahrenheit",
			models.RegWritable:      true,
			models.RegStartingValue: 10.0,
			models.RegType:          "float",
		})
	}

	return rows
}

func newTestTree(t *testing.T) *Tree {
	t.Helper()

	return NewTree(TreeOptions{
		RootTopic:       "devices",
		BreadthBase:     "points",
		DefaultInterval: 60,
	})
}

func TestNormalizeTopic(t *testing.T) {
	assert.Equal(t, "devices/campus/b1", NormalizeTopic("/devices/campus/b1/"))
	assert.Equal(t, "devices/campus/b1", NormalizeTopic("devices//campus///b1"))
	assert.Equal(t, "", NormalizeTopic("///"))
}

func TestEquipmentID(t *testing.T) {
	assert.Equal(t, "devices/campus/b1", EquipmentID("devices", "campus/b1"))
	assert.Equal(t, "devices/campus/b1", EquipmentID("devices", "devices/campus/b1"))
	assert.Equal(t, "devices/campus/b1", EquipmentID("devices", "/campus//b1/"))
	assert.Equal(t, "devices", EquipmentID("devices", ""))

	// A segment merely starting with the root string is not the root.
	assert.Equal(t, "devices/devicesroom", EquipmentID("devices", "devicesroom"))
}

func TestBreadthTopic(t *testing.T) {
	assert.Equal(t, "points/temp/ahu1/b1/campus", BreadthTopic("points", "devices/campus/b1/ahu1/temp"))
	assert.Equal(t, "points", BreadthTopic("points", "devices"))
}

func TestAddDeviceMaterializesPoints(t *testing.T) {
	tree := newTestTree(t)

	cfg := &models.EquipmentConfig{DriverType: "fake"}

	device, err := tree.AddDevice("campus/b1/ahu1", cfg, "remote-1", testRows("temp", "fan"))
	require.NoError(t, err)

	assert.Equal(t, "devices/campus/b1/ahu1", device.Identifier)
	assert.Equal(t, KindDevice, device.Kind)
	assert.Equal(t, "remote-1", device.Device.RemoteID)

	points := tree.Points(device.Handle())
	require.Len(t, points, 2)

	temp := tree.Lookup("campus/b1/ahu1/temp")
	require.NotNil(t, temp)
	assert.Equal(t, KindPoint, temp.Kind)
	assert.True(t, temp.Point.Writable)
	assert.Equal(t, 10.0, temp.Point.StartingValue)
	assert.Equal(t, 60.0, temp.Interval)

	// Intermediate segments were created.
	campus := tree.Lookup("campus")
	require.NotNil(t, campus)
	assert.Equal(t, KindTopic, campus.Kind)
}

func TestAddDeviceIdempotent(t *testing.T) {
	tree := newTestTree(t)
	cfg := &models.EquipmentConfig{DriverType: "fake"}

	first, err := tree.AddDevice("campus/b1/ahu1", cfg, "remote-1", testRows("temp"))
	require.NoError(t, err)

	size := tree.Size()

	second, err := tree.AddDevice("campus/b1/ahu1", cfg, "remote-1", testRows("temp"))
	require.NoError(t, err)

	assert.Equal(t, first.Handle(), second.Handle())
	assert.Equal(t, size, tree.Size())
}

func TestDuplicatePointIgnored(t *testing.T) {
	tree := newTestTree(t)
	cfg := &models.EquipmentConfig{DriverType: "fake"}

	device, err := tree.AddDevice("campus/b1/ahu1", cfg, "remote-1", testRows("temp", "temp"))
	require.NoError(t, err)

	assert.Len(t, tree.Points(device.Handle()), 1)
}

func TestAddDeviceOverPointFails(t *testing.T) {
	tree := newTestTree(t)
	cfg := &models.EquipmentConfig{DriverType: "fake"}

	_, err := tree.AddDevice("campus/b1/ahu1", cfg, "remote-1", testRows("temp"))
	require.NoError(t, err)

	_, err = tree.AddDevice("campus/b1/ahu1/temp", cfg, "remote-2", nil)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestRemoveDevicePrunesEmptySegments(t *testing.T) {
	tree := newTestTree(t)
	cfg := &models.EquipmentConfig{DriverType: "fake"}

	device, err := tree.AddDevice("campus/b1/ahu1", cfg, "remote-1", testRows("temp"))
	require.NoError(t, err)

	handle := device.Handle()
	pointHandle := tree.Lookup("campus/b1/ahu1/temp").Handle()

	result := tree.Remove(handle)

	require.Len(t, result.RemovedDevices, 1)
	assert.Equal(t, handle, result.RemovedDevices[0].Handle())
	assert.Equal(t, []Handle{pointHandle}, result.RemovedPoints)

	// Removed handles resolve to nil: the stale-entry contract.
	assert.Nil(t, tree.Node(handle))
	assert.Nil(t, tree.Node(pointHandle))

	// Emptied ancestors are gone, root survives.
	assert.Nil(t, tree.Lookup("campus/b1"))
	assert.Nil(t, tree.Lookup("campus"))
	assert.NotNil(t, tree.Node(tree.Root()))
	assert.Equal(t, 1, tree.Size())
}

func TestRemoveSegmentWithDescendantsClearsConfigOnly(t *testing.T) {
	tree := newTestTree(t)

	active := false
	_, err := tree.AddSegment("campus/b1", &models.EquipmentConfig{Active: &active})
	require.NoError(t, err)

	_, err = tree.AddDevice("campus/b1/ahu1", &models.EquipmentConfig{DriverType: "fake"}, "remote-1", testRows("temp"))
	require.NoError(t, err)

	segment := tree.Lookup("campus/b1")
	require.NotNil(t, segment)

	result := tree.Remove(segment.Handle())

	assert.True(t, result.ConfigCleared)
	assert.Empty(t, result.RemovedDevices)
	assert.NotNil(t, tree.Lookup("campus/b1"))
	assert.Nil(t, tree.Lookup("campus/b1").Config)
	assert.NotNil(t, tree.Lookup("campus/b1/ahu1"))
}

func TestIsActiveInheritance(t *testing.T) {
	tree := newTestTree(t)

	inactive := false
	_, err := tree.AddSegment("campus/b1", &models.EquipmentConfig{Active: &inactive})
	require.NoError(t, err)

	_, err = tree.AddDevice("campus/b1/ahu1", &models.EquipmentConfig{DriverType: "fake"}, "remote-1", testRows("temp"))
	require.NoError(t, err)

	point := tree.Lookup("campus/b1/ahu1/temp")
	require.NotNil(t, point)

	// Inherited from the inactive segment.
	assert.False(t, tree.IsActive(point.Handle()))

	// An explicit flag on the point overrides the ancestor.
	tree.SetActive(point.Handle(), boolPtr(true))
	assert.True(t, tree.IsActive(point.Handle()))

	// Clearing falls back to inheritance again.
	tree.SetActive(point.Handle(), nil)
	assert.False(t, tree.IsActive(point.Handle()))
}

func TestPublishFlagInheritance(t *testing.T) {
	tree := NewTree(TreeOptions{
		RootTopic:       "devices",
		BreadthBase:     "points",
		DefaultInterval: 60,
		Defaults: models.PublishFlags{
			MultiDepth: boolPtr(true),
			AllDepth:   boolPtr(false),
		},
	})

	_, err := tree.AddSegment("campus", &models.EquipmentConfig{
		PublishFlags: models.PublishFlags{SingleDepth: boolPtr(true)},
	})
	require.NoError(t, err)

	deviceCfg := &models.EquipmentConfig{
		DriverType:   "fake",
		PublishFlags: models.PublishFlags{MultiDepth: boolPtr(false)},
	}

	_, err = tree.AddDevice("campus/ahu1", deviceCfg, "remote-1", testRows("temp"))
	require.NoError(t, err)

	point := tree.Lookup("campus/ahu1/temp")
	require.NotNil(t, point)

	// Nearest ancestor wins: the device disables multi depth.
	assert.False(t, tree.IsPublishedMultiDepth(point))
	// Single depth comes from the campus segment.
	assert.True(t, tree.IsPublishedSingleDepth(point))
	// All depth falls through to the global default.
	assert.False(t, tree.IsPublishedAllDepth(point))
	// Never specified anywhere defaults to off.
	assert.False(t, tree.IsPublishedAllBreadth(point))
}

func TestFindPoints(t *testing.T) {
	tree := newTestTree(t)
	cfg := &models.EquipmentConfig{DriverType: "fake"}

	_, err := tree.AddDevice("campus/b1/ahu1", cfg, "remote-1", testRows("temp", "fan"))
	require.NoError(t, err)

	_, err = tree.AddDevice("campus/b2/ahu1", cfg, "remote-2", testRows("temp"))
	require.NoError(t, err)

	all, err := tree.FindPoints("", "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	b1, err := tree.FindPoints("campus/b1", "", nil)
	require.NoError(t, err)
	assert.Len(t, b1, 2)

	glob, err := tree.FindPoints("devices/campus/*/ahu1/temp", "", nil)
	require.NoError(t, err)
	assert.Len(t, glob, 2)

	regex, err := tree.FindPoints("", "temp$", nil)
	require.NoError(t, err)
	assert.Len(t, regex, 2)

	both, err := tree.FindPoints("campus/b1", "fan$", nil)
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "devices/campus/b1/ahu1/fan", both[0].Identifier)

	restricted, err := tree.FindPoints("", "", map[string]bool{"devices/campus/b2/ahu1/temp": true})
	require.NoError(t, err)
	require.Len(t, restricted, 1)
	assert.Equal(t, "devices/campus/b2/ahu1/temp", restricted[0].Identifier)

	_, err = tree.FindPoints("", "(", nil)
	assert.Error(t, err)
}

func TestPointIntervalPrecedence(t *testing.T) {
	tree := newTestTree(t)

	interval := 30.0
	cfg := &models.EquipmentConfig{DriverType: "fake", Interval: &interval}

	rows := testRows("temp", "fan")
	rows[0]["Polling Interval"] = 5.0

	_, err := tree.AddDevice("campus/ahu1", cfg, "remote-1", rows)
	require.NoError(t, err)

	assert.Equal(t, 5.0, tree.Lookup("campus/ahu1/temp").Interval)
	assert.Equal(t, 30.0, tree.Lookup("campus/ahu1/fan").Interval)
}
