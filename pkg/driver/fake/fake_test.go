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

package fake

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/driverd/pkg/driver"
	"github.com/fieldops/driverd/pkg/models"
)

func newConfigured(t *testing.T) driver.Interface {
	t.Helper()

	iface, err := NewFactory().New(context.Background(), nil)
	require.NoError(t, err)

	rows := []models.RegistryRow{
		{
			models.RegPointName:     "SampleWritableFloat1",
			models.RegWritable:      true,
			models.RegStartingValue: 10.0,
			models.RegType:          "float",
		},
		{
			models.RegPointName:     "SampleOutput",
			models.RegWritable:      false,
			models.RegStartingValue: 50.0,
			models.RegType:          "float",
		},
	}

	require.NoError(t, iface.Configure(context.Background(), "devices/fake1", nil, rows))

	return iface
}

func TestGetSetRoundTrip(t *testing.T) {
	iface := newConfigured(t)
	ctx := context.Background()

	values, errs, err := iface.GetMultiplePoints(ctx, []string{"devices/fake1/SampleWritableFloat1"})
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, 10.0, values["devices/fake1/SampleWritableFloat1"])

	setErrs, err := iface.SetMultiplePoints(ctx, map[string]interface{}{
		"devices/fake1/SampleWritableFloat1": 15.0,
	})
	require.NoError(t, err)
	assert.Empty(t, setErrs)

	values, _, err = iface.GetMultiplePoints(ctx, []string{"devices/fake1/SampleWritableFloat1"})
	require.NoError(t, err)
	assert.Equal(t, 15.0, values["devices/fake1/SampleWritableFloat1"])
}

func TestSetNonWritablePointFailsPerPoint(t *testing.T) {
	iface := newConfigured(t)
	ctx := context.Background()

	errs, err := iface.SetMultiplePoints(ctx, map[string]interface{}{
		"devices/fake1/SampleWritableFloat1": 15.0,
		"devices/fake1/SampleOutput":         99.0,
	})
	require.NoError(t, err)

	// The read-only point fails, the writable point's write lands.
	assert.Contains(t, errs, "devices/fake1/SampleOutput")
	assert.NotContains(t, errs, "devices/fake1/SampleWritableFloat1")

	values, _, err := iface.GetMultiplePoints(ctx, []string{
		"devices/fake1/SampleWritableFloat1",
		"devices/fake1/SampleOutput",
	})
	require.NoError(t, err)
	assert.Equal(t, 15.0, values["devices/fake1/SampleWritableFloat1"])
	assert.Equal(t, 50.0, values["devices/fake1/SampleOutput"])
}

func TestGetUnknownPoint(t *testing.T) {
	iface := newConfigured(t)

	values, errs, err := iface.GetMultiplePoints(context.Background(), []string{"devices/fake1/nope"})
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.Contains(t, errs, "devices/fake1/nope")
}

func TestRevert(t *testing.T) {
	iface := newConfigured(t)
	ctx := context.Background()

	_, err := iface.SetMultiplePoints(ctx, map[string]interface{}{
		"devices/fake1/SampleWritableFloat1": 42.0,
	})
	require.NoError(t, err)

	require.NoError(t, iface.RevertPoint(ctx, "devices/fake1/SampleWritableFloat1"))

	values, _, err := iface.GetMultiplePoints(ctx, []string{"devices/fake1/SampleWritableFloat1"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, values["devices/fake1/SampleWritableFloat1"])

	assert.Error(t, iface.RevertPoint(ctx, "devices/fake1/nope"))
}

func TestRevertAllAndScrapeAll(t *testing.T) {
	iface := newConfigured(t)
	ctx := context.Background()

	_, err := iface.SetMultiplePoints(ctx, map[string]interface{}{
		"devices/fake1/SampleWritableFloat1": 42.0,
	})
	require.NoError(t, err)

	require.NoError(t, iface.RevertAll(ctx))

	all, err := iface.ScrapeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10.0, all["devices/fake1/SampleWritableFloat1"])
	assert.Equal(t, 50.0, all["devices/fake1/SampleOutput"])
}

func TestUniqueRemoteID(t *testing.T) {
	f := NewFactory()

	id, err := f.UniqueRemoteID("devices/fake1", nil)
	require.NoError(t, err)
	assert.Equal(t, "devices/fake1", id)

	id, err = f.UniqueRemoteID("devices/fake1", json.RawMessage(`{"remote_id":"shared"}`))
	require.NoError(t, err)
	assert.Equal(t, "shared", id)
}
