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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/driverd/pkg/bus"
	"github.com/fieldops/driverd/pkg/clock"
	"github.com/fieldops/driverd/pkg/driver"
	"github.com/fieldops/driverd/pkg/driver/fake"
	"github.com/fieldops/driverd/pkg/equipment"
	"github.com/fieldops/driverd/pkg/kv"
	"github.com/fieldops/driverd/pkg/models"
	"github.com/fieldops/driverd/pkg/reservation"
)

var facadeEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	bus   *bus.LocalBus
	store *kv.MemoryStore
	clk   *clock.FakeClock
}

func newFixture(t *testing.T, mutate func(*models.AgentConfig)) *fixture {
	t.Helper()

	cfg := &models.AgentConfig{AgentID: "test.driver"}
	cfg.ApplyDefaults()

	if mutate != nil {
		mutate(cfg)
	}

	lb := bus.NewLocalBus()
	store := kv.NewMemoryStore()
	clk := clock.NewFake(facadeEpoch)

	svc, err := New(Options{
		Config:    cfg,
		Bus:       lb,
		Store:     store,
		Clock:     clk,
		Factories: []driver.Factory{fake.NewFactory()},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = svc.Run(ctx) }()

	return &fixture{svc: svc, bus: lb, store: store, clk: clk}
}

func sampleRegistry() json.RawMessage {
	rows := []models.RegistryRow{
		{
			models.RegPointName:     "SampleWritableFloat1",
			models.RegWritable:      true,
			models.RegStartingValue: 10.0,
			models.RegType:          "float",
			models.RegUnits:         "degreesFahrenheit",
		},
		{
			models.RegPointName:     "SampleOutput",
			models.RegWritable:      false,
			models.RegStartingValue: 50.0,
			models.RegType:          "float",
		},
	}

	blob, _ := json.Marshal(rows)

	return blob
}

func (f *fixture) addFakeDevice(t *testing.T, topic string) {
	t.Helper()

	ok, err := f.svc.AddNode(context.Background(), models.AddNodeRequest{
		NodeTopic: topic,
		Config: models.EquipmentConfig{
			DriverType:     "fake",
			RegistryConfig: sampleRegistry(),
		},
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetSetRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	ctx := context.Background()
	topic := "devices/campus/b1/fake1/SampleWritableFloat1"

	results, err := f.svc.Get(ctx, models.Query{Topic: topic})
	require.NoError(t, err)
	assert.Empty(t, results.Errors)
	assert.Equal(t, 10.0, results.Values[topic])

	set, err := f.svc.Set(ctx, models.SetRequest{
		Query:     models.Query{Topic: topic},
		Value:     15.0,
		Requester: "test-agent",
	})
	require.NoError(t, err)
	assert.Empty(t, set.Errors)
	assert.Equal(t, 15.0, set.Values[topic])

	results, err = f.svc.Get(ctx, models.Query{Topic: topic})
	require.NoError(t, err)
	assert.Equal(t, 15.0, results.Values[topic])
}

func TestBatchSetReportsPerPointErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	ctx := context.Background()

	set, err := f.svc.Set(ctx, models.SetRequest{
		Query:     models.Query{Topic: "campus/b1/fake1"},
		Value:     15.0,
		Requester: "test-agent",
	})
	require.NoError(t, err)

	writable := "devices/campus/b1/fake1/SampleWritableFloat1"
	readOnly := "devices/campus/b1/fake1/SampleOutput"

	assert.Equal(t, 15.0, set.Values[writable])
	assert.Contains(t, set.Errors, readOnly)

	// The read-only point kept its value; the writable write landed.
	results, err := f.svc.Get(ctx, models.Query{Topic: "campus/b1/fake1"})
	require.NoError(t, err)
	assert.Equal(t, 15.0, results.Values[writable])
	assert.Equal(t, 50.0, results.Values[readOnly])
}

func TestSetConfirmValuesReadsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	topic := "devices/campus/b1/fake1/SampleWritableFloat1"

	set, err := f.svc.Set(context.Background(), models.SetRequest{
		Query:         models.Query{Topic: topic},
		Value:         21.5,
		Requester:     "test-agent",
		ConfirmValues: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 21.5, set.Values[topic])
}

func TestSetMapPoints(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	topic := "devices/campus/b1/fake1/SampleWritableFloat1"

	set, err := f.svc.Set(context.Background(), models.SetRequest{
		Query: models.Query{Topic: "campus/b1/fake1"},
		Value: map[string]interface{}{
			"campus/b1/fake1/SampleWritableFloat1": 33.0,
		},
		Requester: "test-agent",
		MapPoints: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 33.0, set.Values[topic])

	// Points absent from the mapping are untouched, not errored.
	assert.NotContains(t, set.Errors, "devices/campus/b1/fake1/SampleOutput")
}

func TestAddNodeIdempotent(t *testing.T) {
	f := newFixture(t, nil)

	f.addFakeDevice(t, "campus/b1/fake1")
	f.addFakeDevice(t, "campus/b1/fake1")

	topics, err := f.svc.ListTopics(context.Background(), models.ListTopicsRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"devices/campus/b1/fake1/SampleOutput",
		"devices/campus/b1/fake1/SampleWritableFloat1",
	}, topics)
}

func TestAddNodeUnknownDriverType(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.AddNode(context.Background(), models.AddNodeRequest{
		NodeTopic: "campus/b1/unknown",
		Config:    models.EquipmentConfig{DriverType: "bacnet"},
	})
	assert.ErrorIs(t, err, driver.ErrUnknownDriverType)
}

func TestRemoveNode(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	ctx := context.Background()

	ok, err := f.svc.RemoveNode(ctx, models.RemoveNodeRequest{Topic: "campus/b1/fake1"})
	require.NoError(t, err)
	assert.True(t, ok)

	topics, err := f.svc.ListTopics(ctx, models.ListTopicsRequest{})
	require.NoError(t, err)
	assert.Empty(t, topics)

	// Removing a missing node reports false, not an error.
	ok, err = f.svc.RemoveNode(ctx, models.RemoveNodeRequest{Topic: "campus/b1/fake1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastAfterGet(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	ctx := context.Background()
	topic := "devices/campus/b1/fake1/SampleWritableFloat1"

	// Before any device contact last values are empty.
	last, err := f.svc.Last(ctx, models.LastRequest{Query: models.Query{Topic: topic}})
	require.NoError(t, err)
	require.Contains(t, last, topic)
	assert.Nil(t, last[topic].Value)
	assert.Nil(t, last[topic].Updated)

	_, err = f.svc.Get(ctx, models.Query{Topic: topic})
	require.NoError(t, err)

	last, err = f.svc.Last(ctx, models.LastRequest{Query: models.Query{Topic: topic}})
	require.NoError(t, err)
	assert.Equal(t, 10.0, last[topic].Value)
	require.NotNil(t, last[topic].Updated)
	assert.Equal(t, facadeEpoch, last[topic].Updated.UTC())
}

func TestRevertPublishesNotification(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	ctx := context.Background()
	topic := "devices/campus/b1/fake1/SampleWritableFloat1"

	_, err := f.svc.Set(ctx, models.SetRequest{
		Query: models.Query{Topic: topic}, Value: 99.0, Requester: "test-agent",
	})
	require.NoError(t, err)

	reverted, err := f.svc.Revert(ctx, models.Query{Topic: topic})
	require.NoError(t, err)
	assert.Equal(t, true, reverted.Values[topic])

	results, err := f.svc.Get(ctx, models.Query{Topic: topic})
	require.NoError(t, err)
	assert.Equal(t, 10.0, results.Values[topic])

	assert.NotEmpty(t, f.bus.PublishedTo("devices/actuators/reverted/point/"+topic))
}

func TestReservationLockBlocksOtherWriters(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	ctx := context.Background()
	device := "devices/campus/b1/fake1"
	topic := device + "/SampleWritableFloat1"

	start := facadeEpoch.Format(time.RFC3339)
	end := facadeEpoch.Add(10 * time.Minute).Format(time.RFC3339)

	holder := "agent-a"
	taskID := "task-1"
	priority := "HIGH"

	result, err := f.svc.Reserve(ctx, models.ReservationRequest{
		Sender:   &holder,
		TaskID:   &taskID,
		Priority: &priority,
		Requests: [][]string{{device, start, end}},
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	blocked, err := f.svc.Set(ctx, models.SetRequest{
		Query: models.Query{Topic: topic}, Value: 1.0, Requester: "agent-b",
	})
	require.NoError(t, err)
	assert.Equal(t, equipment.ErrReservationLock.Error(), blocked.Errors[topic])

	allowed, err := f.svc.Set(ctx, models.SetRequest{
		Query: models.Query{Topic: topic}, Value: 2.0, Requester: "agent-a",
	})
	require.NoError(t, err)
	assert.Empty(t, allowed.Errors)
	assert.Equal(t, 2.0, allowed.Values[topic])
}

func TestRequireReservationForWrite(t *testing.T) {
	f := newFixture(t, func(cfg *models.AgentConfig) {
		cfg.ReservationRequiredForWrite = true
	})
	f.addFakeDevice(t, "campus/b1/fake1")

	topic := "devices/campus/b1/fake1/SampleWritableFloat1"

	blocked, err := f.svc.Set(context.Background(), models.SetRequest{
		Query: models.Query{Topic: topic}, Value: 1.0, Requester: "agent-b",
	})
	require.NoError(t, err)
	assert.Equal(t, equipment.ErrReservationLock.Error(), blocked.Errors[topic])
}

func TestOverrideBlocksAllWriters(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	ctx := context.Background()
	topic := "devices/campus/b1/fake1/SampleWritableFloat1"

	_, err := f.svc.do(ctx, func() (interface{}, error) {
		f.svc.SetOverride("campus/b1/fake1")
		return nil, nil
	})
	require.NoError(t, err)

	blocked, err := f.svc.Set(ctx, models.SetRequest{
		Query: models.Query{Topic: topic}, Value: 1.0, Requester: "agent-a",
	})
	require.NoError(t, err)
	assert.Equal(t, equipment.ErrOverride.Error(), blocked.Errors[topic])

	_, err = f.svc.do(ctx, func() (interface{}, error) {
		f.svc.ClearOverride("campus/b1/fake1")
		return nil, nil
	})
	require.NoError(t, err)

	allowed, err := f.svc.Set(ctx, models.SetRequest{
		Query: models.Query{Topic: topic}, Value: 1.0, Requester: "agent-a",
	})
	require.NoError(t, err)
	assert.Empty(t, allowed.Errors)
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t, nil)

	ctx := context.Background()
	device := "devices/campus/b1/fake1"

	start := facadeEpoch.Add(time.Hour).Format(time.RFC3339)
	end := facadeEpoch.Add(2 * time.Hour).Format(time.RFC3339)

	sender := "agent-a"
	taskID := "task-1"

	medium := "MEDIUM"

	result, err := f.svc.Reserve(ctx, models.ReservationRequest{
		Sender:   &sender,
		TaskID:   &taskID,
		Priority: &medium,
		Requests: [][]string{{device, start, end}},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, reservation.InfoInvalidPriority, result.InfoString)

	// A malformed triple fails before task validation.
	high := "HIGH"

	result, err = f.svc.Reserve(ctx, models.ReservationRequest{
		Sender:   &sender,
		TaskID:   &taskID,
		Priority: &high,
		Requests: [][]string{{device, start}},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, reservation.InfoMalformedRequest, result.InfoString)

	// Overlapping slices within one request conflict with themselves.
	result, err = f.svc.Reserve(ctx, models.ReservationRequest{
		Sender:   &sender,
		TaskID:   &taskID,
		Priority: &high,
		Requests: [][]string{
			{device, start, end},
			{device, facadeEpoch.Add(90 * time.Minute).Format(time.RFC3339), end},
		},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, reservation.InfoSelfConflict, result.InfoString)
}

func TestReservePreemptsAndAnnounces(t *testing.T) {
	f := newFixture(t, nil)

	ctx := context.Background()
	device := "devices/campus/b1/fake1"

	start := facadeEpoch.Format(time.RFC3339)
	end := facadeEpoch.Add(10 * time.Minute).Format(time.RFC3339)

	lowSender, lowID, lowPrio := "agent-a", "low-task", "LOW_PREEMPT"

	result, err := f.svc.Reserve(ctx, models.ReservationRequest{
		Sender:   &lowSender,
		TaskID:   &lowID,
		Priority: &lowPrio,
		Requests: [][]string{{device, start, end}},
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	highSender, highID, highPrio := "agent-b", "high-task", "HIGH"

	result, err = f.svc.Reserve(ctx, models.ReservationRequest{
		Sender:   &highSender,
		TaskID:   &highID,
		Priority: &highPrio,
		Requests: [][]string{{device, start, end}},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, reservation.InfoTasksWerePreempted, result.InfoString)

	// The periodic announce publishes the current holder.
	f.clk.Advance(time.Duration(60 * float64(time.Second)))

	require.Eventually(t, func() bool {
		return len(f.bus.PublishedTo("devices/actuators/schedule/announce/"+device)) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestCancelReservation(t *testing.T) {
	f := newFixture(t, nil)

	ctx := context.Background()
	device := "devices/campus/b1/fake1"

	sender, taskID, priority := "agent-a", "task-1", "LOW"

	result, err := f.svc.Reserve(ctx, models.ReservationRequest{
		Sender:   &sender,
		TaskID:   &taskID,
		Priority: &priority,
		Requests: [][]string{{
			device,
			facadeEpoch.Add(time.Hour).Format(time.RFC3339),
			facadeEpoch.Add(2 * time.Hour).Format(time.RFC3339),
		}},
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	other := "agent-b"

	result, err = f.svc.CancelReservation(ctx, models.ReservationRequest{Sender: &other, TaskID: &taskID})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, reservation.InfoAgentIDTaskMismatch, result.InfoString)

	result, err = f.svc.CancelReservation(ctx, models.ReservationRequest{Sender: &sender, TaskID: &taskID})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestStartStopControlsPolling(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	ctx := context.Background()
	topic := "devices/campus/b1/fake1/SampleWritableFloat1"

	stopped, err := f.svc.Stop(ctx, models.Query{Topic: topic})
	require.NoError(t, err)
	assert.True(t, stopped[topic])

	topics, err := f.svc.ListTopics(ctx, models.ListTopicsRequest{Active: true})
	require.NoError(t, err)
	assert.NotContains(t, topics, topic)

	started, err := f.svc.Start(ctx, models.Query{Topic: topic})
	require.NoError(t, err)
	assert.True(t, started[topic])

	topics, err = f.svc.ListTopics(ctx, models.ListTopicsRequest{Active: true})
	require.NoError(t, err)
	assert.Contains(t, topics, topic)
}

func TestEnableDisablePersist(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	ctx := context.Background()
	topic := "devices/campus/b1/fake1/SampleWritableFloat1"

	disabled, err := f.svc.Disable(ctx, models.Query{Topic: topic})
	require.NoError(t, err)
	assert.True(t, disabled[topic])

	// The persisted config now carries the cleared flag.
	blob, found, err := f.store.Get(ctx, "equipment/devices/campus/b1/fake1")
	require.NoError(t, err)
	require.True(t, found)

	var cfg models.EquipmentConfig
	require.NoError(t, json.Unmarshal(blob, &cfg))
	require.NotNil(t, cfg.Active)
	assert.False(t, *cfg.Active)

	topics, err := f.svc.ListTopics(ctx, models.ListTopicsRequest{Enabled: true})
	require.NoError(t, err)
	assert.NotContains(t, topics, topic)
}

func TestStatusNotImplemented(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Status(context.Background(), models.Query{})
	assert.ErrorIs(t, err, models.ErrNotImplemented)
}

func TestListInterfaces(t *testing.T) {
	f := newFixture(t, nil)

	types, err := f.svc.ListInterfaces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fake"}, types)

	assert.ErrorIs(t, f.svc.AddInterface(context.Background(), "bacnet"), models.ErrNotImplemented)
}

func TestRPCSurface(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	ctx := context.Background()
	topic := "devices/campus/b1/fake1/SampleWritableFloat1"

	// The RPC surface is registered asynchronously by Run.
	require.Eventually(t, func() bool {
		var topics []string
		return f.bus.Call(ctx, "test.driver", "list_topics", models.ListTopicsRequest{}, &topics) == nil
	}, time.Second, 10*time.Millisecond)

	var results models.PointResults

	require.NoError(t, f.bus.Call(ctx, "test.driver", "get", models.Query{Topic: topic}, &results))
	assert.Equal(t, 10.0, results.Values[topic])

	require.NoError(t, f.bus.Call(ctx, "test.driver", "set", models.SetRequest{
		Query: models.Query{Topic: topic}, Value: 15.0, Requester: "rpc-agent",
	}, &results))
	assert.Equal(t, 15.0, results.Values[topic])

	var types []string

	require.NoError(t, f.bus.Call(ctx, "test.driver", "list_interfaces", nil, &types))
	assert.Equal(t, []string{"fake"}, types)

	err := f.bus.Call(ctx, "test.driver", "status", models.Query{}, nil)
	assert.ErrorIs(t, err, bus.ErrRemote)
}

func TestGetPublishesValueTopics(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	topic := "devices/campus/b1/fake1/SampleWritableFloat1"

	_, err := f.svc.Get(context.Background(), models.Query{Topic: topic})
	require.NoError(t, err)

	published := f.bus.PublishedTo("devices/actuators/value/" + topic)
	require.Len(t, published, 1)

	var value float64

	require.NoError(t, json.Unmarshal(published[0].Payload, &value))
	assert.Equal(t, 10.0, value)
	assert.Equal(t, "test.driver", published[0].Headers.RequesterID)
	assert.NotEmpty(t, published[0].Headers.Time)
}

func TestBlockedSetPublishesErrorTopic(t *testing.T) {
	f := newFixture(t, func(cfg *models.AgentConfig) {
		cfg.ReservationRequiredForWrite = true
	})
	f.addFakeDevice(t, "campus/b1/fake1")

	topic := "devices/campus/b1/fake1/SampleWritableFloat1"

	_, err := f.svc.Set(context.Background(), models.SetRequest{
		Query: models.Query{Topic: topic}, Value: 1.0, Requester: "agent-b",
	})
	require.NoError(t, err)

	published := f.bus.PublishedTo("devices/actuators/error/" + topic)
	require.Len(t, published, 1)

	var msg string

	require.NoError(t, json.Unmarshal(published[0].Payload, &msg))
	assert.Equal(t, equipment.ErrReservationLock.Error(), msg)
}

// gateInterface parks batch reads until released so tests can observe the
// service while a device read is in flight.
type gateInterface struct {
	entered chan struct{}
	release chan struct{}
}

func newGateInterface() *gateInterface {
	return &gateInterface{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (g *gateInterface) Configure(context.Context, string, json.RawMessage, []models.RegistryRow) error {
	return nil
}

func (g *gateInterface) GetMultiplePoints(_ context.Context, ids []string) (map[string]interface{}, map[string]string, error) {
	g.entered <- struct{}{}
	<-g.release

	values := make(map[string]interface{}, len(ids))
	for _, id := range ids {
		values[id] = 1.0
	}

	return values, nil, nil
}

func (g *gateInterface) SetMultiplePoints(context.Context, map[string]interface{}) (map[string]string, error) {
	return nil, nil
}

func (g *gateInterface) RevertPoint(context.Context, string) error { return nil }
func (g *gateInterface) RevertAll(context.Context) error           { return nil }

func (g *gateInterface) ScrapeAll(context.Context) (map[string]interface{}, error) {
	return nil, nil
}

func (g *gateInterface) Close() error { return nil }

type gateFactory struct{ iface *gateInterface }

func (gateFactory) Type() string { return "gate" }

func (gateFactory) UniqueRemoteID(equipmentName string, _ json.RawMessage) (string, error) {
	return equipmentName, nil
}

func (g gateFactory) New(context.Context, json.RawMessage) (driver.Interface, error) {
	return g.iface, nil
}

func TestSlowDriverReadDoesNotStallLoop(t *testing.T) {
	gate := newGateInterface()

	cfg := &models.AgentConfig{AgentID: "test.driver"}
	cfg.ApplyDefaults()

	svc, err := New(Options{
		Config:    cfg,
		Bus:       bus.NewLocalBus(),
		Store:     kv.NewMemoryStore(),
		Clock:     clock.NewFake(facadeEpoch),
		Factories: []driver.Factory{gateFactory{iface: gate}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = svc.Run(ctx) }()

	ok, err := svc.AddNode(ctx, models.AddNodeRequest{
		NodeTopic: "campus/b1/gate1",
		Config: models.EquipmentConfig{
			DriverType:     "gate",
			RegistryConfig: sampleRegistry(),
		},
	})
	require.NoError(t, err)
	require.True(t, ok)

	type getOut struct {
		results models.PointResults
		err     error
	}

	got := make(chan getOut, 1)

	go func() {
		results, err := svc.Get(ctx, models.Query{Topic: "campus/b1/gate1"})
		got <- getOut{results, err}
	}()

	// Wait until the read is parked inside the driver, then confirm the
	// command loop still serves other operations.
	<-gate.entered

	listed := make(chan []string, 1)

	go func() {
		topics, err := svc.ListTopics(ctx, models.ListTopicsRequest{})
		if err == nil {
			listed <- topics
		}
	}()

	select {
	case topics := <-listed:
		assert.Len(t, topics, 2)
	case <-time.After(time.Second):
		t.Fatal("command loop stalled while a device read was in flight")
	}

	close(gate.release)

	select {
	case out := <-got:
		require.NoError(t, out.err)
		assert.Len(t, out.results.Values, 2)
	case <-time.After(time.Second):
		t.Fatal("read never completed")
	}
}

func TestPostReturnsAfterShutdown(t *testing.T) {
	cfg := &models.AgentConfig{AgentID: "test.driver"}
	cfg.ApplyDefaults()

	svc, err := New(Options{
		Config:    cfg,
		Bus:       bus.NewLocalBus(),
		Store:     kv.NewMemoryStore(),
		Clock:     clock.NewFake(facadeEpoch),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() { done <- svc.Run(ctx) }()

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// More posts than the backlog holds must not hang once the loop is
	// gone.
	finished := make(chan struct{})

	go func() {
		for i := 0; i < 2*commandBacklog; i++ {
			svc.Post(func() {})
		}

		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Post blocked after shutdown")
	}
}

func TestEquipmentPersistenceSurvivesRestart(t *testing.T) {
	f := newFixture(t, nil)
	f.addFakeDevice(t, "campus/b1/fake1")

	// A fresh service over the same store restores the device.
	cfg := &models.AgentConfig{AgentID: "test.driver"}
	cfg.ApplyDefaults()

	svc, err := New(Options{
		Config:    cfg,
		Bus:       bus.NewLocalBus(),
		Store:     f.store,
		Clock:     clock.NewFake(facadeEpoch),
		Factories: []driver.Factory{fake.NewFactory()},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		topics, err := svc.ListTopics(ctx, models.ListTopicsRequest{})
		return err == nil && len(topics) == 2
	}, time.Second, 10*time.Millisecond)
}
