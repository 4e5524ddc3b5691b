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

package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/driverd/pkg/kv"
)

func strPtr(s string) *string { return &s }

func slot(device string, start time.Time, seconds float64) SlotRequest {
	return SlotRequest{
		Device: device,
		Slice: TimeSlice{
			Start: start,
			End:   start.Add(time.Duration(seconds * float64(time.Second))),
		},
	}
}

func newTestManager(grace time.Duration) *Manager {
	return NewManager(ManagerOptions{GracePeriod: grace})
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewTaskAccepted(t *testing.T) {
	m := newTestManager(time.Minute)

	result := m.NewTask(strPtr("agent-a"), strPtr("task-1"), strPtr("HIGH"),
		[]SlotRequest{slot("devices/ahu1", epoch.Add(time.Hour), 60)}, epoch)

	assert.True(t, result.Success)
	assert.Empty(t, result.InfoString)
	assert.Equal(t, 1, m.TaskCount())
}

func TestNewTaskValidationOrdering(t *testing.T) {
	requests := []SlotRequest{slot("devices/ahu1", epoch.Add(time.Hour), 60)}

	tests := []struct {
		name     string
		sender   *string
		taskID   *string
		priority *string
		requests []SlotRequest
		info     string
	}{
		{"empty sender", strPtr(""), strPtr("t"), strPtr("HIGH"), requests, InfoMalformedRequest},
		{"nil sender", nil, strPtr("t"), strPtr("HIGH"), requests, InfoMissingAgentID},
		{"nil task id", strPtr("a"), nil, strPtr("HIGH"), requests, InfoMissingTaskID},
		{"empty task id", strPtr("a"), strPtr(""), strPtr("HIGH"), requests, InfoMalformedRequest},
		{"no requests", strPtr("a"), strPtr("t"), strPtr("HIGH"), nil, InfoMalformedEmpty},
		{"nil priority", strPtr("a"), strPtr("t"), nil, requests, InfoMissingPriority},
		{"unknown priority", strPtr("a"), strPtr("t"), strPtr("MEDIUM"), requests, InfoInvalidPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(time.Minute)

			result := m.NewTask(tt.sender, tt.taskID, tt.priority, tt.requests, epoch)

			assert.False(t, result.Success)
			assert.Equal(t, tt.info, result.InfoString)
			assert.Zero(t, m.TaskCount())
		})
	}
}

func TestNewTaskDuplicateID(t *testing.T) {
	m := newTestManager(time.Minute)

	first := m.NewTask(strPtr("a"), strPtr("task-1"), strPtr("LOW"),
		[]SlotRequest{slot("devices/ahu1", epoch.Add(time.Hour), 60)}, epoch)
	require.True(t, first.Success)

	second := m.NewTask(strPtr("a"), strPtr("task-1"), strPtr("LOW"),
		[]SlotRequest{slot("devices/ahu2", epoch.Add(2*time.Hour), 60)}, epoch)

	assert.False(t, second.Success)
	assert.Equal(t, InfoTaskIDAlreadyExists, second.InfoString)
}

func TestNewTaskSelfConflict(t *testing.T) {
	m := newTestManager(time.Minute)

	start := epoch.Add(time.Hour)

	result := m.NewTask(strPtr("a"), strPtr("task-1"), strPtr("LOW"), []SlotRequest{
		slot("devices/ahu1", start, 120),
		slot("devices/ahu1", start.Add(time.Minute), 120),
	}, epoch)

	assert.False(t, result.Success)
	assert.Equal(t, InfoSelfConflict, result.InfoString)
}

func TestNewTaskTouchingSlicesDoNotConflict(t *testing.T) {
	m := newTestManager(time.Minute)

	start := epoch.Add(time.Hour)

	result := m.NewTask(strPtr("a"), strPtr("task-1"), strPtr("LOW"), []SlotRequest{
		slot("devices/ahu1", start, 60),
		slot("devices/ahu1", start.Add(time.Minute), 60),
	}, epoch)

	assert.True(t, result.Success)
}

func TestConflictWithExisting(t *testing.T) {
	m := newTestManager(time.Minute)

	start := epoch.Add(time.Hour)

	first := m.NewTask(strPtr("a"), strPtr("task-1"), strPtr("HIGH"),
		[]SlotRequest{slot("devices/ahu1", start, 120)}, epoch)
	require.True(t, first.Success)

	// HIGH cannot preempt HIGH.
	second := m.NewTask(strPtr("b"), strPtr("task-2"), strPtr("HIGH"),
		[]SlotRequest{slot("devices/ahu1", start.Add(time.Minute), 120)}, epoch)

	assert.False(t, second.Success)
	assert.Equal(t, InfoConflictsWithExist, second.InfoString)

	// Nor can LOW displace anything.
	third := m.NewTask(strPtr("c"), strPtr("task-3"), strPtr("LOW"),
		[]SlotRequest{slot("devices/ahu1", start.Add(time.Minute), 120)}, epoch)

	assert.False(t, third.Success)
	assert.Equal(t, InfoConflictsWithExist, third.InfoString)
}

func TestHighPreemptsPendingLow(t *testing.T) {
	grace := 30 * time.Second
	m := newTestManager(grace)

	start := epoch.Add(time.Hour)

	low := m.NewTask(strPtr("a"), strPtr("low-task"), strPtr("LOW"),
		[]SlotRequest{slot("devices/ahu1", start, 600)}, epoch)
	require.True(t, low.Success)

	now := start.Add(-time.Minute) // low task still PRE_RUN

	high := m.NewTask(strPtr("b"), strPtr("high-task"), strPtr("HIGH"),
		[]SlotRequest{slot("devices/ahu1", start, 600)}, now)

	assert.True(t, high.Success)
	assert.Equal(t, InfoTasksWerePreempted, high.InfoString)

	victim := m.Task("low-task")
	require.NotNil(t, victim)
	assert.Equal(t, StatePreempted, victim.State)

	// The preempted task is truncated to the grace window ending at
	// now + grace.
	assert.Equal(t, now.Add(grace), victim.Slice.End)
}

func TestRunningLowIsSafeFromPreemption(t *testing.T) {
	m := newTestManager(time.Minute)

	start := epoch

	low := m.NewTask(strPtr("a"), strPtr("low-task"), strPtr("LOW"),
		[]SlotRequest{slot("devices/ahu1", start, 600)}, epoch)
	require.True(t, low.Success)

	now := start.Add(time.Minute) // low task RUNNING

	high := m.NewTask(strPtr("b"), strPtr("high-task"), strPtr("HIGH"),
		[]SlotRequest{slot("devices/ahu1", now, 600)}, now)

	assert.False(t, high.Success)
	assert.Equal(t, InfoConflictsWithExist, high.InfoString)
}

func TestRunningLowPreemptYields(t *testing.T) {
	grace := 30 * time.Second
	m := newTestManager(grace)

	start := epoch

	low := m.NewTask(strPtr("a"), strPtr("low-task"), strPtr("LOW_PREEMPT"),
		[]SlotRequest{slot("devices/ahu1", start, 600)}, epoch)
	require.True(t, low.Success)

	now := start.Add(time.Minute)

	high := m.NewTask(strPtr("b"), strPtr("high-task"), strPtr("HIGH"),
		[]SlotRequest{slot("devices/ahu1", now, 600)}, now)

	assert.True(t, high.Success)
	assert.Equal(t, InfoTasksWerePreempted, high.InfoString)

	victim := m.Task("low-task")
	require.NotNil(t, victim)
	assert.Equal(t, StatePreempted, victim.State)
	assert.False(t, victim.Slice.End.After(now.Add(grace)))
}

func TestCancelTask(t *testing.T) {
	m := newTestManager(time.Minute)

	created := m.NewTask(strPtr("a"), strPtr("task-1"), strPtr("LOW"),
		[]SlotRequest{slot("devices/ahu1", epoch.Add(time.Hour), 60)}, epoch)
	require.True(t, created.Success)

	missing := m.CancelTask("a", "no-such-task")
	assert.False(t, missing.Success)
	assert.Equal(t, InfoTaskIDDoesNotExist, missing.InfoString)

	wrongAgent := m.CancelTask("b", "task-1")
	assert.False(t, wrongAgent.Success)
	assert.Equal(t, InfoAgentIDTaskMismatch, wrongAgent.InfoString)

	ok := m.CancelTask("a", "task-1")
	assert.True(t, ok.Success)
	assert.Zero(t, m.TaskCount())
}

func TestHolderAndReservationState(t *testing.T) {
	m := newTestManager(time.Minute)

	start := epoch

	result := m.NewTask(strPtr("agent-a"), strPtr("task-1"), strPtr("LOW"),
		[]SlotRequest{slot("devices/ahu1", start, 600)}, epoch)
	require.True(t, result.Success)

	now := start.Add(100 * time.Second)

	holder, held := m.Holder("devices/ahu1", now)
	require.True(t, held)
	assert.Equal(t, "agent-a", holder)

	_, held = m.Holder("devices/ahu2", now)
	assert.False(t, held)

	state := m.ReservationState(now)
	require.Contains(t, state, "devices/ahu1")
	assert.Equal(t, "agent-a", state["devices/ahu1"].AgentID)
	assert.Equal(t, "task-1", state["devices/ahu1"].TaskID)
	assert.InDelta(t, 500.0, state["devices/ahu1"].TimeRemaining, 0.001)

	// Before the slice starts nobody holds the device.
	_, held = m.Holder("devices/ahu1", start.Add(-time.Second))
	assert.False(t, held)
}

func TestUpdateCollectsFinishedTasks(t *testing.T) {
	m := newTestManager(time.Minute)

	start := epoch

	result := m.NewTask(strPtr("a"), strPtr("task-1"), strPtr("LOW"),
		[]SlotRequest{slot("devices/ahu1", start, 60)}, epoch)
	require.True(t, result.Success)

	next := m.Update(start.Add(30 * time.Second))
	assert.Equal(t, start.Add(time.Minute), next)
	assert.Equal(t, 1, m.TaskCount())

	next = m.Update(start.Add(2 * time.Minute))
	assert.True(t, next.IsZero())
	assert.Zero(t, m.TaskCount())
}

func TestPersistenceRoundTrip(t *testing.T) {
	store := kv.NewMemoryStore()

	m := NewManager(ManagerOptions{GracePeriod: time.Minute, Store: store})

	result := m.NewTask(strPtr("agent-a"), strPtr("task-1"), strPtr("HIGH"),
		[]SlotRequest{slot("devices/ahu1", epoch.Add(time.Hour), 600)}, epoch)
	require.True(t, result.Success)

	restored := NewManager(ManagerOptions{GracePeriod: time.Minute, Store: store})
	require.NoError(t, restored.Load(context.Background()))

	task := restored.Task("task-1")
	require.NotNil(t, task)
	assert.Equal(t, "agent-a", task.AgentID)
	assert.Equal(t, PriorityHigh, task.Priority)
	require.Contains(t, task.Devices, "devices/ahu1")
}

func TestParsePriority(t *testing.T) {
	for input, want := range map[string]Priority{
		"HIGH":        PriorityHigh,
		"high":        PriorityHigh,
		" Low ":       PriorityLow,
		"low_preempt": PriorityLowPreempt,
	} {
		got, ok := ParsePriority(input)
		require.True(t, ok, input)
		assert.Equal(t, want, got)
	}

	_, ok := ParsePriority("MEDIUM")
	assert.False(t, ok)
}
