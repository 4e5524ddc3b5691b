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
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldops/driverd/pkg/kv"
	"github.com/fieldops/driverd/pkg/logger"
	"github.com/fieldops/driverd/pkg/models"
)

// stateKey is the config-store key holding the serialized task set.
const stateKey = "reservations/state"

// DeviceState describes the current holder of one device.
type DeviceState struct {
	AgentID       string  `json:"agent_id"`
	TaskID        string  `json:"task_id"`
	TimeRemaining float64 `json:"time_remaining"`
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	// GracePeriod bounds how long a preempted holder retains access.
	GracePeriod time.Duration
	// Store persists task state across restarts; nil disables persistence.
	Store  kv.Store
	Logger logger.Logger
}

// Manager tracks reservations keyed by task id. It is not goroutine safe;
// all access happens on the service loop.
type Manager struct {
	tasks map[string]*Task

	grace  time.Duration
	store  kv.Store
	logger logger.Logger
}

// NewManager creates an empty manager.
func NewManager(opts ManagerOptions) *Manager {
	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Manager{
		tasks:  make(map[string]*Task),
		grace:  opts.GracePeriod,
		store:  opts.Store,
		logger: log,
	}
}

// NewTask validates and installs a reservation. sender, taskID and priority
// are nil when the caller omitted them, which the validation ordering
// distinguishes from empty strings.
func (m *Manager) NewTask(sender, taskID, priority *string, requests []SlotRequest, now time.Time) models.ReservationResult {
	if sender != nil && *sender == "" {
		return failure(InfoMalformedRequest)
	}

	if sender == nil {
		return failure(InfoMissingAgentID)
	}

	if taskID == nil {
		return failure(InfoMissingTaskID)
	}

	if *taskID == "" {
		return failure(InfoMalformedRequest)
	}

	if len(requests) == 0 {
		return failure(InfoMalformedEmpty)
	}

	if priority == nil {
		return failure(InfoMissingPriority)
	}

	prio, ok := ParsePriority(*priority)
	if !ok {
		return failure(InfoInvalidPriority)
	}

	if _, exists := m.tasks[*taskID]; exists {
		return failure(InfoTaskIDAlreadyExists)
	}

	task, err := newTask(*sender, *taskID, prio, requests)
	if err != nil {
		return failure(InfoSelfConflict)
	}

	task.refreshState(now)

	var preempted []*Task

	for _, existing := range m.tasks {
		existing.refreshState(now)

		if !task.conflictsWith(existing) {
			continue
		}

		if !existing.canBePreemptedBy(task.Priority) {
			return failure(InfoConflictsWithExist)
		}

		preempted = append(preempted, existing)
	}

	for _, victim := range preempted {
		victim.preempt(now, m.grace)
		m.logger.Info().
			Str("task_id", victim.TaskID).
			Str("preempted_by", task.TaskID).
			Msg("Task preempted")
	}

	m.tasks[task.TaskID] = task
	m.persist()

	result := models.ReservationResult{Success: true}
	if len(preempted) > 0 {
		result.InfoString = InfoTasksWerePreempted
	}

	return result
}

// CancelTask removes the sender's task.
func (m *Manager) CancelTask(sender, taskID string) models.ReservationResult {
	task, ok := m.tasks[taskID]
	if !ok {
		return failure(InfoTaskIDDoesNotExist)
	}

	if task.AgentID != sender {
		return failure(InfoAgentIDTaskMismatch)
	}

	delete(m.tasks, taskID)
	m.persist()

	return models.ReservationResult{Success: true}
}

// Task returns the task with the given id, or nil.
func (m *Manager) Task(taskID string) *Task {
	return m.tasks[taskID]
}

// TaskCount returns the number of live tasks.
func (m *Manager) TaskCount() int { return len(m.tasks) }

// Update advances every task's state from now, garbage-collects finished
// tasks, and returns the next instant at which states can change (zero when
// no task remains).
func (m *Manager) Update(now time.Time) time.Time {
	var next time.Time
	changed := false

	for id, task := range m.tasks {
		task.refreshState(now)

		if task.State == StateFinished {
			delete(m.tasks, id)

			changed = true

			continue
		}

		if boundary, ok := task.nextBoundary(now); ok {
			if next.IsZero() || boundary.Before(next) {
				next = boundary
			}
		}
	}

	if changed {
		m.persist()
	}

	return next
}

// ReservationState snapshots the current holder of every reserved device.
func (m *Manager) ReservationState(now time.Time) map[string]DeviceState {
	state := make(map[string]DeviceState)

	for _, task := range m.tasks {
		task.refreshState(now)

		if task.State != StateRunning && task.State != StatePreempted {
			continue
		}

		for device := range task.Devices {
			slice, ok := task.currentSlice(device, now)
			if !ok {
				continue
			}

			state[device] = DeviceState{
				AgentID:       task.AgentID,
				TaskID:        task.TaskID,
				TimeRemaining: slice.End.Sub(now).Seconds(),
			}
		}
	}

	return state
}

// Holder returns the agent currently holding device, if any.
func (m *Manager) Holder(device string, now time.Time) (string, bool) {
	for _, task := range m.tasks {
		task.refreshState(now)

		if task.State != StateRunning && task.State != StatePreempted {
			continue
		}

		if _, ok := task.currentSlice(device, now); ok {
			return task.AgentID, true
		}
	}

	return "", false
}

// persist writes the task set to the config store as one opaque blob.
func (m *Manager) persist() {
	if m.store == nil {
		return
	}

	blob, err := json.Marshal(m.tasks)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to serialize reservation state")
		return
	}

	if err := m.store.Put(context.Background(), stateKey, blob); err != nil {
		m.logger.Error().Err(err).Msg("Failed to persist reservation state")
	}
}

// Load restores persisted task state. Missing state is not an error.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	blob, found, err := m.store.Get(ctx, stateKey)
	if err != nil {
		return fmt.Errorf("loading reservation state: %w", err)
	}

	if !found {
		return nil
	}

	tasks := make(map[string]*Task)
	if err := json.Unmarshal(blob, &tasks); err != nil {
		return fmt.Errorf("decoding reservation state: %w", err)
	}

	m.tasks = tasks

	m.logger.Info().Int("tasks", len(tasks)).Msg("Restored reservation state")

	return nil
}

func failure(info string) models.ReservationResult {
	return models.ReservationResult{Success: false, InfoString: info}
}
