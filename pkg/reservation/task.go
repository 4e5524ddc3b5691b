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

// Package reservation arbitrates exclusive write access to devices through
// time-bounded, priority-ordered tasks with preemption.
package reservation

import (
	"fmt"
	"strings"
	"time"
)

// Priority orders tasks for preemption.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityLowPreempt
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityLowPreempt:
		return "LOW_PREEMPT"
	default:
		return "LOW"
	}
}

// ParsePriority matches a priority name case-insensitively.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return PriorityLow, true
	case "LOW_PREEMPT":
		return PriorityLowPreempt, true
	case "HIGH":
		return PriorityHigh, true
	default:
		return 0, false
	}
}

// State is a task's position in its lifecycle.
type State int

const (
	StatePreRun State = iota
	StateRunning
	StatePreempted
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StatePreempted:
		return "PREEMPTED"
	case StateFinished:
		return "FINISHED"
	default:
		return "PRE_RUN"
	}
}

// TimeSlice is a half-open interval [Start, End).
type TimeSlice struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports interval overlap. Touching at endpoints is not overlap.
func (s TimeSlice) Overlaps(other TimeSlice) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}

// Contains reports whether now falls inside the half-open interval.
func (s TimeSlice) Contains(now time.Time) bool {
	return !now.Before(s.Start) && now.Before(s.End)
}

// IsZero reports an unset slice.
func (s TimeSlice) IsZero() bool {
	return s.Start.IsZero() && s.End.IsZero()
}

// SlotRequest is one (device, start, end) triple of a new_task call.
type SlotRequest struct {
	Device string
	Slice  TimeSlice
}

// Task is one reservation: an agent's claim on a set of devices over
// per-device time slices.
type Task struct {
	AgentID  string                 `json:"agent_id"`
	TaskID   string                 `json:"task_id"`
	Priority Priority               `json:"priority"`
	State    State                  `json:"state"`
	Devices  map[string][]TimeSlice `json:"devices"`
	// Slice is the aggregate interval covering every device slice.
	Slice TimeSlice `json:"slice"`
}

func newTask(agentID, taskID string, priority Priority, requests []SlotRequest) (*Task, error) {
	t := &Task{
		AgentID:  agentID,
		TaskID:   taskID,
		Priority: priority,
		State:    StatePreRun,
		Devices:  make(map[string][]TimeSlice),
	}

	for _, req := range requests {
		for _, existing := range t.Devices[req.Device] {
			if existing.Overlaps(req.Slice) {
				return nil, fmt.Errorf("device %s: slices overlap", req.Device)
			}
		}

		t.Devices[req.Device] = append(t.Devices[req.Device], req.Slice)

		if t.Slice.IsZero() || req.Slice.Start.Before(t.Slice.Start) {
			t.Slice.Start = req.Slice.Start
		}

		if req.Slice.End.After(t.Slice.End) {
			t.Slice.End = req.Slice.End
		}
	}

	return t, nil
}

// conflictsWith returns the devices on which t overlaps other.
func (t *Task) conflictsWith(other *Task) bool {
	for device, slices := range t.Devices {
		for _, slice := range slices {
			for _, existing := range other.Devices[device] {
				if slice.Overlaps(existing) {
					return true
				}
			}
		}
	}

	return false
}

// canBePreemptedBy implements the preemption rule: only a HIGH task may
// preempt, only over LOW or LOW_PREEMPT, and a running LOW holder is safe.
func (t *Task) canBePreemptedBy(priority Priority) bool {
	if priority != PriorityHigh || t.Priority == PriorityHigh {
		return false
	}

	switch t.State {
	case StatePreRun, StateFinished:
		return true
	case StateRunning:
		return t.Priority == PriorityLowPreempt
	default:
		return false
	}
}

// preempt truncates the task to the grace window [now, now+grace] and marks
// it PREEMPTED.
func (t *Task) preempt(now time.Time, grace time.Duration) {
	deadline := now.Add(grace)

	for device, slices := range t.Devices {
		kept := slices[:0]

		for _, slice := range slices {
			if !slice.Start.Before(deadline) {
				continue
			}

			if slice.End.After(deadline) {
				slice.End = deadline
			}

			kept = append(kept, slice)
		}

		if len(kept) == 0 {
			delete(t.Devices, device)
			continue
		}

		t.Devices[device] = kept
	}

	if t.Slice.End.After(deadline) {
		t.Slice.End = deadline
	}

	t.State = StatePreempted
}

// refreshState advances the lifecycle from the clock. A preempted task only
// moves on to FINISHED.
func (t *Task) refreshState(now time.Time) {
	if t.State == StatePreempted {
		if !now.Before(t.Slice.End) {
			t.State = StateFinished
		}

		return
	}

	switch {
	case now.Before(t.Slice.Start):
		t.State = StatePreRun
	case now.Before(t.Slice.End):
		t.State = StateRunning
	default:
		t.State = StateFinished
	}
}

// currentSlice returns the device slice containing now, if any.
func (t *Task) currentSlice(device string, now time.Time) (TimeSlice, bool) {
	for _, slice := range t.Devices[device] {
		if slice.Contains(now) {
			return slice, true
		}
	}

	return TimeSlice{}, false
}

// nextBoundary returns the earliest slice edge strictly after now.
func (t *Task) nextBoundary(now time.Time) (time.Time, bool) {
	var next time.Time

	consider := func(instant time.Time) {
		if !instant.After(now) {
			return
		}

		if next.IsZero() || instant.Before(next) {
			next = instant
		}
	}

	for _, slices := range t.Devices {
		for _, slice := range slices {
			consider(slice.Start)
			consider(slice.End)
		}
	}

	return next, !next.IsZero()
}
