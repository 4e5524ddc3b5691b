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
	"time"

	"github.com/fieldops/driverd/pkg/models"
	"github.com/fieldops/driverd/pkg/reservation"
)

const announceTopicPrefix = "devices/actuators/schedule/announce/"

// timeLayouts accepted in reservation requests. Zone-less instants are
// interpreted in the configured timezone.
var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

// Reserve installs a new reservation task.
func (s *Service) Reserve(ctx context.Context, req models.ReservationRequest) (models.ReservationResult, error) {
	out, err := s.do(ctx, func() (interface{}, error) {
		slots, ok := s.parseSlotRequests(req.Requests)
		if !ok {
			return models.ReservationResult{Success: false, InfoString: reservation.InfoMalformedRequest}, nil
		}

		result := s.reservations.NewTask(req.Sender, req.TaskID, req.Priority, slots, s.clk.Now())

		if result.Success {
			s.scheduleReservationUpdate(ctx)
		}

		return result, nil
	})
	if err != nil {
		return models.ReservationResult{}, err
	}

	return out.(models.ReservationResult), nil
}

// CancelReservation removes the sender's task.
func (s *Service) CancelReservation(ctx context.Context, req models.ReservationRequest) (models.ReservationResult, error) {
	out, err := s.do(ctx, func() (interface{}, error) {
		sender := ""
		if req.Sender != nil {
			sender = *req.Sender
		}

		taskID := ""
		if req.TaskID != nil {
			taskID = *req.TaskID
		}

		return s.reservations.CancelTask(sender, taskID), nil
	})
	if err != nil {
		return models.ReservationResult{}, err
	}

	return out.(models.ReservationResult), nil
}

// parseSlotRequests converts [device, start, end] wire triples. Device
// topics are normalized against the tree root.
func (s *Service) parseSlotRequests(requests [][]string) ([]reservation.SlotRequest, bool) {
	slots := make([]reservation.SlotRequest, 0, len(requests))

	for _, triple := range requests {
		if len(triple) != 3 {
			return nil, false
		}

		start, ok := s.parseInstant(triple[1])
		if !ok {
			return nil, false
		}

		end, ok := s.parseInstant(triple[2])
		if !ok || end.Before(start) {
			return nil, false
		}

		slots = append(slots, reservation.SlotRequest{
			Device: s.tree.EquipmentID(triple[0]),
			Slice:  reservation.TimeSlice{Start: start, End: end},
		})
	}

	return slots, true
}

func (s *Service) parseInstant(value string) (time.Time, bool) {
	loc := s.cfg.Location()

	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// armReservationTimers starts the periodic reservation-state republish and
// the event-driven state update chain.
func (s *Service) armReservationTimers(ctx context.Context) {
	interval := secondsToDuration(s.cfg.ReservationPublishInterval)

	s.republishTimer = s.clk.Every(interval, func() {
		s.Post(func() { s.publishReservationState(ctx) })
	})

	s.scheduleReservationUpdate(ctx)
}

// scheduleReservationUpdate advances the task state machine and re-arms the
// next update at the earlier of the next slice boundary and the publish
// interval.
func (s *Service) scheduleReservationUpdate(ctx context.Context) {
	now := s.clk.Now()
	next := s.reservations.Update(now)

	wakeAt := now.Add(secondsToDuration(s.cfg.ReservationPublishInterval))
	if !next.IsZero() && next.Before(wakeAt) {
		wakeAt = next
	}

	if s.reservationTimer != 0 {
		s.clk.Cancel(s.reservationTimer)
	}

	s.reservationTimer = s.clk.After(wakeAt, func() {
		s.Post(func() { s.scheduleReservationUpdate(ctx) })
	})
}

// publishReservationState announces each reserved device's current holder.
func (s *Service) publishReservationState(ctx context.Context) {
	now := s.clk.Now()

	for device, state := range s.reservations.ReservationState(now) {
		headers := models.NewHeaders(now, s.cfg.AgentID)
		headers.TaskID = state.TaskID

		message := map[string]interface{}{
			"agent_id":       state.AgentID,
			"task_id":        state.TaskID,
			"time_remaining": state.TimeRemaining,
		}

		if err := s.bus.Publish(ctx, announceTopicPrefix+device, headers, message); err != nil {
			s.logger.Warn().Err(err).Str("device", device).Msg("Reservation announce failed")
		}
	}
}
