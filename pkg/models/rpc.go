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

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Query selects points by topic pattern with optional tag-service query and
// regex post-filter. Filters combine with AND semantics.
type Query struct {
	Topic string `json:"topic"`
	Tag   string `json:"tag,omitempty"`
	Regex string `json:"regex,omitempty"`
}

// PointResults is the standard per-point result map pair returned by get,
// set and revert operations.
type PointResults struct {
	Values map[string]interface{} `json:"values"`
	Errors map[string]string      `json:"errors"`
}

// SetRequest is the canonical structured write request. Requester
// identifies the writing agent for reservation checks.
type SetRequest struct {
	Query
	Value         interface{} `json:"value"`
	Requester     string      `json:"requester,omitempty"`
	ConfirmValues bool        `json:"confirm_values,omitempty"`
	MapPoints     bool        `json:"map_points,omitempty"`
}

// LastRequest selects points for an in-memory last-value lookup. Value and
// Updated default to true when omitted.
type LastRequest struct {
	Query
	Value   *bool `json:"value,omitempty"`
	Updated *bool `json:"updated,omitempty"`
}

// LastResult is the per-point payload of a last lookup.
type LastResult struct {
	Value   interface{} `json:"value,omitempty"`
	Updated *time.Time  `json:"updated,omitempty"`
}

// AddNodeRequest adds a device or topic segment to the equipment tree.
type AddNodeRequest struct {
	NodeTopic      string          `json:"node_topic"`
	Config         EquipmentConfig `json:"config"`
	UpdateSchedule *bool           `json:"update_schedule,omitempty"` // default true
}

// RemoveNodeRequest removes a node and, unless LeaveDisconnected, its remote.
type RemoveNodeRequest struct {
	Topic             string `json:"topic"`
	LeaveDisconnected bool   `json:"leave_disconnected,omitempty"`
}

// ListTopicsRequest lists topics matching a query, optionally filtered to
// active or enabled points.
type ListTopicsRequest struct {
	Query
	Active  bool `json:"active,omitempty"`
	Enabled bool `json:"enabled,omitempty"`
}

// ReservationRequest carries new_task / cancel_task parameters. Requests is a
// sequence of [device_topic, start, end] triples with RFC 3339 instants.
// Sender, TaskID and Priority are pointers because validation distinguishes
// omitted fields from empty strings.
type ReservationRequest struct {
	Sender   *string    `json:"sender"`
	TaskID   *string    `json:"task_id"`
	Priority *string    `json:"priority,omitempty"`
	Requests [][]string `json:"requests,omitempty"`
}

// ReservationResult mirrors the legacy actuator result shape.
type ReservationResult struct {
	Success    bool                   `json:"success"`
	Data       map[string]interface{} `json:"data,omitempty"`
	InfoString string                 `json:"info_string,omitempty"`
}

// Headers accompany every bus publication.
type Headers struct {
	Time        string `json:"time"`
	RequesterID string `json:"requesterID"`
	MessageID   string `json:"messageID"`
	TaskID      string `json:"taskID,omitempty"`
	Type        string `json:"type,omitempty"`
}

// NewHeaders stamps publication headers with an ISO-8601 UTC time and a
// unique message id.
func NewHeaders(now time.Time, requesterID string) Headers {
	return Headers{
		Time:        now.UTC().Format(time.RFC3339Nano),
		RequesterID: requesterID,
		MessageID:   uuid.New().String(),
	}
}

// RPCError is the wire shape of an error returned by an RPC handler.
type RPCError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RPCEnvelope frames every RPC response: exactly one of Result or Error is
// set.
type RPCEnvelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}
