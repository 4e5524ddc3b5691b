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
	"fmt"
	"strings"
	"time"

	"github.com/fieldops/driverd/pkg/logger"
)

const (
	// ConfigVersionCurrent is the schema version written by this release.
	ConfigVersionCurrent = 2

	defaultBreadthFirstBase      = "points"
	defaultDepthFirstBase        = "devices"
	defaultPollingInterval       = 60.0
	defaultHeartbeatInterval     = 60.0
	defaultMaxConcurrentPublish  = 10000
	defaultMinPollingInterval    = 0.02
	defaultSchedulerClassName    = "StaticCyclicPollScheduler"
	defaultPreemptGraceSeconds   = 60.0
	defaultReservationPublishSec = 60.0
	defaultScalabilityIterations = 3
	defaultTimezone              = "UTC"
	defaultAgentID               = "platform.driver"
	defaultBusURL                = "nats://localhost:4222"
	defaultKVBucket              = "driverd"
)

// PublishFlags are the six per-point publication toggles. A nil field means
// "not specified here": devices inherit from ancestors, and the root falls
// back to the config-version defaults.
type PublishFlags struct {
	SingleDepth   *bool `json:"publish_single_depth,omitempty"`
	SingleBreadth *bool `json:"publish_single_breadth,omitempty"`
	MultiDepth    *bool `json:"publish_multi_depth,omitempty"`
	MultiBreadth  *bool `json:"publish_multi_breadth,omitempty"`
	AllDepth      *bool `json:"publish_all_depth,omitempty"`
	AllBreadth    *bool `json:"publish_all_breadth,omitempty"`
}

// GroupConfig carries per-group scheduler overrides.
type GroupConfig struct {
	GroupOffsetInterval    *float64 `json:"group_offset_interval,omitempty"`
	MinimumPollingInterval *float64 `json:"minimum_polling_interval,omitempty"`
	ParallelSubgroups      bool     `json:"parallel_subgroups,omitempty"`
	StartOffsetSeconds     float64  `json:"start_offset,omitempty"`
}

// AgentConfig is the main service configuration (persisted as JSON on the
// config store).
type AgentConfig struct {
	ConfigVersion int `json:"config_version"`

	AgentID  string `json:"agent_id"`
	BusURL   string `json:"bus_url"`
	KVBucket string `json:"kv_bucket"`

	AllowDuplicateRemotes bool  `json:"allow_duplicate_remotes"`
	AllowNoLockWrite      *bool `json:"allow_no_lock_write,omitempty"`
	AllowReschedule       *bool `json:"allow_reschedule,omitempty"`

	BreadthFirstBase string `json:"breadth_first_base"`
	DepthFirstBase   string `json:"depth_first_base"`

	DefaultPollingInterval  float64 `json:"default_polling_interval"`
	RemoteHeartbeatInterval float64 `json:"remote_heartbeat_interval"`
	GroupOffsetInterval     float64 `json:"group_offset_interval"`
	MinimumPollingInterval  float64 `json:"minimum_polling_interval"`

	MaxConcurrentPublishes int64  `json:"max_concurrent_publishes"`
	MaxOpenSockets         *int64 `json:"max_open_sockets,omitempty"`

	PollSchedulerConfigs   map[string]GroupConfig `json:"poll_scheduler_configs,omitempty"`
	PollSchedulerClassName string                 `json:"poll_scheduler_class_name"`

	PublishFlags

	ReservationPreemptGraceTime  float64 `json:"reservation_preempt_grace_time"`
	ReservationPublishInterval   float64 `json:"reservation_publish_interval"`
	ReservationRequiredForWrite  bool    `json:"reservation_required_for_write"`
	RequireReservationToWriteAlt *bool   `json:"require_reservation_to_write,omitempty"`

	ScalabilityTest           bool `json:"scalability_test"`
	ScalabilityTestIterations int  `json:"scalability_test_iterations"`

	Timezone string `json:"timezone"`

	Logging *logger.Config `json:"logging,omitempty"`
}

// ApplyDefaults fills every unset field with its documented default.
func (c *AgentConfig) ApplyDefaults() {
	if c.ConfigVersion == 0 {
		c.ConfigVersion = ConfigVersionCurrent
	}

	if c.AgentID == "" {
		c.AgentID = defaultAgentID
	}

	if c.BusURL == "" {
		c.BusURL = defaultBusURL
	}

	if c.KVBucket == "" {
		c.KVBucket = defaultKVBucket
	}

	if c.AllowReschedule == nil {
		t := true
		c.AllowReschedule = &t
	}

	if c.BreadthFirstBase == "" {
		c.BreadthFirstBase = defaultBreadthFirstBase
	}

	if c.DepthFirstBase == "" {
		c.DepthFirstBase = defaultDepthFirstBase
	}

	if c.DefaultPollingInterval == 0 {
		c.DefaultPollingInterval = defaultPollingInterval
	}

	if c.RemoteHeartbeatInterval == 0 {
		c.RemoteHeartbeatInterval = defaultHeartbeatInterval
	}

	if c.MaxConcurrentPublishes == 0 {
		c.MaxConcurrentPublishes = defaultMaxConcurrentPublish
	}

	if c.MinimumPollingInterval == 0 {
		c.MinimumPollingInterval = defaultMinPollingInterval
	}

	if c.PollSchedulerClassName == "" {
		c.PollSchedulerClassName = defaultSchedulerClassName
	}

	if c.ReservationPreemptGraceTime == 0 {
		c.ReservationPreemptGraceTime = defaultPreemptGraceSeconds
	}

	if c.ReservationPublishInterval == 0 {
		c.ReservationPublishInterval = defaultReservationPublishSec
	}

	if c.ScalabilityTestIterations == 0 {
		c.ScalabilityTestIterations = defaultScalabilityIterations
	}

	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}

	c.applyVersionDefaults()
}

// applyVersionDefaults resolves the root publish flags left unspecified.
// Version 1 defaults all-depth publication on and multi-depth off; version 2
// inverts these. Breadth variants default off in both versions.
func (c *AgentConfig) applyVersionDefaults() {
	v1 := c.ConfigVersion == 1

	setIfNil := func(p **bool, v bool) {
		if *p == nil {
			b := v
			*p = &b
		}
	}

	setIfNil(&c.AllDepth, v1)
	setIfNil(&c.MultiDepth, !v1)
	setIfNil(&c.SingleDepth, false)
	setIfNil(&c.SingleBreadth, false)
	setIfNil(&c.MultiBreadth, false)
	setIfNil(&c.AllBreadth, false)
}

// RequireReservation resolves the reservation_required_for_write flag and its
// legacy aliases.
func (c *AgentConfig) RequireReservation() bool {
	if c.ReservationRequiredForWrite {
		return true
	}

	if c.RequireReservationToWriteAlt != nil {
		return *c.RequireReservationToWriteAlt
	}

	if c.AllowNoLockWrite != nil {
		return !*c.AllowNoLockWrite
	}

	return false
}

// Reschedule reports whether runtime point changes trigger a full reschedule.
func (c *AgentConfig) Reschedule() bool {
	return c.AllowReschedule == nil || *c.AllowReschedule
}

// Location resolves the configured timezone, falling back to UTC.
func (c *AgentConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}

	return loc
}

// Validate implements config.Validator.
func (c *AgentConfig) Validate() error {
	if c.ConfigVersion != 0 && c.ConfigVersion != 1 && c.ConfigVersion != ConfigVersionCurrent {
		return fmt.Errorf("%w: config_version %d", ErrInvalidConfig, c.ConfigVersion)
	}

	if c.MinimumPollingInterval < 0 {
		return fmt.Errorf("%w: minimum_polling_interval must be positive", ErrInvalidConfig)
	}

	if c.PollSchedulerClassName != "" && c.PollSchedulerClassName != defaultSchedulerClassName {
		return fmt.Errorf("%w: unsupported poll_scheduler_class_name %q", ErrInvalidConfig, c.PollSchedulerClassName)
	}

	return nil
}

// EquipmentConfig configures one node of the equipment tree. The presence of
// DriverType marks a device; without it the node is a pure topic segment.
type EquipmentConfig struct {
	DriverType     string          `json:"driver_type,omitempty"`
	DriverConfig   json.RawMessage `json:"driver_config,omitempty"`
	RegistryConfig json.RawMessage `json:"registry_config,omitempty"`
	RegistryName   string          `json:"registry_name,omitempty"`

	Active   *bool    `json:"active,omitempty"`
	Interval *float64 `json:"interval,omitempty"`
	Group    string   `json:"group,omitempty"`

	HeartBeatPoint          string                 `json:"heart_beat_point,omitempty"`
	EquipmentSpecificFields map[string]interface{} `json:"equipment_specific_fields,omitempty"`

	AllPublishInterval *float64 `json:"all_publish_interval,omitempty"`

	PublishFlags
}

// IsDevice reports whether this config describes a device rather than a
// topic segment.
func (c *EquipmentConfig) IsDevice() bool {
	return c != nil && c.DriverType != ""
}

// Registry row keys. The legacy column names are the wire format of existing
// registry CSV/JSON files and are preserved verbatim.
const (
	RegPointName     = "Volttron Point Name"
	RegDevicePoint   = "Point Name"
	RegUnits         = "Units"
	RegUnitsDetails  = "Units Details"
	RegWritable      = "Writable"
	RegStartingValue = "Starting Value"
	RegType          = "Type"
	RegNotes         = "Notes"
)

// RegistryRow is one row of a device registry config. Rows keep their raw
// shape so equipment_specific_fields can be merged without losing
// driver-specific columns.
type RegistryRow map[string]interface{}

// PointName returns the point's name under its device, or "".
func (r RegistryRow) PointName() string {
	s, _ := r[RegPointName].(string)
	return strings.TrimSpace(s)
}

// Writable interprets the Writable column, accepting booleans and the usual
// spreadsheet spellings.
func (r RegistryRow) Writable() bool {
	switch v := r[RegWritable].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "yes", "1":
			return true
		}
	}

	return false
}

// StartingValue returns the seed value for the point, or nil.
func (r RegistryRow) StartingValue() interface{} {
	return r[RegStartingValue]
}

// Type returns the declared point type, or "".
func (r RegistryRow) Type() string {
	s, _ := r[RegType].(string)
	return s
}

// Merge copies fields from extra into the row for keys the row does not
// already define.
func (r RegistryRow) Merge(extra map[string]interface{}) {
	for k, v := range extra {
		if _, ok := r[k]; !ok {
			r[k] = v
		}
	}
}
