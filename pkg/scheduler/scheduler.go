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

// Package scheduler builds static cyclic polling plans. Points are grouped
// by group id, remote and integer polling interval; intervals are
// partitioned into non-coprime subsets whose hyperperiods drive one-shot
// timer chains.
package scheduler

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/fieldops/driverd/pkg/clock"
	"github.com/fieldops/driverd/pkg/driver"
	"github.com/fieldops/driverd/pkg/equipment"
	"github.com/fieldops/driverd/pkg/logger"
	"github.com/fieldops/driverd/pkg/models"
)

// Options configure a Scheduler.
type Options struct {
	Tree   *equipment.Tree
	Clock  clock.Clock
	Logger logger.Logger

	// Post runs a closure on the service loop. Timer callbacks are posted
	// so all schedule state stays loop-confined.
	Post func(func())

	// Remote resolves a remote id to its live remote at poll time.
	Remote func(id string) *driver.Remote

	MinimumPollingInterval float64
	GroupOffsetInterval    float64
	GroupConfigs           map[string]models.GroupConfig
	Location               *time.Location
}

// slot is one firing position within a hyperperiod.
type slot struct {
	offset time.Duration
	set    *driver.PollSet
	// intervals records which tick intervals contribute to this slot so
	// incremental adds can find their slots without a rebuild.
	intervals map[int]bool
}

// plan is the repeating slot sequence for one (group, remote, subset).
type plan struct {
	period time.Duration
	slots  []*slot

	// start is the epoch of the current hyperperiod; idx points at the next
	// slot to fire.
	start time.Time
	idx   int

	remoteID string
}

func (p *plan) current() time.Time {
	return p.start.Add(p.slots[p.idx].offset)
}

func (p *plan) advance() {
	p.idx++

	if p.idx == len(p.slots) {
		p.idx = 0
		p.start = p.start.Add(p.period)
	}
}

// chain serializes one or more plans behind a single one-shot timer.
type chain struct {
	plans []*plan
	timer clock.Handle
}

// earliest returns the plan with the soonest pending slot.
func (c *chain) earliest() *plan {
	var best *plan

	for _, p := range c.plans {
		if best == nil || p.current().Before(best.current()) {
			best = p
		}
	}

	return best
}

// Scheduler is the static cyclic poll scheduler. It is not goroutine safe;
// all access happens on the service loop.
type Scheduler struct {
	opts   Options
	logger logger.Logger

	// group → remote id → tick interval → point handles
	points map[string]map[string]map[int]map[equipment.Handle]bool

	chains     []*chain
	allPublish []clock.Handle

	// generation invalidates callbacks registered by superseded schedules.
	generation int

	ctx context.Context
}

// NewScheduler creates an empty scheduler.
func NewScheduler(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}

	if opts.Post == nil {
		opts.Post = func(fn func()) { fn() }
	}

	if opts.MinimumPollingInterval <= 0 {
		opts.MinimumPollingInterval = 0.02
	}

	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &Scheduler{
		opts:   opts,
		logger: opts.Logger,
		points: make(map[string]map[string]map[int]map[equipment.Handle]bool),
		ctx:    context.Background(),
	}
}

// tickInterval floors a polling interval in seconds to the resolution of
// the group's minimum polling interval, expressed in ticks.
func (s *Scheduler) tickInterval(group string, interval float64) int {
	m := s.minInterval(group)

	ticks := int(math.Floor(interval / m))
	if ticks < 1 {
		ticks = 1
	}

	return ticks
}

func (s *Scheduler) minInterval(group string) float64 {
	if cfg, ok := s.opts.GroupConfigs[group]; ok && cfg.MinimumPollingInterval != nil && *cfg.MinimumPollingInterval > 0 {
		return *cfg.MinimumPollingInterval
	}

	return s.opts.MinimumPollingInterval
}

func (s *Scheduler) tickDuration(group string, ticks int) time.Duration {
	return time.Duration(float64(ticks) * s.minInterval(group) * float64(time.Second))
}

func (s *Scheduler) keyFor(point *equipment.Node) (group, remoteID string, interval int, ok bool) {
	device := s.opts.Tree.DeviceFor(point)
	if device == nil || device.Device == nil {
		return "", "", 0, false
	}

	return point.Group, device.Device.RemoteID, s.tickInterval(point.Group, point.Interval), true
}

// AddToSchedule inserts a point. It returns true when the point introduces
// a group, remote or interval the current schedule does not know, in which
// case the caller must rebuild with Schedule.
func (s *Scheduler) AddToSchedule(point *equipment.Node) bool {
	group, remoteID, interval, ok := s.keyFor(point)
	if !ok {
		return false
	}

	rebuild := false

	remotes, ok := s.points[group]
	if !ok {
		remotes = make(map[string]map[int]map[equipment.Handle]bool)
		s.points[group] = remotes
		rebuild = true
	}

	intervals, ok := remotes[remoteID]
	if !ok {
		intervals = make(map[int]map[equipment.Handle]bool)
		remotes[remoteID] = intervals
		rebuild = true
	}

	handles, ok := intervals[interval]
	if !ok {
		handles = make(map[equipment.Handle]bool)
		intervals[interval] = handles
		rebuild = true
	}

	handles[point.Handle()] = true

	if rebuild {
		return true
	}

	s.insertIntoSlots(point, remoteID, interval)

	return false
}

// insertIntoSlots adds a point to every existing slot its interval fires
// in, keeping the precomputed publish setup current.
func (s *Scheduler) insertIntoSlots(point *equipment.Node, remoteID string, interval int) {
	for _, c := range s.chains {
		for _, p := range c.plans {
			if p.remoteID != remoteID {
				continue
			}

			for _, sl := range p.slots {
				if !sl.intervals[interval] {
					continue
				}

				sl.set.Points = append(sl.set.Points, point.Handle())
				s.addToSetup(sl.set.Setup, point)
			}
		}
	}
}

// RemoveFromSchedule removes a point, pruning emptied intervals, remotes
// and groups. It reports whether the point was scheduled.
func (s *Scheduler) RemoveFromSchedule(point *equipment.Node) bool {
	group, remoteID, interval, ok := s.keyFor(point)
	if !ok {
		return false
	}

	handles, ok := s.points[group][remoteID][interval]
	if !ok || !handles[point.Handle()] {
		return false
	}

	delete(handles, point.Handle())

	if len(handles) == 0 {
		delete(s.points[group][remoteID], interval)
	}

	if len(s.points[group][remoteID]) == 0 {
		delete(s.points[group], remoteID)
	}

	if len(s.points[group]) == 0 {
		delete(s.points, group)
	}

	for _, c := range s.chains {
		for _, p := range c.plans {
			if p.remoteID != remoteID {
				continue
			}

			for _, sl := range p.slots {
				kept := sl.set.Points[:0]

				for _, h := range sl.set.Points {
					if h != point.Handle() {
						kept = append(kept, h)
					}
				}

				sl.set.Points = kept
			}
		}
	}

	return true
}

// Schedule performs a full recompute: every existing timer is cancelled,
// hyperperiods and slots are rebuilt, and fresh timer chains are armed.
func (s *Scheduler) Schedule(ctx context.Context) {
	s.Stop()

	s.ctx = ctx
	s.generation++

	now := s.opts.Clock.Now().In(s.opts.Location)

	groups := make([]string, 0, len(s.points))
	for g := range s.points {
		groups = append(groups, g)
	}

	sort.Strings(groups)

	for gi, group := range groups {
		cfg := s.opts.GroupConfigs[group]

		offset := cfg.StartOffsetSeconds + float64(gi)*s.groupOffsetInterval(group)

		plans := s.buildGroupPlans(group, now, offset)
		if len(plans) == 0 {
			continue
		}

		if cfg.ParallelSubgroups {
			for _, p := range plans {
				s.armChain(&chain{plans: []*plan{p}})
			}
		} else {
			s.armChain(&chain{plans: plans})
		}
	}

	s.scheduleAllPublish(now)
}

func (s *Scheduler) groupOffsetInterval(group string) float64 {
	if cfg, ok := s.opts.GroupConfigs[group]; ok && cfg.GroupOffsetInterval != nil {
		return *cfg.GroupOffsetInterval
	}

	return s.opts.GroupOffsetInterval
}

func (s *Scheduler) buildGroupPlans(group string, now time.Time, offsetSeconds float64) []*plan {
	var plans []*plan

	remotes := make([]string, 0, len(s.points[group]))
	for r := range s.points[group] {
		remotes = append(remotes, r)
	}

	sort.Strings(remotes)

	for _, remoteID := range remotes {
		intervals := s.points[group][remoteID]

		distinct := make([]int, 0, len(intervals))
		for i := range intervals {
			distinct = append(distinct, i)
		}

		for _, subset := range separateCoprimes(distinct) {
			h := hyperperiod(subset)
			p := s.buildPlan(group, remoteID, subset, h)

			period := s.tickDuration(group, h)
			start := nextTickAtOrAfter(now, period, s.opts.Location)
			start = start.Add(time.Duration(offsetSeconds * float64(time.Second)))

			p.start = start
			p.period = period

			plans = append(plans, p)
		}
	}

	return plans
}

// buildPlan lays the subset's intervals out over one hyperperiod: interval
// i contributes H/i equally spaced slots, merged per offset.
func (s *Scheduler) buildPlan(group, remoteID string, subset []int, h int) *plan {
	byOffset := make(map[int]*slot)

	for _, interval := range subset {
		handles := sortedHandles(s.points[group][remoteID][interval])

		count := h / interval
		for k := 0; k < count; k++ {
			offset := k * interval

			sl, ok := byOffset[offset]
			if !ok {
				sl = &slot{
					offset:    s.tickDuration(group, offset),
					set:       &driver.PollSet{Setup: driver.NewPublishSetup()},
					intervals: make(map[int]bool),
				}
				byOffset[offset] = sl
			}

			sl.intervals[interval] = true

			for _, handle := range handles {
				sl.set.Points = append(sl.set.Points, handle)

				if node := s.opts.Tree.Node(handle); node != nil {
					s.addToSetup(sl.set.Setup, node)
				}
			}
		}
	}

	offsets := make([]int, 0, len(byOffset))
	for o := range byOffset {
		offsets = append(offsets, o)
	}

	sort.Ints(offsets)

	p := &plan{remoteID: remoteID}
	for _, o := range offsets {
		sl := byOffset[o]
		sl.set.Remote = s.opts.Remote(remoteID)
		p.slots = append(p.slots, sl)
	}

	return p
}

// addToSetup sorts a point into the publish buckets its inherited flags
// select.
func (s *Scheduler) addToSetup(setup *driver.PublishSetup, point *equipment.Node) {
	tree := s.opts.Tree

	device := tree.DeviceFor(point)
	if device == nil {
		return
	}

	if tree.IsPublishedSingleDepth(point) {
		setup.SingleDepth[point.Identifier] = true
	}

	if tree.IsPublishedSingleBreadth(point) {
		setup.SingleBreadth = append(setup.SingleBreadth, driver.BreadthPair{
			Depth:   point.Identifier,
			Breadth: equipment.BreadthTopic(tree.BreadthBase(), point.Identifier),
		})
	}

	if tree.IsPublishedMultiDepth(point) {
		if setup.MultiDepth[device.Identifier] == nil {
			setup.MultiDepth[device.Identifier] = make(map[string]bool)
		}

		setup.MultiDepth[device.Identifier][point.Identifier] = true
	}

	if tree.IsPublishedMultiBreadth(point) {
		breadth := equipment.BreadthTopic(tree.BreadthBase(), device.Identifier)

		if setup.MultiBreadth[breadth] == nil {
			setup.MultiBreadth[breadth] = make(map[string]bool)
		}

		setup.MultiBreadth[breadth][point.Identifier] = true
	}
}

func (s *Scheduler) armChain(c *chain) {
	s.chains = append(s.chains, c)
	s.armChainTimer(c)
}

func (s *Scheduler) armChainTimer(c *chain) {
	gen := s.generation
	next := c.earliest().current()

	c.timer = s.opts.Clock.After(next, func() {
		s.opts.Post(func() {
			if gen == s.generation {
				s.operateChain(c)
			}
		})
	})
}

// operateChain fires the chain's due slot. When the host slept through
// slots, it advances to the most recent passed slot and executes only that
// one.
func (s *Scheduler) operateChain(c *chain) {
	now := s.opts.Clock.Now()

	p := c.earliest()
	due := p.slots[p.idx]
	p.advance()

	for {
		next := c.earliest()
		if next.current().After(now) {
			break
		}

		due = next.slots[next.idx]
		next.advance()
	}

	s.armChainTimer(c)

	if due.set.Remote == nil || len(due.set.Points) == 0 {
		return
	}

	due.set.Remote.PollData(s.ctx, due.set, func(_ time.Time, err error) {
		if err != nil {
			s.logger.Warn().Err(err).Str("remote", due.set.Remote.ID).Msg("Scheduled poll failed")
		}
	})
}

// scheduleAllPublish registers a periodic timer per device that carries an
// all_publish_interval and an all-publish flag. The first fire trails the
// first poll by one interval so it sees first-poll values.
func (s *Scheduler) scheduleAllPublish(now time.Time) {
	gen := s.generation

	for _, device := range s.opts.Tree.Devices(equipment.NoHandle) {
		if device.Device == nil || device.Device.AllPublishInterval <= 0 {
			continue
		}

		remote := s.opts.Remote(device.Device.RemoteID)
		if remote == nil {
			continue
		}

		interval := time.Duration(device.Device.AllPublishInterval * float64(time.Second))
		dev := device

		first := s.opts.Clock.After(now.Add(interval), func() {
			s.opts.Post(func() {
				if gen != s.generation {
					return
				}

				s.fireAllPublish(remote, dev.Handle())

				periodic := s.opts.Clock.Every(interval, func() {
					s.opts.Post(func() {
						if gen == s.generation {
							s.fireAllPublish(remote, dev.Handle())
						}
					})
				})

				s.allPublish = append(s.allPublish, periodic)
			})
		})

		s.allPublish = append(s.allPublish, first)
	}
}

func (s *Scheduler) fireAllPublish(remote *driver.Remote, device equipment.Handle) {
	node := s.opts.Tree.Node(device)
	if node == nil {
		return
	}

	remote.PublishAll(s.ctx, node)
}

// Stop cancels every timer registered by the current schedule.
func (s *Scheduler) Stop() {
	s.generation++

	for _, c := range s.chains {
		if c.timer != 0 {
			s.opts.Clock.Cancel(c.timer)
		}
	}

	for _, h := range s.allPublish {
		s.opts.Clock.Cancel(h)
	}

	s.chains = nil
	s.allPublish = nil
}

// PollSets returns the live poll sets, mainly for tests and status output.
func (s *Scheduler) PollSets() []*driver.PollSet {
	var sets []*driver.PollSet

	for _, c := range s.chains {
		for _, p := range c.plans {
			for _, sl := range p.slots {
				sets = append(sets, sl.set)
			}
		}
	}

	return sets
}

func sortedHandles(set map[equipment.Handle]bool) []equipment.Handle {
	handles := make([]equipment.Handle, 0, len(set))
	for h := range set {
		handles = append(handles, h)
	}

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	return handles
}

// nextTickAtOrAfter returns t when t is aligned to period past local
// midnight, else the next such alignment.
func nextTickAtOrAfter(t time.Time, period time.Duration, loc *time.Location) time.Time {
	if period <= 0 {
		return t
	}

	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	elapsed := local.Sub(midnight)
	rem := elapsed % period

	if rem == 0 {
		return t
	}

	return t.Add(period - rem)
}
