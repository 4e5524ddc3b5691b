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

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock for tests. Callbacks run on the
// goroutine calling Advance, in firing order.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	next   Handle
	timers map[Handle]*fakeTimer
}

type fakeTimer struct {
	handle Handle
	at     time.Time
	period time.Duration // zero for one-shot
	fn     func()
}

// NewFake returns a FakeClock starting at the given instant.
func NewFake(start time.Time) *FakeClock {
	return &FakeClock{now: start, timers: make(map[Handle]*fakeTimer)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *FakeClock) After(t time.Time, fn func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	h := c.next

	at := t
	if at.Before(c.now) {
		at = c.now
	}

	c.timers[h] = &fakeTimer{handle: h, at: at, fn: fn}

	return h
}

func (c *FakeClock) Every(d time.Duration, fn func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	h := c.next
	c.timers[h] = &fakeTimer{handle: h, at: c.now.Add(d), period: d, fn: fn}

	return h
}

func (c *FakeClock) Cancel(h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.timers[h]
	delete(c.timers, h)

	return ok
}

// Pending reports the number of live timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.timers)
}

// Advance moves the clock forward by d, firing every timer whose deadline is
// reached, in deadline order. Periodic timers re-arm and may fire multiple
// times within one advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	deadline := c.now.Add(d)
	c.mu.Unlock()

	for {
		timer := c.popDue(deadline)
		if timer == nil {
			break
		}

		timer.fn()
	}

	c.mu.Lock()
	if c.now.Before(deadline) {
		c.now = deadline
	}
	c.mu.Unlock()
}

// popDue removes and returns the earliest timer due at or before deadline,
// advancing now to its deadline. Periodic timers are re-armed instead of
// removed.
func (c *FakeClock) popDue(deadline time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	due := make([]*fakeTimer, 0, len(c.timers))

	for _, t := range c.timers {
		if !t.at.After(deadline) {
			due = append(due, t)
		}
	}

	if len(due) == 0 {
		return nil
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].handle < due[j].handle
		}

		return due[i].at.Before(due[j].at)
	})

	t := due[0]

	if t.at.After(c.now) {
		c.now = t.at
	}

	if t.period > 0 {
		t.at = t.at.Add(t.period)
	} else {
		delete(c.timers, t.handle)
	}

	return t
}
