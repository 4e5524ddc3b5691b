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
	"sync"
	"time"
)

// realClock implements Clock using the real time package.
type realClock struct {
	mu     sync.Mutex
	next   Handle
	timers map[Handle]func() // cancel funcs for live timers
}

// New returns a Clock backed by the time package.
func New() Clock {
	return &realClock{timers: make(map[Handle]func())}
}

func (c *realClock) Now() time.Time {
	return time.Now()
}

func (c *realClock) After(t time.Time, fn func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	h := c.next

	d := time.Until(t)
	if d < 0 {
		d = 0
	}

	timer := time.AfterFunc(d, func() {
		c.release(h)
		fn()
	})

	c.timers[h] = func() { timer.Stop() }

	return h
}

func (c *realClock) Every(d time.Duration, fn func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	h := c.next

	ticker := time.NewTicker(d)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once

	c.timers[h] = func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}

	return h
}

func (c *realClock) Cancel(h Handle) bool {
	c.mu.Lock()
	cancel, ok := c.timers[h]
	delete(c.timers, h)
	c.mu.Unlock()

	if ok {
		cancel()
	}

	return ok
}

func (c *realClock) release(h Handle) {
	c.mu.Lock()
	delete(c.timers, h)
	c.mu.Unlock()
}
