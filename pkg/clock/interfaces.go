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

// Package clock is the timer port of the driver service. Schedulers and the
// reservation manager register callbacks here instead of owning time.Timer
// values, so tests can drive them with a fake clock.
package clock

import "time"

// Handle identifies one registered timer.
type Handle uint64

// Clock abstracts time and timer registration.
type Clock interface {
	// Now returns the current instant.
	Now() time.Time

	// After registers fn to run once at instant t. An instant in the past
	// fires immediately.
	After(t time.Time, fn func()) Handle

	// Every registers fn to run at a fixed period, first firing one period
	// from now.
	Every(d time.Duration, fn func()) Handle

	// Cancel stops the timer. It reports whether the handle was live; a
	// callback that has already started is allowed to complete.
	Cancel(h Handle) bool
}
