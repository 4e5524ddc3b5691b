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

package equipment

import "errors"

var (
	// ErrNotAPoint marks an operation that requires a point node.
	ErrNotAPoint = errors.New("node is not a point")

	// ErrKindMismatch is returned when a topic already names a node of a
	// conflicting kind, e.g. adding a device below a point.
	ErrKindMismatch = errors.New("conflicting node kind for topic")

	// ErrReservationLock is raised by write validation when another agent
	// holds the device, or no reservation exists while one is required.
	ErrReservationLock = errors.New("RESERVATION_LOCK")

	// ErrOverride is raised by write validation while a global override
	// covers the topic.
	ErrOverride = errors.New("OVERRIDE")
)
