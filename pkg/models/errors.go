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

import "errors"

var (
	// ErrInvalidConfig marks configuration validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotImplemented is surfaced verbatim for operations that are
	// declared on the RPC surface but not yet implemented.
	ErrNotImplemented = errors.New("not implemented")
)
