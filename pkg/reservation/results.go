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

package reservation

// Result info strings. These are wire constants consumed by existing
// clients and must not change spelling.
const (
	InfoMalformedRequest     = "MALFORMED_REQUEST"
	InfoMissingAgentID       = "MISSING_AGENT_ID"
	InfoMissingTaskID        = "MISSING_TASK_ID"
	InfoMalformedEmpty       = "MALFORMED_REQUEST_EMPTY"
	InfoMissingPriority      = "MISSING_PRIORITY"
	InfoInvalidPriority      = "INVALID_PRIORITY"
	InfoTaskIDAlreadyExists  = "TASK_ID_ALREADY_EXISTS"
	InfoSelfConflict         = "REQUEST_CONFLICTS_WITH_SELF"
	InfoConflictsWithExist   = "CONFLICTS_WITH_EXISTING_RESERVATIONS"
	InfoTasksWerePreempted   = "TASKS_WERE_PREEMPTED"
	InfoTaskIDDoesNotExist   = "TASK_ID_DOES_NOT_EXIST"
	InfoAgentIDTaskMismatch  = "AGENT_ID_TASK_ID_MISMATCH"
)
