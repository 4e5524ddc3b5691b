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

import (
	"fmt"
	"regexp"
)

// FindPoints returns the points whose identifier matches the topic pattern
// (glob or normalized prefix) and, when regex is non-empty, the regex
// post-filter. Filters combine with AND semantics. The optional restrict set
// (from a tag-service query) further intersects by identifier; nil means
// unrestricted.
func (t *Tree) FindPoints(topicPattern, regex string, restrict map[string]bool) ([]*Node, error) {
	var re *regexp.Regexp

	if regex != "" {
		var err error

		re, err = regexp.Compile(regex)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", regex, err)
		}
	}

	pattern := topicPattern
	if pattern != "" {
		pattern = t.EquipmentID(pattern)
	}

	var out []*Node

	for _, point := range t.Points(NoHandle) {
		if !topicMatches(pattern, point.Identifier) {
			continue
		}

		if re != nil && !re.MatchString(point.Identifier) {
			continue
		}

		if restrict != nil && !restrict[point.Identifier] {
			continue
		}

		out = append(out, point)
	}

	return out, nil
}
