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

import "strings"

const separator = "/"

// NormalizeTopic strips leading and trailing separators and collapses
// duplicate separators.
func NormalizeTopic(topic string) string {
	parts := strings.Split(topic, separator)
	kept := parts[:0]

	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}

	return strings.Join(kept, separator)
}

// EquipmentID normalizes topic and prefixes it with root unless it already
// starts with it. root itself must be normalized.
func EquipmentID(root, topic string) string {
	topic = NormalizeTopic(topic)

	if topic == root || strings.HasPrefix(topic, root+separator) {
		return topic
	}

	if topic == "" {
		return root
	}

	return root + separator + topic
}

// BreadthTopic maps a depth-first identifier to its breadth-first layout:
// the root segment is replaced by base and the remaining segments are
// reversed, putting the leaf first.
func BreadthTopic(base, identifier string) string {
	segments := strings.Split(NormalizeTopic(identifier), separator)
	if len(segments) <= 1 {
		return base
	}

	rest := segments[1:]
	reversed := make([]string, 0, len(rest)+1)
	reversed = append(reversed, base)

	for i := len(rest) - 1; i >= 0; i-- {
		reversed = append(reversed, rest[i])
	}

	return strings.Join(reversed, separator)
}

// topicMatches implements the glob/substring topic filter of find_points.
// A pattern containing wildcards matches the whole identifier shell-style
// ('*' spans separators, '?' matches one rune); otherwise the pattern
// matches as a normalized path prefix.
func topicMatches(pattern, identifier string) bool {
	if pattern == "" {
		return true
	}

	if strings.ContainsAny(pattern, "*?") {
		return globMatch(pattern, identifier)
	}

	pattern = NormalizeTopic(pattern)

	return identifier == pattern || strings.HasPrefix(identifier, pattern+separator)
}

// globMatch matches s against a pattern of literals, '*' and '?'.
func globMatch(pattern, s string) bool {
	// Iterative wildcard match; '*' may span any run including separators.
	var starPattern, starS = -1, 0

	pi, si := 0, 0
	p, str := []rune(pattern), []rune(s)

	for si < len(str) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == str[si]):
			pi++
			si++
		case pi < len(p) && p[pi] == '*':
			starPattern = pi
			starS = si
			pi++
		case starPattern >= 0:
			starS++
			si = starS
			pi = starPattern + 1
		default:
			return false
		}
	}

	for pi < len(p) && p[pi] == '*' {
		pi++
	}

	return pi == len(p)
}
