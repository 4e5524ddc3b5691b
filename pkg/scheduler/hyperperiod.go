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

package scheduler

import "sort"

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}

	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}

	return a / gcd(a, b) * b
}

// separateCoprimes partitions intervals into subsets where no pair within a
// subset is coprime. The largest not-yet-placed interval seeds each subset
// and pulls in every remaining interval sharing a common factor with it.
func separateCoprimes(intervals []int) [][]int {
	remaining := append([]int(nil), intervals...)
	sort.Sort(sort.Reverse(sort.IntSlice(remaining)))

	var separated [][]int

	for len(remaining) > 0 {
		seed := remaining[0]
		subset := []int{seed}

		var coprime []int

		for _, i := range remaining[1:] {
			if gcd(seed, i) != 1 && i != 1 {
				subset = append(subset, i)
			} else {
				coprime = append(coprime, i)
			}
		}

		separated = append(separated, subset)
		remaining = coprime
	}

	return separated
}

// hyperperiod computes H as the LCM of the subset's tick intervals, so
// every interval i lands exactly H/i slots per cycle.
func hyperperiod(subset []int) int {
	h := 1
	for _, i := range subset {
		h = lcm(h, i)
	}

	return h
}
