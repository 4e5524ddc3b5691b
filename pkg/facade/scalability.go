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

package facade

import (
	"context"
	"sort"
	"time"
)

// runScalabilityTest times full scrapes of every remote over the
// configured number of iterations and logs the median. It is a
// benchmarking aid enabled by the scalability_test config flag.
func (s *Service) runScalabilityTest(ctx context.Context) {
	iterations := s.cfg.ScalabilityTestIterations
	if iterations <= 0 {
		return
	}

	remotes := s.registry.Remotes()
	if len(remotes) == 0 {
		s.logger.Warn().Msg("Scalability test requested with no remotes configured")
		return
	}

	durations := make([]time.Duration, 0, iterations)

	for i := 0; i < iterations; i++ {
		start := time.Now()

		for _, remote := range remotes {
			if _, err := remote.Interface().ScrapeAll(ctx); err != nil {
				s.logger.Warn().Err(err).Str("remote", remote.ID).Msg("Scrape failed during scalability test")
			}
		}

		elapsed := time.Since(start)
		durations = append(durations, elapsed)

		s.logger.Info().
			Int("iteration", i+1).
			Dur("elapsed", elapsed).
			Msg("Scalability test iteration")
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	s.logger.Info().
		Int("iterations", iterations).
		Int("remotes", len(remotes)).
		Dur("median", durations[len(durations)/2]).
		Msg("Scalability test complete")
}
