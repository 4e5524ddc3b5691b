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
	"time"

	"github.com/fieldops/driverd/pkg/models"
)

const (
	taggingPeer  = "platform.tagging"
	semanticPeer = "platform.semantic"

	// upstreamTimeout bounds calls to sibling services; a late answer is an
	// empty result, not an error.
	upstreamTimeout = 5 * time.Second
)

// resolveTagQuery asks the tagging service which topics satisfy a tag
// condition. An upstream timeout or failure yields an empty restriction,
// matching nothing.
func (s *Service) resolveTagQuery(ctx context.Context, tag string) (map[string]bool, error) {
	if tag == "" {
		return nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	var topics []string

	err := s.bus.Call(callCtx, taggingPeer, "get_topics_by_tags", map[string]string{"condition": tag}, &topics)
	if err != nil {
		s.logger.Warn().Err(err).Str("tag", tag).Msg("Tag query failed, matching nothing")
		return map[string]bool{}, nil
	}

	restrict := make(map[string]bool, len(topics))
	for _, topic := range topics {
		restrict[s.tree.EquipmentID(topic)] = true
	}

	return restrict, nil
}

// resolveSemanticTopic translates a semantic query into an equipment topic
// through the semantic-query service. Timeout yields an empty topic, which
// selects nothing.
func (s *Service) resolveSemanticTopic(ctx context.Context, query string) string {
	callCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	var topic string

	err := s.bus.Call(callCtx, semanticPeer, "semantic_query", map[string]string{"query": query}, &topic)
	if err != nil {
		s.logger.Warn().Err(err).Str("query", query).Msg("Semantic query failed, returning empty result")
		return ""
	}

	return topic
}

// semanticQuery rewrites a semantic request into a plain topic query.
func (s *Service) semanticQuery(ctx context.Context, query models.Query) (models.Query, bool) {
	topic := s.resolveSemanticTopic(ctx, query.Topic)
	if topic == "" {
		return models.Query{}, false
	}

	query.Topic = topic

	return query, true
}
