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
	"encoding/json"

	"github.com/fieldops/driverd/pkg/models"
)

// registerRPC exposes the full command surface on the bus. Errors returned
// by handlers propagate to the caller; they are never swallowed here.
func (s *Service) registerRPC() error {
	handlers := map[string]func(ctx context.Context, args []byte) (interface{}, error){
		"get": func(ctx context.Context, args []byte) (interface{}, error) {
			var query models.Query
			if err := json.Unmarshal(args, &query); err != nil {
				return nil, err
			}

			return s.Get(ctx, query)
		},
		"set": func(ctx context.Context, args []byte) (interface{}, error) {
			var req models.SetRequest
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, err
			}

			return s.Set(ctx, req)
		},
		"last": func(ctx context.Context, args []byte) (interface{}, error) {
			var req models.LastRequest
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, err
			}

			return s.Last(ctx, req)
		},
		"revert": func(ctx context.Context, args []byte) (interface{}, error) {
			var query models.Query
			if err := json.Unmarshal(args, &query); err != nil {
				return nil, err
			}

			return s.Revert(ctx, query)
		},
		"start": func(ctx context.Context, args []byte) (interface{}, error) {
			var query models.Query
			if err := json.Unmarshal(args, &query); err != nil {
				return nil, err
			}

			return s.Start(ctx, query)
		},
		"stop": func(ctx context.Context, args []byte) (interface{}, error) {
			var query models.Query
			if err := json.Unmarshal(args, &query); err != nil {
				return nil, err
			}

			return s.Stop(ctx, query)
		},
		"enable": func(ctx context.Context, args []byte) (interface{}, error) {
			var query models.Query
			if err := json.Unmarshal(args, &query); err != nil {
				return nil, err
			}

			return s.Enable(ctx, query)
		},
		"disable": func(ctx context.Context, args []byte) (interface{}, error) {
			var query models.Query
			if err := json.Unmarshal(args, &query); err != nil {
				return nil, err
			}

			return s.Disable(ctx, query)
		},
		"status": func(ctx context.Context, args []byte) (interface{}, error) {
			var query models.Query
			if err := json.Unmarshal(args, &query); err != nil {
				return nil, err
			}

			return s.Status(ctx, query)
		},
		"add_node": func(ctx context.Context, args []byte) (interface{}, error) {
			var req models.AddNodeRequest
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, err
			}

			return s.AddNode(ctx, req)
		},
		"remove_node": func(ctx context.Context, args []byte) (interface{}, error) {
			var req models.RemoveNodeRequest
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, err
			}

			return s.RemoveNode(ctx, req)
		},
		"list_topics": func(ctx context.Context, args []byte) (interface{}, error) {
			var req models.ListTopicsRequest
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, err
			}

			return s.ListTopics(ctx, req)
		},
		"list_interfaces": func(ctx context.Context, _ []byte) (interface{}, error) {
			return s.ListInterfaces(ctx)
		},
		"add_interface": func(ctx context.Context, args []byte) (interface{}, error) {
			var name string
			if err := json.Unmarshal(args, &name); err != nil {
				return nil, err
			}

			return nil, s.AddInterface(ctx, name)
		},
		"remove_interface": func(ctx context.Context, args []byte) (interface{}, error) {
			var name string
			if err := json.Unmarshal(args, &name); err != nil {
				return nil, err
			}

			return nil, s.RemoveInterface(ctx, name)
		},
		"request_new_schedule": func(ctx context.Context, args []byte) (interface{}, error) {
			var req models.ReservationRequest
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, err
			}

			return s.Reserve(ctx, req)
		},
		"request_cancel_schedule": func(ctx context.Context, args []byte) (interface{}, error) {
			var req models.ReservationRequest
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, err
			}

			return s.CancelReservation(ctx, req)
		},
	}

	// Semantic variants resolve their topic through the semantic-query
	// service first; an upstream timeout yields an empty result.
	handlers["semantic_get"] = s.semanticHandler(func(ctx context.Context, query models.Query) (interface{}, error) {
		return s.Get(ctx, query)
	})
	handlers["semantic_last"] = s.semanticHandler(func(ctx context.Context, query models.Query) (interface{}, error) {
		return s.Last(ctx, models.LastRequest{Query: query})
	})
	handlers["semantic_revert"] = s.semanticHandler(func(ctx context.Context, query models.Query) (interface{}, error) {
		return s.Revert(ctx, query)
	})
	handlers["semantic_start"] = s.semanticHandler(func(ctx context.Context, query models.Query) (interface{}, error) {
		return s.Start(ctx, query)
	})
	handlers["semantic_stop"] = s.semanticHandler(func(ctx context.Context, query models.Query) (interface{}, error) {
		return s.Stop(ctx, query)
	})
	handlers["semantic_status"] = func(context.Context, []byte) (interface{}, error) {
		return nil, models.ErrNotImplemented
	}
	handlers["semantic_set"] = func(ctx context.Context, args []byte) (interface{}, error) {
		var req models.SetRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}

		query, ok := s.semanticQuery(ctx, req.Query)
		if !ok {
			return models.PointResults{Values: map[string]interface{}{}, Errors: map[string]string{}}, nil
		}

		req.Query = query

		return s.Set(ctx, req)
	}

	for method, handler := range handlers {
		if err := s.bus.Serve(method, handler); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) semanticHandler(op func(ctx context.Context, query models.Query) (interface{}, error)) func(context.Context, []byte) (interface{}, error) {
	return func(ctx context.Context, args []byte) (interface{}, error) {
		var query models.Query
		if err := json.Unmarshal(args, &query); err != nil {
			return nil, err
		}

		resolved, ok := s.semanticQuery(ctx, query)
		if !ok {
			return models.PointResults{Values: map[string]interface{}{}, Errors: map[string]string{}}, nil
		}

		return op(ctx, resolved)
	}
}
