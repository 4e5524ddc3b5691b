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

// Package bus is the message-bus port. The core publishes poll results and
// serves its RPC surface through it; the transport itself is an external
// collaborator.
package bus

import (
	"context"

	"github.com/fieldops/driverd/pkg/models"
)

// RPCHandler processes one RPC request. The returned value is marshaled as
// the result; a returned error is delivered to the caller.
type RPCHandler func(ctx context.Context, args []byte) (interface{}, error)

// Message is a publication as seen by subscribers.
type Message struct {
	Topic   string
	Headers models.Headers
	Payload []byte
}

// Bus is the port every core component talks to the automation platform
// through.
type Bus interface {
	// Publish sends message with headers to topic. It blocks while the
	// process-wide publish limit is saturated.
	Publish(ctx context.Context, topic string, headers models.Headers, message interface{}) error

	// Subscribe delivers every publication under topicPrefix to fn.
	Subscribe(ctx context.Context, topicPrefix string, fn func(Message)) error

	// Call performs an RPC against peer's method and unmarshals the reply
	// into reply (which may be nil to discard it).
	Call(ctx context.Context, peer, method string, args, reply interface{}) error

	// Serve registers handler for the named method on this peer.
	Serve(method string, handler RPCHandler) error

	// Close tears down subscriptions and served methods.
	Close() error
}
