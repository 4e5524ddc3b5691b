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

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/fieldops/driverd/pkg/models"
)

// LocalBus is an in-process Bus used in tests. Publications are recorded and
// delivered synchronously; Call routes to handlers registered with Serve on
// the same instance, regardless of peer name.
type LocalBus struct {
	mu        sync.Mutex
	published []Message
	handlers  map[string]RPCHandler
	subs      []localSub
}

type localSub struct {
	prefix string
	fn     func(Message)
}

// NewLocalBus returns an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[string]RPCHandler)}
}

func (l *LocalBus) Publish(_ context.Context, topic string, headers models.Headers, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	msg := Message{Topic: topic, Headers: headers, Payload: payload}

	l.mu.Lock()
	l.published = append(l.published, msg)
	subs := append([]localSub(nil), l.subs...)
	l.mu.Unlock()

	for _, sub := range subs {
		if strings.HasPrefix(topic, sub.prefix) {
			sub.fn(msg)
		}
	}

	return nil
}

func (l *LocalBus) Subscribe(_ context.Context, topicPrefix string, fn func(Message)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.subs = append(l.subs, localSub{prefix: topicPrefix, fn: fn})

	return nil
}

func (l *LocalBus) Call(ctx context.Context, _, method string, args, reply interface{}) error {
	l.mu.Lock()
	handler, ok := l.handlers[method]
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: no handler for %s", ErrTimeout, method)
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}

	result, err := handler(ctx, payload)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRemote, err.Error())
	}

	if reply == nil {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, reply)
}

func (l *LocalBus) Serve(method string, handler RPCHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.handlers[method] = handler

	return nil
}

// Published returns a copy of every recorded publication.
func (l *LocalBus) Published() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]Message(nil), l.published...)
}

// PublishedTo returns recorded publications whose topic matches exactly.
func (l *LocalBus) PublishedTo(topic string) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Message

	for _, msg := range l.published {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}

	return out
}

func (l *LocalBus) Close() error { return nil }

var _ Bus = (*LocalBus)(nil)
