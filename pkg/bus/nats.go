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
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fieldops/driverd/pkg/logger"
	"github.com/fieldops/driverd/pkg/models"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"
)

const defaultCallTimeout = 5 * time.Second

// envelope frames a publication on the wire.
type envelope struct {
	Headers models.Headers  `json:"headers"`
	Message json.RawMessage `json:"message"`
}

// NATSBus implements Bus on a NATS connection. Equipment topics use "/" as
// separator; subjects use "."; the mapping is mechanical in both directions.
type NATSBus struct {
	nc       *nats.Conn
	peerID   string
	pubSem   *semaphore.Weighted
	logger   logger.Logger
	mu       sync.Mutex
	subs     []*nats.Subscription
	ownsConn bool
}

// NATSBusOptions configures NewNATSBus.
type NATSBusOptions struct {
	URL    string
	PeerID string
	// MaxConcurrentPublishes bounds in-flight publications; zero means
	// the documented default of 10000.
	MaxConcurrentPublishes int64
	Logger                 logger.Logger
}

// NewNATSBus connects to NATS and returns a Bus identified as opts.PeerID.
func NewNATSBus(opts NATSBusOptions) (*NATSBus, error) {
	nc, err := nats.Connect(opts.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b, err := NewNATSBusWithConn(nc, opts)
	if err != nil {
		nc.Close()

		return nil, err
	}

	b.ownsConn = true

	return b, nil
}

// NewNATSBusWithConn wraps an existing connection; the caller keeps ownership.
func NewNATSBusWithConn(nc *nats.Conn, opts NATSBusOptions) (*NATSBus, error) {
	limit := opts.MaxConcurrentPublishes
	if limit <= 0 {
		limit = 10000
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &NATSBus{
		nc:     nc,
		peerID: opts.PeerID,
		pubSem: semaphore.NewWeighted(limit),
		logger: log,
	}, nil
}

// subjectFromTopic converts a slash topic to a NATS subject.
func subjectFromTopic(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// topicFromSubject converts a NATS subject back to a slash topic.
func topicFromSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// rpcSubject names the request-reply subject for a peer's method.
func rpcSubject(peer, method string) string {
	return fmt.Sprintf("%s.rpc.%s", peer, method)
}

func (b *NATSBus) Publish(ctx context.Context, topic string, headers models.Headers, message interface{}) error {
	if err := b.pubSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("publish limit: %w", err)
	}
	defer b.pubSem.Release(1)

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal publication for %s: %w", topic, err)
	}

	frame, err := json.Marshal(envelope{Headers: headers, Message: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope for %s: %w", topic, err)
	}

	if err := b.nc.Publish(subjectFromTopic(topic), frame); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

func (b *NATSBus) Subscribe(_ context.Context, topicPrefix string, fn func(Message)) error {
	subject := subjectFromTopic(topicPrefix) + ".>"

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var frame envelope

		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed bus message")

			return
		}

		fn(Message{
			Topic:   topicFromSubject(msg.Subject),
			Headers: frame.Headers,
			Payload: frame.Message,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topicPrefix, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return nil
}

func (b *NATSBus) Call(ctx context.Context, peer, method string, args, reply interface{}) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal args for %s.%s: %w", peer, method, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)

		defer cancel()
	}

	msg, err := b.nc.RequestWithContext(ctx, rpcSubject(peer, method), payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("%w: %s.%s", ErrTimeout, peer, method)
		}

		return fmt.Errorf("rpc %s.%s failed: %w", peer, method, err)
	}

	var env models.RPCEnvelope

	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return fmt.Errorf("malformed rpc reply from %s.%s: %w", peer, method, err)
	}

	if env.Error != nil {
		return fmt.Errorf("%w: %s: %s", ErrRemote, env.Error.Kind, env.Error.Message)
	}

	if reply != nil && env.Result != nil {
		if err := json.Unmarshal(env.Result, reply); err != nil {
			return fmt.Errorf("failed to unmarshal rpc result from %s.%s: %w", peer, method, err)
		}
	}

	return nil
}

func (b *NATSBus) Serve(method string, handler RPCHandler) error {
	subject := rpcSubject(b.peerID, method)

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		go b.dispatch(method, handler, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to serve %s: %w", method, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return nil
}

func (b *NATSBus) dispatch(method string, handler RPCHandler, msg *nats.Msg) {
	var env models.RPCEnvelope

	result, err := handler(context.Background(), msg.Data)
	if err != nil {
		env.Error = &models.RPCError{Kind: errorKind(err), Message: err.Error()}
	} else {
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			env.Error = &models.RPCError{Kind: "internal", Message: marshalErr.Error()}
		} else {
			env.Result = data
		}
	}

	frame, err := json.Marshal(env)
	if err != nil {
		b.logger.Error().Err(err).Str("method", method).Msg("Failed to marshal rpc reply")

		return
	}

	if err := msg.Respond(frame); err != nil {
		b.logger.Warn().Err(err).Str("method", method).Msg("Failed to send rpc reply")
	}
}

// errorKind maps a handler error to a coarse wire classification.
func errorKind(err error) string {
	var kinder interface{ Kind() string }

	switch {
	case errors.As(err, &kinder):
		return kinder.Kind()
	case errors.Is(err, models.ErrNotImplemented):
		return "not_implemented"
	default:
		return "error"
	}
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}

	if b.ownsConn {
		b.nc.Close()
	}

	return nil
}

var _ Bus = (*NATSBus)(nil)
