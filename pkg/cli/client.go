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

// Package cli implements the driver command-line client. Each subcommand
// maps onto one RPC of the service surface; output is JSON on stdout.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fieldops/driverd/pkg/bus"
	"github.com/fieldops/driverd/pkg/logger"
)

// clientOptions are the persistent flags shared by every subcommand.
type clientOptions struct {
	busURL    string
	peer      string
	requester string
	timeout   time.Duration

	tag   string
	regex string
}

// call performs one RPC against the driver service over a short-lived bus
// connection.
func (o *clientOptions) call(method string, args, reply interface{}) error {
	b, err := bus.NewNATSBus(bus.NATSBusOptions{
		URL:    o.busURL,
		PeerID: o.requester,
		Logger: logger.NewTestLogger(),
	})
	if err != nil {
		return fmt.Errorf("connecting to bus at %s: %w", o.busURL, err)
	}
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	return b.Call(ctx, o.peer, method, args, reply)
}

// printJSON renders a result for human and script consumption alike.
func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, string(out))

	return err
}

// parseValue interprets a CLI value argument as JSON when possible, falling
// back to a plain string.
func parseValue(arg string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(arg), &v); err == nil {
		return v
	}

	return arg
}
