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

// Package lifecycle handles service startup and shutdown plumbing shared by
// the binaries.
package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldops/driverd/pkg/logger"
)

// CreateLogger creates a logger instance from the provided configuration.
func CreateLogger(config *logger.Config) (logger.Logger, error) {
	return logger.New(config)
}

// CreateComponentLogger creates a logger tagged with a component name.
func CreateComponentLogger(component string, config *logger.Config) (logger.Logger, error) {
	log, err := logger.New(config)
	if err != nil {
		return nil, err
	}

	return logger.Component(log, component), nil
}

// Service is anything the binaries run until shutdown.
type Service interface {
	Run(ctx context.Context) error
}

// Run drives a service until SIGINT/SIGTERM or until the service returns.
// Context cancellation is the normal shutdown path and is not an error.
func Run(ctx context.Context, svc Service, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info().Msg("Service stopped")

	return nil
}
