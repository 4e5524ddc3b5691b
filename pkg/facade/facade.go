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

// Package facade is the service core: it owns the equipment tree, the
// remote registry, the reservation manager and the poll scheduler, and
// exposes every operation over the bus RPC surface. All state lives on a
// single command loop; collaborator callbacks post closures back to it.
package facade

import (
	"context"
	"fmt"

	"github.com/fieldops/driverd/pkg/bus"
	"github.com/fieldops/driverd/pkg/clock"
	"github.com/fieldops/driverd/pkg/driver"
	"github.com/fieldops/driverd/pkg/equipment"
	"github.com/fieldops/driverd/pkg/kv"
	"github.com/fieldops/driverd/pkg/logger"
	"github.com/fieldops/driverd/pkg/models"
	"github.com/fieldops/driverd/pkg/reservation"
	"github.com/fieldops/driverd/pkg/scheduler"
)

const commandBacklog = 256

// Options configure a Service.
type Options struct {
	Config *models.AgentConfig
	Bus    bus.Bus
	Store  kv.Store
	Clock  clock.Clock
	Logger logger.Logger

	// Factories are the protocol drivers available to add_node.
	Factories []driver.Factory
}

// Service is the driver service core.
type Service struct {
	cfg    *models.AgentConfig
	bus    bus.Bus
	store  kv.Store
	clk    clock.Clock
	logger logger.Logger

	tree         *equipment.Tree
	registry     *driver.Registry
	sched        *scheduler.Scheduler
	reservations *reservation.Manager

	// overrides is the set of device topics under a global write override.
	overrides map[string]bool

	commands chan func()
	done     chan struct{}

	reservationTimer clock.Handle
	republishTimer   clock.Handle
}

// New wires a Service from its collaborators. The bus RPC surface is
// registered by Run.
func New(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: missing agent config", models.ErrInvalidConfig)
	}

	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}

	cfg := opts.Config

	s := &Service{
		cfg:       cfg,
		bus:       opts.Bus,
		store:     opts.Store,
		clk:       opts.Clock,
		logger:    opts.Logger,
		overrides: make(map[string]bool),
		commands:  make(chan func(), commandBacklog),
		done:      make(chan struct{}),
	}

	s.tree = equipment.NewTree(equipment.TreeOptions{
		RootTopic:       cfg.DepthFirstBase,
		BreadthBase:     cfg.BreadthFirstBase,
		DefaultInterval: cfg.DefaultPollingInterval,
		Defaults:        cfg.PublishFlags,
		Logger:          logger.Component(opts.Logger, "equipment"),
	})

	s.registry = driver.NewRegistry(driver.RegistryOptions{
		Deps: driver.RemoteDeps{
			Tree:    s.tree,
			Bus:     opts.Bus,
			Clock:   opts.Clock,
			Logger:  logger.Component(opts.Logger, "remote"),
			AgentID: cfg.AgentID,
			Post:    s.Post,
		},
		AllowDuplicates: cfg.AllowDuplicateRemotes,
		MaxOpenSockets:  cfg.MaxOpenSockets,
		Logger:          logger.Component(opts.Logger, "registry"),
	})

	for _, f := range opts.Factories {
		s.registry.RegisterFactory(f)
	}

	s.sched = scheduler.NewScheduler(scheduler.Options{
		Tree:                   s.tree,
		Clock:                  opts.Clock,
		Logger:                 logger.Component(opts.Logger, "scheduler"),
		Post:                   s.Post,
		Remote:                 s.registry.Get,
		MinimumPollingInterval: cfg.MinimumPollingInterval,
		GroupOffsetInterval:    cfg.GroupOffsetInterval,
		GroupConfigs:           cfg.PollSchedulerConfigs,
		Location:               cfg.Location(),
	})

	s.reservations = reservation.NewManager(reservation.ManagerOptions{
		GracePeriod: secondsToDuration(cfg.ReservationPreemptGraceTime),
		Store:       opts.Store,
		Logger:      logger.Component(opts.Logger, "reservation"),
	})

	return s, nil
}

// Tree exposes the equipment model, mainly for tests.
func (s *Service) Tree() *equipment.Tree { return s.tree }

// Registry exposes the remote registry, mainly for tests.
func (s *Service) Registry() *driver.Registry { return s.registry }

// Scheduler exposes the poll scheduler, mainly for tests.
func (s *Service) Scheduler() *scheduler.Scheduler { return s.sched }

// Reservations exposes the reservation manager, mainly for tests.
func (s *Service) Reservations() *reservation.Manager { return s.reservations }

// Post queues fn onto the command loop. The send blocks while the backlog
// is full and returns without running fn once the service has shut down.
func (s *Service) Post(fn func()) {
	select {
	case s.commands <- fn:
	case <-s.done:
	}
}

// do runs fn on the command loop and waits for its result.
func (s *Service) do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	type outcome struct {
		value interface{}
		err   error
	}

	ch := make(chan outcome, 1)

	s.Post(func() {
		value, err := fn()
		ch <- outcome{value, err}
	})

	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, context.Canceled
	}
}

// Run restores persisted state, registers the RPC surface and drives the
// command loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.reservations.Load(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Could not restore reservation state")
	}

	if err := s.loadEquipment(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Could not restore equipment state")
	}

	if err := s.registerRPC(); err != nil {
		return fmt.Errorf("registering RPC surface: %w", err)
	}

	s.Post(func() {
		s.sched.Schedule(ctx)
		s.startHeartbeats(ctx)
		s.armReservationTimers(ctx)
	})

	if s.cfg.ScalabilityTest {
		s.Post(func() { s.runScalabilityTest(ctx) })
	}

	s.logger.Info().
		Str("agent_id", s.cfg.AgentID).
		Int("config_version", s.cfg.ConfigVersion).
		Msg("Driver service running")

	for {
		select {
		case fn := <-s.commands:
			s.invoke(fn)
		case <-ctx.Done():
			close(s.done)
			s.shutdown()

			return ctx.Err()
		}
	}
}

// invoke runs one loop callback, catching panics at the callback boundary
// so a failing timer or completion cannot take the loop down.
func (s *Service) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Recovered panic in loop callback")
		}
	}()

	fn()
}

func (s *Service) shutdown() {
	s.sched.Stop()

	if s.reservationTimer != 0 {
		s.clk.Cancel(s.reservationTimer)
	}

	if s.republishTimer != 0 {
		s.clk.Cancel(s.republishTimer)
	}

	for _, remote := range s.registry.Remotes() {
		remote.StopHeartbeat()
	}

	if err := s.registry.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing remotes")
	}
}
