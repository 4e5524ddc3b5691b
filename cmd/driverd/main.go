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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/fieldops/driverd/pkg/bus"
	"github.com/fieldops/driverd/pkg/config"
	"github.com/fieldops/driverd/pkg/driver"
	"github.com/fieldops/driverd/pkg/driver/fake"
	"github.com/fieldops/driverd/pkg/driver/snmp"
	"github.com/fieldops/driverd/pkg/facade"
	"github.com/fieldops/driverd/pkg/kv"
	"github.com/fieldops/driverd/pkg/lifecycle"
	"github.com/fieldops/driverd/pkg/models"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/fieldops/driverd.json", "Path to driver service config file")
	flag.Parse()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg models.AgentConfig
	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ApplyDefaults()

	mainLogger, err := lifecycle.CreateComponentLogger("driverd", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	if cfg.ConfigVersion == 1 {
		mainLogger.Warn().Msg("Deprecation Warning: config_version 1 publication defaults " +
			"(publish_all_depth on, publish_multi_depth off) will be removed in a future release; " +
			"migrate to config_version 2")
	}

	b, err := bus.NewNATSBus(bus.NATSBusOptions{
		URL:                    cfg.BusURL,
		PeerID:                 cfg.AgentID,
		MaxConcurrentPublishes: cfg.MaxConcurrentPublishes,
		Logger:                 mainLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer func() { _ = b.Close() }()

	store, err := kv.NewNATSStore(ctx, cfg.BusURL, cfg.KVBucket)
	if err != nil {
		return fmt.Errorf("failed to open config store: %w", err)
	}
	defer func() { _ = store.Close() }()

	svc, err := facade.New(facade.Options{
		Config: &cfg,
		Bus:    b,
		Store:  store,
		Logger: mainLogger,
		Factories: []driver.Factory{
			fake.NewFactory(),
			snmp.NewFactory(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}

	mainLogger.Info().
		Str("agent_id", cfg.AgentID).
		Str("bus_url", cfg.BusURL).
		Int("config_version", cfg.ConfigVersion).
		Msg("Starting driver service")

	return lifecycle.Run(ctx, svc, mainLogger)
}
