// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/hypickle/cmd/hypickle/config"
	"github.com/AleutianAI/hypickle/pkg/logging"
	"github.com/AleutianAI/hypickle/pkg/ux"
	"github.com/AleutianAI/hypickle/services/crawler/identity"
	"github.com/AleutianAI/hypickle/services/crawler/lock"
	storebadger "github.com/AleutianAI/hypickle/services/crawler/storage/badger"
	"github.com/AleutianAI/hypickle/services/crawler/telemetry"
	"github.com/AleutianAI/hypickle/services/hypixel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

// app holds what every command shares. Resources are opened lazily and
// released by close.
type app struct {
	// flags
	configPath  string
	personality string
	logLevel    string

	cfg     config.HypickleConfig
	logger  *slog.Logger
	logs    *logging.Logger
	metrics *telemetry.Metrics

	shutdownTelemetry func(context.Context) error

	client   *hypixel.Client
	db       *storebadger.DB
	locks    *lock.Manager
	resolver *identity.Resolver
}

// setup loads the config and starts logging and telemetry.
func (a *app) setup(ctx context.Context) error {
	if a.personality != "" {
		ux.SetPersonality(ux.ParsePersonalityLevel(a.personality))
	} else {
		ux.InitPersonality()
	}

	cfg, created, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if created {
		ux.Info("First run: wrote default config to " + a.configFile())
	}

	levelName := cfg.Logging.Level
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	logCfg := logging.Config{
		Level:   level,
		Service: "hypickle",
		JSON:    cfg.Logging.JSON,
	}
	if cfg.Logging.ToFile {
		logCfg.LogDir = cfg.Resolve(cfg.Paths.Logs)
	}
	a.logs = logging.New(logCfg)
	a.logger = a.logs.Slog()
	slog.SetDefault(a.logger)

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdownTelemetry = shutdown

	metrics, err := telemetry.NewMetrics(otel.GetMeterProvider().Meter("hypickle"))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}
	a.metrics = metrics
	return nil
}

func (a *app) configFile() string {
	if a.configPath != "" {
		return a.configPath
	}
	return config.DefaultPath()
}

// apiKeys returns keys from the environment, then the key file, then an
// interactive prompt whose answer is saved to the key file.
func (a *app) apiKeys(ctx context.Context) ([]string, error) {
	if len(a.cfg.API.Keys) > 0 {
		return a.cfg.API.Keys, nil
	}
	path := a.cfg.Resolve(a.cfg.API.KeyFile)
	keys, err := hypixel.ReadKeyFile(path)
	if err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		return keys, nil
	}
	if !ux.IsInteractive() {
		return nil, fmt.Errorf("%w: set %s or run 'hypickle key set'", hypixel.ErrNoKeys, config.EnvAPIKeys)
	}
	key, err := promptAPIKey(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := hypixel.WriteKeyFile(path, key); err != nil {
		return nil, err
	}
	return []string{key}, nil
}

// apiClient builds the client over keys, or over the configured keys when
// none are given.
func (a *app) apiClient(ctx context.Context, keys ...string) (*hypixel.Client, error) {
	if a.client != nil && len(keys) == 0 {
		return a.client, nil
	}
	if len(keys) == 0 {
		var err error
		if keys, err = a.apiKeys(ctx); err != nil {
			return nil, err
		}
	}
	ring, err := hypixel.NewKeyRing(keys...)
	if err != nil {
		return nil, err
	}
	client, err := hypixel.NewClient(hypixel.Config{
		BaseURL:   a.cfg.API.BaseURL,
		Timeout:   a.cfg.API.Timeout,
		UserAgent: a.cfg.API.UserAgent,
		Logger:    a.logger,
		Metrics:   a.metrics,
	}, ring)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("api client ready", slog.Int("keys", ring.Len()))
	if a.client == nil {
		a.client = client
	}
	return client, nil
}

func (a *app) store() (*storebadger.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	cfg := storebadger.DefaultConfig(a.cfg.Resolve(a.cfg.Paths.Cache))
	cfg.Logger = a.logger
	db, err := storebadger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	a.db = db
	return db, nil
}

// identities opens the resolver. client may be nil for offline lookups.
func (a *app) identities(client hypixel.Requester) (*identity.Resolver, error) {
	if a.resolver != nil {
		return a.resolver, nil
	}
	db, err := a.store()
	if err != nil {
		return nil, err
	}
	lockCfg := lock.DefaultConfig(a.cfg.Resolve(a.cfg.Paths.Locks))
	lockCfg.Owner = fmt.Sprintf("hypickle-%d-%s", os.Getpid(), uuid.NewString()[:8])
	lockCfg.Logger = a.logger
	locks, err := lock.NewManager(lockCfg)
	if err != nil {
		return nil, err
	}
	a.locks = locks

	resolver, err := identity.New(client, identity.Config{
		PairsPath: a.cfg.Resolve(a.cfg.Paths.Pairs),
		Locks:     locks,
		Store:     db,
		RecentTTL: a.cfg.Crawl.RecentTTL,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.resolver = resolver
	return resolver, nil
}

// close releases everything in reverse order of opening.
func (a *app) close() error {
	var errs []error
	if a.resolver != nil {
		errs = append(errs, a.resolver.Close())
	}
	if a.locks != nil {
		errs = append(errs, a.locks.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.shutdownTelemetry(ctx))
		cancel()
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
