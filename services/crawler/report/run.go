// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report walks the friend graph under a traversal spec and emits
// nested report trees.
//
// A Run bundles the state one invocation shares: the API client, the
// identity resolver, the baseline profile cache and the activity
// detector. Nothing here is global; two Runs never see each other's
// caches.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/hypickle/pkg/validation"
	"github.com/AleutianAI/hypickle/services/crawler/activity"
	"github.com/AleutianAI/hypickle/services/crawler/graph"
	"github.com/AleutianAI/hypickle/services/crawler/identity"
	"github.com/AleutianAI/hypickle/services/crawler/telemetry"
	"github.com/AleutianAI/hypickle/services/hypixel"
)

// ErrNoRequester is returned by NewRun without an API client.
var ErrNoRequester = errors.New("report run needs an API client")

// RunConfig configures a Run.
type RunConfig struct {
	// Resolver resolves handles. Nil resolves identifiers only.
	Resolver *identity.Resolver

	// Activity configures hidden-presence inference.
	Activity activity.Config

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Run is the state shared by every stage of one invocation.
//
// # Thread Safety
//
// The caches are safe for concurrent use; the crawl itself is sequential.
type Run struct {
	Client   hypixel.Requester
	Resolver *identity.Resolver
	Profiles *activity.ProfileStore
	Detector *activity.Detector
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

// NewRun builds a Run around client.
func NewRun(client hypixel.Requester, cfg RunConfig) (*Run, error) {
	if client == nil {
		return nil, ErrNoRequester
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	actCfg := cfg.Activity
	if actCfg.Logger == nil {
		actCfg.Logger = logger
	}
	if actCfg.Metrics == nil {
		actCfg.Metrics = cfg.Metrics
	}
	profiles := activity.NewProfileStore(client, logger)
	return &Run{
		Client:   client,
		Resolver: cfg.Resolver,
		Profiles: profiles,
		Detector: activity.NewDetector(client, profiles, actCfg),
		Logger:   logger,
		Metrics:  cfg.Metrics,
	}, nil
}

// ResolveID resolves a handle or identifier to a normalised identifier.
// Profiles fetched along the way become baselines in Profiles unless
// opts.Fetched is already set.
func (r *Run) ResolveID(ctx context.Context, ref string, opts identity.Options) (string, error) {
	if r.Resolver != nil {
		if opts.Fetched == nil {
			opts.Fetched = r.Profiles.Seed
		}
		return r.Resolver.Resolve(ctx, ref, opts)
	}
	isID, err := validation.IsIdentifier(ref)
	if err != nil {
		return "", err
	}
	if !isID {
		return "", fmt.Errorf("resolve %q: %w", ref, identity.ErrNoClient)
	}
	return validation.NormalizeIdentifier(ref)
}

// LoadEdges implements graph.EdgeLoader over the friends resource.
func (r *Run) LoadEdges(ctx context.Context, id string) ([]graph.Edge, error) {
	doc, err := r.Client.Request(ctx, hypixel.ResourceFriends, id)
	if err != nil {
		return nil, err
	}
	friendships := hypixel.FriendEdges(doc, id)
	edges := make([]graph.Edge, 0, len(friendships))
	for _, f := range friendships {
		fid, err := validation.NormalizeIdentifier(f.ID)
		if err != nil {
			r.Logger.Warn("skipping malformed friend identifier",
				slog.String("uuid", id),
				slog.String("friend", f.ID))
			continue
		}
		var t graph.EdgeTime
		if f.Started > 0 {
			t = graph.FromEpoch(f.Started)
		}
		edges = append(edges, graph.Edge{ID: fid, Time: t})
	}
	return edges, nil
}

var _ graph.EdgeLoader = (*Run)(nil)
