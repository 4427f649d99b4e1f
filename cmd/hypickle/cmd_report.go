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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/hypickle/pkg/ux"
	"github.com/AleutianAI/hypickle/services/crawler/activity"
	"github.com/AleutianAI/hypickle/services/crawler/graph"
	"github.com/AleutianAI/hypickle/services/crawler/monitor"
	"github.com/AleutianAI/hypickle/services/crawler/report"
	"github.com/AleutianAI/hypickle/services/crawler/snapshot"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// checkpointTTL is how long the store keeps a root's last checkpoint.
const checkpointTTL = 30 * 24 * time.Hour

type reportFlags struct {
	subtract         []string
	intersect        []string
	justIDs          bool
	online           bool
	friendsOfFriends bool
	since            string
	sort             string
	perpetual        bool
	passes           int
	fromResults      bool
	epoch            bool
	monitorAddr      string
}

func newReportCmd(a *app) *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "report <player>...",
		Short: "Report the friends of one or more players",
		Long: `Builds the friends report of a player, or of several players combined.

Every player given as an argument is added. --intersect keeps only friends
shared with another player and --subtract removes another player's friends.
The report is written to the results directory as "Friends of <players>.json".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), a, args, f)
		},
	}
	fl := cmd.Flags()
	fl.StringSliceVar(&f.subtract, "subtract", nil, "remove the friends of these players")
	fl.StringSliceVar(&f.intersect, "intersect", nil, "keep only friends shared with these players")
	fl.BoolVar(&f.justIDs, "just-uuids", false, "emit friends without names or stats")
	fl.BoolVar(&f.online, "online", false, "include only friends who appear to be online")
	fl.BoolVar(&f.friendsOfFriends, "friends-of-friends", false, "also list each friend's friends")
	fl.StringVar(&f.since, "since", "", "drop friendships started before this YYYY-MM-DD date")
	fl.StringVar(&f.sort, "sort", "", "sort friends by fkdr, star or pit_rank")
	fl.BoolVar(&f.perpetual, "perpetual", false, "keep rescanning and re-writing the report until interrupted")
	fl.IntVar(&f.passes, "passes", 0, "stop perpetual mode after this many passes")
	fl.BoolVar(&f.fromResults, "from-results", false, "reuse friends lists from earlier results")
	fl.BoolVar(&f.epoch, "epoch", false, "write friendship times as epoch milliseconds")
	fl.StringVar(&f.monitorAddr, "monitor-addr", "", "serve the live report on this address in perpetual mode")
	return cmd
}

func runReport(ctx context.Context, a *app, players []string, f reportFlags) error {
	cfg := a.cfg

	sortName := f.sort
	if sortName == "" {
		sortName = cfg.Report.Sort
	}
	sortKey, err := report.ParseSortKey(sortName)
	if err != nil {
		return err
	}
	since := f.since
	if since == "" {
		since = cfg.Report.Since
	}
	var cutoff graph.EdgeTime
	if since != "" {
		if cutoff, err = graph.FromDate(since); err != nil {
			return err
		}
	}
	if f.perpetual && f.friendsOfFriends {
		return fmt.Errorf("--perpetual cannot be combined with --friends-of-friends")
	}

	client, err := a.apiClient(ctx)
	if err != nil {
		return err
	}
	resolver, err := a.identities(client)
	if err != nil {
		return err
	}
	resultsDir := cfg.Resolve(cfg.Paths.Results)

	var ix *snapshot.Index
	if f.fromResults {
		if ix, err = snapshot.LoadIndex(ctx, resultsDir, snapshotPolicy(cfg.Report.SnapshotPolicy)); err != nil {
			return err
		}
		learned := resolver.Learn(ix.Handles())
		a.logger.Info("loaded earlier results",
			slog.Int("players", ix.Len()),
			slog.Int("handles", learned))
	}

	run, err := report.NewRun(client, report.RunConfig{
		Resolver: resolver,
		Activity: activity.Config{
			DisableProfileDiff: !cfg.Crawl.ProfileDiff,
			DisableRecentGames: !cfg.Crawl.RecentGames,
		},
		Logger:  a.logger,
		Metrics: a.metrics,
	})
	if err != nil {
		return err
	}

	ops := reportOperands(players, f.intersect, f.subtract)
	spec := graph.DefaultChain(f.justIDs, f.online || f.perpetual, f.friendsOfFriends)
	a.logger.Debug("traversal planned",
		slog.Int("max_depth", spec.MaxDepth()),
		slog.Any("levels", spec.Levels()))
	p, err := planRoot(ctx, run, ix, ops, spec, cutoff)
	if err != nil {
		return err
	}

	builder := report.NewBuilder(run, report.Options{
		SortKey:       sortKey,
		EpochTimes:    f.epoch || cfg.Report.EpochTimes,
		Cutoff:        cutoff,
		Exclude:       p.Exclude,
		ProgressEvery: cfg.Report.ProgressEvery,
		RootExcluded:  p.Combined,
	})
	desc := describe(ops)

	if f.perpetual {
		return runPerpetual(ctx, a, builder, p.Root, desc, resultsDir, f)
	}

	entry, err := builder.Build(ctx, p.Root)
	if err != nil {
		return err
	}
	path, err := report.WriteFile(resultsDir, desc, entry)
	if err != nil {
		return err
	}
	printReport(desc, entry)
	ux.Success(fmt.Sprintf("%d friends written to %s (%d API calls)", len(entry.Friends), path, client.Calls()))
	return nil
}

func runPerpetual(ctx context.Context, a *app, builder *report.Builder, root *graph.Player, desc, resultsDir string, f reportFlags) error {
	cfg := a.cfg
	db, err := a.store()
	if err != nil {
		return err
	}
	if prev, found, err := report.LoadCheckpoint(ctx, db, root.ID()); err != nil {
		a.logger.Warn("previous checkpoint unreadable", slog.String("error", err.Error()))
	} else if found {
		a.logger.Info("previous run reached",
			slog.Int("pass", prev.Pass),
			slog.Int("friends", len(prev.Root.Friends)),
			slog.Time("at", prev.At))
	}

	sinks := []report.Checkpointer{
		&report.FileCheckpointer{Dir: resultsDir, Description: desc, Logger: a.logger, Metrics: a.metrics},
		&report.StoreCheckpointer{DB: db, TTL: checkpointTTL, Metrics: a.metrics},
	}
	addr := f.monitorAddr
	if addr == "" {
		addr = cfg.Monitor.Addr
	}
	var srv *monitor.Server
	if addr != "" {
		srv = monitor.New(monitor.Config{Addr: addr, Logger: a.logger, Metrics: a.metrics})
		sinks = append(sinks, srv)
	}

	maxPasses := cfg.Crawl.MaxPasses
	if f.passes > 0 {
		maxPasses = f.passes
	}
	sched := report.NewScheduler(builder, report.SchedulerConfig{
		CheckpointInitial: cfg.Crawl.CheckpointInitial,
		RecheckRate:       rate.Limit(cfg.Crawl.RecheckRate),
		RecheckBurst:      cfg.Crawl.RecheckBurst,
		MaxPasses:         maxPasses,
	}, sinks...)

	ux.Info(fmt.Sprintf("Scanning %s until interrupted (Ctrl+C to stop)", desc))
	g, gCtx := errgroup.WithContext(ctx)
	scanCtx, stopMonitor := context.WithCancel(gCtx)
	defer stopMonitor()

	var last report.Entry
	if srv != nil {
		g.Go(func() error { return srv.Run(scanCtx) })
	}
	g.Go(func() error {
		defer stopMonitor()
		var err error
		last, err = sched.Run(scanCtx, root)
		return err
	})
	err = g.Wait()
	if last.UUID != "" {
		printReport(desc, last)
	}
	return err
}

func printReport(desc string, entry report.Entry) {
	ux.Title(report.FileName(desc))
	headers, rows := reportRows(entry)
	ux.Table(headers, rows)
}

func snapshotPolicy(name string) snapshot.Policy {
	if name == "timestamps" {
		return snapshot.PreferTimestamps
	}
	return snapshot.PreferEdges
}
