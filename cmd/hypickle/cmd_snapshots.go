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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/AleutianAI/hypickle/pkg/ux"
	"github.com/AleutianAI/hypickle/services/crawler/snapshot"
	"github.com/spf13/cobra"
)

func newSnapshotsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshots",
		Aliases: []string{"results"},
		Short:   "Inspect and merge earlier report files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "summary [player]",
		Short: "Count what the saved reports know",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := loadSnapshots(cmd.Context(), a)
			if err != nil {
				return err
			}
			printSummary(ix.Summary())
			if len(args) == 1 {
				printPlayer(ix, args[0])
			}
			return nil
		},
	})

	var out string
	dedupe := &cobra.Command{
		Use:   "dedupe",
		Short: "Write one record per player as a JSON array",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := loadSnapshots(cmd.Context(), a)
			if err != nil {
				return err
			}
			if out == "" {
				return writeRecords(os.Stdout, ix.Records())
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			if err := writeRecords(f, ix.Records()); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			ux.Success(fmt.Sprintf("%d records written to %s", ix.Len(), out))
			return nil
		},
	}
	dedupe.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.AddCommand(dedupe)

	cmd.AddCommand(&cobra.Command{
		Use:   "harvest",
		Short: "Add every handle in the saved reports to the pairs file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ix, err := loadSnapshots(ctx, a)
			if err != nil {
				return err
			}
			resolver, err := a.identities(nil)
			if err != nil {
				return err
			}
			handles := ix.Handles()
			names := make([]string, 0, len(handles))
			for h := range handles {
				names = append(names, h)
			}
			sort.Strings(names)

			before := resolver.Len()
			for _, h := range names {
				if err := resolver.Remember(ctx, h, handles[h]); err != nil {
					a.logger.Warn("could not remember handle",
						slog.String("handle", h),
						slog.String("error", err.Error()))
				}
			}
			ux.Success(fmt.Sprintf("%d new handles remembered", resolver.Len()-before))
			return nil
		},
	})
	return cmd
}

func loadSnapshots(ctx context.Context, a *app) (*snapshot.Index, error) {
	dir := a.cfg.Resolve(a.cfg.Paths.Results)
	ix, err := snapshot.LoadIndex(ctx, dir, snapshotPolicy(a.cfg.Report.SnapshotPolicy))
	if err != nil {
		return nil, err
	}
	a.logger.Debug("snapshots loaded", slog.String("dir", dir), slog.Int("records", ix.Len()))
	return ix, nil
}

func printSummary(s snapshot.Summary) {
	ux.Title(fmt.Sprintf("%d players, %d with data", s.Unique, s.NonTrivial))
	headers, rows := summaryRows(s)
	ux.Table(headers, rows)
}

func summaryRows(s snapshot.Summary) (headers []string, rows [][]string) {
	headers = []string{"key", "count", "max", "player"}
	for _, k := range s.Keys {
		row := []string{k.Key, strconv.Itoa(k.Count), "", ""}
		if k.HasMax {
			row[2] = strconv.FormatFloat(k.Max, 'f', -1, 64)
			row[3] = k.MaxName
			if row[3] == "" {
				row[3] = k.MaxID
			}
		}
		rows = append(rows, row)
	}
	return headers, rows
}

func printPlayer(ix *snapshot.Index, ref string) {
	r, ok := ix.Lookup(ref)
	switch {
	case !ok:
		ux.Warning(ref + " is not in any saved report")
	case !r.HasFriends:
		ux.Info(fmt.Sprintf("%s (%s) has no saved friends list", ref, r.ID))
	default:
		ux.Success(fmt.Sprintf("%s (%s) has a saved friends list of %d in %s", ref, r.ID, len(r.Friends), r.Source))
	}
}

func writeRecords(w io.Writer, records []snapshot.Record) error {
	docs := make([]map[string]any, len(records))
	for i, r := range records {
		docs[i] = r.Document()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(docs); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return nil
}
