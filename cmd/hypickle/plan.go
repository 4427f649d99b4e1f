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
	"strconv"
	"strings"

	"github.com/AleutianAI/hypickle/services/crawler/graph"
	"github.com/AleutianAI/hypickle/services/crawler/identity"
	"github.com/AleutianAI/hypickle/services/crawler/merge"
	"github.com/AleutianAI/hypickle/services/crawler/report"
	"github.com/AleutianAI/hypickle/services/crawler/snapshot"
)

// operand is one player named on the command line.
type operand struct {
	Ref string
	Op  merge.Op
}

// reportOperands orders operands as players, then intersections, then
// subtractions.
func reportOperands(players, intersect, subtract []string) []operand {
	ops := make([]operand, 0, len(players)+len(intersect)+len(subtract))
	for _, p := range players {
		ops = append(ops, operand{Ref: p, Op: merge.Union})
	}
	for _, p := range intersect {
		ops = append(ops, operand{Ref: p, Op: merge.Intersect})
	}
	for _, p := range subtract {
		ops = append(ops, operand{Ref: p, Op: merge.Subtract})
	}
	return ops
}

// describe names the report file, e.g. "alice + bob & carol - dave".
func describe(ops []operand) string {
	var b strings.Builder
	for i, op := range ops {
		if i > 0 {
			switch op.Op {
			case merge.Intersect:
				b.WriteString(" & ")
			case merge.Subtract:
				b.WriteString(" - ")
			default:
				b.WriteString(" + ")
			}
		}
		b.WriteString(op.Ref)
	}
	return b.String()
}

// plan is a root ready to build.
type plan struct {
	Root     *graph.Player
	Exclude  graph.IDSet
	Combined bool

	// Operands holds one loaded player per operand of a combined root.
	Operands []*graph.Player
}

// planRoot resolves the operands and builds the report root.
//
// # Description
//
// A single player becomes a plain root. Its edges are seeded from the
// largest list in the snapshot index when one exists, so they are not
// fetched again. Several players are combined with merge.Evaluate; the
// root takes the identity of the first included player and the combined
// edges. Subtracted players are marked as exclusion sources, so their
// lists can never be trimmed by a cutoff.
func planRoot(ctx context.Context, run *report.Run, ix *snapshot.Index, ops []operand, spec graph.Spec, cutoff graph.EdgeTime) (plan, error) {
	if len(ops) == 0 {
		return plan{}, merge.ErrNoInclude
	}
	ids := make([]string, len(ops))
	for i, op := range ops {
		id, err := run.ResolveID(ctx, op.Ref, identity.Options{})
		if err != nil {
			return plan{}, fmt.Errorf("resolve %s: %w", op.Ref, err)
		}
		ids[i] = id
	}

	if len(ops) == 1 {
		root, err := graph.NewRoot(ids[0], spec)
		if err != nil {
			return plan{}, err
		}
		if edges := indexedEdges(ix, ids[0]); edges != nil {
			run.Logger.Info("using friends list from earlier results",
				slog.String("uuid", ids[0]),
				slog.Int("friends", len(edges)))
			root.SetEdges(edges)
		}
		return plan{Root: root}, nil
	}

	rootID := ""
	players := make([]*graph.Player, len(ops))
	sources := make([]merge.Source, len(ops))
	for i, op := range ops {
		p, err := operandPlayer(ctx, run, ix, ids[i], op.Op, spec)
		if err != nil {
			return plan{}, fmt.Errorf("friends of %s: %w", op.Ref, err)
		}
		run.Logger.Debug("operand loaded",
			slog.String("player", op.Ref),
			slog.String("op", op.Op.String()),
			slog.Bool("excluded", p.ExcludesEdges()),
			slog.Int("friends", len(p.LoadedEdges())))
		players[i] = p
		sources[i] = merge.Source{Label: op.Ref, Op: op.Op, Edges: p.EdgeList()}
		if rootID == "" && !p.ExcludesEdges() {
			rootID = ids[i]
		}
	}
	res, err := merge.Evaluate(sources, merge.Options{Cutoff: cutoff})
	if err != nil {
		return plan{}, err
	}
	root, err := graph.NewRoot(rootID, spec)
	if err != nil {
		return plan{}, err
	}
	root.SetEdges(res.Edges)
	return plan{Root: root, Exclude: res.Excluded, Combined: true, Operands: players}, nil
}

// operandPlayer loads the friends of one operand, from the index when it
// has them.
func operandPlayer(ctx context.Context, run *report.Run, ix *snapshot.Index, id string, op merge.Op, spec graph.Spec) (*graph.Player, error) {
	p, err := graph.NewRoot(id, spec)
	if err != nil {
		return nil, err
	}
	p.SetExcludesEdges(op == merge.Subtract)
	if edges := indexedEdges(ix, id); edges != nil {
		p.SetEdges(edges)
		return p, nil
	}
	if _, err := p.Edges(ctx, run); err != nil {
		return nil, err
	}
	return p, nil
}

func indexedEdges(ix *snapshot.Index, id string) []graph.Edge {
	if ix == nil {
		return nil
	}
	return ix.LargestEdgeList(id)
}

// reportRows flattens the root's friends for a table.
func reportRows(entry report.Entry) (headers []string, rows [][]string) {
	headers = []string{"name", "uuid", "fkdr", "star", "pit", "since"}
	rows = make([][]string, 0, len(entry.Friends))
	for _, f := range entry.Friends {
		row := []string{f.Name, f.UUID, "", "", f.PitRank, ""}
		if f.FKDR != nil {
			row[2] = strconv.FormatFloat(*f.FKDR, 'f', 2, 64)
		}
		if f.Star != nil {
			row[3] = strconv.FormatInt(*f.Star, 10)
		}
		if f.Time.IsSet() {
			row[5] = f.Time.Date()
		}
		rows = append(rows, row)
	}
	return headers, rows
}
