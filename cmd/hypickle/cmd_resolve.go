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
	"github.com/AleutianAI/hypickle/pkg/ux"
	"github.com/AleutianAI/hypickle/services/crawler/identity"
	"github.com/AleutianAI/hypickle/services/hypixel"
	"github.com/spf13/cobra"
)

func newResolveCmd(a *app) *cobra.Command {
	var opts identity.Options
	cmd := &cobra.Command{
		Use:   "resolve <handle>...",
		Short: "Print the identifier of each handle",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var client hypixel.Requester
			if !opts.Offline {
				c, err := a.apiClient(ctx)
				if err != nil {
					return err
				}
				client = c
			}
			resolver, err := a.identities(client)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(args))
			for _, ref := range args {
				id, err := resolver.Resolve(ctx, ref, opts)
				if err != nil {
					return err
				}
				rows = append(rows, []string{ref, id})
			}
			ux.Table([]string{"handle", "uuid"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "confirm cached handles with the API")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "use only cached handles")
	return cmd
}
