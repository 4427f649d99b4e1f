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

	"github.com/AleutianAI/hypickle/pkg/ux"
	"github.com/AleutianAI/hypickle/services/hypixel"
	"github.com/spf13/cobra"
)

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the Hypixel API key",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [key]",
		Short: "Check a key, or every configured key, against the API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateKeys(cmd.Context(), a, args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set [key]",
		Short: "Validate a key and save it to the key file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setKey(cmd.Context(), a, args)
		},
	})
	return cmd
}

func validateKeys(ctx context.Context, a *app, args []string) error {
	keys := args
	if len(keys) == 0 {
		var err error
		if keys, err = a.apiKeys(ctx); err != nil {
			return err
		}
	}
	client, err := a.apiClient(ctx, keys...)
	if err != nil {
		return err
	}

	var errs []error
	for i, key := range keys {
		label := fmt.Sprintf("key %d", i+1)
		if err := client.ValidateKey(ctx, key); err != nil {
			if !errors.Is(err, hypixel.ErrInvalidKey) {
				return err
			}
			ux.Warning(label + " was rejected")
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
			continue
		}
		ux.Success(label + " is valid")
	}
	return errors.Join(errs...)
}

func setKey(ctx context.Context, a *app, args []string) error {
	path := a.cfg.Resolve(a.cfg.API.KeyFile)
	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		if !ux.IsInteractive() {
			return fmt.Errorf("%w: pass the key as an argument", hypixel.ErrNoKeys)
		}
		var err error
		if key, err = promptAPIKey(ctx, path); err != nil {
			return err
		}
	}

	client, err := a.apiClient(ctx, key)
	if err != nil {
		return err
	}
	if err := client.ValidateKey(ctx, key); err != nil {
		return err
	}
	if err := hypixel.WriteKeyFile(path, key); err != nil {
		return err
	}
	ux.Success("Key saved to " + path)
	return nil
}
