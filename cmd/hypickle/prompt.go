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
	"strings"

	"github.com/charmbracelet/huh"
)

var errEmptyKey = errors.New("key cannot be empty")

// promptAPIKey asks for a key without echoing it.
func promptAPIKey(ctx context.Context, savePath string) (string, error) {
	var key string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Hypixel API key").
			Description("Saved to "+savePath).
			EchoMode(huh.EchoModePassword).
			Value(&key).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errEmptyKey
				}
				return nil
			}),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return "", fmt.Errorf("read API key: %w", err)
	}
	return strings.TrimSpace(key), nil
}
