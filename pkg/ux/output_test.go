// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

// capture runs f at level and returns what it wrote to stdout and stderr.
func capture(t *testing.T, level PersonalityLevel, f func()) (string, string) {
	t.Helper()
	prev := GetPersonality()
	SetPersonality(level)
	var out, errOut bytes.Buffer
	restore := SetOutput(&out, &errOut)
	defer func() {
		restore()
		SetPersonality(prev)
	}()
	f()
	return out.String(), errOut.String()
}

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		t.Run(string(icon), func(t *testing.T) {
			assert.Contains(t, icon.Render(), string(icon))
		})
	}
}

func TestMessages(t *testing.T) {
	tests := []struct {
		name    string
		level   PersonalityLevel
		call    func()
		wantOut string
		wantErr string
	}{
		{"success machine", PersonalityMachine, func() { Success("saved") }, "OK: saved\n", ""},
		{"warning machine", PersonalityMachine, func() { Warning("slow") }, "", "WARN: slow\n"},
		{"error machine", PersonalityMachine, func() { Error("boom") }, "", "ERROR: boom\n"},
		{"info machine", PersonalityMachine, func() { Info("note") }, "note\n", ""},
		{"title machine", PersonalityMachine, func() { Title("Report") }, "", ""},
		{"box machine", PersonalityMachine, func() { Box("Key", "valid") }, "Key: valid\n", ""},
		{"warning box machine", PersonalityMachine, func() { WarningBox("Key", "bad") }, "", "WARN Key: bad\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := capture(t, tt.level, tt.call)
			assert.Equal(t, tt.wantOut, out)
			assert.Equal(t, tt.wantErr, errOut)
		})
	}
}

func TestMessages_Styled(t *testing.T) {
	out, errOut := capture(t, PersonalityStandard, func() {
		Title("Friends of Root")
		Success("saved")
		Warning("slow")
	})
	assert.Contains(t, out, "Friends of Root")
	assert.Contains(t, out, "saved")
	assert.Contains(t, errOut, "slow")

	out, _ = capture(t, PersonalityMinimal, func() { Success("done") })
	assert.Contains(t, out, string(IconSuccess))
	assert.Contains(t, out, "done")
}

func TestTable(t *testing.T) {
	headers := []string{"name", "fkdr"}
	rows := [][]string{{"Alpha", "4.00"}, {"Beta", "1.50"}}

	out, _ := capture(t, PersonalityMachine, func() { Table(headers, rows) })
	assert.Equal(t, "name\tfkdr\nAlpha\t4.00\nBeta\t1.50\n", out)

	out, _ = capture(t, PersonalityStandard, func() { Table(headers, rows) })
	assert.Contains(t, out, "Alpha")
	assert.Contains(t, out, "1.50")
	assert.Contains(t, out, "╭")
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		level   PersonalityLevel
		current int
		total   int
		want    string
	}{
		{"machine", PersonalityMachine, 3, 10, "3/10"},
		{"zero total", PersonalityStandard, 0, 0, "0/0"},
		{"half", PersonalityStandard, 5, 10, " 50%"},
		{"over", PersonalityStandard, 12, 10, "100%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := GetPersonality()
			SetPersonality(tt.level)
			defer SetPersonality(prev)
			assert.Contains(t, ProgressBar(tt.current, tt.total, 10), tt.want)
		})
	}
}

func TestParsePersonalityLevel(t *testing.T) {
	tests := map[string]PersonalityLevel{
		"machine": PersonalityMachine,
		"Q":       PersonalityMachine,
		"plain":   PersonalityMachine,
		"min":     PersonalityMinimal,
		"":        PersonalityStandard,
		"fancy":   PersonalityStandard,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParsePersonalityLevel(in))
		})
	}
}

func TestInitPersonality_Env(t *testing.T) {
	prev := GetPersonality()
	defer SetPersonality(prev)

	t.Setenv(EnvPersonality, "minimal")
	InitPersonality()
	assert.Equal(t, PersonalityMinimal, GetPersonality())
}
