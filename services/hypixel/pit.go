// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hypixel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPitRank indicates a rank string that is not "<prestige>-<level>".
var ErrInvalidPitRank = errors.New("invalid pit rank")

// PitLevels is the number of levels in each prestige.
const PitLevels = 120

// Pit levelling tables. prestigeXP[i] is the total experience needed
// before prestige i+1; the other two scale the per-level cost.
var (
	levelGroupMultiplier = [...]int64{15, 30, 50, 75, 125, 300, 600, 800, 900, 1000, 1200, 1500, 0}

	prestigeMultiplier = [...]int64{
		100, 110, 120, 130, 140, 150, 175, 200, 250, 300, 400, 500, 600, 700, 800, 900, 1000,
		1200, 1400, 1600, 1800, 2000, 2400, 2800, 3200, 3600, 4000, 4500, 5000, 7500, 10000, 10100,
		10100, 10100, 10100, 10100, 20000, 30000, 40000, 50000, 75000, 100000, 125000, 150000,
		175000, 200000, 300000, 500000, 1000000, 5000000, 10000000,
	}

	prestigeXP = [...]int64{
		65950, 138510, 217680, 303430, 395760, 494700, 610140, 742040, 906930, 1104780, 1368580,
		1698330, 2094030, 2555680, 3083280, 3676830, 4336330, 5127730, 6051030, 7106230, 8293330,
		9612330, 11195130, 13041730, 15152130, 17526330, 20164330, 23132080, 26429580, 31375830,
		37970830, 44631780, 51292730, 57953680, 64614630, 71275580, 84465580, 104250580, 130630580,
		163605580, 213068080, 279018080, 361455580, 460380580, 575793080, 707693080, 905543080,
		1235293080, 1894793080, 5192293080, 11787293080,
	}
)

// PitRank is a pit prestige and level pair.
type PitRank struct {
	Prestige int
	Level    int
}

// PitRankFromXP derives the rank for a total experience value.
//
// # Description
//
// The prestige is the first whose cumulative requirement covers xp; values
// beyond the last requirement stay at the final prestige. Within a prestige
// the level is the highest whose cumulative cost is at most xp, and never
// below 1: a fresh account is "0-1".
func PitRankFromXP(xp int64) PitRank {
	if xp < 0 {
		xp = 0
	}
	prestige := len(prestigeXP) - 1
	for i, req := range prestigeXP {
		if req >= xp {
			prestige = i
			break
		}
	}

	reqs := levelRequirements(prestige)
	level := 1
	for i := len(reqs) - 1; i >= 0; i-- {
		if xp >= reqs[i] {
			level = i + 1
			break
		}
	}
	return PitRank{Prestige: prestige, Level: level}
}

// levelRequirements returns the total experience needed for levels
// 1..PitLevels of prestige.
func levelRequirements(prestige int) [PitLevels]int64 {
	var reqs [PitLevels]int64
	total := int64(0)
	if prestige > 0 {
		total = prestigeXP[prestige-1]
	}
	for level := 1; level <= PitLevels; level++ {
		cost := levelGroupMultiplier[(level-1)/10] * prestigeMultiplier[prestige]
		total += (cost + 99) / 100
		reqs[level-1] = total
	}
	if prestige == 0 {
		reqs[0] = 0
	}
	return reqs
}

// String renders the rank as "<roman prestige>-<level>", with "0" for the
// first prestige.
func (r PitRank) String() string {
	return fmt.Sprintf("%s-%d", toRoman(r.Prestige), r.Level)
}

// SortKey orders ranks: prestige*120 + level.
func (r PitRank) SortKey() int {
	return r.Prestige*PitLevels + r.Level
}

// ParsePitRank parses "<prestige>-<level>", where prestige is a Roman
// numeral or a decimal number.
func ParsePitRank(s string) (PitRank, error) {
	pres, lvl, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return PitRank{}, fmt.Errorf("%w: %q", ErrInvalidPitRank, s)
	}
	prestige, err := parsePrestige(pres)
	if err != nil {
		return PitRank{}, fmt.Errorf("%w: %q", ErrInvalidPitRank, s)
	}
	level, err := strconv.Atoi(lvl)
	if err != nil || level < 1 || level > PitLevels {
		return PitRank{}, fmt.Errorf("%w: %q", ErrInvalidPitRank, s)
	}
	return PitRank{Prestige: prestige, Level: level}, nil
}

func parsePrestige(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, ErrInvalidPitRank
		}
		return n, nil
	}
	return fromRoman(s)
}

var romanNumerals = []struct {
	value  int
	symbol string
}{
	{1000, "M"}, {900, "CM"}, {500, "D"}, {400, "CD"},
	{100, "C"}, {90, "XC"}, {50, "L"}, {40, "XL"},
	{10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

func toRoman(n int) string {
	if n <= 0 {
		return "0"
	}
	var b strings.Builder
	for _, r := range romanNumerals {
		for n >= r.value {
			b.WriteString(r.symbol)
			n -= r.value
		}
	}
	return b.String()
}

func fromRoman(s string) (int, error) {
	s = strings.ToUpper(s)
	if s == "" {
		return 0, ErrInvalidPitRank
	}
	n := 0
	rest := s
	for _, r := range romanNumerals {
		for strings.HasPrefix(rest, r.symbol) {
			n += r.value
			rest = rest[len(r.symbol):]
		}
	}
	if rest != "" || toRoman(n) != s {
		return 0, ErrInvalidPitRank
	}
	return n, nil
}
