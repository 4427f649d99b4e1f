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
	"fmt"
	"slices"
	"time"

	"github.com/AleutianAI/hypickle/pkg/validation"
)

// Profile wraps a profile payload with typed accessors.
type Profile struct {
	doc Document
}

// NewProfile wraps doc, the payload returned for ResourceProfile.
func NewProfile(doc Document) Profile {
	return Profile{doc: doc}
}

// Document returns the underlying payload.
func (p Profile) Document() Document {
	return p.doc
}

// ID returns the player's identifier as the service reports it.
func (p Profile) ID() string {
	id, _ := p.doc.String("uuid")
	return id
}

// DisplayName returns the player's current handle.
//
// Returns validation.ErrUnsafeName when the service reports a name with
// characters outside [A-Za-z0-9_], since names end up in file paths.
func (p Profile) DisplayName() (string, error) {
	name, ok := p.doc.String("displayname")
	if !ok {
		return "", fmt.Errorf("profile %s has no display name: %w", p.ID(), validation.ErrEmptyInput)
	}
	return validation.SanitizeDisplayName(name)
}

// FinalKills returns lifetime bedwars final kills.
func (p Profile) FinalKills() int64 {
	n, _ := p.doc.Int("stats", "Bedwars", "final_kills_bedwars")
	return n
}

// FinalDeaths returns lifetime bedwars final deaths.
func (p Profile) FinalDeaths() int64 {
	n, _ := p.doc.Int("stats", "Bedwars", "final_deaths_bedwars")
	return n
}

// FKDR returns the final kill/death ratio. With no deaths the ratio is the
// kill count.
func (p Profile) FKDR() float64 {
	kills, deaths := p.FinalKills(), p.FinalDeaths()
	if deaths == 0 {
		return float64(kills)
	}
	return float64(kills) / float64(deaths)
}

// BedwarsStar returns the bedwars level.
func (p Profile) BedwarsStar() int64 {
	n, _ := p.doc.Int("achievements", "bedwars_level")
	return n
}

// PitXP returns total pit experience.
func (p Profile) PitXP() int64 {
	n, _ := p.doc.Int("stats", "Pit", "profile", "xp")
	return n
}

// PitRank returns the pit rank derived from PitXP.
func (p Profile) PitRank() PitRank {
	return PitRankFromXP(p.PitXP())
}

// Presence returns the last login and logout times. visible is false when
// the player hides their online status, in which case either time may be
// zero.
func (p Profile) Presence() (login, logout time.Time, visible bool) {
	in, hasIn := p.doc.Int("lastLogin")
	out, hasOut := p.doc.Int("lastLogout")
	if hasIn {
		login = time.UnixMilli(in)
	}
	if hasOut {
		logout = time.UnixMilli(out)
	}
	return login, logout, hasIn && hasOut
}

// Equal reports whether two profiles are identical field for field.
func (p Profile) Equal(other Profile) bool {
	return p.doc.Equal(other.doc)
}

// Friendship is one entry of a friends payload.
type Friendship struct {
	// ID is the other party's identifier.
	ID string

	// Started is when the friendship began, in epoch milliseconds.
	Started float64
}

// FriendEdges decodes a ResourceFriends payload for self.
//
// # Description
//
// Each record names a sender and a receiver; the friend is whichever is not
// self. Records missing both identifiers are skipped. The service lists
// oldest first, so the result is reversed to put the newest friendship
// first.
//
// # Inputs
//
//   - doc: Payload returned for ResourceFriends.
//   - self: Identifier of the player whose friends were requested, in the
//     normalised form.
func FriendEdges(doc Document, self string) []Friendship {
	records := doc.Objects("records")
	out := make([]Friendship, 0, len(records))
	for _, rec := range records {
		sender, _ := rec.String("uuidSender")
		receiver, _ := rec.String("uuidReceiver")
		friend := receiver
		if sameID(receiver, self) {
			friend = sender
		}
		if friend == "" {
			continue
		}
		started, _ := rec.Float("started")
		out = append(out, Friendship{ID: friend, Started: started})
	}
	slices.Reverse(out)
	return out
}

// SessionOnline reports whether a ResourceStatus payload shows the player
// online.
func SessionOnline(doc Document) bool {
	online, _ := doc.Bool("session", "online")
	return online
}

// RecentGames returns the games of a ResourceRecentGames payload, newest
// first as the service orders them.
func RecentGames(doc Document) []Document {
	return doc.Objects("games")
}

// GameInProgress reports whether a recent game has not ended yet.
func GameInProgress(game Document) bool {
	return !game.Has("ended")
}

func sameID(a, b string) bool {
	na, errA := validation.NormalizeIdentifier(a)
	nb, errB := validation.NormalizeIdentifier(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return na == nb
}
