package activity

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/hypickle/services/hypixel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const playerID = "069a79f444e94726a5befca90e38aaf5"

// scriptedClient replays documents per resource and target. The last
// document of a script repeats once the earlier ones are used up.
type scriptedClient struct {
	scripts map[string][]hypixel.Document
	calls   map[string]int
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		scripts: map[string][]hypixel.Document{},
		calls:   map[string]int{},
	}
}

func (c *scriptedClient) on(kind hypixel.Resource, id string, docs ...hypixel.Document) {
	c.scripts[string(kind)+":"+id] = docs
}

func (c *scriptedClient) count(kind hypixel.Resource, id string) int {
	return c.calls[string(kind)+":"+id]
}

func (c *scriptedClient) Request(_ context.Context, kind hypixel.Resource, target string) (hypixel.Document, error) {
	key := string(kind) + ":" + target
	n := c.calls[key]
	c.calls[key]++
	docs, ok := c.scripts[key]
	if !ok || len(docs) == 0 {
		return nil, &hypixel.NotFoundError{Target: target}
	}
	if n >= len(docs) {
		n = len(docs) - 1
	}
	return docs[n], nil
}

func bedwarsProfile(kills int) hypixel.Document {
	return hypixel.Document{
		"uuid":        playerID,
		"displayname": "Notch",
		"stats": map[string]any{
			"Bedwars": map[string]any{"final_kills_bedwars": float64(kills)},
		},
	}
}

func visibleProfile(login, logout float64) hypixel.Document {
	doc := bedwarsProfile(10)
	doc["lastLogin"] = login
	doc["lastLogout"] = logout
	return doc
}

func online(v bool) hypixel.Document {
	return hypixel.Document{"session": map[string]any{"online": v}}
}

func newTestDetector(client hypixel.Requester) *Detector {
	return NewDetector(client, NewProfileStore(client, nil), DefaultConfig())
}

func TestDetector_VisiblePresence(t *testing.T) {
	tests := []struct {
		name       string
		login      float64
		logout     float64
		online     bool
		recheck    bool
		want       bool
		wantStatus int
	}{
		{"logged in and online", 200, 100, true, false, true, 1},
		{"logged in but status offline", 200, 100, false, false, false, 1},
		{"logged out skips status", 100, 200, true, false, false, 0},
		{"recheck ignores stale logout", 100, 200, true, true, true, 1},
		{"recheck still needs status", 100, 200, false, true, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newScriptedClient()
			client.on(hypixel.ResourceProfile, playerID, visibleProfile(tt.login, tt.logout))
			client.on(hypixel.ResourceStatus, playerID, online(tt.online))
			d := newTestDetector(client)

			got, err := d.IsActive(context.Background(), playerID, tt.recheck)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantStatus, client.count(hypixel.ResourceStatus, playerID))
			assert.Zero(t, client.count(hypixel.ResourceRecentGames, playerID))
		})
	}
}

func TestDetector_HiddenPresenceProfileChanged(t *testing.T) {
	client := newScriptedClient()
	client.on(hypixel.ResourceProfile, playerID, bedwarsProfile(10), bedwarsProfile(11))
	d := newTestDetector(client)

	active, err := d.IsActive(context.Background(), playerID, false)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Zero(t, client.count(hypixel.ResourceRecentGames, playerID))

	// Stats keep coming from the baseline.
	base, err := d.store.Get(context.Background(), playerID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), base.FinalKills())

	latest, ok := d.store.latest[storeKey(playerID)]
	require.True(t, ok)
	assert.Equal(t, int64(11), latest.profile.FinalKills())
}

func TestDetector_HiddenPresenceRecentGames(t *testing.T) {
	tests := []struct {
		name  string
		games []any
		want  bool
	}{
		{"newest game in progress", []any{map[string]any{"gameType": "BEDWARS"}}, true},
		{"newest game ended", []any{map[string]any{"gameType": "BEDWARS", "ended": float64(1)}}, false},
		{"older game in progress only", []any{
			map[string]any{"ended": float64(2)},
			map[string]any{"gameType": "PIT"},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newScriptedClient()
			client.on(hypixel.ResourceProfile, playerID, bedwarsProfile(10))
			client.on(hypixel.ResourceRecentGames, playerID, hypixel.Document{"games": tt.games})
			d := newTestDetector(client)

			got, err := d.IsActive(context.Background(), playerID, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.False(t, d.hidesGames(playerID))
		})
	}
}

func TestDetector_GamesHiddenIsRemembered(t *testing.T) {
	client := newScriptedClient()
	client.on(hypixel.ResourceProfile, playerID, bedwarsProfile(10))
	client.on(hypixel.ResourceRecentGames, playerID, hypixel.Document{"games": []any{}})
	d := newTestDetector(client)

	for range 3 {
		active, err := d.IsActive(context.Background(), playerID, true)
		require.NoError(t, err)
		assert.False(t, active)
	}
	assert.True(t, d.hidesGames(playerID))
	assert.Equal(t, 1, client.count(hypixel.ResourceRecentGames, playerID))
}

func TestDetector_StrategiesDisabled(t *testing.T) {
	client := newScriptedClient()
	client.on(hypixel.ResourceProfile, playerID, bedwarsProfile(10), bedwarsProfile(11))
	d := NewDetector(client, NewProfileStore(client, nil), Config{DisableProfileDiff: true, DisableRecentGames: true})

	active, err := d.IsActive(context.Background(), playerID, false)
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, 1, client.count(hypixel.ResourceProfile, playerID))
}

func TestDetector_ZeroConfigInfersHiddenPresence(t *testing.T) {
	assert.Equal(t, Config{}, DefaultConfig())

	client := newScriptedClient()
	client.on(hypixel.ResourceProfile, playerID, bedwarsProfile(10), bedwarsProfile(11))
	d := NewDetector(client, NewProfileStore(client, nil), Config{})

	active, err := d.IsActive(context.Background(), playerID, false)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, 2, client.count(hypixel.ResourceProfile, playerID))
}

func TestDetector_NotFound(t *testing.T) {
	d := newTestDetector(newScriptedClient())

	_, err := d.IsActive(context.Background(), playerID, false)
	assert.True(t, errors.Is(err, hypixel.ErrNotFound))
}

func TestProfileStore_SeedAndDashedIDs(t *testing.T) {
	client := newScriptedClient()
	store := NewProfileStore(client, nil)
	store.Seed(playerID, bedwarsProfile(4))

	p, err := store.Get(context.Background(), "069a79f4-44e9-4726-a5be-fca90e38aaf5")
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.FinalKills())
	assert.Equal(t, 1, store.Len())
	assert.Zero(t, client.count(hypixel.ResourceProfile, playerID))
}
