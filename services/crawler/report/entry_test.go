package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/hypickle/services/crawler/graph"
	storebadger "github.com/AleutianAI/hypickle/services/crawler/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestEntry_MarshalJSON(t *testing.T) {
	day, err := graph.FromDate("2024-03-01")
	require.NoError(t, err)

	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{
			name:  "leaf has no friends key",
			entry: Entry{UUID: "a"},
			want:  `{"uuid":"a"}`,
		},
		{
			name:  "expanded without friends",
			entry: Entry{UUID: "a", Expanded: true},
			want:  `{"uuid":"a","friends":[]}`,
		},
		{
			name:  "date time",
			entry: Entry{UUID: "a", Time: day},
			want:  `{"uuid":"a","time":"2024-03-01"}`,
		},
		{
			name:  "epoch time",
			entry: Entry{UUID: "a", Time: graph.FromMillis(1700000000000), EpochTime: true},
			want:  `{"uuid":"a","time":1700000000000}`,
		},
		{
			name:  "zero stats are kept",
			entry: Entry{UUID: "a", Name: "Notch", FKDR: ptr(0.0), Star: ptr(int64(0)), PitRank: "0-1"},
			want:  `{"uuid":"a","name":"Notch","fkdr":0,"star":0,"pit_rank":"0-1"}`,
		},
		{
			name:  "combined root",
			entry: Entry{UUID: "a", Expanded: true, RootExcluded: true},
			want:  `{"uuid":"a","friends":[],"root_excluded":true}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.entry)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestEntry_UnmarshalJSON(t *testing.T) {
	var e Entry
	require.NoError(t, json.Unmarshal([]byte(`{
		"uuid": "r",
		"friends": [
			{"uuid": "a", "time": 1700000000000},
			{"uuid": "b", "time": "2024-03-01", "friends": []}
		]
	}`), &e))

	assert.True(t, e.Expanded)
	require.Len(t, e.Friends, 2)
	assert.True(t, e.Friends[0].EpochTime)
	assert.Equal(t, int64(1700000000000), e.Friends[0].Time.Millis())
	assert.False(t, e.Friends[0].Expanded)
	assert.Equal(t, "2024-03-01", e.Friends[1].Time.Date())
	assert.True(t, e.Friends[1].Expanded)
	assert.Equal(t, 3, e.Count())
	assert.Equal(t, 1, e.Depth())
}

func TestEntry_CheckUnique(t *testing.T) {
	e := Entry{UUID: "r", Friends: []Entry{{UUID: "a"}, {UUID: "b"}, {UUID: "a"}}}
	err := e.CheckUnique()
	require.ErrorIs(t, err, graph.ErrInvariant)

	var inv *graph.InvariantError
	require.ErrorAs(t, err, &inv)
	assert.Contains(t, inv.Detail, "a appears twice")
}

func TestEntry_CloneIsDeep(t *testing.T) {
	e := Entry{UUID: "r", FKDR: ptr(1.5), Friends: []Entry{{UUID: "a", Star: ptr(int64(3))}}}
	c := e.Clone()
	*c.FKDR = 9
	*c.Friends[0].Star = 9
	c.Friends[0].UUID = "z"

	assert.InDelta(t, 1.5, *e.FKDR, 1e-9)
	assert.Equal(t, int64(3), *e.Friends[0].Star)
	assert.Equal(t, "a", e.Friends[0].UUID)
}

func TestParseSortKey(t *testing.T) {
	tests := []struct {
		in      string
		want    SortKey
		wantErr bool
	}{
		{"", SortFKDR, false},
		{"fkdr", SortFKDR, false},
		{"STAR", SortStar, false},
		{"pit_rank", SortPitRank, false},
		{"pitrank", SortPitRank, false},
		{"kills", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSortKey(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownSortKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSortKey_Sort(t *testing.T) {
	t.Run("pit rank decodes prestige", func(t *testing.T) {
		entries := []Entry{
			{UUID: "a", PitRank: "0-120"},
			{UUID: "b", PitRank: "II-3"},
			{UUID: "c", PitRank: "I-60"},
		}
		require.True(t, SortPitRank.Sort(entries))
		assert.Equal(t, "b", entries[0].UUID)
		assert.Equal(t, "c", entries[1].UUID)
		assert.Equal(t, "a", entries[2].UUID)
	})

	t.Run("missing stat keeps order", func(t *testing.T) {
		entries := []Entry{{UUID: "a", FKDR: ptr(1.0)}, {UUID: "b"}, {UUID: "c", FKDR: ptr(3.0)}}
		assert.False(t, SortFKDR.Sort(entries))
		assert.Equal(t, "a", entries[0].UUID)
	})

	t.Run("ties keep order", func(t *testing.T) {
		entries := []Entry{{UUID: "a", Star: ptr(int64(5))}, {UUID: "b", Star: ptr(int64(9))}, {UUID: "c", Star: ptr(int64(5))}}
		require.True(t, SortStar.Sort(entries))
		assert.Equal(t, []string{"b", "a", "c"}, []string{entries[0].UUID, entries[1].UUID, entries[2].UUID})
	})
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	path, err := WriteFile(dir, "Notch", Entry{UUID: "r", Expanded: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Friends of Notch.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"uuid":"r","friends":[]}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStoreCheckpointer(t *testing.T) {
	db, err := storebadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sink := &StoreCheckpointer{DB: db}
	cp := Checkpoint{Root: Entry{UUID: "r", Expanded: true, Friends: []Entry{{UUID: "a"}}}, Pass: 4, Kind: KindPass}
	require.NoError(t, sink.Checkpoint(context.Background(), cp))

	got, found, err := LoadCheckpoint(context.Background(), db, "r")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 4, got.Pass)
	assert.Len(t, got.Root.Friends, 1)

	_, found, err = LoadCheckpoint(context.Background(), db, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}
