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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testID    = "069a79f444e94726a5befca90e38aaf5"
	testOther = "853c80ef3c3749fdaa49938b674adae6"
)

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

func (c *fakeClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, clock Clock) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	keys, err := NewKeyRing("test-key")
	require.NoError(t, err)

	c, err := NewClient(Config{BaseURL: srv.URL, Clock: clock}, keys)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestClient_RateLimitNeverProceedsBeforeResumeAt(t *testing.T) {
	clock := newFakeClock()

	var mu sync.Mutex
	var arrivals []time.Time
	handler := func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, clock.Now())
		first := len(arrivals) == 1
		mu.Unlock()
		if first {
			w.Header().Set("RateLimit-Remaining", "1")
			w.Header().Set("RateLimit-Reset", "5")
		} else {
			w.Header().Set("RateLimit-Remaining", "100")
			w.Header().Set("RateLimit-Reset", "60")
		}
		writeJSON(w, http.StatusOK, `{"success":true,"records":[]}`)
	}
	c := newTestClient(t, handler, clock)
	ctx := context.Background()

	_, err := c.Request(ctx, ResourceFriends, testID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(6*time.Second), c.ResumeAt())

	_, err = c.Request(ctx, ResourceFriends, testID)
	require.NoError(t, err)

	require.Len(t, arrivals, 2)
	assert.False(t, arrivals[1].Before(arrivals[0].Add(5*time.Second)),
		"second request at %v, first at %v", arrivals[1], arrivals[0])
	assert.Equal(t, []time.Duration{6 * time.Second}, clock.sleeps())
	assert.True(t, c.ResumeAt().IsZero())
	assert.Equal(t, int64(2), c.Calls())
}

func TestClient_NoWaitWithBudgetLeft(t *testing.T) {
	clock := newFakeClock()
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Remaining", "2")
		w.Header().Set("RateLimit-Reset", "30")
		writeJSON(w, http.StatusOK, `{"success":true,"session":{"online":false}}`)
	}
	c := newTestClient(t, handler, clock)

	for range 3 {
		_, err := c.Request(context.Background(), ResourceStatus, testID)
		require.NoError(t, err)
	}
	assert.Empty(t, clock.sleeps())
}

func TestClient_CancelledWaitKeepsResumeAt(t *testing.T) {
	clock := newFakeClock()
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Remaining", "0")
		w.Header().Set("RateLimit-Reset", "10")
		writeJSON(w, http.StatusOK, `{"success":true,"records":[]}`)
	}
	c := newTestClient(t, handler, clock)

	_, err := c.Request(context.Background(), ResourceFriends, testID)
	require.NoError(t, err)
	resumeAt := c.ResumeAt()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Request(ctx, ResourceFriends, testID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, resumeAt, c.ResumeAt())
	assert.Equal(t, int64(1), c.Calls())
}

func TestClient_Request(t *testing.T) {
	tests := []struct {
		name      string
		kind      Resource
		target    string
		status    int
		body      string
		wantQuery string
		wantErr   error
		check     func(t *testing.T, doc Document, err error)
	}{
		{
			name:      "profile by identifier returns player payload",
			kind:      ResourceProfile,
			target:    testID,
			status:    http.StatusOK,
			body:      `{"success":true,"player":{"uuid":"` + testID + `","displayname":"Notch"}}`,
			wantQuery: "uuid=" + testID,
			check: func(t *testing.T, doc Document, err error) {
				name, ok := doc.String("displayname")
				assert.True(t, ok)
				assert.Equal(t, "Notch", name)
			},
		},
		{
			name:      "profile by handle uses name parameter",
			kind:      ResourceProfile,
			target:    "Notch",
			status:    http.StatusOK,
			body:      `{"success":true,"player":{"uuid":"` + testID + `"}}`,
			wantQuery: "name=Notch",
		},
		{
			name:    "null player is not found",
			kind:    ResourceProfile,
			target:  "ghost",
			status:  http.StatusOK,
			body:    `{"success":true,"player":null}`,
			wantErr: ErrNotFound,
		},
		{
			name:    "success false is a service error",
			kind:    ResourceFriends,
			target:  testID,
			status:  http.StatusTooManyRequests,
			body:    `{"success":false,"cause":"Key throttle"}`,
			wantErr: ErrService,
			check: func(t *testing.T, doc Document, err error) {
				var svcErr *ServiceError
				require.True(t, errors.As(err, &svcErr))
				assert.Equal(t, "Key throttle", svcErr.Cause)
				assert.Equal(t, http.StatusTooManyRequests, svcErr.Status)
			},
		},
		{
			name:    "malformed body is a service error",
			kind:    ResourceStatus,
			target:  testID,
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			wantErr: ErrService,
		},
		{
			name:   "friends payload is returned whole",
			kind:   ResourceFriends,
			target: testID,
			status: http.StatusOK,
			body:   `{"success":true,"records":[{"uuidSender":"a"}]}`,
			check: func(t *testing.T, doc Document, err error) {
				assert.Len(t, doc.Objects("records"), 1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotQuery, gotKey string
			handler := func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.RawQuery
				gotKey = r.Header.Get("API-Key")
				writeJSON(w, tt.status, tt.body)
			}
			c := newTestClient(t, handler, newFakeClock())

			doc, err := c.Request(context.Background(), tt.kind, tt.target)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "test-key", gotKey)
			}
			if tt.wantQuery != "" {
				assert.Equal(t, tt.wantQuery, gotQuery)
			}
			if tt.check != nil {
				tt.check(t, doc, err)
			}
		})
	}
}

func TestClient_HandleRejectedForNonProfile(t *testing.T) {
	called := false
	handler := func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeJSON(w, http.StatusOK, `{"success":true}`)
	}
	c := newTestClient(t, handler, newFakeClock())

	for _, kind := range []Resource{ResourceFriends, ResourceStatus, ResourceRecentGames} {
		_, err := c.Request(context.Background(), kind, "Notch")
		assert.ErrorIs(t, err, ErrHandleNotAllowed, "kind=%s", kind)
	}
	assert.False(t, called)
	assert.Zero(t, c.Calls())
}

func TestClient_ValidateKey(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leaderboards", r.URL.Path)
		switch r.Header.Get("API-Key") {
		case "good":
			writeJSON(w, http.StatusOK, `{"success":true,"leaderboards":{}}`)
		case "bad":
			writeJSON(w, http.StatusForbidden, `{"success":false,"cause":"Invalid API key"}`)
		default:
			writeJSON(w, http.StatusInternalServerError, `{"success":false,"cause":"boom"}`)
		}
	}
	c := newTestClient(t, handler, newFakeClock())
	ctx := context.Background()

	assert.NoError(t, c.ValidateKey(ctx, "good"))
	assert.ErrorIs(t, c.ValidateKey(ctx, "bad"), ErrInvalidKey)

	err := c.ValidateKey(ctx, "other")
	assert.ErrorIs(t, err, ErrService)
	assert.NotErrorIs(t, err, ErrInvalidKey)
}

func TestNewClient_RequiresKeys(t *testing.T) {
	_, err := NewClient(DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNoKeys)
}
