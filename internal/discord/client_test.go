package discord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elysium-gg/spawnkeeper/internal/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/channels/chan-1/threads", r.URL.Path)
		require.Equal(t, "Bot tok", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "[3/14/26 19:00] Baium", body["name"])
		require.EqualValues(t, 11, body["type"])
		require.EqualValues(t, 1440, body["auto_archive_duration"])

		json.NewEncoder(w).Encode(map[string]any{"id": "thr-1", "name": body["name"]})
	}))
	defer srv.Close()

	c := NewClient("tok", testLogger(), WithBaseURL(srv.URL))
	ref, err := c.CreateThread(context.Background(), "chan-1", "[3/14/26 19:00] Baium", 1440)
	require.NoError(t, err)
	require.Equal(t, chat.ThreadRef{ID: "thr-1", Name: "[3/14/26 19:00] Baium"}, ref)
}

func TestAddReaction_EscapesEmoji(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient("tok", testLogger(), WithBaseURL(srv.URL))
	require.NoError(t, c.AddReaction(context.Background(), "ch", "msg", chat.EmojiApprove))
	require.Equal(t, "/channels/ch/messages/msg/reactions/%E2%9C%85/@me", gotPath)
}

func TestRateLimitRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{"retry_after": 0.25})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "m-1"})
	}))
	defer srv.Close()

	var slept []time.Duration
	c := NewClient("tok", testLogger(), WithBaseURL(srv.URL), WithSleep(func(d time.Duration) {
		slept = append(slept, d)
	}))
	id, err := c.SendMessage(context.Background(), "ch", "hello")
	require.NoError(t, err)
	require.Equal(t, "m-1", id)
	require.Equal(t, 2, calls)
	require.Equal(t, []time.Duration{250 * time.Millisecond}, slept)
}

func TestAPIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"code": 50001, "message": "Missing Access"})
	}))
	defer srv.Close()

	c := NewClient("tok", testLogger(), WithBaseURL(srv.URL))
	_, err := c.SendMessage(context.Background(), "ch", "hello")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	require.Equal(t, 50001, apiErr.Code)
	require.Equal(t, "Missing Access", apiErr.Message)
}

func TestFetchMessages_OldestFirstAndMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "100", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"id": "m-2", "channel_id": "ch",
				"author":    map[string]any{"id": "u-2", "username": "mira"},
				"content":   "present",
				"timestamp": "2026-03-14T11:01:00+00:00",
				"attachments": []map[string]any{{"id": "a-1"}},
			},
			{
				"id": "m-1", "channel_id": "ch",
				"author":    map[string]any{"id": "u-1", "username": "bot", "bot": true},
				"member":    map[string]any{"nick": "SpawnKeeper"},
				"content":   "Baium spawning at 19:00!",
				"timestamp": "2026-03-14T11:00:00+00:00",
			},
		})
	}))
	defer srv.Close()

	c := NewClient("tok", testLogger(), WithBaseURL(srv.URL))
	msgs, err := c.FetchMessages(context.Background(), "ch", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m-1", msgs[0].ID, "oldest first")
	require.True(t, msgs[0].AuthorIsBot)
	require.Equal(t, "SpawnKeeper", msgs[0].AuthorName, "nick wins over username")
	require.True(t, msgs[1].HasAttachment)
	require.Equal(t, "mira", msgs[1].AuthorName)
}

func TestFetchMember(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/guilds/g-1/members/u-9", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"user":  map[string]any{"id": "u-9", "username": "gm"},
			"nick":  "Guildmaster",
			"roles": []string{"r-admin", "r-member"},
		})
	}))
	defer srv.Close()

	c := NewClient("tok", testLogger(), WithBaseURL(srv.URL))
	member, err := c.FetchMember(context.Background(), "g-1", "u-9")
	require.NoError(t, err)
	require.Equal(t, chat.Member{ID: "u-9", DisplayName: "Guildmaster", RoleIDs: []string{"r-admin", "r-member"}}, member)
}

func TestListActiveThreads_FiltersByParent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/guilds/g-1/threads/active", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"threads": []map[string]any{
				{"id": "thr-1", "name": "[3/14/26 19:00] Baium", "parent_id": "chan"},
				{"id": "thr-2", "name": "offtopic", "parent_id": "other"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("tok", testLogger(), WithBaseURL(srv.URL))
	threads, err := c.ListActiveThreads(context.Background(), "g-1", "chan")
	require.NoError(t, err)
	require.Equal(t, []chat.ThreadRef{{ID: "thr-1", Name: "[3/14/26 19:00] Baium"}}, threads)
}
