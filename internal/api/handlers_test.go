package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koopa0/system-design/gesturehub/internal/api"
	"github.com/koopa0/system-design/gesturehub/internal/hub"
	"github.com/koopa0/system-design/gesturehub/internal/protocol"
	"github.com/koopa0/system-design/gesturehub/internal/room"
	"github.com/koopa0/system-design/gesturehub/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	router   http.Handler
	rooms    *room.Service
	registry *hub.Registry
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()

	backend := room.NewMemoryBackend(testutils.Logger())
	t.Cleanup(func() { _ = backend.Close() })

	rooms := room.NewService(backend, room.Options{}, testutils.Logger())
	registry := hub.NewRegistry(testutils.Logger())
	t.Cleanup(registry.Close)
	dispatcher := protocol.NewDispatcher(rooms, registry, protocol.Options{}, testutils.Logger())

	router := api.NewRouter(api.Deps{
		Rooms:          rooms,
		Registry:       registry,
		Dispatcher:     dispatcher,
		AllowedOrigins: []string{"http://localhost:5173"},
		Logger:         testutils.Logger(),
	})

	return &testAPI{router: router, rooms: rooms, registry: registry}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// recordingConn 記錄收到的訊息
type recordingConn struct {
	got []hub.Envelope
}

func (c *recordingConn) Send(env hub.Envelope) error {
	c.got = append(c.got, env)
	return nil
}

func (c *recordingConn) Close() error { return nil }

func TestRoot(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]string](t, w)
	assert.Equal(t, "Welcome to GestureHub API", body["message"])
	assert.Equal(t, "1.0.0", body["version"])
}

func TestHealthAndStats(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "memory", health["store"])

	w = a.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[map[string]any](t, w)
	assert.Equal(t, "memory", stats["store"])
	assert.Contains(t, stats, "uptime")

	conns, ok := stats["connections"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 0, conns["total_connections"])

	msgs, ok := stats["messages"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 0, msgs["messages_handled"])
}

func TestCreateRoom(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
		wantMax    int
	}{
		{name: "default capacity", body: `{"username":"alice"}`, wantStatus: http.StatusCreated, wantMax: 6},
		{name: "explicit capacity", body: `{"username":"alice","max_players":2}`, wantStatus: http.StatusCreated, wantMax: 2},
		{name: "capacity too small", body: `{"username":"alice","max_players":1}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
		{name: "capacity too large", body: `{"username":"alice","max_players":7}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
		{name: "missing username", body: `{"username":"  "}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := setupAPI(t)

			w := a.do(t, http.MethodPost, "/api/rooms/create", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decode[errResp](t, w).Code)
				return
			}

			rm := decode[room.Room](t, w)
			playerID := w.Header().Get(api.HeaderPlayerID)
			require.NotEmpty(t, playerID)

			assert.Len(t, rm.Code, 6)
			assert.Equal(t, playerID, rm.HostID)
			assert.Equal(t, tt.wantMax, rm.MaxPlayers)
			require.Len(t, rm.Players, 1)
			assert.Equal(t, "alice", rm.Players[0].Username)
				})
	}
}

func TestJoinRoom(t *testing.T) {
	a := setupAPI(t)
	ctx := context.Background()

	created, err := a.rooms.CreateRoom(ctx, "host", "alice", 2)
	require.NoError(t, err)

	t.Run("joins with lowercase code", func(t *testing.T) {
		body := `{"room_code":"` + strings.ToLower(created.Code) + `","username":"bob"}`
		w := a.do(t, http.MethodPost, "/api/rooms/join", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		rm := decode[room.Room](t, w)
		playerID := w.Header().Get(api.HeaderPlayerID)
		require.NotEmpty(t, playerID)
		assert.True(t, rm.HasPlayer(playerID))
		assert.Len(t, rm.Players, 2)
	})

	t.Run("rejoin with existing id", func(t *testing.T) {
		body := `{"room_code":"` + created.Code + `","username":"alice","player_id":"host"}`
		w := a.do(t, http.MethodPost, "/api/rooms/join", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "host", w.Header().Get(api.HeaderPlayerID))
		assert.Len(t, decode[room.Room](t, w).Players, 2)
	})

	t.Run("full", func(t *testing.T) {
		body := `{"room_code":"` + created.Code + `","username":"carol"}`
		w := a.do(t, http.MethodPost, "/api/rooms/join", body)
		require.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "ROOM_FULL", decode[errResp](t, w).Code)
	})

	t.Run("not found", func(t *testing.T) {
		w := a.do(t, http.MethodPost, "/api/rooms/join", `{"room_code":"ZZZZZZ","username":"dave"}`)
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "ROOM_NOT_FOUND", decode[errResp](t, w).Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		w := a.do(t, http.MethodPost, "/api/rooms/join", `{"room_code":"","username":"dave"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetAndListRooms(t *testing.T) {
	a := setupAPI(t)
	ctx := context.Background()

	w := a.do(t, http.MethodGet, "/api/rooms", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]string](t, w))

	created, err := a.rooms.CreateRoom(ctx, "host", "alice", 4)
	require.NoError(t, err)

	w = a.do(t, http.MethodGet, "/api/rooms/"+created.Code, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.Code, decode[room.Room](t, w).Code)

	w = a.do(t, http.MethodGet, "/api/rooms/NOPE00", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodGet, "/api/rooms/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{created.Code}, decode[[]string](t, w))
}

func TestLeaveRoom(t *testing.T) {
	a := setupAPI(t)
	ctx := context.Background()

	created, err := a.rooms.CreateRoom(ctx, "host", "alice", 4)
	require.NoError(t, err)
	_, err = a.rooms.JoinRoom(ctx, created.Code, "p2", "bob")
	require.NoError(t, err)

	watcher := &recordingConn{}
	a.registry.Register(created.Code, "p2", watcher)

	w := a.do(t, http.MethodDelete, "/api/rooms/"+created.Code+"/host", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode[struct {
		Message string     `json:"message"`
		Room    *room.Room `json:"room"`
	}](t, w)
	assert.Equal(t, "Left room successfully", body.Message)
	require.NotNil(t, body.Room)
	assert.Equal(t, "p2", body.Room.HostID)

	require.Len(t, watcher.got, 1)
	assert.Equal(t, protocol.TypePlayerLeft, watcher.got[0].Type)
	assert.Equal(t, "host", watcher.got[0].Data["player_id"])
	assert.Equal(t, "p2", watcher.got[0].Data["new_host_id"])

	// 最後一位離開後房間刪除
	w = a.do(t, http.MethodDelete, "/api/rooms/"+created.Code+"/p2", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/api/rooms/"+created.Code, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodDelete, "/api/rooms/"+created.Code+"/p2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS(t *testing.T) {
	a := setupAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/rooms/create", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
