package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/voiceroom/internal/adapters/store"
	"github.com/dkeye/voiceroom/internal/app"
	"github.com/dkeye/voiceroom/internal/app/orch"
	"github.com/dkeye/voiceroom/internal/config"
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	store *store.Memory
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Mode:       "test",
		Secret:     "test-secret",
		ReadLimit:  32768,
		PingPeriod: time.Minute,
		Room:       config.RoomConfig{ChatRateLimit: 2, ChatRateInterval: time.Minute},
	}
	mem := store.NewMemory()
	mirror := app.NewMirror(mem, app.MirrorOptions{Workers: 1})
	reg := app.NewRegistry()
	rooms := app.NewRoomManager(mem, core.RoomOptions{StageSlots: 2, Persister: mirror}, time.Second)
	o := &orch.Orchestrator{
		Registry:     reg,
		Rooms:        rooms,
		Policy:       app.SimplePolicy{},
		Relay:        app.NewRelay(reg),
		Profiles:     mem,
		Mirror:       mirror,
		StoreTimeout: time.Second,
		History:      mem,
	}
	rooms.SetBackpressureHandler(o.OnBackpressure)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = mirror.Run(ctx) }()
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{Server: srv, store: mem}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *testServer) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) emit(typ string, payload any) {
	c.t.Helper()
	frame, err := core.Encode(typ, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

// expect reads until a frame of type typ arrives.
func (c *wsClient) expect(typ string, v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env core.Envelope
		require.NoError(c.t, c.conn.ReadJSON(&env), "waiting for %s", typ)
		if env.Type != typ {
			continue
		}
		if v != nil {
			require.NoError(c.t, json.Unmarshal(env.Payload, v))
		}
		return
	}
}

func (c *wsClient) join(room, id string, role domain.Role) domain.RoomState {
	c.t.Helper()
	c.emit(core.EvJoinRoom, map[string]any{
		"roomId":   room,
		"identity": domain.Identity{ID: domain.UserID(id), Username: id, Role: role},
	})
	var st domain.RoomState
	c.expect(core.EvRoomStateUpdate, &st)
	return st
}

func TestRouter_RoomListing(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/api/rooms/R1")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	a := dial(t, srv)
	a.join("R1", "alice", domain.RoleMember)

	resp, err = http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Rooms []domain.RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []domain.RoomInfo{{ID: "R1", Name: "R1", MemberCount: 1}}, body.Rooms)

	resp2, err := http.Get(srv.URL + "/api/rooms/R1")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var st domain.RoomState
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&st))
	require.Len(t, st.Members, 1)
	assert.Equal(t, domain.UserID("alice"), st.Members[0].ID)
}

func TestRouter_MessagesOutliveTheRoom(t *testing.T) {
	srv := newServer(t)
	fetch := func() []domain.Message {
		resp, err := http.Get(srv.URL + "/api/rooms/R1/messages")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Messages []domain.Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body.Messages
	}
	assert.Empty(t, fetch())

	a := dial(t, srv)
	a.join("R1", "alice", domain.RoleMember)
	a.emit(core.EvSendChatMessage, map[string]string{"text": "remember me"})
	a.expect(core.EvChatMessage, nil)
	require.NoError(t, a.conn.Close())

	require.Eventually(t, func() bool {
		for _, m := range fetch() {
			if m.Text == "remember me" && m.SenderID == "alice" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_SetsClientSession(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.NotEmpty(t, resp.Cookies())
	assert.Equal(t, "VoiceSessions", resp.Cookies()[0].Name)
}

func TestSignal_EndToEnd(t *testing.T) {
	srv := newServer(t)
	a := dial(t, srv)
	b := dial(t, srv)

	a.join("R1", "alice", domain.RoleMember)
	st := b.join("R1", "bob", domain.RoleMember)
	assert.Len(t, st.Members, 2)

	var joined domain.MemberView
	a.expect(core.EvUserJoined, &joined)
	assert.Equal(t, domain.UserID("bob"), joined.ID)

	b.emit(core.EvSendChatMessage, map[string]string{"text": "hi"})
	var msg domain.Message
	a.expect(core.EvChatMessage, &msg)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, domain.UserID("bob"), msg.SenderID)

	b.emit(core.EvRequestMicAscent, nil)
	a.expect(core.EvRoomStateUpdate, &st)
	assert.Equal(t, domain.UserID("bob"), st.StageSlots[0])

	a.emit(core.EvWebRTCOffer, map[string]any{"targetUserId": "bob", "payload": map[string]string{"sdp": "v=0"}})
	var sig core.SignalPayload
	b.expect(core.EvWebRTCOffer, &sig)
	assert.Equal(t, domain.UserID("alice"), sig.From)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(sig.Payload))

	a.emit(core.EvPing, nil)
	a.expect(core.EvPong, nil)

	require.NoError(t, b.conn.Close())
	var left core.UserLeftPayload
	a.expect(core.EvUserLeft, &left)
	assert.Equal(t, domain.UserID("bob"), left.UserID)
}

func TestSignal_ErrorsReachSenderOnly(t *testing.T) {
	srv := newServer(t)
	a := dial(t, srv)

	a.emit(core.EvSendChatMessage, map[string]string{"text": "nobody home"})
	var e core.ErrorPayload
	a.expect(core.EvError, &e)
	assert.Equal(t, core.EvSendChatMessage, e.Action)
	assert.Equal(t, domain.CodeNotFound, e.Code)

	a.emit("fly", nil)
	a.expect(core.EvError, &e)
	assert.Equal(t, domain.CodeBadPayload, e.Code)

	a.emit(core.EvJoinRoom, map[string]any{"roomId": "R1", "identity": map[string]string{"id": "x"}})
	a.expect(core.EvError, &e)
	assert.Equal(t, domain.CodeInvalidIdentity, e.Code)

	a.join("R1", "alice", domain.RoleMember)
	a.emit(core.EvModerateUser, map[string]string{"targetUserId": "alice", "action": "kick"})
	var upd core.ModerationUpdatePayload
	a.expect(core.EvModerationUpdate, &upd)
	assert.False(t, upd.Success)
}

func TestSignal_ChatRateLimit(t *testing.T) {
	srv := newServer(t)
	a := dial(t, srv)
	a.join("R1", "alice", domain.RoleMember)

	for range 2 {
		a.emit(core.EvSendChatMessage, map[string]string{"text": "spam"})
		a.expect(core.EvChatMessage, nil)
	}
	a.emit(core.EvSendChatMessage, map[string]string{"text": "spam"})
	var e core.ErrorPayload
	a.expect(core.EvError, &e)
	assert.Equal(t, domain.CodeRateLimited, e.Code)
}

func TestSignal_ChatRateLimitSurvivesReconnect(t *testing.T) {
	srv := newServer(t)
	a := dial(t, srv)
	a.join("R1", "alice", domain.RoleMember)
	for range 2 {
		a.emit(core.EvSendChatMessage, map[string]string{"text": "spam"})
		a.expect(core.EvChatMessage, nil)
	}
	require.NoError(t, a.conn.Close())

	again := dial(t, srv)
	again.join("R1", "alice", domain.RoleMember)
	again.emit(core.EvSendChatMessage, map[string]string{"text": "spam"})
	var e core.ErrorPayload
	again.expect(core.EvError, &e)
	assert.Equal(t, domain.CodeRateLimited, e.Code)
}

func TestSignal_BanDisconnects(t *testing.T) {
	srv := newServer(t)
	admin := dial(t, srv)
	b := dial(t, srv)
	admin.join("R1", "root", domain.RoleAdmin)
	b.join("R1", "bob", domain.RoleMember)

	admin.emit(core.EvModerateUser, map[string]string{"targetUserId": "bob", "action": "ban"})
	var term core.TerminalPayload
	b.expect(core.EvBannedFromApp, &term)

	require.NoError(t, b.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := b.conn.ReadMessage(); err != nil {
			break
		}
	}

	require.Eventually(t, func() bool {
		p, err := srv.store.GetProfile(context.Background(), "bob")
		return err == nil && p.IsBanned
	}, 2*time.Second, 10*time.Millisecond)

	again := dial(t, srv)
	again.emit(core.EvJoinRoom, map[string]any{
		"roomId":   "R1",
		"identity": domain.Identity{ID: "bob", Username: "bob"},
	})
	again.expect(core.EvBannedFromApp, nil)
}
