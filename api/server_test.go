package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/qianlnk/werewolf-channels/auth"
	"github.com/qianlnk/werewolf-channels/models"
	"github.com/qianlnk/werewolf-channels/services"
	"github.com/qianlnk/werewolf-channels/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	verifier *auth.Verifier
	games    *services.GameManager
	history  *store.SQLiteStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := services.NewMetrics(reg)
	history, err := store.NewSQLiteStore("file:"+uuid.NewString()+"?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	hub := services.NewHub(0, metrics, nil)
	channels := services.NewMemoryChannels()
	games := services.NewGameManager(services.GameOptions{Broadcaster: hub, History: history, Metrics: metrics})
	entries := services.NewEntryRegistry(services.NewMemoryEntryStore(), channels, games, hub,
		services.EntryOptions{Capacity: 10, MinPlayers: 4}, metrics, nil)
	verifier := auth.NewVerifier("test-secret", time.Hour)

	srv := NewServer(Deps{
		Entries:  entries,
		Games:    games,
		Hub:      hub,
		Channels: channels,
		History:  history,
		Verifier: verifier,
		Gatherer: reg,
		Debug:    true,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
		games.Shutdown()
	})
	return &testServer{Server: ts, verifier: verifier, games: games, history: history}
}

func (ts *testServer) token(t *testing.T, uid string) string {
	t.Helper()
	token, err := ts.verifier.Issue(models.Identity{UserID: uid, DisplayName: "name-" + uid})
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, uid string, body any) (int, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, uid))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error models.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp.Error.Code
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "werewolf_ws_connections")
}

func TestRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	status, _ := ts.do(t, http.MethodGet, "/api/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestIssueToken(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodPost, "/api/token", "", models.Identity{UserID: "alice"})
	require.Equal(t, http.StatusOK, status)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	identity, err := ts.verifier.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.DisplayName)
}

func TestEntryAndGameFlow(t *testing.T) {
	ts := newTestServer(t)
	players := []string{"u0", "u1", "u2", "u3"}

	for _, uid := range players {
		status, _ := ts.do(t, http.MethodPost, "/api/channels/c1/entry", uid, nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, body := ts.do(t, http.MethodGet, "/api/channels/c1/entry", "u0", nil)
	require.Equal(t, http.StatusOK, status)
	var entry models.EntryUpdate
	require.NoError(t, json.Unmarshal(body, &entry))
	assert.Len(t, entry.Registered, 4)

	status, body = ts.do(t, http.MethodPost, "/api/channels/c1/start", "outsider", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NotAuthorized", errorCode(t, body))

	status, body = ts.do(t, http.MethodPost, "/api/channels/c1/start", "u0", nil)
	require.Equal(t, http.StatusOK, status)
	var info models.SessionInfo
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, 4, info.Players)
	assert.Equal(t, models.PhaseDay, info.Phase.Phase)

	status, body = ts.do(t, http.MethodGet, "/api/sessions/"+info.SessionID, "u1", nil)
	require.Equal(t, http.StatusOK, status)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "u1", snap.Self)
	for _, p := range snap.Participants {
		if p.ID == "u1" {
			assert.NotEmpty(t, p.Role)
		}
	}

	actions := "/api/sessions/" + info.SessionID + "/actions"
	status, body = ts.do(t, http.MethodPost, actions, "u0", models.Action{Day: 1, Phase: models.PhaseNight, TargetID: "u1", Kind: models.ActionVote})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "StalePhase", errorCode(t, body))

	status, body = ts.do(t, http.MethodPost, actions, "u0", models.Action{Day: 1, Phase: models.PhaseDay, TargetID: "u0", Kind: models.ActionVote})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "InvalidTarget", errorCode(t, body))

	for i, uid := range players {
		target := players[(i+1)%len(players)]
		status, body = ts.do(t, http.MethodPost, actions, uid, models.Action{Day: 1, Phase: models.PhaseDay, TargetID: target, Kind: models.ActionVote})
		require.Equal(t, http.StatusOK, status, string(body))
	}

	status, body = ts.do(t, http.MethodGet, "/api/sessions/"+info.SessionID, "u1", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.NotEqual(t, models.GamePhase{Day: 1, Phase: models.PhaseDay}, models.GamePhase{Day: snap.Phase.Day, Phase: snap.Phase.Phase})
	require.NotEmpty(t, snap.History)
	assert.Equal(t, "u0", snap.History[0].Executed, "a four-way tie executes the lowest id")

	status, body = ts.do(t, http.MethodGet, "/api/sessions/"+info.SessionID+"/history", "u1", nil)
	require.Equal(t, http.StatusOK, status)
	var history struct {
		Records []models.HistoryRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(body, &history))
	require.NotEmpty(t, history.Records)
	assert.Equal(t, models.ActionVote, history.Records[0].Kind)

	status, _ = ts.do(t, http.MethodGet, "/api/sessions/missing", "u1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestChannelAdministration(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, http.MethodPost, "/api/channels/c1/blocks", "owner", models.Identity{UserID: "mallory"})
	assert.Equal(t, http.StatusForbidden, status, "unclaimed channel")

	status, _ = ts.do(t, http.MethodPost, "/api/channels/c1/claim", "owner", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodPost, "/api/channels/c1/claim", "someone", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = ts.do(t, http.MethodPost, "/api/channels/c1/entry", "mallory", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = ts.do(t, http.MethodPost, "/api/channels/c1/blocks", "owner", models.Identity{UserID: "mallory"})
	require.Equal(t, http.StatusNoContent, status)

	status, body := ts.do(t, http.MethodGet, "/api/channels/c1/entry", "owner", nil)
	require.Equal(t, http.StatusOK, status)
	var entry models.EntryUpdate
	require.NoError(t, json.Unmarshal(body, &entry))
	assert.Empty(t, entry.Registered, "blocking removes the user from the entry")

	status, body = ts.do(t, http.MethodPost, "/api/channels/c1/entry", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Blocked", errorCode(t, body))

	status, _ = ts.do(t, http.MethodDelete, "/api/channels/c1/blocks/mallory", "owner", nil)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = ts.do(t, http.MethodPost, "/api/channels/c1/entry", "mallory", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = ts.do(t, http.MethodPatch, "/api/channels/c1/settings", "owner", map[string]string{"lang": "zh"})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"lang":"zh"}`, string(body))
	status, _ = ts.do(t, http.MethodPatch, "/api/channels/c1/settings", "mallory", map[string]string{"lang": "en"})
	assert.Equal(t, http.StatusForbidden, status)
}

func (ts *testServer) dial(t *testing.T, uid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + ts.token(t, uid)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, in models.Inbound) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(in))
}

// readUntil 读取消息直到出现指定类型
func readUntil(t *testing.T, conn *websocket.Conn, typ string) models.RawEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var env models.RawEnvelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type == typ {
			return env
		}
	}
}

func readAck(t *testing.T, conn *websocket.Conn, requestID string) models.Ack {
	t.Helper()
	for {
		env := readUntil(t, conn, models.EventAck)
		if env.RequestID != requestID {
			continue
		}
		var ack models.Ack
		require.NoError(t, json.Unmarshal(env.Payload, &ack))
		return ack
	}
}

func TestWebSocketFlow(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "alice")

	send(t, alice, models.Inbound{Type: models.InJoinChannel, RequestID: "1", ChannelID: "c1"})
	ack := readAck(t, alice, "1")
	require.True(t, ack.OK)

	bob := ts.dial(t, "bob")
	send(t, bob, models.Inbound{Type: models.InJoinChannel, RequestID: "1", ChannelID: "c1"})
	require.True(t, readAck(t, bob, "1").OK)

	joined := readUntil(t, alice, string(models.DeltaUserJoined))
	var who models.Identity
	require.NoError(t, json.Unmarshal(joined.Payload, &who))
	assert.Equal(t, "bob", who.UserID)

	send(t, alice, models.Inbound{Type: "bogus", RequestID: "2"})
	ack = readAck(t, alice, "2")
	assert.False(t, ack.OK)
	assert.Equal(t, "BadRequest", ack.Error.Code)

	// 其余两人通过 REST 报名
	for _, uid := range []string{"carol", "dave"} {
		status, _ := ts.do(t, http.MethodPost, "/api/channels/c1/entry", uid, nil)
		require.Equal(t, http.StatusOK, status)
	}
	send(t, alice, models.Inbound{Type: models.InRegister, RequestID: "3", ChannelID: "c1"})
	require.True(t, readAck(t, alice, "3").OK)
	send(t, bob, models.Inbound{Type: models.InRegister, RequestID: "2", ChannelID: "c1"})
	require.True(t, readAck(t, bob, "2").OK)

	send(t, alice, models.Inbound{Type: models.InStart, RequestID: "4", ChannelID: "c1"})
	require.True(t, readAck(t, alice, "4").OK)

	start := readUntil(t, bob, models.EventGameStart)
	var gs models.GameStart
	require.NoError(t, json.Unmarshal(start.Payload, &gs))
	require.NotEmpty(t, gs.SessionID)

	send(t, bob, models.Inbound{Type: models.InJoinSession, RequestID: "3", SessionID: gs.SessionID})
	snapEnv := readUntil(t, bob, string(models.DeltaJoinSession))
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(snapEnv.Payload, &snap))
	assert.Equal(t, "bob", snap.Self)
	assert.Len(t, snap.Participants, 4)
	assert.Equal(t, []models.Identity{{UserID: "alice", DisplayName: "name-alice"}, {UserID: "bob", DisplayName: "name-bob"}}, snap.Users)
	require.True(t, readAck(t, bob, "3").OK)

	send(t, bob, models.Inbound{Type: models.InAction, RequestID: "4", SessionID: gs.SessionID,
		Action: &models.Action{Day: 1, Phase: models.PhaseDay, TargetID: "alice", Kind: models.ActionVote}})
	require.True(t, readAck(t, bob, "4").OK)
}

func TestHistoryOfUnknownSessionIsFiltered(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	// 服务重启后内存中已没有该会话
	require.NoError(t, ts.history.Append(ctx, models.HistoryRecord{SessionID: "old", Day: 1, Kind: models.ActionVote, Payload: []byte(`{}`)}))
	require.NoError(t, ts.history.Append(ctx, models.HistoryRecord{SessionID: "old", Day: 1, Kind: models.ActionFortune, ActorID: "seer", Payload: []byte(`{}`)}))
	require.NoError(t, ts.history.Append(ctx, models.HistoryRecord{SessionID: "old", Day: 1, Kind: models.ActionGuard, ActorID: "x", Payload: []byte(`{}`)}))

	kinds := func(uid string) []models.ActionKind {
		status, body := ts.do(t, http.MethodGet, "/api/sessions/old/history", uid, nil)
		require.Equal(t, http.StatusOK, status)
		var resp struct {
			Records []models.HistoryRecord `json:"records"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		out := make([]models.ActionKind, 0, len(resp.Records))
		for _, r := range resp.Records {
			out = append(out, r.Kind)
		}
		return out
	}

	assert.Equal(t, []models.ActionKind{models.ActionVote, models.ActionGuard}, kinds("x"))

	require.NoError(t, ts.history.SaveOutcome(ctx, models.Outcome{SessionID: "old", Winner: models.TeamVillagers}))
	assert.Len(t, kinds("x"), 3, "all records are public once the game has an outcome")
}
