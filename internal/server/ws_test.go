package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tarot/internal/distribution"
)

type staticVerifier map[string]string

func (v staticVerifier) Verify(token string) (string, error) {
	if user, ok := v[token]; ok {
		return user, nil
	}
	return "", errors.New("bad token")
}

func newTestServer(t *testing.T, verifier TokenVerifier) (*httptest.Server, *Registry) {
	t.Helper()
	cfg := DefaultTableConfig()
	cfg.BotDelay = time.Millisecond
	cfg.NewDistribution = seededDistributions(11)
	reg := NewRegistry(cfg, distribution.NewRegistry(), TimerScheduler{})
	srv := httptest.NewServer(NewHandler(reg, []string{"http://allowed.example"}, verifier).Routes())
	t.Cleanup(func() {
		srv.Close()
		reg.Close()
	})
	return srv, reg
}

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, kind string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteJSON(Envelope{Type: kind, Payload: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// await reads frames until one of kind arrives.
func await(t *testing.T, conn *websocket.Conn, kind string) Outbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", kind, err)
		}
		m, err := DecodeOutbound(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if m.Kind() == kind {
			return m
		}
	}
}

func TestWebsocketJoinAndPing(t *testing.T) {
	srv, reg := newTestServer(t, nil)
	conn := dial(t, srv, "", nil)

	send(t, conn, KindPing, nil)
	await(t, conn, KindPong)

	send(t, conn, KindReady, nil)
	if e := await(t, conn, KindError).(*ErrorMsg); e.Code != "not_seated" {
		t.Fatalf("ready before join: %+v", e)
	}

	send(t, conn, KindJoin, JoinMsg{TableID: "room-1", UserID: "u1", DisplayName: "Una"})
	ts := await(t, conn, KindTableState).(*TableStateMsg)
	if ts.TableID != "room-1" || len(ts.Players) != 1 || ts.Players[0].Name != "Una" {
		t.Fatalf("table state %+v", ts)
	}
	if reg.Len() != 1 {
		t.Fatalf("tables %d", reg.Len())
	}

	send(t, conn, KindAddBot, AddBotMsg{Difficulty: "NIGHTMARE"})
	if e := await(t, conn, KindError).(*ErrorMsg); e.Code != "unknown_difficulty" {
		t.Fatalf("bad difficulty: %+v", e)
	}
	send(t, conn, "DANCE", nil)
	if e := await(t, conn, KindError).(*ErrorMsg); e.Code != "unknown_type" {
		t.Fatalf("unknown kind: %+v", e)
	}
}

func TestWebsocketGameStarts(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	conn := dial(t, srv, "", nil)
	send(t, conn, KindJoin, JoinMsg{TableID: "room-2", UserID: "u1"})
	await(t, conn, KindTableState)
	for _, d := range []string{"EASY", "MEDIUM", "HARD"} {
		send(t, conn, KindAddBot, AddBotMsg{Difficulty: d})
		await(t, conn, KindPlayerJoined)
	}
	send(t, conn, KindReady, nil)
	await(t, conn, KindRoundStart)
	info := await(t, conn, KindDistributionInfo).(*DistributionInfoMsg)
	if len(info.HashCode) != distribution.DefaultHashLength || info.DistributionNumber != "" {
		t.Fatalf("round start info %+v", info)
	}
	gs := await(t, conn, KindGameState).(*GameStateMsg)
	if len(gs.State.Hand) != 18 || gs.State.Seat != 0 {
		t.Fatalf("state %+v", gs.State)
	}
}

func TestWebsocketTokenAndOrigin(t *testing.T) {
	srv, _ := newTestServer(t, staticVerifier{"good": "alice"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(url+"?token=bad", nil); err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token accepted: %v", err)
	}
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token accepted: %v", err)
	}
	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url+"?token=good", header); err == nil {
		t.Fatalf("foreign origin accepted")
	}

	conn := dial(t, srv, "?token=good", http.Header{"Origin": []string{"http://allowed.example"}})
	send(t, conn, KindJoin, JoinMsg{TableID: "t", UserID: "mallory"})
	if e := await(t, conn, KindError).(*ErrorMsg); e.Code != "bad_token" {
		t.Fatalf("impersonation: %+v", e)
	}
	send(t, conn, KindJoin, JoinMsg{TableID: "t"})
	ts := await(t, conn, KindTableState).(*TableStateMsg)
	if ts.Players[0].ID != "alice" {
		t.Fatalf("token user not used: %+v", ts.Players)
	}
}

func TestDistributionEndpoint(t *testing.T) {
	srv, reg := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/distributions/zzzzzzzz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}

	d, _ := seededDistributions(99)()
	if err := reg.Distributions().Record(d); err != nil {
		t.Fatalf("record: %v", err)
	}
	var info distribution.Info
	get := func() {
		resp, err := http.Get(srv.URL + "/distributions/" + strings.ToUpper(d.HashCode))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d", resp.StatusCode)
		}
		info = distribution.Info{}
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	get()
	if info.Concluded || info.Hands != nil || info.UsageCount != 1 {
		t.Fatalf("live distribution revealed: %+v", info)
	}
	if err := reg.Distributions().Conclude(d.HashCode); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	get()
	if !info.Concluded || len(info.Hands) != 4 || len(info.Dog) != 6 || info.DistributionNumber != d.Number.String() {
		t.Fatalf("concluded distribution hidden: %+v", info)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
}
