package nakama

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/heroiclabs/nakama-common/runtime"

	"tarot/internal/bots"
	"tarot/internal/distribution"
	"tarot/internal/engine"
	"tarot/internal/server"
)

// noopLogger implements runtime.Logger for tests that only need to satisfy the interface.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) WithField(string, interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) WithFields(map[string]interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) Fields() map[string]interface{} {
	return nil
}

type sent struct {
	op   int64
	data []byte
}

// mockDispatcher records match dispatcher calls for assertions.
type mockDispatcher struct {
	frames map[string][]sent // session id -> frames
	labels []string
	kicked []runtime.Presence
}

func newDispatcher() *mockDispatcher {
	return &mockDispatcher{frames: make(map[string][]sent)}
}

func (md *mockDispatcher) BroadcastMessage(opCode int64, data []byte, presences []runtime.Presence, sender runtime.Presence, reliable bool) error {
	for _, p := range presences {
		md.frames[p.GetSessionId()] = append(md.frames[p.GetSessionId()], sent{op: opCode, data: append([]byte(nil), data...)})
	}
	return nil
}

func (md *mockDispatcher) BroadcastMessageDeferred(opCode int64, data []byte, presences []runtime.Presence, sender runtime.Presence, reliable bool) error {
	return nil
}

func (md *mockDispatcher) MatchKick(presences []runtime.Presence) error {
	md.kicked = append(md.kicked, presences...)
	return nil
}

func (md *mockDispatcher) MatchLabelUpdate(label string) error {
	md.labels = append(md.labels, label)
	return nil
}

func (md *mockDispatcher) count(session string, op int64) int {
	n := 0
	for _, f := range md.frames[session] {
		if f.op == op {
			n++
		}
	}
	return n
}

func (md *mockDispatcher) last(session string, op int64) ([]byte, bool) {
	frames := md.frames[session]
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].op == op {
			return frames[i].data, true
		}
	}
	return nil, false
}

// testPresence overrides the identity getters; the rest of runtime.Presence
// is never called.
type testPresence struct {
	runtime.Presence
	userID, sessionID, username string
}

func (p testPresence) GetUserId() string    { return p.userID }
func (p testPresence) GetSessionId() string { return p.sessionID }
func (p testPresence) GetUsername() string  { return p.username }

type testData struct {
	testPresence
	op   int64
	data []byte
}

func (d testData) GetOpCode() int64      { return d.op }
func (d testData) GetData() []byte       { return d.data }
func (d testData) GetReliable() bool     { return true }
func (d testData) GetReceiveTime() int64 { return 0 }

func message(p testPresence, in server.Inbound) testData {
	var op int64
	for code, kind := range inboundKinds {
		if kind == in.Kind() {
			op = code
		}
	}
	data, _ := json.Marshal(in)
	return testData{testPresence: p, op: op, data: data}
}

func testCtx(env map[string]string) context.Context {
	return context.WithValue(context.Background(), runtime.RUNTIME_CTX_ENV, env)
}

func initMatch(t *testing.T, params map[string]interface{}) (*matchHandler, *MatchState, string) {
	t.Helper()
	mh := newMatchHandler(distribution.NewRegistry())
	env := map[string]string{"TAROT_BOT_DELAY_MS": "0"}
	st, rate, label := mh.MatchInit(testCtx(env), noopLogger{}, nil, nil, params)
	if st == nil {
		t.Fatal("MatchInit returned nil state")
	}
	if rate != TickRate {
		t.Fatalf("tick rate = %d, want %d", rate, TickRate)
	}
	return mh, st.(*MatchState), label
}

func decodeLabel(t *testing.T, label string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(label), &m); err != nil {
		t.Fatalf("label %q: %v", label, err)
	}
	return m
}

func TestMatchInitLabel(t *testing.T) {
	_, ms, label := initMatch(t, map[string]interface{}{"table_id": "t1", "max_rounds": float64(2)})
	got := decodeLabel(t, label)
	if got[LabelKeyOpen] != float64(engine.NumSeats) || got[LabelKeyStarted] != false || got[LabelKeyTable] != "t1" {
		t.Fatalf("label = %v", got)
	}
	if ms.Table.ID() != "t1" {
		t.Fatalf("table id = %q", ms.Table.ID())
	}
	if ms.Table.Snapshot().MaxRounds != 2 {
		t.Fatalf("max rounds = %d, want 2", ms.Table.Snapshot().MaxRounds)
	}
}

func TestMatchInitRejectsBadEnv(t *testing.T) {
	mh := newMatchHandler(distribution.NewRegistry())
	st, _, _ := mh.MatchInit(testCtx(map[string]string{"TAROT_MAX_ROUNDS": "many"}), noopLogger{}, nil, nil, nil)
	if st != nil {
		t.Fatal("expected nil state for an invalid environment")
	}
}

func TestMatchPlaysWithBots(t *testing.T) {
	mh, ms, _ := initMatch(t, map[string]interface{}{"table_id": "t2", "max_rounds": 1})
	d := newDispatcher()
	ctx := testCtx(nil)
	alice := testPresence{userID: "alice", sessionID: "s-alice", username: "Alice"}

	st, ok, reason := mh.MatchJoinAttempt(ctx, noopLogger{}, nil, nil, d, 0, ms, alice, nil)
	if !ok {
		t.Fatalf("join attempt rejected: %s", reason)
	}
	ms = mh.MatchJoin(ctx, noopLogger{}, nil, nil, d, 0, st, []runtime.Presence{alice}).(*MatchState)

	in := []runtime.MatchData{
		message(alice, server.AddBotMsg{Difficulty: "EASY"}),
		message(alice, server.AddBotMsg{Difficulty: "MEDIUM"}),
		message(alice, server.AddBotMsg{Difficulty: "HARD"}),
	}
	ms = mh.MatchLoop(ctx, noopLogger{}, nil, nil, d, 1, ms, in).(*MatchState)
	if n := len(ms.Table.Snapshot().Players); n != engine.NumSeats {
		t.Fatalf("players = %d, want %d", n, engine.NumSeats)
	}

	bob := testPresence{userID: "bob", sessionID: "s-bob"}
	if _, ok, _ := mh.MatchJoinAttempt(ctx, noopLogger{}, nil, nil, d, 1, ms, bob, nil); ok {
		t.Fatal("full table admitted a new user")
	}

	seat := engine.NoSeat
	for _, p := range ms.Table.Snapshot().Players {
		if p.ID == "alice" {
			seat = p.Seat
		}
	}
	brain := bots.NewMedium(7)
	next := []runtime.MatchData{message(alice, server.ReadyMsg{})}
	for tick := int64(2); tick < 2000; tick++ {
		res := mh.MatchLoop(ctx, noopLogger{}, nil, nil, d, tick, ms, next)
		if res == nil {
			t.Fatal("match terminated while alice was seated")
		}
		ms = res.(*MatchState)
		next = nil
		game := ms.Table.State()
		if game.Phase == engine.PhaseEnd {
			break
		}
		if p, ok := engine.CurrentPlayer(game); ok && p == seat {
			a, err := brain.ChooseAction(engine.ViewFor(game, seat))
			if err != nil {
				t.Fatalf("brain: %v", err)
			}
			msg, err := server.FromAction(a)
			if err != nil {
				t.Fatalf("FromAction: %v", err)
			}
			next = []runtime.MatchData{message(alice, msg)}
		}
	}

	if ms.Table.State().Phase != engine.PhaseEnd {
		t.Fatalf("match stuck in %s", ms.Table.State().Phase)
	}
	if d.count("s-alice", OpGameOver) != 1 {
		t.Fatalf("GAME_OVER frames = %d, want 1", d.count("s-alice", OpGameOver))
	}
	if d.count("s-alice", OpError) != 0 {
		data, _ := d.last("s-alice", OpError)
		t.Fatalf("unexpected error frame: %s", data)
	}
	for _, f := range d.frames["s-alice"] {
		if f.op != OpGameState {
			continue
		}
		var gs server.GameStateMsg
		if err := json.Unmarshal(f.data, &gs); err != nil {
			t.Fatalf("decode GAME_STATE: %v", err)
		}
		if gs.State.Seat != seat {
			t.Fatalf("GAME_STATE for seat %d sent to seat %d", gs.State.Seat, seat)
		}
	}
	if len(d.labels) == 0 || decodeLabel(t, d.labels[len(d.labels)-1])[LabelKeyStarted] != true {
		t.Fatalf("labels = %v", d.labels)
	}

	if res := mh.MatchLeave(ctx, noopLogger{}, nil, nil, d, 2000, ms, []runtime.Presence{alice}); res != nil {
		t.Fatal("match should terminate once the last human leaves")
	}
}

func TestMatchPingAndErrors(t *testing.T) {
	mh, ms, _ := initMatch(t, nil)
	d := newDispatcher()
	ctx := testCtx(nil)
	alice := testPresence{userID: "alice", sessionID: "s-alice"}
	ms = mh.MatchJoin(ctx, noopLogger{}, nil, nil, d, 0, ms, []runtime.Presence{alice}).(*MatchState)

	in := []runtime.MatchData{
		message(alice, server.PingMsg{}),
		testData{testPresence: alice, op: 99},
		message(alice, server.AddBotMsg{Difficulty: "IMPOSSIBLE"}),
		message(alice, server.BidMsg{Bid: "PETITE"}),
	}
	mh.MatchLoop(ctx, noopLogger{}, nil, nil, d, 1, ms, in)

	if d.count("s-alice", OpPong) != 1 {
		t.Fatalf("PONG frames = %d, want 1", d.count("s-alice", OpPong))
	}
	var codes []string
	for _, f := range d.frames["s-alice"] {
		if f.op != OpError {
			continue
		}
		var e server.ErrorMsg
		if err := json.Unmarshal(f.data, &e); err != nil {
			t.Fatalf("decode ERROR: %v", err)
		}
		codes = append(codes, e.Code)
	}
	want := []string{"unknown_type", "unknown_difficulty", "not_started"}
	if len(codes) != len(want) {
		t.Fatalf("error codes = %v, want %v", codes, want)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("error codes = %v, want %v", codes, want)
		}
	}
}

func TestMatchJoinFullTableKicks(t *testing.T) {
	mh, ms, _ := initMatch(t, nil)
	d := newDispatcher()
	ctx := testCtx(nil)
	alice := testPresence{userID: "alice", sessionID: "s-alice"}
	ms = mh.MatchJoin(ctx, noopLogger{}, nil, nil, d, 0, ms, []runtime.Presence{alice}).(*MatchState)
	for i := 0; i < 3; i++ {
		if _, err := ms.Table.AddBot("alice", "EASY"); err != nil {
			t.Fatalf("add bot: %v", err)
		}
	}
	bob := testPresence{userID: "bob", sessionID: "s-bob"}
	mh.MatchJoin(ctx, noopLogger{}, nil, nil, d, 1, ms, []runtime.Presence{bob})
	if len(d.kicked) != 1 || d.kicked[0].GetUserId() != "bob" {
		t.Fatalf("kicked = %v", d.kicked)
	}
	if d.count("s-bob", OpError) != 1 {
		t.Fatalf("bob ERROR frames = %d, want 1", d.count("s-bob", OpError))
	}
}

func TestMatchTerminateConcludesDistribution(t *testing.T) {
	dists := distribution.NewRegistry()
	mh := newMatchHandler(dists)
	st, _, _ := mh.MatchInit(testCtx(map[string]string{"TAROT_BOT_DELAY_MS": "10000"}), noopLogger{}, nil, nil, nil)
	ms := st.(*MatchState)
	d := newDispatcher()
	ctx := testCtx(nil)
	alice := testPresence{userID: "alice", sessionID: "s-alice"}
	ms = mh.MatchJoin(ctx, noopLogger{}, nil, nil, d, 0, ms, []runtime.Presence{alice}).(*MatchState)
	for i := 0; i < 3; i++ {
		if _, err := ms.Table.AddBot("alice", "EASY"); err != nil {
			t.Fatalf("add bot: %v", err)
		}
	}
	mh.MatchLoop(ctx, noopLogger{}, nil, nil, d, 1, ms, []runtime.MatchData{message(alice, server.ReadyMsg{})})

	data, ok := d.last("s-alice", OpDistributionInfo)
	if !ok {
		t.Fatal("no DISTRIBUTION_INFO frame")
	}
	var info server.DistributionInfoMsg
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("decode DISTRIBUTION_INFO: %v", err)
	}
	before, err := dists.Lookup(info.HashCode)
	if err != nil || before.Concluded {
		t.Fatalf("before terminate: %+v, %v", before, err)
	}

	mh.MatchTerminate(ctx, noopLogger{}, nil, nil, d, 2, ms, 0)
	after, err := dists.Lookup(info.HashCode)
	if err != nil || !after.Concluded || after.DistributionNumber == "" {
		t.Fatalf("after terminate: %+v, %v", after, err)
	}
}
