package server

import (
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"tarot/internal/bots"
	"tarot/internal/distribution"
	"tarot/internal/engine"
)

type fakeConn struct {
	id   string
	mu   sync.Mutex
	msgs []Outbound
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(m Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *fakeConn) all() []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Outbound(nil), c.msgs...)
}

func (c *fakeConn) count(kind string) int {
	n := 0
	for _, m := range c.all() {
		if m.Kind() == kind {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(kind string) (Outbound, bool) {
	msgs := c.all()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind() == kind {
			return msgs[i], true
		}
	}
	return nil, false
}

func seededDistributions(seed int64) func() (distribution.Distribution, error) {
	rng := rand.New(rand.NewSource(seed))
	return func() (distribution.Distribution, error) {
		return distribution.New(big.NewInt(rng.Int63n(1_000_000_000_000)), big.NewInt(rng.Int63n(100_000_000_000))), nil
	}
}

func testTable(t *testing.T, seed int64, rounds int) (*Table, *ManualScheduler, *distribution.Registry) {
	t.Helper()
	cfg := DefaultTableConfig()
	cfg.Rules.MaxRounds = rounds
	cfg.BotSeed = seed
	cfg.NewDistribution = seededDistributions(seed)
	sched := NewManualScheduler()
	dists := distribution.NewRegistry()
	return NewTable(fmt.Sprintf("t%d", seed), cfg, dists, sched), sched, dists
}

type human struct {
	id    string
	seat  int
	conn  *fakeConn
	brain bots.Bot
}

// playOut drives the table to END, letting humans move through a bot brain
// and stepping the scheduler for the bots.
func playOut(t *testing.T, tbl *Table, sched *ManualScheduler, humans []*human, limit int) engine.GameState {
	t.Helper()
	for i := 0; i < limit; i++ {
		st := tbl.State()
		if st.Phase == engine.PhaseEnd {
			return st
		}
		if p, ok := engine.CurrentPlayer(st); ok {
			moved := false
			for _, h := range humans {
				if h.seat != p {
					continue
				}
				a, err := h.brain.ChooseAction(engine.ViewFor(st, p))
				if err != nil {
					t.Fatalf("brain: %v", err)
				}
				if err := tbl.Act(h.id, a); err != nil {
					t.Fatalf("seat %d %s: %v", p, a.Type, err)
				}
				moved = true
			}
			if moved {
				continue
			}
		}
		if !sched.Step() {
			t.Fatalf("table stalled in %s", st.Phase)
		}
	}
	t.Fatalf("match did not finish in %d steps", limit)
	return engine.GameState{}
}

func seatHumanWithBots(t *testing.T, tbl *Table, n int) *human {
	t.Helper()
	h := &human{id: "alice", conn: newConn("c-alice"), brain: newBrain(1)}
	seat, err := tbl.Join(h.conn, h.id, "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	h.seat = seat
	for i := 0; i < n; i++ {
		if _, err := tbl.AddBot(h.id, []string{"EASY", "MEDIUM", "HARD"}[i%3]); err != nil {
			t.Fatalf("add bot: %v", err)
		}
	}
	return h
}

func newBrain(seed int64) bots.Bot { return bots.NewMedium(seed) }

func TestTablePlaysFullMatch(t *testing.T) {
	for seed := int64(1); seed <= 15; seed++ {
		tbl, sched, dists := testTable(t, seed, 2)
		h := seatHumanWithBots(t, tbl, 3)
		if tbl.Started() {
			t.Fatalf("started before ready")
		}
		if err := tbl.Ready(h.id); err != nil {
			t.Fatalf("ready: %v", err)
		}
		if !tbl.Started() {
			t.Fatalf("did not start with four ready seats")
		}
		final := playOut(t, tbl, sched, []*human{h}, 2000)

		over, ok := h.conn.last(KindGameOver)
		if !ok {
			t.Fatalf("seed %d: no game over", seed)
		}
		if got := over.(GameOverMsg).Totals; !reflect.DeepEqual(got, pointsSlice(final.TotalScores)) {
			t.Fatalf("seed %d: game over totals %v, state %v", seed, got, final.TotalScores)
		}
		var sum engine.Points
		for _, s := range final.TotalScores {
			sum += s
		}
		if sum != 0 {
			t.Fatalf("seed %d: totals sum to %v", seed, sum)
		}
		checkRedaction(t, h)
		checkDistributionDisclosure(t, h, dists)
	}
}

func checkRedaction(t *testing.T, h *human) {
	t.Helper()
	for _, m := range h.conn.all() {
		gs, ok := m.(GameStateMsg)
		if !ok {
			continue
		}
		v := gs.State
		if v.Seat != h.seat {
			t.Fatalf("state for seat %d sent to seat %d", v.Seat, h.seat)
		}
		if len(v.Hand) != v.Seats[h.seat].HandCount {
			t.Fatalf("hand %d cards, count %d", len(v.Hand), v.Seats[h.seat].HandCount)
		}
		if v.Phase == engine.PhaseBidding.String() && (v.DogCount != engine.DogSize || len(v.RevealedDog) != 0) {
			t.Fatalf("dog exposed during bidding: %+v", v.RevealedDog)
		}
		if len(v.Discard) > 0 && v.Taker != h.seat {
			t.Fatalf("discard shown to defender")
		}
	}
}

func checkDistributionDisclosure(t *testing.T, h *human, dists *distribution.Registry) {
	t.Helper()
	phase := ""
	seen := 0
	for _, m := range h.conn.all() {
		switch msg := m.(type) {
		case PhaseChangeMsg:
			phase = msg.Phase
		case DistributionInfoMsg:
			if msg.DistributionNumber == "" {
				seen++
				continue
			}
			if phase != engine.PhaseScoring.String() && phase != engine.PhaseEnd.String() {
				t.Fatalf("numbers for %s disclosed in %s", msg.HashCode, phase)
			}
			info, err := dists.Lookup(msg.HashCode)
			if err != nil || !info.Concluded || len(info.Hands) != engine.NumSeats {
				t.Fatalf("distribution %s not revealed: %+v %v", msg.HashCode, info, err)
			}
			if info.DistributionNumber != msg.DistributionNumber {
				t.Fatalf("registry number %s, message %s", info.DistributionNumber, msg.DistributionNumber)
			}
		}
	}
	if seen == 0 || seen != h.conn.count(KindRoundStart) {
		t.Fatalf("%d hash-only infos for %d rounds", seen, h.conn.count(KindRoundStart))
	}
}

func TestRejectedActionLeavesStateUnchanged(t *testing.T) {
	tbl, _, _ := testTable(t, 3, 1)
	h := seatHumanWithBots(t, tbl, 3)
	if err := tbl.Act(h.id, engine.Action{Type: engine.ActionBid, Bid: engine.BidGarde}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected not started, got %v", err)
	}
	if err := tbl.Ready(h.id); err != nil {
		t.Fatalf("ready: %v", err)
	}
	before := tbl.State()
	if p, _ := engine.CurrentPlayer(before); p == h.seat {
		t.Skip("human opens the bidding for this seed")
	}
	sent := len(h.conn.all())
	err := tbl.Handle(h.id, BidMsg{Bid: "GARDE"})
	if !errors.Is(err, engine.ErrNotYourTurn) {
		t.Fatalf("expected not your turn, got %v", err)
	}
	if !reflect.DeepEqual(before, tbl.State()) {
		t.Fatalf("rejected bid changed state")
	}
	if len(h.conn.all()) != sent {
		t.Fatalf("rejection broadcast to the table")
	}
	if code := errorCode(err); code != "not_your_turn" {
		t.Fatalf("code %q", code)
	}
	if err := tbl.Handle(h.id, PlayCardMsg{CardID: "trumps-22"}); !errors.Is(err, engine.ErrUnknownCard) {
		t.Fatalf("expected unknown card, got %v", err)
	}
}

func TestJoinRules(t *testing.T) {
	tbl, _, _ := testTable(t, 4, 1)
	users := []string{"a", "b", "c", "d"}
	for _, u := range users {
		if _, err := tbl.Join(newConn("c-"+u), u, u); err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
	}
	if _, err := tbl.Join(newConn("c-e"), "e", "e"); !errors.Is(err, ErrTableFull) {
		t.Fatalf("expected table full, got %v", err)
	}
	if _, err := tbl.AddBot("a", "HARD"); !errors.Is(err, ErrTableFull) {
		t.Fatalf("expected table full for bot, got %v", err)
	}
	seat, err := tbl.Join(newConn("c-a2"), "a", "a")
	if err != nil || seat != 0 {
		t.Fatalf("rejoin: seat %d, %v", seat, err)
	}
	for _, u := range users[:3] {
		if err := tbl.Ready(u); err != nil {
			t.Fatalf("ready %s: %v", u, err)
		}
	}
	if tbl.Started() {
		t.Fatalf("started with a seat not ready")
	}
	if err := tbl.Ready("d"); err != nil {
		t.Fatalf("ready d: %v", err)
	}
	if !tbl.Started() {
		t.Fatalf("not started")
	}
	if _, err := tbl.Join(newConn("c-f"), "f", "f"); !errors.Is(err, ErrGameStarted) {
		t.Fatalf("expected game started, got %v", err)
	}
	if err := tbl.Ready("zed"); !errors.Is(err, ErrNotSeated) {
		t.Fatalf("expected not seated, got %v", err)
	}
}

func TestRemoveBotBeforeStart(t *testing.T) {
	tbl, _, _ := testTable(t, 5, 1)
	c := newConn("c-a")
	if _, err := tbl.Join(c, "a", "A"); err != nil {
		t.Fatalf("join: %v", err)
	}
	id, err := tbl.AddBot("a", "EASY")
	if err != nil {
		t.Fatalf("add bot: %v", err)
	}
	if _, err := tbl.AddBot("a", "GENIUS"); !errors.Is(err, bots.ErrUnknownDifficulty) {
		t.Fatalf("expected unknown difficulty, got %v", err)
	}
	if err := tbl.RemoveBot("a", "bot-nope"); !errors.Is(err, ErrUnknownBot) {
		t.Fatalf("expected unknown bot, got %v", err)
	}
	if err := tbl.RemoveBot("a", "a"); !errors.Is(err, ErrUnknownBot) {
		t.Fatalf("removed a human as a bot: %v", err)
	}
	if err := tbl.RemoveBot("a", id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	left, ok := c.last(KindPlayerLeft)
	if !ok || left.(PlayerLeftMsg).ID != id {
		t.Fatalf("no player left for %s", id)
	}
	ts, _ := c.last(KindTableState)
	if n := len(ts.(TableStateMsg).Players); n != 1 {
		t.Fatalf("%d players after removal", n)
	}
}

func TestLeaveMidGameSubstitutesBot(t *testing.T) {
	tbl, sched, _ := testTable(t, 6, 1)
	a := &human{id: "a", conn: newConn("c-a"), brain: newBrain(2)}
	b := &human{id: "b", conn: newConn("c-b"), brain: newBrain(3)}
	for _, h := range []*human{a, b} {
		seat, err := tbl.Join(h.conn, h.id, h.id)
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		h.seat = seat
	}
	for i := 0; i < 2; i++ {
		if _, err := tbl.AddBot("a", "MEDIUM"); err != nil {
			t.Fatalf("add bot: %v", err)
		}
	}
	for _, h := range []*human{a, b} {
		if err := tbl.Ready(h.id); err != nil {
			t.Fatalf("ready: %v", err)
		}
	}

	tbl.Disconnect(b.conn)
	left, ok := a.conn.last(KindPlayerLeft)
	if !ok {
		t.Fatalf("no player left")
	}
	pl := left.(PlayerLeftMsg)
	if pl.Seat != b.seat || pl.ReplacedBy == "" {
		t.Fatalf("unexpected player left %+v", pl)
	}
	if _, err := tbl.AddBot("a", "EASY"); !errors.Is(err, ErrGameStarted) {
		t.Fatalf("expected game started, got %v", err)
	}

	seat, err := tbl.Join(b.conn, "b", "b")
	if err != nil || seat != b.seat {
		t.Fatalf("reclaim: seat %d, %v", seat, err)
	}
	if _, ok := b.conn.last(KindGameState); !ok {
		t.Fatalf("no snapshot after reclaim")
	}
	playOut(t, tbl, sched, []*human{a, b}, 2000)
}

func TestLastHumanLeavingClosesTable(t *testing.T) {
	sched := NewManualScheduler()
	cfg := DefaultTableConfig()
	cfg.NewDistribution = seededDistributions(7)
	reg := NewRegistry(cfg, nil, sched)
	tbl := reg.Open("room")
	if reg.Open("room") != tbl {
		t.Fatalf("open returned a second table for one id")
	}
	h := seatHumanWithBots(t, tbl, 3)
	if err := tbl.Ready(h.id); err != nil {
		t.Fatalf("ready: %v", err)
	}
	tbl.Leave(h.id)
	if reg.Len() != 0 {
		t.Fatalf("table not removed")
	}
	if sched.Pending() != 0 || sched.Step() {
		t.Fatalf("bot task survived close")
	}
	if _, err := tbl.Join(newConn("x"), "x", "x"); !errors.Is(err, ErrTableClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
	if gen := reg.Open(""); gen.ID() == "" || reg.Len() != 1 {
		t.Fatalf("generated table id missing")
	}
}

func TestStaleBotTaskIsNoop(t *testing.T) {
	tbl, sched, _ := testTable(t, 8, 1)
	h := seatHumanWithBots(t, tbl, 3)
	if err := tbl.Ready(h.id); err != nil {
		t.Fatalf("ready: %v", err)
	}
	p, _ := engine.CurrentPlayer(tbl.State())
	if p == h.seat {
		t.Skip("human opens the bidding for this seed")
	}
	tbl.mu.Lock()
	stale := tbl.version - 1
	tbl.mu.Unlock()
	before := tbl.State()
	tbl.runBot(stale)
	if !reflect.DeepEqual(before, tbl.State()) {
		t.Fatalf("stale task moved")
	}
	if sched.Pending() != 1 {
		t.Fatalf("pending %d", sched.Pending())
	}
}

func TestErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("x: %w", engine.ErrIllegalCard), "illegal_card"},
		{engine.ErrNoTaker, "internal"},
		{ErrTableFull, "table_full"},
		{fmt.Errorf("%w: nope", ErrUnknownKind), "unknown_type"},
		{errors.New("other"), "rejected"},
	}
	for _, c := range cases {
		if got := errorCode(c.err); got != c.code {
			t.Fatalf("%v: got %q want %q", c.err, got, c.code)
		}
	}
}
