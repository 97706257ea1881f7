package server

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tarot/internal/bots"
	"tarot/internal/distribution"
	"tarot/internal/engine"
)

var (
	ErrTableFull   = errors.New("table is full")
	ErrGameStarted = errors.New("game already started")
	ErrNotStarted  = errors.New("game not started")
	ErrNotSeated   = errors.New("not seated at this table")
	ErrUnknownBot  = errors.New("unknown bot")
	ErrTableClosed = errors.New("table closed")
	ErrTableHalted = errors.New("table halted after an internal error")
)

// Conn is one client connection as seen by a table. Send must not block.
type Conn interface {
	ID() string
	Send(m Outbound) error
}

type TableConfig struct {
	Rules                engine.Rules
	BotDelay             time.Duration
	SubstituteDifficulty bots.Difficulty
	// BotSeed seeds bot RNGs; 0 uses the clock.
	BotSeed int64
	// NewDistribution shuffles a fresh deck for each round. Defaults to
	// distribution.Generate.
	NewDistribution func() (distribution.Distribution, error)
}

func DefaultTableConfig() TableConfig {
	return TableConfig{
		Rules:                engine.DefaultRules(),
		BotDelay:             800 * time.Millisecond,
		SubstituteDifficulty: bots.Medium,
	}
}

type seat struct {
	id    string
	name  string
	bot   bots.Bot
	conn  Conn
	ready bool
	// replaced is the user a substitute bot is holding the seat for.
	replaced string
}

func (s *seat) human() bool { return s != nil && s.bot == nil }

// Table owns one game. Every mutation happens under mu, so moves against a
// table are strictly ordered.
type Table struct {
	mu    sync.Mutex
	id    string
	cfg   TableConfig
	dists *distribution.Registry
	sched Scheduler

	seats   [engine.NumSeats]*seat
	state   engine.GameState
	started bool
	dist    distribution.Distribution
	live    bool

	version  int
	cancel   Cancel
	halted   bool
	closed   bool
	botSeed  int64
	onClosed func(id string)
}

func NewTable(id string, cfg TableConfig, dists *distribution.Registry, sched Scheduler) *Table {
	if cfg.NewDistribution == nil {
		cfg.NewDistribution = distribution.Generate
	}
	if sched == nil {
		sched = TimerScheduler{}
	}
	seed := cfg.BotSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Table{
		id:      id,
		cfg:     cfg,
		dists:   dists,
		sched:   sched,
		state:   engine.NewGame(cfg.Rules, 0),
		botSeed: seed,
	}
}

func (t *Table) ID() string { return t.id }

// State returns a copy of the authoritative state.
func (t *Table) State() engine.GameState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Table) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *Table) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Table) Snapshot() TableStateMsg {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tableStateLocked()
}

// Admits reports whether Join would give userID a seat.
func (t *Table) Admits(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	for _, s := range t.seats {
		if s != nil && (s.id == userID || s.replaced == userID) {
			return true
		}
	}
	return !t.started && t.freeSeatLocked() != engine.NoSeat
}

// Join seats userID, or rebinds its connection if already seated. A user whose
// seat was taken over by a substitute bot gets it back.
func (t *Table) Join(c Conn, userID, name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return engine.NoSeat, ErrTableClosed
	}
	if i := t.seatOfLocked(userID); i != engine.NoSeat {
		t.seats[i].conn = c
		t.sendSnapshotLocked(c, i)
		return i, nil
	}
	for i, s := range t.seats {
		if s != nil && s.replaced == userID {
			t.seats[i] = &seat{id: userID, name: name, conn: c, ready: true}
			log.Printf("table %s: %s reclaimed seat %d", t.id, userID, i)
			t.broadcastLocked(PlayerJoinedMsg{Player: t.playerInfoLocked(i)})
			t.broadcastLocked(t.tableStateLocked())
			t.sendSnapshotLocked(c, i)
			t.scheduleBotLocked()
			return i, nil
		}
	}
	if t.started {
		return engine.NoSeat, ErrGameStarted
	}
	i := t.freeSeatLocked()
	if i == engine.NoSeat {
		return engine.NoSeat, ErrTableFull
	}
	t.seats[i] = &seat{id: userID, name: name, conn: c}
	log.Printf("table %s: %s joined seat %d", t.id, userID, i)
	t.broadcastLocked(PlayerJoinedMsg{Player: t.playerInfoLocked(i)})
	t.broadcastLocked(t.tableStateLocked())
	return i, nil
}

func (t *Table) Ready(userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.seatOfLocked(userID)
	if i == engine.NoSeat {
		return ErrNotSeated
	}
	if t.started {
		return ErrGameStarted
	}
	t.seats[i].ready = true
	t.broadcastLocked(PlayerReadyMsg{Seat: i, ID: userID})
	t.maybeStartLocked()
	return nil
}

// AddBot seats a bot on behalf of a seated user and returns its id.
func (t *Table) AddBot(userID string, difficulty string) (string, error) {
	d, err := bots.ParseDifficulty(difficulty)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seatOfLocked(userID) == engine.NoSeat {
		return "", ErrNotSeated
	}
	if t.started {
		return "", ErrGameStarted
	}
	i := t.freeSeatLocked()
	if i == engine.NoSeat {
		return "", ErrTableFull
	}
	id := "bot-" + uuid.NewString()
	t.seats[i] = &seat{id: id, name: fmt.Sprintf("%s bot", d), bot: t.newBotLocked(d), ready: true}
	log.Printf("table %s: %s added %s bot %s at seat %d", t.id, userID, d, id, i)
	t.broadcastLocked(PlayerJoinedMsg{Player: t.playerInfoLocked(i)})
	t.broadcastLocked(t.tableStateLocked())
	t.maybeStartLocked()
	return id, nil
}

func (t *Table) RemoveBot(userID string, botID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seatOfLocked(userID) == engine.NoSeat {
		return ErrNotSeated
	}
	if t.started {
		return ErrGameStarted
	}
	i := t.seatOfLocked(botID)
	if i == engine.NoSeat || t.seats[i].human() {
		return fmt.Errorf("%w: %s", ErrUnknownBot, botID)
	}
	t.seats[i] = nil
	t.broadcastLocked(PlayerLeftMsg{Seat: i, ID: botID})
	t.broadcastLocked(t.tableStateLocked())
	return nil
}

// Leave frees the seat before the game starts. Mid-game a substitute bot
// takes over. A table without humans closes.
func (t *Table) Leave(userID string) {
	t.mu.Lock()
	closed := t.leaveLocked(userID)
	cb := t.onClosed
	t.mu.Unlock()
	if closed && cb != nil {
		cb(t.id)
	}
}

// Disconnect is Leave for whichever user is bound to c.
func (t *Table) Disconnect(c Conn) {
	t.mu.Lock()
	userID := ""
	for _, s := range t.seats {
		if s.human() && s.conn != nil && s.conn.ID() == c.ID() {
			userID = s.id
		}
	}
	t.mu.Unlock()
	if userID != "" {
		t.Leave(userID)
	}
}

func (t *Table) leaveLocked(userID string) bool {
	i := t.seatOfLocked(userID)
	if i == engine.NoSeat || !t.seats[i].human() {
		return false
	}
	if !t.started {
		t.seats[i] = nil
		log.Printf("table %s: %s left seat %d", t.id, userID, i)
		t.broadcastLocked(PlayerLeftMsg{Seat: i, ID: userID})
	} else {
		d := t.cfg.SubstituteDifficulty
		id := "bot-" + uuid.NewString()
		t.seats[i] = &seat{id: id, name: fmt.Sprintf("%s bot", d), bot: t.newBotLocked(d), ready: true, replaced: userID}
		log.Printf("table %s: %s left seat %d, %s bot %s substitutes", t.id, userID, i, d, id)
		t.broadcastLocked(PlayerLeftMsg{Seat: i, ID: userID, ReplacedBy: id})
	}
	if t.humansLocked() == 0 {
		t.closeLocked()
		return true
	}
	t.broadcastLocked(t.tableStateLocked())
	t.scheduleBotLocked()
	return false
}

// Handle applies one table-level intent from userID. A rejection leaves the
// table untouched; the caller reports it to the sender alone.
func (t *Table) Handle(userID string, m Inbound) error {
	switch msg := m.(type) {
	case ReadyMsg:
		return t.Ready(userID)
	case AddBotMsg:
		_, err := t.AddBot(userID, msg.Difficulty)
		return err
	case RemoveBotMsg:
		return t.RemoveBot(userID, msg.BotID)
	case BidMsg, DiscardMsg, PlayCardMsg:
		a, err := ToAction(m)
		if err != nil {
			return err
		}
		return t.Act(userID, a)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, m.Kind())
	}
}

// Act applies a game action for a seated human.
func (t *Table) Act(userID string, a engine.Action) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.seatOfLocked(userID)
	switch {
	case t.closed:
		return ErrTableClosed
	case i == engine.NoSeat || !t.seats[i].human():
		return ErrNotSeated
	case !t.started:
		return ErrNotStarted
	case t.halted:
		return ErrTableHalted
	}
	next, err := engine.ApplyAction(t.state, i, a)
	if err != nil {
		if errors.Is(err, engine.ErrInvariant) {
			t.haltLocked(i, err)
		}
		return err
	}
	t.afterActionLocked(next, i, a)
	return nil
}

// Close cancels pending bot moves and ends the table.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

func (t *Table) closeLocked() {
	if t.closed {
		return
	}
	t.closed = true
	t.version++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.concludeLocked()
	log.Printf("table %s: closed", t.id)
}

func (t *Table) maybeStartLocked() {
	if t.started || t.closed {
		return
	}
	for _, s := range t.seats {
		if s == nil || !s.ready {
			return
		}
	}
	t.started = true
	log.Printf("table %s: game starting", t.id)
	t.broadcastLocked(t.tableStateLocked())
	t.startRoundLocked()
}

func (t *Table) startRoundLocked() {
	var (
		d   distribution.Distribution
		err error
	)
	for attempt := 0; attempt < 3; attempt++ {
		if d, err = t.cfg.NewDistribution(); err != nil {
			continue
		}
		if err = t.dists.Record(d); err == nil {
			break
		}
		log.Printf("table %s: record distribution: %v", t.id, err)
	}
	if err != nil {
		t.haltLocked(engine.NoSeat, fmt.Errorf("%w: no distribution: %v", engine.ErrInvariant, err))
		return
	}
	next, err := engine.StartNextRound(t.state, d.Deal())
	if err != nil {
		t.haltLocked(engine.NoSeat, err)
		return
	}
	t.state, t.dist, t.live = next, d, true
	log.Printf("table %s: round %d dealt from %s", t.id, next.Round, d.HashCode)
	t.broadcastLocked(RoundStartMsg{Round: next.Round, Dealer: next.Dealer})
	t.broadcastLocked(DistributionInfoMsg{HashCode: d.HashCode})
	t.broadcastLocked(PhaseChangeMsg{Phase: next.Phase.String()})
	t.sendStatesLocked()
	t.scheduleBotLocked()
}

func (t *Table) afterActionLocked(next engine.GameState, seatIdx int, a engine.Action) {
	prev := t.state
	t.state = next
	for _, ev := range buildEvents(prev, next, seatIdx, a) {
		t.broadcastLocked(ev)
	}
	t.advanceLocked()
}

// advanceLocked runs the transitions nobody sends a message for: revealing
// the dog, scoring and dealing the next round.
func (t *Table) advanceLocked() {
	switch t.state.Phase {
	case engine.PhaseDogReveal:
		taker := t.state.Taker
		next, err := engine.RevealDog(t.state)
		if err != nil {
			t.haltLocked(taker, err)
			return
		}
		t.afterActionLocked(next, taker, engine.Action{Type: engine.ActionRevealDog})
		return
	case engine.PhaseScoring:
		t.finishRoundLocked()
		return
	case engine.PhaseEnd:
		t.concludeLocked()
		t.gameOverLocked("all_pass")
		return
	}
	t.sendStatesLocked()
	t.scheduleBotLocked()
}

func (t *Table) finishRoundLocked() {
	res := engine.ScoreRound(t.state)
	next, err := engine.FinishRound(t.state)
	if err != nil {
		t.haltLocked(engine.NoSeat, err)
		return
	}
	t.sendStatesLocked()
	round := t.state.Round
	t.state = next
	t.concludeLocked()
	t.broadcastLocked(RoundEndMsg{
		Round:       round,
		Taker:       res.Taker,
		Contract:    res.Contract.String(),
		TakerPoints: res.TakerPoints,
		Oudlers:     res.Oudlers,
		Threshold:   res.Threshold,
		Made:        res.Made,
		Scores:      pointsSlice(res.Scores),
		Totals:      pointsSlice(next.TotalScores),
	})
	t.broadcastLocked(PhaseChangeMsg{Phase: next.Phase.String()})
	if next.Phase == engine.PhaseEnd {
		t.gameOverLocked("max_rounds")
		return
	}
	t.startRoundLocked()
}

// concludeLocked marks the live distribution finished and publishes its
// numbers now that the cards are no longer secret.
func (t *Table) concludeLocked() {
	if !t.live {
		return
	}
	t.live = false
	if err := t.dists.Conclude(t.dist.HashCode); err != nil {
		log.Printf("table %s: conclude %s: %v", t.id, t.dist.HashCode, err)
	}
	t.broadcastLocked(DistributionInfoMsg{
		HashCode:           t.dist.HashCode,
		DistributionNumber: t.dist.Number.String(),
		SequenceNumber:     t.dist.Sequence.String(),
	})
}

func (t *Table) gameOverLocked(reason string) {
	totals := t.state.TotalScores
	winner := 0
	for i := range totals {
		if totals[i] > totals[winner] {
			winner = i
		}
	}
	log.Printf("table %s: game over (%s), totals %v", t.id, reason, totals)
	t.broadcastLocked(GameOverMsg{Reason: reason, Totals: pointsSlice(totals), Winner: winner})
	t.sendStatesLocked()
}

// scheduleBotLocked queues a move if a bot is to act. A task whose version no
// longer matches when it fires does nothing.
func (t *Table) scheduleBotLocked() {
	t.version++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if !t.started || t.closed || t.halted {
		return
	}
	p, ok := engine.CurrentPlayer(t.state)
	if !ok || t.seats[p] == nil || t.seats[p].bot == nil {
		return
	}
	v := t.version
	t.cancel = t.sched.After(t.cfg.BotDelay, func() { t.runBot(v) })
}

func (t *Table) runBot(version int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if version != t.version || t.closed || t.halted {
		return
	}
	t.cancel = nil
	p, ok := engine.CurrentPlayer(t.state)
	if !ok || t.seats[p] == nil || t.seats[p].bot == nil {
		return
	}
	a, err := t.seats[p].bot.ChooseAction(engine.ViewFor(t.state, p))
	if err != nil {
		t.haltLocked(p, err)
		return
	}
	next, err := engine.ApplyAction(t.state, p, a)
	if err != nil {
		t.haltLocked(p, fmt.Errorf("%w: bot proposed %v: %v", engine.ErrInvariant, a.Type, err))
		return
	}
	t.afterActionLocked(next, p, a)
}

func (t *Table) haltLocked(seatIdx int, err error) {
	log.Printf("table %s: INVARIANT VIOLATION seat=%d phase=%s round=%d: %v", t.id, seatIdx, t.state.Phase, t.state.Round, err)
	t.halted = true
	t.version++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.broadcastLocked(ErrorMsg{Code: "internal", Message: err.Error()})
}

func (t *Table) sendSnapshotLocked(c Conn, i int) {
	_ = c.Send(t.tableStateLocked())
	if t.started {
		_ = c.Send(GameStateMsg{State: BuildGameView(t.state, i)})
	}
}

func (t *Table) sendStatesLocked() {
	for i, s := range t.seats {
		if s.human() && s.conn != nil {
			if err := s.conn.Send(GameStateMsg{State: BuildGameView(t.state, i)}); err != nil {
				log.Printf("table %s: send state to seat %d: %v", t.id, i, err)
			}
		}
	}
}

func (t *Table) broadcastLocked(m Outbound) {
	for i, s := range t.seats {
		if s.human() && s.conn != nil {
			if err := s.conn.Send(m); err != nil {
				log.Printf("table %s: send %s to seat %d: %v", t.id, m.Kind(), i, err)
			}
		}
	}
}

func (t *Table) tableStateLocked() TableStateMsg {
	msg := TableStateMsg{TableID: t.id, Players: []PlayerInfo{}, Started: t.started, MaxRounds: t.cfg.Rules.MaxRounds}
	for i, s := range t.seats {
		if s != nil {
			msg.Players = append(msg.Players, t.playerInfoLocked(i))
		}
	}
	return msg
}

func (t *Table) playerInfoLocked(i int) PlayerInfo {
	s := t.seats[i]
	info := PlayerInfo{Seat: i, ID: s.id, Name: s.name, Ready: s.ready, Bot: s.bot != nil}
	if s.bot != nil {
		info.Difficulty = s.bot.Difficulty().String()
		info.Connected = true
	} else {
		info.Connected = s.conn != nil
	}
	return info
}

func (t *Table) newBotLocked(d bots.Difficulty) bots.Bot {
	t.botSeed++
	return bots.New(d, t.botSeed)
}

func (t *Table) seatOfLocked(id string) int {
	for i, s := range t.seats {
		if s != nil && s.id == id {
			return i
		}
	}
	return engine.NoSeat
}

func (t *Table) freeSeatLocked() int {
	for i, s := range t.seats {
		if s == nil {
			return i
		}
	}
	return engine.NoSeat
}

func (t *Table) humansLocked() int {
	n := 0
	for _, s := range t.seats {
		if s.human() {
			n++
		}
	}
	return n
}

// ErrorFor classifies err into the ERROR notification sent to its sender.
func ErrorFor(err error) ErrorMsg {
	return ErrorMsg{Code: errorCode(err), Message: err.Error()}
}

func errorCode(err error) string {
	codes := []struct {
		target error
		code   string
	}{
		{engine.ErrInvariant, "internal"},
		{engine.ErrNotYourTurn, "not_your_turn"},
		{engine.ErrWrongPhase, "wrong_phase"},
		{engine.ErrBidTooLow, "bid_too_low"},
		{engine.ErrUnknownBid, "unknown_bid"},
		{engine.ErrUnknownCard, "unknown_card"},
		{engine.ErrCardNotInHand, "card_not_in_hand"},
		{engine.ErrIllegalCard, "illegal_card"},
		{engine.ErrDiscardPending, "discard_pending"},
		{engine.ErrBadDiscard, "bad_discard"},
		{ErrTableFull, "table_full"},
		{ErrGameStarted, "game_started"},
		{ErrNotStarted, "not_started"},
		{ErrNotSeated, "not_seated"},
		{ErrUnknownBot, "unknown_bot"},
		{ErrTableClosed, "table_closed"},
		{ErrTableHalted, "table_halted"},
		{bots.ErrUnknownDifficulty, "unknown_difficulty"},
		{ErrBadToken, "bad_token"},
		{ErrUserMissing, "user_required"},
		{ErrUnknownKind, "unknown_type"},
		{ErrBadPayload, "bad_request"},
	}
	for _, c := range codes {
		if errors.Is(err, c.target) {
			return c.code
		}
	}
	return "rejected"
}
