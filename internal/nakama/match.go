package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"tarot/internal/config"
	"tarot/internal/distribution"
	"tarot/internal/engine"
	"tarot/internal/server"
)

const (
	LabelKeyOpen    = "open" // free seats; used by match listing queries
	LabelKeyStarted = "started"
	LabelKeyTable   = "table"
)

// MatchState is the per-match state handed back and forth with Nakama.
type MatchState struct {
	Table     *server.Table
	Clock     *server.ManualScheduler
	Presences map[string]runtime.Presence // session id -> presence

	outbox *outbox
	label  string
}

type frame struct {
	op   int64
	data []byte
	to   runtime.Presence
}

// outbox collects table notifications between dispatcher calls. The
// dispatcher is only usable inside a hook, so frames are flushed at the end
// of each one.
type outbox struct {
	mu     sync.Mutex
	frames []frame
}

func (o *outbox) push(f frame) {
	o.mu.Lock()
	o.frames = append(o.frames, f)
	o.mu.Unlock()
}

func (o *outbox) drain() []frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	frames := o.frames
	o.frames = nil
	return frames
}

// presenceConn binds a Nakama presence to a table seat.
type presenceConn struct {
	presence runtime.Presence
	box      *outbox
}

func (c *presenceConn) ID() string { return c.presence.GetSessionId() }

func (c *presenceConn) Send(m server.Outbound) error {
	op, ok := outboundOps[m.Kind()]
	if !ok {
		return fmt.Errorf("%w: %s", server.ErrUnknownKind, m.Kind())
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.box.push(frame{op: op, data: data, to: c.presence})
	return nil
}

func newMatchHandler(dists *distribution.Registry) *matchHandler {
	return &matchHandler{dists: dists}
}

type matchHandler struct {
	dists *distribution.Registry
}

func (mh *matchHandler) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	cfg := config.Default()
	env, _ := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string)
	if err := cfg.ApplyEnv(envLookup(env)); err != nil {
		logger.Error("MatchInit: %v", err)
		return nil, 0, ""
	}
	if v, ok := params["max_rounds"]; ok {
		n, err := intParam(v)
		if err != nil {
			logger.Error("MatchInit: max_rounds: %v", err)
			return nil, 0, ""
		}
		cfg.MaxRounds = n
	}
	tcfg, err := cfg.Table()
	if err != nil {
		logger.Error("MatchInit: %v", err)
		return nil, 0, ""
	}

	id, _ := params["table_id"].(string)
	if id == "" {
		id, _ = ctx.Value(runtime.RUNTIME_CTX_MATCH_ID).(string)
	}
	clock := server.NewManualScheduler()
	state := &MatchState{
		Table:     server.NewTable(id, tcfg, mh.dists, clock),
		Clock:     clock,
		Presences: make(map[string]runtime.Presence),
		outbox:    &outbox{},
	}
	label, err := buildLabel(state.Table.Snapshot())
	if err != nil {
		logger.Error("MatchInit: marshal label: %v", err)
		return nil, 0, ""
	}
	state.label = label
	logger.Info("MatchInit: table %s, %d rounds, bot delay %s", id, cfg.MaxRounds, tcfg.BotDelay)
	return state, TickRate, label
}

func (mh *matchHandler) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	ms, ok := state.(*MatchState)
	if !ok {
		return state, false, "state not found"
	}
	if !ms.Table.Admits(presence.GetUserId()) {
		return ms, false, "table full or already started"
	}
	return ms, true, ""
}

func (mh *matchHandler) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	ms, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchJoin: state not found")
		return state
	}
	var rejected []runtime.Presence
	for _, p := range presences {
		conn := &presenceConn{presence: p, box: ms.outbox}
		name := p.GetUsername()
		if name == "" {
			name = p.GetUserId()
		}
		seat, err := ms.Table.Join(conn, p.GetUserId(), name)
		if err != nil {
			logger.Warn("MatchJoin: %s: %v", p.GetUserId(), err)
			_ = conn.Send(server.ErrorFor(err))
			rejected = append(rejected, p)
			continue
		}
		ms.Presences[p.GetSessionId()] = p
		logger.Debug("MatchJoin: %s seated at %d", p.GetUserId(), seat)
	}
	mh.flush(ms, dispatcher, logger)
	if len(rejected) > 0 {
		if err := dispatcher.MatchKick(rejected); err != nil {
			logger.Error("MatchJoin: kick: %v", err)
		}
	}
	return ms
}

func (mh *matchHandler) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	ms, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchLeave: state not found")
		return state
	}
	for _, p := range presences {
		delete(ms.Presences, p.GetSessionId())
		ms.Table.Leave(p.GetUserId())
	}
	mh.flush(ms, dispatcher, logger)
	if ms.Table.Closed() {
		logger.Info("MatchLeave: no humans left, terminating table %s", ms.Table.ID())
		return nil
	}
	return ms
}

func (mh *matchHandler) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	ms, ok := state.(*MatchState)
	if !ok {
		return state
	}
	for _, msg := range messages {
		mh.handle(ms, logger, msg)
	}
	ms.Clock.Advance(time.Second / TickRate)
	mh.flush(ms, dispatcher, logger)
	if ms.Table.Closed() {
		return nil
	}
	return ms
}

func (mh *matchHandler) handle(ms *MatchState, logger runtime.Logger, msg runtime.MatchData) {
	conn := &presenceConn{presence: msg, box: ms.outbox}
	kind, ok := inboundKinds[msg.GetOpCode()]
	if !ok {
		logger.Warn("MatchLoop: unknown opcode %d from %s", msg.GetOpCode(), msg.GetUserId())
		_ = conn.Send(server.ErrorFor(fmt.Errorf("%w: opcode %d", server.ErrUnknownKind, msg.GetOpCode())))
		return
	}
	in, err := server.DecodePayload(kind, msg.GetData())
	if err != nil {
		_ = conn.Send(server.ErrorFor(err))
		return
	}
	switch in.(type) {
	case server.PingMsg:
		_ = conn.Send(server.PongMsg{})
		return
	case server.JoinMsg:
		// Seating happens in MatchJoin; a JOIN inside the match resends the
		// snapshot.
		_, err = ms.Table.Join(conn, msg.GetUserId(), msg.GetUsername())
	default:
		err = ms.Table.Handle(msg.GetUserId(), in)
	}
	if err != nil && !errors.Is(err, engine.ErrInvariant) {
		logger.Debug("MatchLoop: %s rejected: %v", msg.GetUserId(), err)
		_ = conn.Send(server.ErrorFor(err))
	}
}

// flush delivers queued frames and refreshes the label when it changed.
func (mh *matchHandler) flush(ms *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	for _, f := range ms.outbox.drain() {
		if err := dispatcher.BroadcastMessage(f.op, f.data, []runtime.Presence{f.to}, nil, true); err != nil {
			logger.Error("broadcast op %d to %s: %v", f.op, f.to.GetUserId(), err)
		}
	}
	label, err := buildLabel(ms.Table.Snapshot())
	if err != nil {
		logger.Error("UpdateLabel: marshal: %v", err)
		return
	}
	if label == ms.label {
		return
	}
	if err := dispatcher.MatchLabelUpdate(label); err != nil {
		logger.Error("UpdateLabel: %v", err)
		return
	}
	ms.label = label
}

func (mh *matchHandler) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, graceSeconds int) interface{} {
	ms, ok := state.(*MatchState)
	if !ok {
		return state
	}
	logger.Debug("MatchTerminate: table %s, grace %ds", ms.Table.ID(), graceSeconds)
	ms.Table.Close()
	mh.flush(ms, dispatcher, logger)
	return ms
}

func (mh *matchHandler) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	ms, ok := state.(*MatchState)
	if !ok {
		return state, ""
	}
	return ms, ms.label
}

func buildLabel(ts server.TableStateMsg) (string, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		LabelKeyOpen:    engine.NumSeats - len(ts.Players),
		LabelKeyStarted: ts.Started,
		LabelKeyTable:   ts.TableID,
	})
	if err != nil {
		return "", err
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

// intParam accepts the shapes a JSON-decoded match param can take.
func intParam(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
