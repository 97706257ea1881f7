package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"tarot/internal/engine"
)

var (
	ErrUnknownKind = errors.New("unknown message type")
	ErrBadPayload  = errors.New("invalid payload")
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	KindJoin      = "JOIN"
	KindReady     = "READY"
	KindBid       = "BID"
	KindDiscard   = "DISCARD"
	KindPlayCard  = "PLAY_CARD"
	KindAddBot    = "ADD_BOT"
	KindRemoveBot = "REMOVE_BOT"
	KindPing      = "PING"
)

const (
	KindTableState       = "TABLE_STATE"
	KindGameState        = "GAME_STATE"
	KindPlayerJoined     = "PLAYER_JOINED"
	KindPlayerLeft       = "PLAYER_LEFT"
	KindPlayerReady      = "PLAYER_READY"
	KindBidPlaced        = "BID_PLACED"
	KindCardPlayed       = "CARD_PLAYED"
	KindTrickComplete    = "TRICK_COMPLETE"
	KindPhaseChange      = "GAME_PHASE_CHANGE"
	KindDistributionInfo = "DISTRIBUTION_INFO"
	KindRoundStart       = "ROUND_START"
	KindRoundEnd         = "ROUND_END"
	KindGameOver         = "GAME_OVER"
	KindError            = "ERROR"
	KindPong             = "PONG"
)

// Inbound is a client intent. The set of implementations is closed.
type Inbound interface {
	Kind() string
	inbound()
}

type JoinMsg struct {
	TableID     string `json:"tableId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type ReadyMsg struct{}

type BidMsg struct {
	Bid string `json:"bidType"`
}

type DiscardMsg struct {
	Cards []string `json:"cardIds"`
}

type PlayCardMsg struct {
	CardID string `json:"cardId"`
}

type AddBotMsg struct {
	Difficulty string `json:"difficulty"`
}

type RemoveBotMsg struct {
	BotID string `json:"botId"`
}

type PingMsg struct{}

func (JoinMsg) Kind() string      { return KindJoin }
func (ReadyMsg) Kind() string     { return KindReady }
func (BidMsg) Kind() string       { return KindBid }
func (DiscardMsg) Kind() string   { return KindDiscard }
func (PlayCardMsg) Kind() string  { return KindPlayCard }
func (AddBotMsg) Kind() string    { return KindAddBot }
func (RemoveBotMsg) Kind() string { return KindRemoveBot }
func (PingMsg) Kind() string      { return KindPing }

func (JoinMsg) inbound()      {}
func (ReadyMsg) inbound()     {}
func (BidMsg) inbound()       {}
func (DiscardMsg) inbound()   {}
func (PlayCardMsg) inbound()  {}
func (AddBotMsg) inbound()    {}
func (RemoveBotMsg) inbound() {}
func (PingMsg) inbound()      {}

// DecodeInbound parses one client frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return DecodePayload(env.Type, env.Payload)
}

// DecodePayload parses the payload of a message whose kind is already known.
func DecodePayload(kind string, payload []byte) (Inbound, error) {
	var msg Inbound
	switch kind {
	case KindJoin:
		msg = &JoinMsg{}
	case KindReady:
		return ReadyMsg{}, nil
	case KindBid:
		msg = &BidMsg{}
	case KindDiscard:
		msg = &DiscardMsg{}
	case KindPlayCard:
		msg = &PlayCardMsg{}
	case KindAddBot:
		msg = &AddBotMsg{}
	case KindRemoveBot:
		msg = &RemoveBotMsg{}
	case KindPing:
		return PingMsg{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, msg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, kind, err)
		}
	}
	switch m := msg.(type) {
	case *JoinMsg:
		return *m, nil
	case *BidMsg:
		return *m, nil
	case *DiscardMsg:
		return *m, nil
	case *PlayCardMsg:
		return *m, nil
	case *AddBotMsg:
		return *m, nil
	case *RemoveBotMsg:
		return *m, nil
	}
	return msg, nil
}

// Outbound is a server notification. The set of implementations is closed.
type Outbound interface {
	Kind() string
	outbound()
}

type PlayerInfo struct {
	Seat       int    `json:"seat"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	Bot        bool   `json:"bot"`
	Difficulty string `json:"difficulty,omitempty"`
	Ready      bool   `json:"ready"`
	Connected  bool   `json:"connected"`
}

type TableStateMsg struct {
	TableID   string       `json:"tableId"`
	Players   []PlayerInfo `json:"players"`
	Started   bool         `json:"started"`
	MaxRounds int          `json:"maxRounds"`
}

type GameStateMsg struct {
	State GameView `json:"state"`
}

type PlayerJoinedMsg struct {
	Player PlayerInfo `json:"player"`
}

type PlayerLeftMsg struct {
	Seat       int    `json:"seat"`
	ID         string `json:"id"`
	ReplacedBy string `json:"replacedBy,omitempty"`
}

type PlayerReadyMsg struct {
	Seat int    `json:"seat"`
	ID   string `json:"id"`
}

type BidPlacedMsg struct {
	Seat int    `json:"seat"`
	Bid  string `json:"bidType"`
}

type CardPlayedMsg struct {
	Seat   int    `json:"seat"`
	CardID string `json:"cardId"`
}

type TrickCompleteMsg struct {
	Trick TrickView `json:"trick"`
}

type PhaseChangeMsg struct {
	Phase  string          `json:"phase"`
	Scores []engine.Points `json:"scores,omitempty"`
}

// DistributionInfoMsg carries only the hash while the round is live. The
// numbers follow once the cards are public.
type DistributionInfoMsg struct {
	HashCode           string `json:"hashCode"`
	DistributionNumber string `json:"distributionNumber,omitempty"`
	SequenceNumber     string `json:"sequenceNumber,omitempty"`
}

type RoundStartMsg struct {
	Round  int `json:"round"`
	Dealer int `json:"dealer"`
}

type RoundEndMsg struct {
	Round       int             `json:"round"`
	Taker       int             `json:"taker"`
	Contract    string          `json:"contract"`
	TakerPoints engine.Points   `json:"takerPoints"`
	Oudlers     int             `json:"oudlers"`
	Threshold   engine.Points   `json:"threshold"`
	Made        bool            `json:"made"`
	Scores      []engine.Points `json:"scores"`
	Totals      []engine.Points `json:"totals"`
}

type GameOverMsg struct {
	Reason string          `json:"reason"`
	Totals []engine.Points `json:"totals"`
	Winner int             `json:"winner"`
}

type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMsg struct{}

func (TableStateMsg) Kind() string       { return KindTableState }
func (GameStateMsg) Kind() string        { return KindGameState }
func (PlayerJoinedMsg) Kind() string     { return KindPlayerJoined }
func (PlayerLeftMsg) Kind() string       { return KindPlayerLeft }
func (PlayerReadyMsg) Kind() string      { return KindPlayerReady }
func (BidPlacedMsg) Kind() string        { return KindBidPlaced }
func (CardPlayedMsg) Kind() string       { return KindCardPlayed }
func (TrickCompleteMsg) Kind() string    { return KindTrickComplete }
func (PhaseChangeMsg) Kind() string      { return KindPhaseChange }
func (DistributionInfoMsg) Kind() string { return KindDistributionInfo }
func (RoundStartMsg) Kind() string       { return KindRoundStart }
func (RoundEndMsg) Kind() string         { return KindRoundEnd }
func (GameOverMsg) Kind() string         { return KindGameOver }
func (ErrorMsg) Kind() string            { return KindError }
func (PongMsg) Kind() string             { return KindPong }

func (TableStateMsg) outbound()       {}
func (GameStateMsg) outbound()        {}
func (PlayerJoinedMsg) outbound()     {}
func (PlayerLeftMsg) outbound()       {}
func (PlayerReadyMsg) outbound()      {}
func (BidPlacedMsg) outbound()        {}
func (CardPlayedMsg) outbound()       {}
func (TrickCompleteMsg) outbound()    {}
func (PhaseChangeMsg) outbound()      {}
func (DistributionInfoMsg) outbound() {}
func (RoundStartMsg) outbound()       {}
func (RoundEndMsg) outbound()         {}
func (GameOverMsg) outbound()         {}
func (ErrorMsg) outbound()            {}
func (PongMsg) outbound()             {}

// Encode frames an outbound message as an envelope.
func Encode(m Outbound) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return json.Marshal(Envelope{Type: m.Kind(), Payload: payload})
}

// DecodeOutbound parses a server frame into a pointer to its variant.
func DecodeOutbound(data []byte) (Outbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	var m Outbound
	switch env.Type {
	case KindTableState:
		m = &TableStateMsg{}
	case KindGameState:
		m = &GameStateMsg{}
	case KindPlayerJoined:
		m = &PlayerJoinedMsg{}
	case KindPlayerLeft:
		m = &PlayerLeftMsg{}
	case KindPlayerReady:
		m = &PlayerReadyMsg{}
	case KindBidPlaced:
		m = &BidPlacedMsg{}
	case KindCardPlayed:
		m = &CardPlayedMsg{}
	case KindTrickComplete:
		m = &TrickCompleteMsg{}
	case KindPhaseChange:
		m = &PhaseChangeMsg{}
	case KindDistributionInfo:
		m = &DistributionInfoMsg{}
	case KindRoundStart:
		m = &RoundStartMsg{}
	case KindRoundEnd:
		m = &RoundEndMsg{}
	case KindGameOver:
		m = &GameOverMsg{}
	case KindError:
		m = &ErrorMsg{}
	case KindPong:
		m = &PongMsg{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, env.Type, err)
		}
	}
	return m, nil
}
