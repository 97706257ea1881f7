package nakama

import "tarot/internal/server"

const (
	// MatchName is the authoritative match handler registered with Nakama.
	MatchName = "tarot_table"

	RpcCreateTable        = "create_table"
	RpcVerifyDistribution = "verify_distribution"

	// TickRate is match loop ticks per second.
	TickRate = 5
)

// Client -> server op codes. The match data is the JSON payload of the
// message kind.
const (
	OpJoin      int64 = 1
	OpReady     int64 = 2
	OpBid       int64 = 3
	OpDiscard   int64 = 4
	OpPlayCard  int64 = 5
	OpAddBot    int64 = 6
	OpRemoveBot int64 = 7
	OpPing      int64 = 8
)

// Server -> client op codes.
const (
	OpTableState       int64 = 101
	OpGameState        int64 = 102 // sent privately
	OpPlayerJoined     int64 = 103
	OpPlayerLeft       int64 = 104
	OpPlayerReady      int64 = 105
	OpBidPlaced        int64 = 106
	OpCardPlayed       int64 = 107
	OpTrickComplete    int64 = 108
	OpPhaseChange      int64 = 109
	OpDistributionInfo int64 = 110
	OpRoundStart       int64 = 111
	OpRoundEnd         int64 = 112
	OpGameOver         int64 = 113
	OpError            int64 = 114
	OpPong             int64 = 115
)

var inboundKinds = map[int64]string{
	OpJoin:      server.KindJoin,
	OpReady:     server.KindReady,
	OpBid:       server.KindBid,
	OpDiscard:   server.KindDiscard,
	OpPlayCard:  server.KindPlayCard,
	OpAddBot:    server.KindAddBot,
	OpRemoveBot: server.KindRemoveBot,
	OpPing:      server.KindPing,
}

var outboundOps = map[string]int64{
	server.KindTableState:       OpTableState,
	server.KindGameState:        OpGameState,
	server.KindPlayerJoined:     OpPlayerJoined,
	server.KindPlayerLeft:       OpPlayerLeft,
	server.KindPlayerReady:      OpPlayerReady,
	server.KindBidPlaced:        OpBidPlaced,
	server.KindCardPlayed:       OpCardPlayed,
	server.KindTrickComplete:    OpTrickComplete,
	server.KindPhaseChange:      OpPhaseChange,
	server.KindDistributionInfo: OpDistributionInfo,
	server.KindRoundStart:       OpRoundStart,
	server.KindRoundEnd:         OpRoundEnd,
	server.KindGameOver:         OpGameOver,
	server.KindError:            OpError,
	server.KindPong:             OpPong,
}
