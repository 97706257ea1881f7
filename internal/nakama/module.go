// Package nakama runs tarot tables as authoritative Nakama matches.
package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/heroiclabs/nakama-common/runtime"

	"tarot/internal/distribution"
)

var errPayload = runtime.NewError("invalid payload", 3) // INVALID_ARGUMENT

// InitModule wires the tarot match handler and its RPCs. Every match of the
// process shares one distribution registry.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	dists := distribution.NewRegistry()

	if err := initializer.RegisterMatch(MatchName, func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
		return newMatchHandler(dists), nil
	}); err != nil {
		return err
	}
	if err := initializer.RegisterRpc(RpcCreateTable, rpcCreateTable); err != nil {
		return err
	}
	if err := initializer.RegisterRpc(RpcVerifyDistribution, rpcVerifyDistribution(dists)); err != nil {
		return err
	}

	logger.Info("Tarot Go module loaded.")
	return nil
}

type createTableRequest struct {
	TableID   string `json:"tableId"`
	MaxRounds int    `json:"maxRounds"`
}

type createTableResponse struct {
	MatchID string `json:"matchId"`
}

// rpcCreateTable starts a new tarot match.
//
// Payload: optional {"tableId", "maxRounds"}.
// Returns: {"matchId"}.
func rpcCreateTable(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)

	var req createTableRequest
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return "", errPayload
		}
	}
	params := map[string]interface{}{}
	if req.TableID != "" {
		params["table_id"] = req.TableID
	}
	if req.MaxRounds > 0 {
		params["max_rounds"] = req.MaxRounds
	}
	matchID, err := nk.MatchCreate(ctx, MatchName, params)
	if err != nil {
		logger.Error("rpcCreateTable [User:%s]: %v", userID, err)
		return "", err
	}
	logger.Info("rpcCreateTable [User:%s]: created match %s", userID, matchID)

	out, err := json.Marshal(createTableResponse{MatchID: matchID})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type verifyRequest struct {
	HashCode string `json:"hashCode"`
}

// rpcVerifyDistribution answers a hash code lookup the same way the HTTP
// endpoint does.
func rpcVerifyDistribution(dists *distribution.Registry) func(context.Context, runtime.Logger, *sql.DB, runtime.NakamaModule, string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		var req verifyRequest
		if err := json.Unmarshal([]byte(payload), &req); err != nil || req.HashCode == "" {
			return "", errPayload
		}
		info, err := dists.Lookup(req.HashCode)
		if errors.Is(err, distribution.ErrUnknownDistribution) {
			return "", runtime.NewError(err.Error(), 5) // NOT_FOUND
		}
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(info)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}
