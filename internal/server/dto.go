package server

import (
	"errors"
	"fmt"

	"tarot/internal/engine"
)

var ErrNotAnAction = errors.New("message is not a game action")

// ToAction converts a game intent into an engine action.
func ToAction(m Inbound) (engine.Action, error) {
	switch msg := m.(type) {
	case BidMsg:
		b, err := engine.ParseBidType(msg.Bid)
		if err != nil {
			return engine.Action{}, err
		}
		return engine.Action{Type: engine.ActionBid, Bid: b}, nil
	case DiscardMsg:
		if len(msg.Cards) == 0 {
			return engine.Action{}, fmt.Errorf("%w: discard cards required", ErrBadPayload)
		}
		cards, err := parseCards(msg.Cards)
		if err != nil {
			return engine.Action{}, err
		}
		return engine.Action{Type: engine.ActionDiscard, Cards: cards}, nil
	case PlayCardMsg:
		c, err := engine.ParseCardID(msg.CardID)
		if err != nil {
			return engine.Action{}, err
		}
		return engine.Action{Type: engine.ActionPlayCard, Card: c}, nil
	default:
		return engine.Action{}, fmt.Errorf("%w: %s", ErrNotAnAction, m.Kind())
	}
}

// FromAction is the inverse of ToAction for client-side bots.
func FromAction(a engine.Action) (Inbound, error) {
	switch a.Type {
	case engine.ActionBid:
		return BidMsg{Bid: a.Bid.String()}, nil
	case engine.ActionDiscard:
		return DiscardMsg{Cards: cardIDs(a.Cards)}, nil
	case engine.ActionPlayCard:
		return PlayCardMsg{CardID: a.Card.ID()}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotAnAction, a.Type)
	}
}

func parseCards(ids []string) ([]engine.Card, error) {
	cards := make([]engine.Card, 0, len(ids))
	for _, id := range ids {
		c, err := engine.ParseCardID(id)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

func cardIDs(cards []engine.Card) []string {
	if cards == nil {
		return nil
	}
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.ID()
	}
	return out
}

func pointsSlice(p [engine.NumSeats]engine.Points) []engine.Points {
	return append([]engine.Points(nil), p[:]...)
}
