package server

import "tarot/internal/engine"

// buildEvents diffs two consecutive states into the public notifications for
// the action seat just applied. Nothing here depends on who receives it.
func buildEvents(prev engine.GameState, next engine.GameState, seat int, action engine.Action) []Outbound {
	events := []Outbound{}
	switch action.Type {
	case engine.ActionBid:
		events = append(events, BidPlacedMsg{Seat: seat, Bid: action.Bid.String()})
	case engine.ActionPlayCard:
		events = append(events, CardPlayedMsg{Seat: seat, CardID: action.Card.ID()})
	}

	if len(next.Tricks) > len(prev.Tricks) {
		events = append(events, TrickCompleteMsg{Trick: trickView(next.Tricks[len(next.Tricks)-1])})
	}
	if prev.Phase != next.Phase {
		ev := PhaseChangeMsg{Phase: next.Phase.String()}
		if next.Phase == engine.PhaseScoring {
			ev.Scores = pointsSlice(engine.CalculateScores(next))
		}
		events = append(events, ev)
	}
	return events
}
