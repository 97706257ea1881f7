package server

import (
	"fmt"

	"tarot/internal/engine"
)

type SeatInfo struct {
	Seat       int           `json:"seat"`
	HandCount  int           `json:"handCount"`
	RoundScore engine.Points `json:"roundScore"`
	Total      engine.Points `json:"total"`
}

type BidView struct {
	Seat int    `json:"seat"`
	Bid  string `json:"bidType"`
}

type PlayView struct {
	Seat   int    `json:"seat"`
	CardID string `json:"cardId"`
}

type TrickView struct {
	Plays  []PlayView    `json:"plays"`
	Winner int           `json:"winner"`
	Points engine.Points `json:"points"`
}

// GameView is one recipient's picture of the table. Only the recipient's own
// hand is ever filled; other seats appear as counts.
type GameView struct {
	Seat     int    `json:"seat"`
	Phase    string `json:"phase"`
	Round    int    `json:"round"`
	Dealer   int    `json:"dealer"`
	ToAct    int    `json:"toAct"`
	Taker    int    `json:"taker"`
	Contract string `json:"contract,omitempty"`

	Hand           []string   `json:"hand"`
	Seats          []SeatInfo `json:"seats"`
	DogCount       int        `json:"dogCount"`
	RevealedDog    []string   `json:"revealedDog,omitempty"`
	Discard        []string   `json:"discard,omitempty"`
	DiscardPending bool       `json:"discardPending"`

	Bids         []BidView  `json:"bids"`
	Trick        []PlayView `json:"trick"`
	LastTrick    *TrickView `json:"lastTrick,omitempty"`
	TricksPlayed int        `json:"tricksPlayed"`

	LegalCards []string `json:"legalCards"`
	LegalBids  []string `json:"legalBids,omitempty"`
}

// BuildGameView renders g for viewer. A viewer outside 0..3 gets a
// spectator view without any hand.
func BuildGameView(g engine.GameState, viewer int) GameView {
	v := engine.ViewFor(g, viewer)
	view := GameView{
		Seat:           viewer,
		Phase:          v.Phase.String(),
		Round:          v.Round,
		Dealer:         v.Dealer,
		ToAct:          v.ToAct,
		Taker:          v.Taker,
		Hand:           cardIDs(v.Hand),
		DogCount:       v.DogCount,
		RevealedDog:    cardIDs(v.RevealedDog),
		Discard:        cardIDs(v.Discard),
		DiscardPending: v.DiscardPending,
		Bids:           make([]BidView, 0, len(v.Bids)),
		Trick:          playViews(v.Trick),
		TricksPlayed:   len(v.Tricks),
		LegalCards:     cardIDs(engine.LegalCards(v)),
	}
	if view.Hand == nil {
		view.Hand = []string{}
	}
	if view.LegalCards == nil {
		view.LegalCards = []string{}
	}
	if v.Taker != engine.NoSeat {
		view.Contract = v.Contract.String()
	}
	for i := 0; i < engine.NumSeats; i++ {
		view.Seats = append(view.Seats, SeatInfo{
			Seat:       i,
			HandCount:  v.HandCounts[i],
			RoundScore: v.RoundScores[i],
			Total:      v.TotalScores[i],
		})
	}
	for _, b := range v.Bids {
		view.Bids = append(view.Bids, BidView{Seat: b.Seat, Bid: b.Type.String()})
	}
	if n := len(v.Tricks); n > 0 {
		last := trickView(v.Tricks[n-1])
		view.LastTrick = &last
	}
	for _, a := range engine.LegalActions(g, viewer) {
		if a.Type == engine.ActionBid {
			view.LegalBids = append(view.LegalBids, a.Bid.String())
		}
	}
	return view
}

func playViews(plays []engine.Play) []PlayView {
	out := make([]PlayView, 0, len(plays))
	for _, p := range plays {
		out = append(out, PlayView{Seat: p.Seat, CardID: p.Card.ID()})
	}
	return out
}

func trickView(t engine.Trick) TrickView {
	var pts engine.Points
	for _, p := range t.Plays {
		pts += engine.CardPoints(p.Card)
	}
	return TrickView{Plays: playViews(t.Plays), Winner: t.Winner, Points: pts}
}

// Trick parses a completed trick back into engine cards.
func (t TrickView) Trick() (engine.Trick, error) {
	plays, err := parsePlays(t.Plays)
	if err != nil {
		return engine.Trick{}, err
	}
	return engine.Trick{Plays: plays, Winner: t.Winner}, nil
}

// SeatView rebuilds what a remote seat knows from its GameView and the
// tricks it has seen completed this round. It lets a networked client reuse
// the bots package.
func (v GameView) SeatView(tricks []engine.Trick) (engine.SeatView, error) {
	phase, err := parsePhase(v.Phase)
	if err != nil {
		return engine.SeatView{}, err
	}
	sv := engine.SeatView{
		Seat:           v.Seat,
		Phase:          phase,
		Round:          v.Round,
		Dealer:         v.Dealer,
		ToAct:          v.ToAct,
		DogCount:       v.DogCount,
		DiscardPending: v.DiscardPending,
		Taker:          v.Taker,
		Tricks:         tricks,
	}
	if v.Contract != "" {
		if sv.Contract, err = engine.ParseBidType(v.Contract); err != nil {
			return engine.SeatView{}, err
		}
	}
	if sv.Hand, err = parseCards(v.Hand); err != nil {
		return engine.SeatView{}, err
	}
	if len(v.RevealedDog) > 0 {
		if sv.RevealedDog, err = parseCards(v.RevealedDog); err != nil {
			return engine.SeatView{}, err
		}
	}
	if len(v.Discard) > 0 {
		if sv.Discard, err = parseCards(v.Discard); err != nil {
			return engine.SeatView{}, err
		}
	}
	for _, b := range v.Bids {
		bt, err := engine.ParseBidType(b.Bid)
		if err != nil {
			return engine.SeatView{}, err
		}
		sv.Bids = append(sv.Bids, engine.Bid{Seat: b.Seat, Type: bt})
	}
	if sv.Trick, err = parsePlays(v.Trick); err != nil {
		return engine.SeatView{}, err
	}
	for _, s := range v.Seats {
		if s.Seat < 0 || s.Seat >= engine.NumSeats {
			continue
		}
		sv.HandCounts[s.Seat] = s.HandCount
		sv.RoundScores[s.Seat] = s.RoundScore
		sv.TotalScores[s.Seat] = s.Total
	}
	return sv, nil
}

func parsePlays(views []PlayView) ([]engine.Play, error) {
	plays := make([]engine.Play, 0, len(views))
	for _, p := range views {
		c, err := engine.ParseCardID(p.CardID)
		if err != nil {
			return nil, err
		}
		plays = append(plays, engine.Play{Seat: p.Seat, Card: c})
	}
	return plays, nil
}

func parsePhase(s string) (engine.Phase, error) {
	for p := engine.PhaseDealing; p <= engine.PhaseEnd; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: phase %q", ErrBadPayload, s)
}
