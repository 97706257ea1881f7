package engine

// SeatView is what one seat may legally know: its own hand plus the public
// record of the round. Bots only ever see a SeatView.
type SeatView struct {
	Seat   int
	Phase  Phase
	Round  int
	Dealer int
	ToAct  int

	Hand       []Card
	HandCounts [NumSeats]int
	DogCount   int
	// RevealedDog is set for PETITE and GARDE once the dog is taken.
	RevealedDog []Card
	// Discard is only filled for the taker.
	Discard        []Card
	DiscardPending bool

	Bids     []Bid
	Taker    int
	Contract BidType

	Trick  []Play
	Tricks []Trick

	RoundScores [NumSeats]Points
	TotalScores [NumSeats]Points
}

func ViewFor(g GameState, seat int) SeatView {
	v := SeatView{
		Seat:           seat,
		Phase:          g.Phase,
		Round:          g.Round,
		Dealer:         g.Dealer,
		ToAct:          g.ToAct,
		DogCount:       len(g.Dog),
		RevealedDog:    cloneCards(g.RevealedDog),
		DiscardPending: g.DiscardPending,
		Bids:           append([]Bid(nil), g.Bids...),
		Taker:          g.Taker,
		Contract:       g.Contract,
		Trick:          append([]Play(nil), g.Trick.Plays...),
		RoundScores:    g.RoundScores,
		TotalScores:    g.TotalScores,
	}
	for i, h := range g.Hands {
		v.HandCounts[i] = len(h)
	}
	if seat >= 0 && seat < NumSeats {
		v.Hand = cloneCards(g.Hands[seat])
		if seat == g.Taker {
			v.Discard = cloneCards(g.Discard)
		}
	}
	if g.Tricks != nil {
		v.Tricks = make([]Trick, len(g.Tricks))
		for i, t := range g.Tricks {
			v.Tricks[i] = cloneTrick(t)
		}
	}
	return v
}

// HighestBid returns the strongest non-pass bid visible so far.
func (v SeatView) HighestBid() BidType {
	best := BidPass
	for _, b := range v.Bids {
		if b.Type > best {
			best = b.Type
		}
	}
	return best
}

func (v SeatView) MyTurn() bool { return v.ToAct == v.Seat }

// LegalCards is the legality oracle on a view. It agrees with CanPlayCard for
// the state the view was built from.
func LegalCards(v SeatView) []Card {
	if v.Phase != PhasePlaying || v.DiscardPending || !v.MyTurn() {
		return nil
	}
	var legal []Card
	for _, c := range v.Hand {
		if followLegal(v.Hand, v.Trick, c) {
			legal = append(legal, c)
		}
	}
	return legal
}
