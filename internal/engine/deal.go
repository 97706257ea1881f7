package engine

import (
	"fmt"
	"sort"
)

// BuildDeck returns the 78 cards in canonical construction order: each ordinary
// suit 1..14 (spades, hearts, diamonds, clubs), then trumps 1..21, then the Excuse.
// Distribution hash codes depend on this order and it must never change.
func BuildDeck() []Card {
	deck := make([]Card, 0, DeckSize)
	for _, s := range []Suit{SuitSpades, SuitHearts, SuitDiamonds, SuitClubs} {
		for r := 1; r <= RankKing; r++ {
			deck = append(deck, Card{Suit: s, Rank: r})
		}
	}
	for r := 1; r <= 21; r++ {
		deck = append(deck, Trump(r))
	}
	return append(deck, Excuse)
}

func displayOrder(s Suit) int {
	switch s {
	case SuitTrumps:
		return 0
	case SuitExcuse:
		return 1
	case SuitSpades:
		return 2
	case SuitHearts:
		return 3
	case SuitDiamonds:
		return 4
	default:
		return 5
	}
}

// SortHand orders cards Trumps, Excuse, Spades, Hearts, Diamonds, Clubs with
// ascending rank inside each group.
func SortHand(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		oi, oj := displayOrder(cards[i].Suit), displayOrder(cards[j].Suit)
		if oi != oj {
			return oi < oj
		}
		return cards[i].Rank < cards[j].Rank
	})
}

// DealRound moves a DEALING state to BIDDING with the given hands and dog.
// The seat after the dealer bids first.
func DealRound(g GameState, d Deal) (GameState, error) {
	if g.Phase != PhaseDealing {
		return g, fmt.Errorf("%w: deal in %s", ErrWrongPhase, g.Phase)
	}
	if err := checkDeal(d); err != nil {
		return g, err
	}
	next := g.clone()
	for i := range d.Hands {
		next.Hands[i] = cloneCards(d.Hands[i])
		SortHand(next.Hands[i])
	}
	next.Dog = cloneCards(d.Dog)
	next.Phase = PhaseBidding
	next.ToAct = (g.Dealer + 1) % NumSeats
	return next, nil
}

func checkDeal(d Deal) error {
	seen := make(map[Card]bool, DeckSize)
	add := func(c Card) error {
		if !c.valid() {
			return fmt.Errorf("%w: deal holds invalid card %v", ErrInvariant, c)
		}
		if seen[c] {
			return fmt.Errorf("%w: deal holds %v twice", ErrInvariant, c)
		}
		seen[c] = true
		return nil
	}
	for i, h := range d.Hands {
		if len(h) != HandSize {
			return fmt.Errorf("%w: seat %d dealt %d cards", ErrInvariant, i, len(h))
		}
		for _, c := range h {
			if err := add(c); err != nil {
				return err
			}
		}
	}
	if len(d.Dog) != DogSize {
		return fmt.Errorf("%w: dog has %d cards", ErrInvariant, len(d.Dog))
	}
	for _, c := range d.Dog {
		if err := add(c); err != nil {
			return err
		}
	}
	return nil
}
