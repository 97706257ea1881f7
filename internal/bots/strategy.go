package bots

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"tarot/internal/engine"
)

const (
	strongTrumpRank = 15
	// worthContesting is the trick value, in points, from which a HARD
	// defender spends a winning card.
	worthContesting = 10.0
)

type handShape struct {
	trumps  int
	high    int
	oudlers int
}

func shapeOf(hand []engine.Card) handShape {
	var s handShape
	for _, c := range hand {
		if c.IsOudler() {
			s.oudlers++
		}
		if !c.IsTrump() {
			continue
		}
		s.trumps++
		if c.Rank >= strongTrumpRank {
			s.high++
		}
	}
	return s
}

// DecideBid returns the bid the tier wants. The caller downgrades a bid that
// does not beat highest to PASS.
func DecideBid(hand []engine.Card, d Difficulty, highest engine.BidType, rng *rand.Rand) engine.BidType {
	s := shapeOf(hand)
	switch d {
	case Easy:
		r := rng.Float64()
		switch {
		case r < 0.7:
			return engine.BidPass
		case r < 0.9:
			return engine.BidPetite
		default:
			return engine.BidGarde
		}
	case Medium:
		if s.trumps >= 7 && s.oudlers >= 1 {
			return engine.BidPetite
		}
		return engine.BidPass
	default:
		strong := s.trumps >= 8 || s.oudlers >= 2 || (s.trumps >= 6 && s.high >= 3)
		if !strong {
			return engine.BidPass
		}
		garde := (s.oudlers >= 2 && s.trumps >= 10) || (s.oudlers >= 3 && s.trumps >= 12)
		if garde && highest < engine.BidGarde {
			return engine.BidGarde
		}
		return engine.BidPetite
	}
}

// ChooseCardToPlay picks among the oracle-legal cards only.
func ChooseCardToPlay(v engine.SeatView, d Difficulty, rng *rand.Rand) (engine.Card, error) {
	legal := engine.LegalCards(v)
	if len(legal) == 0 {
		return engine.Card{}, ErrNoLegalCard
	}
	if len(legal) == 1 {
		return legal[0], nil
	}
	switch d {
	case Easy:
		return legal[rng.Intn(len(legal))], nil
	case Medium:
		return mediumPlay(v, legal), nil
	default:
		return hardPlay(v, legal, rng), nil
	}
}

func mediumPlay(v engine.SeatView, legal []engine.Card) engine.Card {
	if len(v.Trick) == 0 {
		if c, ok := lowestTrump(legal); ok {
			return c
		}
		return cheapest(legal)
	}
	var winningTrumps []engine.Card
	for _, c := range winners(v, legal) {
		if c.IsTrump() {
			winningTrumps = append(winningTrumps, c)
		}
	}
	if c, ok := lowestTrump(winningTrumps); ok {
		return c
	}
	return cheapest(legal)
}

func hardPlay(v engine.SeatView, legal []engine.Card, rng *rand.Rand) engine.Card {
	if len(v.Trick) == 0 {
		if v.Seat == v.Taker {
			var strong []engine.Card
			for _, c := range legal {
				if c.IsTrump() && c.Rank >= strongTrumpRank {
					strong = append(strong, c)
				}
			}
			if len(strong) > 0 {
				return strong[rng.Intn(len(strong))]
			}
		}
		return cheapest(legal)
	}
	if v.Seat == v.Taker || trickValue(v.Trick) >= worthContesting {
		if w := winners(v, legal); len(w) > 0 {
			return cheapest(w)
		}
	}
	return cheapest(legal)
}

// winners returns the legal cards that would take the lead of the trick.
func winners(v engine.SeatView, legal []engine.Card) []engine.Card {
	var out []engine.Card
	plays := make([]engine.Play, len(v.Trick), len(v.Trick)+1)
	copy(plays, v.Trick)
	for _, c := range legal {
		if engine.WinningSeat(append(plays, engine.Play{Seat: v.Seat, Card: c})) == v.Seat {
			out = append(out, c)
		}
	}
	return out
}

func trickValue(plays []engine.Play) float64 {
	pts := make([]float64, len(plays))
	for i, p := range plays {
		pts[i] = engine.CardPoints(p.Card).Float()
	}
	return floats.Sum(pts)
}

// cost orders cards by points, then keeps trumps over plain cards, then rank.
func cost(c engine.Card) float64 {
	v := engine.CardPoints(c).Float() * 100
	if c.IsTrump() {
		v += 50
	}
	return v + float64(c.Rank)
}

func cheapest(cards []engine.Card) engine.Card {
	costs := make([]float64, len(cards))
	for i, c := range cards {
		costs[i] = cost(c)
	}
	return cards[floats.MinIdx(costs)]
}

func lowestTrump(cards []engine.Card) (engine.Card, bool) {
	best, ok := engine.Card{}, false
	for _, c := range cards {
		if c.IsTrump() && (!ok || c.Rank < best.Rank) {
			best, ok = c, true
		}
	}
	return best, ok
}
