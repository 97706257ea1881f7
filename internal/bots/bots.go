package bots

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"tarot/internal/engine"
)

var (
	ErrNotMyTurn         = errors.New("bot has nothing to do")
	ErrUnknownDifficulty = errors.New("unknown difficulty")
	// ErrNoLegalCard means the follow rules left a seat without a move.
	ErrNoLegalCard = fmt.Errorf("%w: no legal card", engine.ErrInvariant)
)

type Difficulty int

const (
	Easy Difficulty = iota
	Medium
	Hard
)

func (d Difficulty) String() string {
	switch d {
	case Easy:
		return "EASY"
	case Medium:
		return "MEDIUM"
	case Hard:
		return "HARD"
	default:
		return "UNKNOWN"
	}
}

func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToUpper(s) {
	case "EASY":
		return Easy, nil
	case "MEDIUM", "":
		return Medium, nil
	case "HARD":
		return Hard, nil
	default:
		return Easy, fmt.Errorf("%w: %q", ErrUnknownDifficulty, s)
	}
}

// Bot picks an action from what its seat can see. It never receives the
// full game state.
type Bot interface {
	ChooseAction(v engine.SeatView) (engine.Action, error)
	Difficulty() Difficulty
}

func New(d Difficulty, seed int64) Bot {
	switch d {
	case Hard:
		return NewHard(seed)
	case Medium:
		return NewMedium(seed)
	default:
		return NewEasy(seed)
	}
}

type EasyBot struct {
	RNG *rand.Rand
}

func NewEasy(seed int64) *EasyBot {
	return &EasyBot{RNG: rand.New(rand.NewSource(seed))}
}

func (b *EasyBot) Difficulty() Difficulty { return Easy }

func (b *EasyBot) ChooseAction(v engine.SeatView) (engine.Action, error) {
	return chooseAction(v, Easy, b.RNG)
}

type MediumBot struct {
	RNG *rand.Rand
}

func NewMedium(seed int64) *MediumBot {
	return &MediumBot{RNG: rand.New(rand.NewSource(seed))}
}

func (b *MediumBot) Difficulty() Difficulty { return Medium }

func (b *MediumBot) ChooseAction(v engine.SeatView) (engine.Action, error) {
	return chooseAction(v, Medium, b.RNG)
}

type HardBot struct {
	RNG *rand.Rand
}

func NewHard(seed int64) *HardBot {
	return &HardBot{RNG: rand.New(rand.NewSource(seed))}
}

func (b *HardBot) Difficulty() Difficulty { return Hard }

func (b *HardBot) ChooseAction(v engine.SeatView) (engine.Action, error) {
	return chooseAction(v, Hard, b.RNG)
}

func chooseAction(v engine.SeatView, d Difficulty, rng *rand.Rand) (engine.Action, error) {
	switch v.Phase {
	case engine.PhaseBidding:
		if !v.MyTurn() {
			return engine.Action{}, ErrNotMyTurn
		}
		highest := v.HighestBid()
		bid := DecideBid(v.Hand, d, highest, rng)
		if bid != engine.BidPass && bid <= highest {
			bid = engine.BidPass
		}
		return engine.Action{Type: engine.ActionBid, Bid: bid}, nil
	case engine.PhaseDogReveal:
		if v.Seat != v.Taker {
			return engine.Action{}, ErrNotMyTurn
		}
		return engine.Action{Type: engine.ActionRevealDog}, nil
	case engine.PhasePlaying:
		if v.DiscardPending {
			if v.Seat != v.Taker {
				return engine.Action{}, ErrNotMyTurn
			}
			return engine.Action{Type: engine.ActionDiscard, Cards: ChooseDiscard(v.Hand)}, nil
		}
		if !v.MyTurn() {
			return engine.Action{}, ErrNotMyTurn
		}
		c, err := ChooseCardToPlay(v, d, rng)
		if err != nil {
			return engine.Action{}, err
		}
		return engine.Action{Type: engine.ActionPlayCard, Card: c}, nil
	default:
		return engine.Action{}, ErrNotMyTurn
	}
}

// ChooseDiscard builds a legal écart from the shortest suits, highest ranks
// first. Trumps go only when plain cards run out.
func ChooseDiscard(hand []engine.Card) []engine.Card {
	suitLen := map[engine.Suit]int{}
	for _, c := range hand {
		suitLen[c.Suit]++
	}
	var plain, trumps []engine.Card
	for _, c := range hand {
		if !engine.CanDiscard(hand, c) {
			continue
		}
		if c.IsTrump() {
			trumps = append(trumps, c)
		} else {
			plain = append(plain, c)
		}
	}
	sort.SliceStable(plain, func(i, j int) bool {
		li, lj := suitLen[plain[i].Suit], suitLen[plain[j].Suit]
		if li != lj {
			return li < lj
		}
		if plain[i].Suit != plain[j].Suit {
			return plain[i].Suit < plain[j].Suit
		}
		return plain[i].Rank > plain[j].Rank
	})
	sort.SliceStable(trumps, func(i, j int) bool { return trumps[i].Rank < trumps[j].Rank })

	out := append([]engine.Card(nil), plain...)
	if len(out) > engine.DogSize {
		out = out[:engine.DogSize]
	}
	for _, c := range trumps {
		if len(out) == engine.DogSize {
			break
		}
		out = append(out, c)
	}
	return out
}
