package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	NumSeats = 4
	HandSize = 18
	DogSize  = 6
	DeckSize = 78
	NoSeat   = -1
)

type Suit int

const (
	SuitSpades Suit = iota
	SuitHearts
	SuitDiamonds
	SuitClubs
	SuitTrumps
	SuitExcuse
)

// Court ranks inside the four ordinary suits.
const (
	RankJack   = 11
	RankKnight = 12
	RankQueen  = 13
	RankKing   = 14
)

func (s Suit) String() string {
	switch s {
	case SuitSpades:
		return "spades"
	case SuitHearts:
		return "hearts"
	case SuitDiamonds:
		return "diamonds"
	case SuitClubs:
		return "clubs"
	case SuitTrumps:
		return "trumps"
	case SuitExcuse:
		return "excuse"
	default:
		return "?"
	}
}

func parseSuit(s string) (Suit, bool) {
	switch s {
	case "spades":
		return SuitSpades, true
	case "hearts":
		return SuitHearts, true
	case "diamonds":
		return SuitDiamonds, true
	case "clubs":
		return SuitClubs, true
	case "trumps":
		return SuitTrumps, true
	default:
		return 0, false
	}
}

// Card is an immutable value. The Excuse has rank 0.
type Card struct {
	Suit Suit
	Rank int
}

var Excuse = Card{Suit: SuitExcuse}

func Trump(rank int) Card { return Card{Suit: SuitTrumps, Rank: rank} }

// ID is the wire identity of a card, e.g. "hearts-7", "trumps-21" or "excuse".
func (c Card) ID() string {
	if c.Suit == SuitExcuse {
		return "excuse"
	}
	return c.Suit.String() + "-" + strconv.Itoa(c.Rank)
}

func (c Card) String() string { return c.ID() }

func (c Card) IsTrump() bool  { return c.Suit == SuitTrumps }
func (c Card) IsExcuse() bool { return c.Suit == SuitExcuse }

// IsOudler reports the Excuse, Trump-1 and Trump-21.
func (c Card) IsOudler() bool {
	return c.IsExcuse() || (c.IsTrump() && (c.Rank == 1 || c.Rank == 21))
}

func (c Card) valid() bool {
	switch c.Suit {
	case SuitExcuse:
		return c.Rank == 0
	case SuitTrumps:
		return c.Rank >= 1 && c.Rank <= 21
	case SuitSpades, SuitHearts, SuitDiamonds, SuitClubs:
		return c.Rank >= 1 && c.Rank <= RankKing
	default:
		return false
	}
}

func ParseCardID(id string) (Card, error) {
	if id == "excuse" {
		return Excuse, nil
	}
	name, num, ok := strings.Cut(id, "-")
	if !ok {
		return Card{}, fmt.Errorf("%w: %q", ErrUnknownCard, id)
	}
	suit, ok := parseSuit(name)
	if !ok {
		return Card{}, fmt.Errorf("%w: %q", ErrUnknownCard, id)
	}
	rank, err := strconv.Atoi(num)
	if err != nil {
		return Card{}, fmt.Errorf("%w: %q", ErrUnknownCard, id)
	}
	c := Card{Suit: suit, Rank: rank}
	if !c.valid() {
		return Card{}, fmt.Errorf("%w: %q", ErrUnknownCard, id)
	}
	return c, nil
}

// Points counts half-points so that card values and scores stay exact.
type Points int

// WholePoints converts a whole number of points.
func WholePoints(n int) Points { return Points(2 * n) }

func (p Points) Float() float64 { return float64(p) / 2 }

func (p Points) String() string {
	return strconv.FormatFloat(p.Float(), 'f', -1, 64)
}

func (p Points) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Points) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("points: %w", err)
	}
	*p = Points(math.Round(f * 2))
	return nil
}

type Phase int

const (
	PhaseDealing Phase = iota
	PhaseBidding
	PhaseDogReveal
	PhasePlaying
	PhaseScoring
	PhaseEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseDealing:
		return "DEALING"
	case PhaseBidding:
		return "BIDDING"
	case PhaseDogReveal:
		return "DOG_REVEAL"
	case PhasePlaying:
		return "PLAYING"
	case PhaseScoring:
		return "SCORING"
	case PhaseEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// BidType is ordered: a higher value is a stronger contract.
type BidType int

const (
	BidPass BidType = iota
	BidPetite
	BidGarde
	BidGardeSans
	BidGardeContre
)

func (b BidType) String() string {
	switch b {
	case BidPass:
		return "PASS"
	case BidPetite:
		return "PETITE"
	case BidGarde:
		return "GARDE"
	case BidGardeSans:
		return "GARDE_SANS"
	case BidGardeContre:
		return "GARDE_CONTRE"
	default:
		return "UNKNOWN"
	}
}

func ParseBidType(s string) (BidType, error) {
	switch strings.ToUpper(s) {
	case "PASS":
		return BidPass, nil
	case "PETITE":
		return BidPetite, nil
	case "GARDE":
		return BidGarde, nil
	case "GARDE_SANS":
		return BidGardeSans, nil
	case "GARDE_CONTRE":
		return BidGardeContre, nil
	default:
		return BidPass, fmt.Errorf("%w: %q", ErrUnknownBid, s)
	}
}

// Multiplier is the contract factor applied to the base score.
func (b BidType) Multiplier() int {
	switch b {
	case BidPetite:
		return 1
	case BidGarde:
		return 2
	case BidGardeSans:
		return 4
	case BidGardeContre:
		return 6
	default:
		return 0
	}
}

type Bid struct {
	Seat int
	Type BidType
}

type Play struct {
	Seat int
	Card Card
}

// Trick holds up to four plays. Winner stays NoSeat until the fourth play.
type Trick struct {
	Plays  []Play
	Winner int
}

func (t Trick) Complete() bool { return len(t.Plays) == NumSeats }

// Deal is what a distribution hands to the engine: four hands and the dog.
type Deal struct {
	Hands [NumSeats][]Card
	Dog   []Card
}

type Rules struct {
	// MaxRounds ends the match after that many scored rounds; 0 plays forever.
	MaxRounds int
}

func DefaultRules() Rules {
	return Rules{MaxRounds: 5}
}

type GameState struct {
	Rules Rules
	Phase Phase
	Round int

	Dealer int
	ToAct  int

	Hands [NumSeats][]Card
	Dog   []Card
	// RevealedDog is public after reveal for PETITE and GARDE only.
	RevealedDog []Card
	// Discard is the taker's hidden écart.
	Discard        []Card
	DiscardPending bool

	Bids     []Bid
	Taker    int
	Contract BidType

	Trick  Trick
	Tricks []Trick

	RoundScores [NumSeats]Points
	TotalScores [NumSeats]Points
}

func NewGame(r Rules, dealer int) GameState {
	return GameState{
		Rules:  r,
		Phase:  PhaseDealing,
		Dealer: dealer % NumSeats,
		ToAct:  NoSeat,
		Taker:  NoSeat,
		Trick:  Trick{Winner: NoSeat},
	}
}

func (g GameState) HasTaker() bool { return g.Taker != NoSeat }

// HighestBid returns the strongest non-pass bid so far, or BidPass.
func (g GameState) HighestBid() BidType {
	best := BidPass
	for _, b := range g.Bids {
		if b.Type > best {
			best = b.Type
		}
	}
	return best
}

func (g GameState) clone() GameState {
	next := g
	for i := range g.Hands {
		next.Hands[i] = cloneCards(g.Hands[i])
	}
	next.Dog = cloneCards(g.Dog)
	next.RevealedDog = cloneCards(g.RevealedDog)
	next.Discard = cloneCards(g.Discard)
	next.Bids = append([]Bid(nil), g.Bids...)
	next.Trick = cloneTrick(g.Trick)
	if g.Tricks != nil {
		next.Tricks = make([]Trick, len(g.Tricks))
		for i, t := range g.Tricks {
			next.Tricks[i] = cloneTrick(t)
		}
	}
	return next
}

func cloneCards(cards []Card) []Card {
	if cards == nil {
		return nil
	}
	return append([]Card(nil), cards...)
}

func cloneTrick(t Trick) Trick {
	return Trick{Plays: append([]Play(nil), t.Plays...), Winner: t.Winner}
}
