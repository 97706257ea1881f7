package engine

import (
	"errors"
	"fmt"
)

var (
	ErrWrongPhase     = errors.New("wrong phase")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrBidTooLow      = errors.New("bid must exceed the current highest bid")
	ErrUnknownBid     = errors.New("unknown bid")
	ErrUnknownCard    = errors.New("unknown card")
	ErrUnknownAction  = errors.New("unknown action")
	ErrCardNotInHand  = errors.New("card not in hand")
	ErrIllegalCard    = errors.New("illegal card")
	ErrDiscardPending = errors.New("taker must discard first")
	ErrBadDiscard     = errors.New("invalid discard")

	// ErrInvariant marks a defect or a corrupted state. Never retry on it.
	ErrInvariant = errors.New("engine invariant violated")
	ErrNoTaker   = fmt.Errorf("%w: no taker", ErrInvariant)
)

type ActionType int

const (
	ActionBid ActionType = iota
	ActionRevealDog
	ActionDiscard
	ActionPlayCard
)

func (t ActionType) String() string {
	switch t {
	case ActionBid:
		return "bid"
	case ActionRevealDog:
		return "reveal_dog"
	case ActionDiscard:
		return "discard"
	case ActionPlayCard:
		return "play_card"
	default:
		return "unknown"
	}
}

type Action struct {
	Type  ActionType
	Bid   BidType
	Card  Card
	Cards []Card
}

func LegalActions(g GameState, seat int) []Action {
	switch g.Phase {
	case PhaseBidding:
		if seat != g.ToAct {
			return nil
		}
		actions := []Action{{Type: ActionBid, Bid: BidPass}}
		for b := g.HighestBid() + 1; b <= BidGardeContre; b++ {
			actions = append(actions, Action{Type: ActionBid, Bid: b})
		}
		return actions
	case PhaseDogReveal:
		if seat != g.Taker {
			return nil
		}
		return []Action{{Type: ActionRevealDog}}
	case PhasePlaying:
		if g.DiscardPending {
			if seat != g.Taker {
				return nil
			}
			// Too many combinations; the caller picks the cards.
			return []Action{{Type: ActionDiscard}}
		}
		var actions []Action
		if seat < 0 || seat >= NumSeats {
			return nil
		}
		for _, c := range g.Hands[seat] {
			if CanPlayCard(g, seat, c) {
				actions = append(actions, Action{Type: ActionPlayCard, Card: c})
			}
		}
		return actions
	default:
		return nil
	}
}

// CurrentPlayer returns the seat expected to act in the current phase.
func CurrentPlayer(g GameState) (int, bool) {
	switch g.Phase {
	case PhaseBidding, PhasePlaying:
		return g.ToAct, g.ToAct != NoSeat
	case PhaseDogReveal:
		return g.Taker, g.HasTaker()
	default:
		return NoSeat, false
	}
}

// ApplyAction validates the action for seat and applies it. On error the
// returned state is g unchanged.
func ApplyAction(g GameState, seat int, a Action) (GameState, error) {
	if seat < 0 || seat >= NumSeats {
		return g, fmt.Errorf("%w: seat %d", ErrNotYourTurn, seat)
	}
	switch a.Type {
	case ActionBid:
		if g.Phase != PhaseBidding {
			return g, fmt.Errorf("%w: bid in %s", ErrWrongPhase, g.Phase)
		}
		if seat != g.ToAct {
			return g, ErrNotYourTurn
		}
		if a.Bid < BidPass || a.Bid > BidGardeContre {
			return g, fmt.Errorf("%w: %d", ErrUnknownBid, a.Bid)
		}
		if a.Bid != BidPass && a.Bid <= g.HighestBid() {
			return g, fmt.Errorf("%w: %s after %s", ErrBidTooLow, a.Bid, g.HighestBid())
		}
		return ApplyBid(g, seat, a.Bid)
	case ActionRevealDog:
		if g.Phase != PhaseDogReveal {
			return g, fmt.Errorf("%w: reveal in %s", ErrWrongPhase, g.Phase)
		}
		if seat != g.Taker {
			return g, ErrNotYourTurn
		}
		return RevealDog(g)
	case ActionDiscard:
		return Discard(g, seat, a.Cards)
	case ActionPlayCard:
		return PlayCard(g, seat, a.Card)
	default:
		return g, fmt.Errorf("%w: %d", ErrUnknownAction, a.Type)
	}
}

// ApplyBid records a bid and moves the turn on. It does not check turn order
// or bid strength; ApplyAction does.
func ApplyBid(g GameState, seat int, b BidType) (GameState, error) {
	if g.Phase != PhaseBidding {
		return g, fmt.Errorf("%w: bid in %s", ErrWrongPhase, g.Phase)
	}
	if len(g.Bids) >= NumSeats {
		return g, fmt.Errorf("%w: %d bids recorded", ErrInvariant, len(g.Bids))
	}
	next := g.clone()
	next.Bids = append(next.Bids, Bid{Seat: seat, Type: b})
	next.ToAct = (seat + 1) % NumSeats
	if len(next.Bids) < NumSeats {
		return next, nil
	}

	taker, best := NoSeat, BidPass
	for _, bid := range next.Bids {
		if bid.Type > best {
			taker, best = bid.Seat, bid.Type
		}
	}
	if taker == NoSeat {
		next.Phase = PhaseEnd
		next.ToAct = NoSeat
		return next, nil
	}
	next.Taker = taker
	next.Contract = best
	next.Phase = PhaseDogReveal
	next.ToAct = taker
	return next, nil
}

// RevealDog gives the dog to the taker. PETITE and GARDE expose it publicly.
func RevealDog(g GameState) (GameState, error) {
	if !g.HasTaker() {
		return g, ErrNoTaker
	}
	if g.Phase != PhaseDogReveal {
		return g, fmt.Errorf("%w: reveal in %s", ErrWrongPhase, g.Phase)
	}
	next := g.clone()
	hand := append(next.Hands[g.Taker], next.Dog...)
	SortHand(hand)
	next.Hands[g.Taker] = hand
	if g.Contract == BidPetite || g.Contract == BidGarde {
		next.RevealedDog = cloneCards(g.Dog)
	}
	next.Dog = nil
	next.DiscardPending = true
	next.Phase = PhasePlaying
	next.ToAct = g.Taker
	return next, nil
}

// CanDiscard reports whether c may go to the écart from hand. Kings and
// oudlers never may; trumps only when the other cards run out.
func CanDiscard(hand []Card, c Card) bool {
	if c.IsOudler() || (!c.IsTrump() && c.Rank == RankKing) {
		return false
	}
	if !c.IsTrump() {
		return true
	}
	plain := 0
	for _, h := range hand {
		if !h.IsTrump() && !h.IsExcuse() && h.Rank != RankKing {
			plain++
		}
	}
	return plain < DogSize
}

// Discard sets the taker's écart aside. It must happen before the first card.
func Discard(g GameState, seat int, cards []Card) (GameState, error) {
	if g.Phase != PhasePlaying || !g.DiscardPending {
		return g, fmt.Errorf("%w: discard in %s", ErrWrongPhase, g.Phase)
	}
	if seat != g.Taker {
		return g, ErrNotYourTurn
	}
	if len(cards) != DogSize {
		return g, fmt.Errorf("%w: need %d cards, got %d", ErrBadDiscard, DogSize, len(cards))
	}
	hand := g.Hands[seat]
	seen := make(map[Card]bool, len(cards))
	plain, trumps := 0, 0
	for _, c := range cards {
		if seen[c] {
			return g, fmt.Errorf("%w: %v twice", ErrBadDiscard, c)
		}
		seen[c] = true
		if !holds(hand, c) {
			return g, fmt.Errorf("%w: %v", ErrCardNotInHand, c)
		}
		if !CanDiscard(hand, c) {
			return g, fmt.Errorf("%w: %v may not be discarded", ErrBadDiscard, c)
		}
		if c.IsTrump() {
			trumps++
		} else {
			plain++
		}
	}
	if trumps > 0 {
		available := 0
		for _, h := range hand {
			if !h.IsTrump() && CanDiscard(hand, h) {
				available++
			}
		}
		if plain < available {
			return g, fmt.Errorf("%w: trumps discarded while other cards remain", ErrBadDiscard)
		}
	}

	next := g.clone()
	kept := make([]Card, 0, len(hand)-len(cards))
	for _, c := range hand {
		if !seen[c] {
			kept = append(kept, c)
		}
	}
	next.Hands[seat] = kept
	next.Discard = cloneCards(cards)
	next.DiscardPending = false
	next.ToAct = g.Taker
	return next, nil
}

func PlayCard(g GameState, seat int, c Card) (GameState, error) {
	if seat < 0 || seat >= NumSeats {
		return g, fmt.Errorf("%w: seat %d", ErrNotYourTurn, seat)
	}
	if err := checkPlay(g, seat, c); err != nil {
		return g, err
	}
	next := g.clone()
	next.Hands[seat] = removeCard(next.Hands[seat], c)
	next.Trick.Plays = append(next.Trick.Plays, Play{Seat: seat, Card: c})
	if !next.Trick.Complete() {
		next.ToAct = (seat + 1) % NumSeats
		return next, nil
	}

	winner := WinningSeat(next.Trick.Plays)
	if winner == NoSeat {
		return g, fmt.Errorf("%w: trick without a winner", ErrInvariant)
	}
	next.Trick.Winner = winner
	next.Tricks = append(next.Tricks, next.Trick)
	next.Trick = Trick{Winner: NoSeat}
	next.ToAct = winner
	if handsEmpty(next) {
		next.Phase = PhaseScoring
		next.ToAct = NoSeat
	}
	return next, nil
}

// FinishRound banks the round scores and prepares the next deal. The match
// ends once Rules.MaxRounds rounds have been scored.
func FinishRound(g GameState) (GameState, error) {
	if g.Phase != PhaseScoring {
		return g, fmt.Errorf("%w: finish in %s", ErrWrongPhase, g.Phase)
	}
	res := ScoreRound(g)
	next := NewGame(g.Rules, (g.Dealer+1)%NumSeats)
	next.Round = g.Round + 1
	next.RoundScores = res.Scores
	next.TotalScores = g.TotalScores
	for i := range next.TotalScores {
		next.TotalScores[i] += res.Scores[i]
	}
	if g.Rules.MaxRounds > 0 && next.Round >= g.Rules.MaxRounds {
		next.Phase = PhaseEnd
	}
	return next, nil
}

// StartNextRound finishes a scored round if needed and deals d.
func StartNextRound(g GameState, d Deal) (GameState, error) {
	if g.Phase == PhaseScoring {
		var err error
		if g, err = FinishRound(g); err != nil {
			return g, err
		}
	}
	if g.Phase == PhaseEnd {
		return g, fmt.Errorf("%w: match is over", ErrWrongPhase)
	}
	return DealRound(g, d)
}

func removeCard(cards []Card, c Card) []Card {
	for i, h := range cards {
		if h == c {
			return append(cards[:i], cards[i+1:]...)
		}
	}
	return cards
}

func handsEmpty(g GameState) bool {
	for _, h := range g.Hands {
		if len(h) > 0 {
			return false
		}
	}
	return true
}
