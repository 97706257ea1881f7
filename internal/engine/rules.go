package engine

import "fmt"

// CardPoints is the fixed value of a card in half-points: 4.5 for oudlers and
// Kings, 3.5 Queen, 2.5 Knight, 1.5 Jack, 0.5 for everything else.
func CardPoints(c Card) Points {
	if c.IsOudler() {
		return 9
	}
	if c.IsTrump() {
		return 1
	}
	switch c.Rank {
	case RankKing:
		return 9
	case RankQueen:
		return 7
	case RankKnight:
		return 5
	case RankJack:
		return 3
	default:
		return 1
	}
}

func SumPoints(cards []Card) Points {
	var total Points
	for _, c := range cards {
		total += CardPoints(c)
	}
	return total
}

func CountOudlers(cards []Card) int {
	n := 0
	for _, c := range cards {
		if c.IsOudler() {
			n++
		}
	}
	return n
}

// Threshold is the number of points the taker needs with the given oudlers.
func Threshold(oudlers int) Points {
	switch {
	case oudlers >= 3:
		return WholePoints(36)
	case oudlers == 2:
		return WholePoints(41)
	case oudlers == 1:
		return WholePoints(51)
	default:
		return WholePoints(56)
	}
}

// LeadCard is the first non-Excuse card of the trick. When the Excuse leads,
// the next card sets the suit.
func LeadCard(plays []Play) (Card, bool) {
	for _, p := range plays {
		if !p.Card.IsExcuse() {
			return p.Card, true
		}
	}
	return Card{}, false
}

// HighestTrump returns the highest trump rank in the plays, 0 when none.
func HighestTrump(plays []Play) int {
	top := 0
	for _, p := range plays {
		if p.Card.IsTrump() && p.Card.Rank > top {
			top = p.Card.Rank
		}
	}
	return top
}

func beats(c, best Card, lead Suit) bool {
	if c.IsTrump() {
		return !best.IsTrump() || c.Rank > best.Rank
	}
	if best.IsTrump() {
		return false
	}
	return c.Suit == lead && (best.Suit != lead || c.Rank > best.Rank)
}

// WinningSeat returns the seat currently winning the plays, or NoSeat when
// nothing but the Excuse has been played. The Excuse never wins.
func WinningSeat(plays []Play) int {
	lead, ok := LeadCard(plays)
	if !ok {
		return NoSeat
	}
	winner := NoSeat
	var best Card
	for _, p := range plays {
		if p.Card.IsExcuse() {
			continue
		}
		if winner == NoSeat || beats(p.Card, best, lead.Suit) {
			winner, best = p.Seat, p.Card
		}
	}
	return winner
}

func hasSuit(cards []Card, s Suit) bool {
	for _, c := range cards {
		if c.Suit == s {
			return true
		}
	}
	return false
}

func hasTrumpAbove(cards []Card, rank int) bool {
	for _, c := range cards {
		if c.IsTrump() && c.Rank > rank {
			return true
		}
	}
	return false
}

func holds(cards []Card, c Card) bool {
	for _, h := range cards {
		if h == c {
			return true
		}
	}
	return false
}

// followLegal applies the follow-suit, trump and overtrump obligations.
func followLegal(hand []Card, plays []Play, c Card) bool {
	if c.IsExcuse() {
		return true
	}
	lead, ok := LeadCard(plays)
	if !ok {
		return true
	}
	if !lead.IsTrump() && hasSuit(hand, lead.Suit) {
		return c.Suit == lead.Suit
	}
	if !hasSuit(hand, SuitTrumps) {
		return true
	}
	if !c.IsTrump() {
		return false
	}
	top := HighestTrump(plays)
	if hasTrumpAbove(hand, top) {
		return c.Rank > top
	}
	return true
}

func checkPlay(g GameState, seat int, c Card) error {
	if g.Phase != PhasePlaying {
		return fmt.Errorf("%w: play in %s", ErrWrongPhase, g.Phase)
	}
	if g.DiscardPending {
		return ErrDiscardPending
	}
	if seat != g.ToAct {
		return ErrNotYourTurn
	}
	if !holds(g.Hands[seat], c) {
		return fmt.Errorf("%w: %v", ErrCardNotInHand, c)
	}
	if !followLegal(g.Hands[seat], g.Trick.Plays, c) {
		return fmt.Errorf("%w: %v", ErrIllegalCard, c)
	}
	return nil
}

// CanPlayCard is the legality oracle. It never mutates g.
func CanPlayCard(g GameState, seat int, c Card) bool {
	if seat < 0 || seat >= NumSeats {
		return false
	}
	return checkPlay(g, seat, c) == nil
}

// RoundResult is the scoring breakdown for one round.
type RoundResult struct {
	Taker       int
	Contract    BidType
	TakerPoints Points
	Oudlers     int
	Threshold   Points
	Made        bool
	Scores      [NumSeats]Points
}

// TakerPile returns every card that counts for the taker: tricks the taker won
// (minus a defender's Excuse), the taker's own Excuse wherever it was played,
// and the écart.
func TakerPile(g GameState) []Card {
	var pile []Card
	for _, t := range g.Tricks {
		for _, p := range t.Plays {
			if p.Card.IsExcuse() {
				if p.Seat == g.Taker {
					pile = append(pile, p.Card)
				}
				continue
			}
			if t.Winner == g.Taker {
				pile = append(pile, p.Card)
			}
		}
	}
	return append(pile, g.Discard...)
}

func ScoreRound(g GameState) RoundResult {
	res := RoundResult{Taker: g.Taker, Contract: g.Contract}
	if !g.HasTaker() {
		return res
	}
	pile := TakerPile(g)
	res.TakerPoints = SumPoints(pile)
	res.Oudlers = CountOudlers(pile)
	res.Threshold = Threshold(res.Oudlers)

	diff := res.TakerPoints - res.Threshold
	if diff < 0 {
		diff = -diff
	}
	final := (WholePoints(25) + diff) * Points(g.Contract.Multiplier())
	if res.TakerPoints < res.Threshold {
		final = -final
	}
	for seat := range res.Scores {
		if seat == g.Taker {
			res.Scores[seat] = 3 * final
		} else {
			res.Scores[seat] = -final
		}
	}
	res.Made = res.Scores[g.Taker] > 0
	return res
}

// CalculateScores returns the signed round score of each seat; all zero
// without a taker.
func CalculateScores(g GameState) [NumSeats]Points {
	return ScoreRound(g).Scores
}
