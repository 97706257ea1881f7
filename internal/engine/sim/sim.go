// Package sim plays whole matches between bots and checks engine invariants
// after every action. Failures carry a replayable tail of the action log.
package sim

import (
	"fmt"
	"math/big"
	"math/rand"

	"tarot/internal/bots"
	"tarot/internal/distribution"
	"tarot/internal/engine"
)

type ActionRecord struct {
	Round int
	Step  int
	Phase engine.Phase
	P     int
	A     engine.Action
}

// Match is the full log of a self-play run.
type Match struct {
	Rules         engine.Rules
	Dealer        int
	Distributions []distribution.Distribution
	Actions       []ActionRecord
	Final         engine.GameState
}

func RunSelfPlayRounds(seed int64, rounds int, maxStepsPerRound int) error {
	_, err := PlayMatch(seed, rounds, maxStepsPerRound)
	return err
}

// PlayMatch seats a mixed table of bots and plays up to rounds rounds. Every
// distribution is recorded in a registry and checked once its round ends.
func PlayMatch(seed int64, rounds int, maxStepsPerRound int) (Match, error) {
	rules := engine.DefaultRules()
	rules.MaxRounds = rounds
	dealer := int(uint64(seed) % engine.NumSeats)
	state := engine.NewGame(rules, dealer)
	m := Match{Rules: rules, Dealer: dealer}

	seats := [engine.NumSeats]bots.Bot{}
	for i := range seats {
		seats[i] = bots.New(bots.Difficulty(i%3), seed+int64(10*(i+1)))
	}
	rng := rand.New(rand.NewSource(seed))
	reg := distribution.NewRegistry()

	for r := 0; r < rounds && state.Phase != engine.PhaseEnd; r++ {
		dist := distribution.New(big.NewInt(rng.Int63n(1_000_000_000_000)), big.NewInt(rng.Int63n(100_000_000_000)))
		if err := reg.Record(dist); err != nil {
			return m, failure(seed, r, 0, state.Phase, -1, m.Actions, err.Error())
		}
		m.Distributions = append(m.Distributions, dist)

		var err error
		if state, err = engine.StartNextRound(state, dist.Deal()); err != nil {
			return m, failure(seed, r, 0, state.Phase, -1, m.Actions, fmt.Sprintf("deal: %v", err))
		}
		for step := 0; ; step++ {
			if step >= maxStepsPerRound {
				return m, failure(seed, r, step, state.Phase, -1, m.Actions, "round did not finish")
			}
			if state.Phase == engine.PhaseScoring || state.Phase == engine.PhaseEnd {
				break
			}
			player, ok := engine.CurrentPlayer(state)
			if !ok {
				return m, failure(seed, r, step, state.Phase, -1, m.Actions, "no current player")
			}
			if len(engine.LegalActions(state, player)) == 0 {
				return m, failure(seed, r, step, state.Phase, player, m.Actions, "no legal actions")
			}
			action, err := seats[player].ChooseAction(engine.ViewFor(state, player))
			if err != nil {
				return m, failure(seed, r, step, state.Phase, player, m.Actions, fmt.Sprintf("bot error: %v", err))
			}
			next, err := engine.ApplyAction(state, player, action)
			if err != nil {
				return m, failure(seed, r, step, state.Phase, player, m.Actions, fmt.Sprintf("apply error: %v", err))
			}
			m.Actions = append(m.Actions, ActionRecord{Round: r, Step: step, Phase: state.Phase, P: player, A: action})
			if err := checkTransition(state, next); err != nil {
				return m, failure(seed, r, step, next.Phase, player, m.Actions, err.Error())
			}
			state = next
		}

		if info, _ := reg.Lookup(dist.HashCode); info.Hands != nil {
			return m, failure(seed, r, 0, state.Phase, -1, m.Actions, "cards revealed mid-round")
		}
		if err := reg.Conclude(dist.HashCode); err != nil {
			return m, failure(seed, r, 0, state.Phase, -1, m.Actions, err.Error())
		}
		if err := checkReveal(reg, dist); err != nil {
			return m, failure(seed, r, 0, state.Phase, -1, m.Actions, err.Error())
		}
		if state.Phase == engine.PhaseScoring {
			if err := checkScores(state); err != nil {
				return m, failure(seed, r, 0, state.Phase, -1, m.Actions, err.Error())
			}
		}
	}
	if state.Phase == engine.PhaseScoring {
		var err error
		if state, err = engine.FinishRound(state); err != nil {
			return m, failure(seed, rounds, 0, state.Phase, -1, m.Actions, err.Error())
		}
	}
	m.Final = state
	return m, nil
}

// Replay feeds a recorded match back through the engine.
func Replay(m Match) (engine.GameState, error) {
	state := engine.NewGame(m.Rules, m.Dealer)
	next := 0
	for r, dist := range m.Distributions {
		var err error
		if state, err = engine.StartNextRound(state, dist.Deal()); err != nil {
			return state, fmt.Errorf("round %d: %w", r, err)
		}
		for ; next < len(m.Actions) && m.Actions[next].Round == r; next++ {
			rec := m.Actions[next]
			if state, err = engine.ApplyAction(state, rec.P, rec.A); err != nil {
				return state, fmt.Errorf("round %d step %d: %w", r, rec.Step, err)
			}
		}
	}
	if state.Phase == engine.PhaseScoring {
		return engine.FinishRound(state)
	}
	return state, nil
}

func checkTransition(prev, next engine.GameState) error {
	if err := checkInvariants(next); err != nil {
		return err
	}
	if prev.TotalScores != next.TotalScores {
		return fmt.Errorf("totals changed mid-round")
	}
	return nil
}

func checkInvariants(state engine.GameState) error {
	if state.Phase == engine.PhaseDealing {
		return nil
	}
	total, dup := countCards(state)
	if total != engine.DeckSize {
		return fmt.Errorf("card count mismatch: %d", total)
	}
	if dup {
		return fmt.Errorf("duplicate card detected")
	}
	if len(state.Trick.Plays) >= engine.NumSeats {
		return fmt.Errorf("invalid trick size: %d", len(state.Trick.Plays))
	}
	switch state.Phase {
	case engine.PhaseBidding:
		if state.HasTaker() {
			return fmt.Errorf("taker set during bidding")
		}
		if len(state.Dog) != engine.DogSize {
			return fmt.Errorf("dog size %d during bidding", len(state.Dog))
		}
	case engine.PhaseDogReveal:
		if !state.HasTaker() {
			return fmt.Errorf("dog reveal without taker")
		}
	case engine.PhasePlaying:
		if len(state.Dog) != 0 {
			return fmt.Errorf("dog not taken")
		}
		if !state.DiscardPending && len(state.Discard) != engine.DogSize {
			return fmt.Errorf("discard size mismatch: %d", len(state.Discard))
		}
		for i, h := range state.Hands {
			limit := engine.HandSize
			if i == state.Taker && state.DiscardPending {
				limit += engine.DogSize
			}
			if len(h) > limit {
				return fmt.Errorf("seat %d hand too large: %d", i, len(h))
			}
		}
	}
	if state.Phase == engine.PhaseBidding || state.Phase == engine.PhaseDogReveal || state.Phase == engine.PhasePlaying {
		if p, ok := engine.CurrentPlayer(state); !ok || p < 0 || p >= engine.NumSeats {
			return fmt.Errorf("no seat to act in %s", state.Phase)
		}
	}
	return nil
}

func checkScores(state engine.GameState) error {
	scores := engine.CalculateScores(state)
	var sum engine.Points
	for _, s := range scores {
		sum += s
	}
	if sum != 0 {
		return fmt.Errorf("round scores sum to %v", sum)
	}
	if len(state.Tricks) != engine.HandSize {
		return fmt.Errorf("round ended after %d tricks", len(state.Tricks))
	}
	return nil
}

func checkReveal(reg *distribution.Registry, dist distribution.Distribution) error {
	info, err := reg.Lookup(dist.HashCode)
	if err != nil {
		return err
	}
	if !info.Concluded || len(info.Hands) != engine.NumSeats {
		return fmt.Errorf("distribution %s not revealed after conclusion", dist.HashCode)
	}
	deal := dist.Deal()
	for seat, ids := range info.Hands {
		for i, id := range ids {
			if deal.Hands[seat][i].ID() != id {
				return fmt.Errorf("revealed hand %d differs at %d", seat, i)
			}
		}
	}
	return nil
}

func countCards(state engine.GameState) (int, bool) {
	seen := map[engine.Card]bool{}
	total := 0
	dup := false
	add := func(c engine.Card) {
		total++
		if seen[c] {
			dup = true
		}
		seen[c] = true
	}
	for _, h := range state.Hands {
		for _, c := range h {
			add(c)
		}
	}
	for _, t := range state.Tricks {
		for _, p := range t.Plays {
			add(p.Card)
		}
	}
	for _, c := range state.Dog {
		add(c)
	}
	for _, p := range state.Trick.Plays {
		add(p.Card)
	}
	for _, c := range state.Discard {
		add(c)
	}
	return total, dup
}

func failure(seed int64, round int, step int, phase engine.Phase, player int, records []ActionRecord, reason string) error {
	start := 0
	if len(records) > 20 {
		start = len(records) - 20
	}
	log := ""
	for _, r := range records[start:] {
		log += fmt.Sprintf("[r%d s%d p%d %v] %v %v %v\n", r.Round, r.Step, r.P, r.Phase, r.A.Type, r.A.Bid, r.A.Card)
	}
	return fmt.Errorf("seed=%d round=%d step=%d phase=%v player=%d reason=%s\nlast actions:\n%s",
		seed, round, step, phase, player, reason, log)
}
