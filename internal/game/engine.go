// internal/game/engine.go
//
// Controller for a single two-player memory game.
// Responsibilities:
//   - React to card selections: flip, compare, score, pass the turn.
//   - Advance the elapsed clock on each tick.
//   - Reset everything when a new board is installed.
//
// State transitions:
//   idle --select--> one_selected --select--> evaluating
//   evaluating: match    → idle (same player) or game_over
//               mismatch → round_delay --delay elapsed--> idle (other player)
//   game_over is terminal until OnNewGame.
//
// The controller never sleeps. A mismatch returns an Update with Delay set and
// the caller schedules OnDelayElapsed(Round); a stale round is ignored.

package game

import (
	"fmt"

	"github.com/robalobadob/memory/apps/go-server/internal/deck"
)

// Game is the controller. It is not safe for concurrent use; see Session.
type Game struct {
	state State
}

// New constructs a controller over board, ready for player 1.
func New(board []deck.Card) *Game {
	g := &Game{}
	g.OnNewGame(board)
	return g
}

// State returns a copy of the current state.
func (g *Game) State() State { return g.state.clone() }

// OnNewGame installs board and resets every counter.
// The round is bumped so any pending delay from the previous board is stale.
func (g *Game) OnNewGame(board []deck.Card) Update {
	next := State{
		Cards:   append([]deck.Card(nil), board...),
		Current: 1,
		Phase:   PhaseIdle,
		First:   noSlot,
		Second:  noSlot,
		Round:   g.state.Round + 1,
	}
	for i := range next.Cards {
		next.Cards[i].Slot = i
		next.Cards[i].Flipped = false
		next.Cards[i].Matched = false
	}
	g.state = next

	u := g.update(EventNewGame)
	u.Tiles = allTiles(next)
	return u
}

// OnCardSelected handles a click on slot.
// Clicks on flipped or matched cards, out-of-range slots, or while busy are ignored.
func (g *Game) OnCardSelected(slot int) Update {
	cur := g.state
	if cur.Phase.Busy() || slot < 0 || slot >= len(cur.Cards) {
		return g.ignored(EventSelect)
	}
	if c := cur.Cards[slot]; c.Flipped || c.Matched {
		return g.ignored(EventSelect)
	}

	next := cur.clone()
	next.Cards[slot].Flipped = true

	if next.Phase == PhaseIdle {
		next.First = slot
		next.Phase = PhaseOneSelected
		g.state = next
		u := g.update(EventSelect)
		u.Tiles = []Tile{tileOf(next.Cards[slot])}
		return u
	}

	// Second card: evaluate the pair.
	next.Second = slot
	next.Phase = PhaseEvaluating
	next.Moves++

	a, b := &next.Cards[next.First], &next.Cards[next.Second]
	if a.Motif == b.Motif {
		a.Matched, b.Matched = true, true
		a.Flipped, b.Flipped = false, false
		next.Scores[next.Current-1]++
		next.First, next.Second = noSlot, noSlot
		next.Phase = PhaseIdle

		var sum *Summary
		if next.Matched() == len(next.Cards) {
			next.Phase = PhaseGameOver
			s := summarize(next)
			sum = &s
		}
		g.state = next
		u := g.update(EventSelect)
		u.Tiles = []Tile{tileOf(*a), tileOf(*b)}
		u.Summary = sum
		return u
	}

	next.Phase = PhaseRoundDelay
	next.Round++
	g.state = next
	u := g.update(EventSelect)
	u.Tiles = []Tile{tileOf(next.Cards[slot])}
	u.Delay = true
	return u
}

// OnDelayElapsed ends a mismatch round: both cards are covered again and the turn passes.
// It is a no-op unless the controller is still in the round that scheduled it.
func (g *Game) OnDelayElapsed(round int) Update {
	cur := g.state
	if cur.Phase != PhaseRoundDelay || cur.Round != round {
		return g.ignored(EventReset)
	}

	next := cur.clone()
	a, b := &next.Cards[next.First], &next.Cards[next.Second]
	a.Flipped, b.Flipped = false, false
	next.Current = 3 - next.Current
	next.First, next.Second = noSlot, noSlot
	next.Phase = PhaseIdle
	g.state = next

	u := g.update(EventReset)
	u.Tiles = []Tile{tileOf(*a), tileOf(*b)}
	return u
}

// OnTick advances the elapsed clock by one second. The clock stops once the game is over.
func (g *Game) OnTick() Update {
	if g.state.Phase == PhaseGameOver {
		return g.ignored(EventTick)
	}
	next := g.state
	next.Elapsed++
	g.state = next
	return g.update(EventTick)
}

// Snapshot returns the full board view plus counters.
func (g *Game) Snapshot() Update {
	u := g.update("snapshot")
	u.Tiles = allTiles(g.state)
	if g.state.Phase == PhaseGameOver {
		s := summarize(g.state)
		u.Summary = &s
	}
	return u
}

func (g *Game) ignored(event string) Update {
	u := g.update(event)
	u.Ignored = true
	return u
}

// update fills the counters shared by every Update.
func (g *Game) update(event string) Update {
	s := g.state
	return Update{
		Event:       event,
		Moves:       s.Moves,
		Elapsed:     FormatElapsed(s.Elapsed),
		Player:      s.Current,
		PlayerColor: PlayerColor(s.Current),
		Scores:      s.Scores,
		Phase:       s.Phase,
		Round:       s.Round,
	}
}

func allTiles(s State) []Tile {
	out := make([]Tile, len(s.Cards))
	for i, c := range s.Cards {
		out[i] = tileOf(c)
	}
	return out
}

// summarize builds the end-of-game report. Higher score wins; equal scores tie.
func summarize(s State) Summary {
	sum := Summary{Scores: s.Scores, Moves: s.Moves, Seconds: s.Elapsed, Elapsed: FormatElapsed(s.Elapsed), Round: s.Round}
	switch {
	case s.Scores[0] > s.Scores[1]:
		sum.Winner = 1
	case s.Scores[1] > s.Scores[0]:
		sum.Winner = 2
	}
	if sum.Winner == 0 {
		sum.Message = fmt.Sprintf("Tie %d:%d", s.Scores[0], s.Scores[1])
	} else {
		sum.Message = fmt.Sprintf("Player %d wins %d:%d", sum.Winner, s.Scores[0], s.Scores[1])
	}
	return sum
}
