// internal/game/types.go
//
// Core type definitions for the memory game controller.
// Defines:
//   - Phase: where the controller is in a round.
//   - State: the full game state, replaced as one value per transition.
//   - Tile / Update / Summary: what the UI must redraw after an event.

package game

import (
	"fmt"

	"github.com/robalobadob/memory/apps/go-server/internal/deck"
)

// Phase is the controller's position in the select/compare/reset cycle.
type Phase string

const (
	PhaseIdle        Phase = "idle"         // no card pending
	PhaseOneSelected Phase = "one_selected" // one card face up, waiting for the second
	PhaseEvaluating  Phase = "evaluating"   // two cards face up, being compared
	PhaseRoundDelay  Phase = "round_delay"  // mismatch on display until the delay elapses
	PhaseGameOver    Phase = "game_over"    // all pairs matched
)

// Busy reports whether selections are currently rejected.
func (p Phase) Busy() bool {
	return p == PhaseEvaluating || p == PhaseRoundDelay || p == PhaseGameOver
}

// noSlot marks an empty pending selection.
const noSlot = -1

// State holds everything the controller knows about one game.
type State struct {
	Cards   []deck.Card
	Moves   int
	Elapsed int    // seconds
	Current int    // 1 or 2
	Scores  [2]int // index 0 = player 1
	Phase   Phase
	First   int // slot of the first pending card, or noSlot
	Second  int // slot of the second pending card, or noSlot
	Round   int // bumped on every new game and every scheduled delay
}

// clone returns a deep copy so the next state can be edited freely.
func (s State) clone() State {
	s.Cards = append([]deck.Card(nil), s.Cards...)
	return s
}

// Matched returns the number of matched cards.
func (s State) Matched() int {
	n := 0
	for _, c := range s.Cards {
		if c.Matched {
			n++
		}
	}
	return n
}

// Tile is the render view of one card. Image is the cover unless the card is face up.
type Tile struct {
	Slot    int    `json:"slot"`
	Row     int    `json:"row"`
	Col     int    `json:"col"`
	Image   string `json:"image"`
	Flipped bool   `json:"flipped"`
	Matched bool   `json:"matched"`
}

func tileOf(c deck.Card) Tile {
	img := c.Back
	if c.Flipped || c.Matched {
		img = c.Front
	}
	return Tile{Slot: c.Slot, Row: c.Row(), Col: c.Col(), Image: img, Flipped: c.Flipped, Matched: c.Matched}
}

// Summary is the end-of-game report. Winner is 0 on a tie.
type Summary struct {
	Scores  [2]int `json:"scores"`
	Winner  int    `json:"winner"`
	Moves   int    `json:"moves"`
	Seconds int    `json:"seconds"`
	Elapsed string `json:"elapsed"`
	Message string `json:"message"`
	Round   int    `json:"round"` // identifies the board within its session
}

// Update describes the visual changes produced by one event.
type Update struct {
	Event       string   `json:"event"`
	Ignored     bool     `json:"ignored,omitempty"`
	Tiles       []Tile   `json:"tiles,omitempty"`
	Moves       int      `json:"moves"`
	Elapsed     string   `json:"elapsed"`
	Player      int      `json:"player"`
	PlayerColor string   `json:"playerColor"`
	Scores      [2]int   `json:"scores"`
	Phase       Phase    `json:"phase"`
	Delay       bool     `json:"delay,omitempty"` // caller must schedule OnDelayElapsed(Round)
	Round       int      `json:"round"`
	Summary     *Summary `json:"summary,omitempty"`
}

// Event names carried in Update.Event.
const (
	EventSelect  = "select"
	EventTick    = "tick"
	EventReset   = "reset"
	EventNewGame = "new_game"
)

// PlayerColor returns the display color for player 1 or 2.
func PlayerColor(p int) string {
	if p == 2 {
		return "#e53935"
	}
	return "#1e88e5"
}

// FormatElapsed renders seconds as mm:ss.
func FormatElapsed(sec int) string {
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}
