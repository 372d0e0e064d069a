// internal/deck/deck.go
//
// Board construction: pick motifs, pair them, shuffle into a 4×4 grid.

package deck

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"sort"
)

const (
	// Pairs is the number of motifs on a board.
	Pairs = 8
	// Size is the number of cards on a board.
	Size = Pairs * 2
	// Columns is the width of the grid; cards are laid out row-major.
	Columns = 4
)

var (
	// ErrInsufficientAssets means fewer than Pairs distinct motifs were found.
	ErrInsufficientAssets = errors.New("need at least 8 usable front images")
	// ErrMissingCover means no back-face image was found.
	ErrMissingCover = errors.New("need at least one cover image")
)

// Card is one slot on the board.
type Card struct {
	Slot    int    `json:"slot"`
	Motif   string `json:"-"`
	Front   string `json:"-"`
	Back    string `json:"-"`
	Flipped bool   `json:"flipped"`
	Matched bool   `json:"matched"`
}

// Row returns the grid row of the card.
func (c Card) Row() int { return c.Slot / Columns }

// Col returns the grid column of the card.
func (c Card) Col() int { return c.Slot % Columns }

// Builder creates fresh boards from an image source.
type Builder struct {
	fsys fs.FS
	rng  *rand.Rand
}

// NewBuilder returns a Builder reading fsys. A nil rng uses a randomly seeded generator.
func NewBuilder(fsys fs.FS, rng *rand.Rand) *Builder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Builder{fsys: fsys, rng: rng}
}

// FS exposes the image source (used to serve image files).
func (b *Builder) FS() fs.FS { return b.fsys }

// Build rescans the source and returns a new shuffled board.
// On error no board is returned.
func (b *Builder) Build() ([]Card, error) {
	cat, err := Scan(b.fsys)
	if err != nil {
		return nil, err
	}
	return Deal(cat, b.rng)
}

// Deal selects Pairs motifs from cat, duplicates and shuffles them.
func Deal(cat *Catalog, rng *rand.Rand) ([]Card, error) {
	if len(cat.Covers) == 0 {
		return nil, ErrMissingCover
	}
	if n := cat.MotifCount(); n < Pairs {
		return nil, fmt.Errorf("%w (found %d)", ErrInsufficientAssets, n)
	}

	// Map iteration order is random; sort keys so rng alone decides the pick.
	keys := make([]string, 0, len(cat.Motifs))
	for k := range cat.Motifs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	back := cat.Covers[rng.IntN(len(cat.Covers))]
	picked := rng.Perm(len(keys))[:Pairs]

	cards := make([]Card, 0, Size)
	for _, i := range picked {
		motif := keys[i]
		variants := cat.Motifs[motif]
		front := variants[rng.IntN(len(variants))]
		c := Card{Motif: motif, Front: front, Back: back}
		cards = append(cards, c, c)
	}

	rng.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
	for i := range cards {
		cards[i].Slot = i
	}
	return cards, nil
}
