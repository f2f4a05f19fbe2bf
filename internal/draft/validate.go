package draft

import (
	"errors"
	"fmt"
)

var ErrInvalidDraft = errors.New("invalid draft")

// Validate checks a draft configuration before it is accepted: at least one
// seat, the same number of packs per seat, and every pack card resolving to
// a catalog entry.
func (d *Draft) Validate() error {
	if len(d.Seats) == 0 {
		return fmt.Errorf("%w: no seats", ErrInvalidDraft)
	}
	if len(d.InitialState) != len(d.Seats) {
		return fmt.Errorf("%w: %d seats but %d pack lists", ErrInvalidDraft, len(d.Seats), len(d.InitialState))
	}

	packCount := len(d.InitialState[0])
	if packCount == 0 {
		return fmt.Errorf("%w: no packs", ErrInvalidDraft)
	}

	for seat, packs := range d.InitialState {
		if len(packs) != packCount {
			return fmt.Errorf("%w: seat %d has %d packs, want %d", ErrInvalidDraft, seat, len(packs), packCount)
		}
		for packNo, pack := range packs {
			if len(pack.Cards) == 0 {
				return fmt.Errorf("%w: seat %d pack %d is empty", ErrInvalidDraft, seat, packNo+1)
			}
			for _, card := range pack.Cards {
				if card < 0 || card >= len(d.Cards) {
					return fmt.Errorf("%w: seat %d pack %d references card %d outside catalog of %d",
						ErrInvalidDraft, seat, packNo+1, card, len(d.Cards))
				}
			}
		}
	}
	return nil
}
