package draft

import (
	"errors"
	"fmt"
)

var ErrInvalidMove = errors.New("invalid move")
var ErrInvalidIndex = errors.New("invalid index")

type Zone string

const (
	ZonePack      Zone = "pack"
	ZonePicks     Zone = "picks"
	ZoneDeck      Zone = "deck"
	ZoneSideboard Zone = "sideboard"
)

// Location identifies one card slot. Row and Col are -1 for the pack zone,
// which is a flat list. Two locations are equal iff all four fields match.
type Location struct {
	Zone  Zone `json:"zone"`
	Row   int  `json:"row"`
	Col   int  `json:"col"`
	Index int  `json:"index"`
}

func PackLoc(index int) Location {
	return Location{Zone: ZonePack, Row: -1, Col: -1, Index: index}
}

func PicksLoc(row, col, index int) Location {
	return Location{Zone: ZonePicks, Row: row, Col: col, Index: index}
}

func DeckLoc(row, col, index int) Location {
	return Location{Zone: ZoneDeck, Row: row, Col: col, Index: index}
}

func SideboardLoc(row, col, index int) Location {
	return Location{Zone: ZoneSideboard, Row: row, Col: col, Index: index}
}

func (l Location) String() string {
	return fmt.Sprintf("%s-%d-%d-%d", l.Zone, l.Row, l.Col, l.Index)
}

// Board is the rows -> columns -> ordered card stack structure used for the
// deck and sideboard zones. Card values are indexes into the draft's card
// catalog. All operations are copy-on-write at every touched level; the input
// board is never mutated.
type Board [][][]int

// NewBoard returns a board with the given number of rows, each holding cols
// empty stacks.
func NewBoard(rows, cols int) Board {
	b := make(Board, rows)
	for r := range b {
		b[r] = make([][]int, cols)
		for c := range b[r] {
			b[r][c] = []int{}
		}
	}
	return b
}

// AddCard inserts card at target.Index within board[target.Row][target.Col],
// growing the row with empty stacks if target.Col exceeds its current length.
func AddCard(b Board, target Location, card int) (Board, error) {
	if target.Row < 0 || target.Row >= len(b) {
		return nil, fmt.Errorf("%w: row %d", ErrInvalidIndex, target.Row)
	}
	if target.Col < 0 {
		return nil, fmt.Errorf("%w: col %d", ErrInvalidIndex, target.Col)
	}

	out := append(Board{}, b...)
	row := append([][]int{}, out[target.Row]...)
	for len(row) < target.Col+1 {
		row = append(row, []int{})
	}

	stack := row[target.Col]
	if target.Index < 0 || target.Index > len(stack) {
		return nil, fmt.Errorf("%w: index %d in stack of %d", ErrInvalidIndex, target.Index, len(stack))
	}

	newStack := make([]int, 0, len(stack)+1)
	newStack = append(newStack, stack[:target.Index]...)
	newStack = append(newStack, card)
	newStack = append(newStack, stack[target.Index:]...)

	row[target.Col] = newStack
	out[target.Row] = row
	return out, nil
}

// RemoveCard removes and returns the card at source, plus the resulting board.
func RemoveCard(b Board, source Location) (int, Board, error) {
	if source.Row < 0 || source.Row >= len(b) {
		return 0, nil, fmt.Errorf("%w: row %d", ErrInvalidIndex, source.Row)
	}
	if source.Col < 0 || source.Col >= len(b[source.Row]) {
		return 0, nil, fmt.Errorf("%w: col %d", ErrInvalidIndex, source.Col)
	}
	stack := b[source.Row][source.Col]
	if source.Index < 0 || source.Index >= len(stack) {
		return 0, nil, fmt.Errorf("%w: index %d in stack of %d", ErrInvalidIndex, source.Index, len(stack))
	}

	card := stack[source.Index]

	out := append(Board{}, b...)
	row := append([][]int{}, out[source.Row]...)
	newStack := make([]int, 0, len(stack)-1)
	newStack = append(newStack, stack[:source.Index]...)
	newStack = append(newStack, stack[source.Index+1:]...)
	row[source.Col] = newStack
	out[source.Row] = row
	return card, out, nil
}

// MoveCard moves the card at source to target within the same zone.
// Cross-zone moves are not expressible here; they are remove/add pairs
// at the engine level. Moving to the identical location is a no-op.
//
// The target index addresses the stack after removal: removing first shifts
// subsequent indices down, so moving within one stack to a later position
// needs no further correction.
func MoveCard(b Board, source, target Location) (Board, error) {
	if source.Zone != target.Zone {
		return nil, fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidMove, source.Zone, target.Zone)
	}
	if target.Zone == ZonePack {
		return nil, fmt.Errorf("%w: pack is not a valid destination", ErrInvalidMove)
	}
	if source == target {
		return b, nil
	}

	card, removed, err := RemoveCard(b, source)
	if err != nil {
		return nil, err
	}

	// Same-stack moves past the end land at the end.
	if source.Row == target.Row && source.Col == target.Col {
		if n := len(removed[target.Row][target.Col]); target.Index > n {
			target.Index = n
		}
	}
	return AddCard(removed, target, card)
}
