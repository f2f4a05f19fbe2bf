package draft

// Card is one entry in the shared card catalog. Seats and boards reference
// cards by catalog index, never by value.
type Card struct {
	OracleID string `json:"oracle_id"`
	Name     string `json:"name"`
	CMC      int    `json:"cmc"`
}

// Pack is the static configuration of one pack for one seat: which catalog
// indexes it opens with and the step schedule it contributes.
type Pack struct {
	Cards []int  `json:"cards"`
	Steps []Step `json:"steps,omitempty"`
}

// SeatConfig describes one participant slot. Seat 0 is human-controlled;
// all others are bots.
type SeatConfig struct {
	Name string `json:"name"`
	Bot  bool   `json:"bot"`
}

// Draft is the static, immutable configuration of one draft: the card
// catalog, the seats, and each seat's pack contents per pack number.
type Draft struct {
	ID           string       `json:"id"`
	CubeID       string       `json:"cube_id"`
	Cards        []Card       `json:"cards"`
	Seats        []SeatConfig `json:"seats"`
	InitialState [][]Pack     `json:"initial_state"` // seat -> pack number - 1
}

// PackCount reports how many packs each seat opens over the whole draft.
func (d *Draft) PackCount() int {
	if len(d.InitialState) == 0 {
		return 0
	}
	return len(d.InitialState[0])
}

// Oracle resolves a catalog index to its stable card identity, or "" when
// the index is out of range or the catalog entry has no identity.
func (d *Draft) Oracle(cardIndex int) string {
	if cardIndex < 0 || cardIndex >= len(d.Cards) {
		return ""
	}
	return d.Cards[cardIndex].OracleID
}

// Seat is the mutable per-player draft state. Picks and Trashed are ordered
// most recent first.
type Seat struct {
	Pack    []int `json:"pack"`
	Picks   []int `json:"picks"`
	Trashed []int `json:"trashed"`
}

// State is the aggregate draft state owned by the engine. Pack and Pick are
// 1-based counters.
type State struct {
	Seats     []Seat `json:"seats"`
	StepQueue []Step `json:"stepQueue"`
	Pack      int    `json:"pack"`
	Pick      int    `json:"pick"`
}

// NewState seeds the initial state from the static configuration: every seat
// holds its first pack, no picks made, and the step queue derived from seat 0.
func NewState(d *Draft) State {
	seats := make([]Seat, len(d.Seats))
	for i := range seats {
		seats[i] = Seat{Picks: []int{}, Trashed: []int{}}
		if i < len(d.InitialState) && len(d.InitialState[i]) > 0 {
			seats[i].Pack = append([]int{}, d.InitialState[i][0].Cards...)
		} else {
			seats[i].Pack = []int{}
		}
	}

	var queue []Step
	if len(d.InitialState) > 0 {
		queue = BuildStepQueue(d.InitialState[0])
	}

	return State{Seats: seats, StepQueue: queue, Pack: 1, Pick: 1}
}

// Clone returns a deep copy, safe to hand out as a snapshot.
func (s State) Clone() State {
	out := State{Pack: s.Pack, Pick: s.Pick}
	out.Seats = make([]Seat, len(s.Seats))
	for i, seat := range s.Seats {
		out.Seats[i] = Seat{
			Pack:    append([]int{}, seat.Pack...),
			Picks:   append([]int{}, seat.Picks...),
			Trashed: append([]int{}, seat.Trashed...),
		}
	}
	out.StepQueue = make([]Step, len(s.StepQueue))
	for i, step := range s.StepQueue {
		out.StepQueue[i] = step
		if step.Amount != nil {
			n := *step.Amount
			out.StepQueue[i].Amount = &n
		}
	}
	return out
}

// Clone returns a deep copy of the board.
func (b Board) Clone() Board {
	out := make(Board, len(b))
	for r, row := range b {
		out[r] = make([][]int, len(row))
		for c, stack := range row {
			out[r][c] = append([]int{}, stack...)
		}
	}
	return out
}
