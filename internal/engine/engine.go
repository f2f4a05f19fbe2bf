// Package engine owns the draft state machine: per-seat pack/pick/trash
// state, the step queue, bot resolution from fetched ratings, pack rotation
// and pack opening, and draft completion. One engine instance exists per
// active draft; all mutation flows through ApplyAction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/cubeforge/cube-draft-backend/internal/draft"
	"github.com/cubeforge/cube-draft-backend/internal/predictor"
)

var ErrBusy = errors.New("action already in progress")
var ErrBlocked = errors.New("blocked pending retry")
var ErrFinished = errors.New("draft already finished")
var ErrNoStep = errors.New("no step remaining")

// Status is the single consolidated state-machine field, checked at the top
// of every mutating entry point.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusBusy     Status = "busy"
	StatusError    Status = "error"
	StatusFinished Status = "finished"
)

// DefaultAutoPickDelay gives the UI time to render before a pickrandom or
// trashrandom step resolves itself.
const DefaultAutoPickDelay = time.Second

// Predictor fetches per-seat card ratings for the currently open packs.
type Predictor interface {
	BatchPredict(ctx context.Context, inputs []predictor.SeatInput) (*predictor.Response, error)
}

// Store is the durable state boundary, keyed by draft id. Writes atomically
// replace the previous value; the engine is the only writer for its draft.
type Store interface {
	SaveDraftState(ctx context.Context, draftID string, state draft.State, mainboard, sideboard draft.Board) error
	LoadDraftState(ctx context.Context, draftID string) (draft.State, draft.Board, draft.Board, bool, error)
}

// Finisher receives the full terminal state once the final pack is consumed
// and returns where the drafter should go next.
type Finisher interface {
	FinishDraft(ctx context.Context, draftID string, state draft.State, mainboard, sideboard draft.Board) (redirect string, err error)
}

// Snapshot is the observable engine state handed to subscribers and
// transport layers. All slices are deep copies.
type Snapshot struct {
	Status    Status      `json:"status"`
	State     draft.State `json:"state"`
	Mainboard draft.Board `json:"mainboard"`
	Sideboard draft.Board `json:"sideboard"`

	// Ratings aligns with seat 0's pack order; zero for unrated cards.
	Ratings []float64 `json:"ratings,omitempty"`

	// Redirect is set once the draft has finished.
	Redirect string `json:"redirect,omitempty"`
}

type cacheKey struct {
	pack int
	pick int
}

// Deps are the engine's collaborators. Rand and Clock are injectable so
// behavior is reproducible in tests; nil values get production defaults.
type Deps struct {
	Predictor Predictor
	Store     Store
	Finisher  Finisher
	Logger    *zap.Logger
	Rand      *rand.Rand
	Clock     clockwork.Clock

	// AutoPickDelay overrides DefaultAutoPickDelay when positive.
	AutoPickDelay time.Duration
}

type Engine struct {
	draft *draft.Draft

	predictor Predictor
	store     Store
	finisher  Finisher
	log       *zap.Logger
	rng       *rand.Rand
	clock     clockwork.Clock
	delay     time.Duration

	mu            sync.Mutex
	status        Status
	state         draft.State
	mainboard     draft.Board
	sideboard     draft.Board
	cache         map[cacheKey]*predictor.Response
	redirect      string
	finishPending bool
	autoPending   bool
	subscribers   []func(Snapshot)
}

// New builds an engine for the given draft, resuming from the store when a
// state for this draft id was persisted earlier.
func New(ctx context.Context, d *draft.Draft, deps Deps) (*Engine, error) {
	if len(d.Seats) == 0 || d.PackCount() == 0 {
		return nil, fmt.Errorf("draft %s has no seats or packs", d.ID)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.AutoPickDelay <= 0 {
		deps.AutoPickDelay = DefaultAutoPickDelay
	}

	e := &Engine{
		draft:     d,
		predictor: deps.Predictor,
		store:     deps.Store,
		finisher:  deps.Finisher,
		log:       deps.Logger.With(zap.String("draft_id", d.ID)),
		rng:       deps.Rand,
		clock:     deps.Clock,
		delay:     deps.AutoPickDelay,
		status:    StatusIdle,
		state:     draft.NewState(d),
		mainboard: draft.NewBoard(2, 8),
		sideboard: draft.NewBoard(1, 8),
		cache:     make(map[cacheKey]*predictor.Response),
	}

	if e.store != nil {
		state, main, side, ok, err := e.store.LoadDraftState(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("load draft state: %w", err)
		}
		if ok {
			e.state, e.mainboard, e.sideboard = state, main, side
		}
	}
	return e, nil
}

// Subscribe registers an observer invoked after every state transition.
// Callbacks run outside the engine lock.
func (e *Engine) Subscribe(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// GetState returns a deep-copied snapshot of the current engine state.
func (e *Engine) GetState() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Status reports the current state-machine status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Status:    e.status,
		State:     e.state.Clone(),
		Mainboard: e.mainboard.Clone(),
		Sideboard: e.sideboard.Clone(),
		Ratings:   e.ratingsLocked(),
		Redirect:  e.redirect,
	}
}

// ratingsLocked maps the cached predictions for the current (pack, pick)
// onto seat 0's pack order.
func (e *Engine) ratingsLocked() []float64 {
	preds := e.cache[cacheKey{e.state.Pack, e.state.Pick}]
	if preds == nil || len(preds.Prediction) == 0 || len(e.state.Seats) == 0 {
		return nil
	}
	byOracle := make(map[string]float64, len(preds.Prediction[0]))
	for _, r := range preds.Prediction[0] {
		byOracle[r.Oracle] = r.Rating
	}
	out := make([]float64, len(e.state.Seats[0].Pack))
	for i, card := range e.state.Seats[0].Pack {
		out[i] = byOracle[e.draft.Oracle(card)]
	}
	return out
}

func (e *Engine) notify(snap Snapshot) {
	e.mu.Lock()
	subs := append([]func(Snapshot){}, e.subscribers...)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// begin transitions Idle -> Busy, rejecting re-entrant or blocked callers.
func (e *Engine) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.status {
	case StatusBusy:
		return ErrBusy
	case StatusError:
		return ErrBlocked
	case StatusFinished:
		return ErrFinished
	}
	e.status = StatusBusy
	return nil
}

func (e *Engine) settle(status Status) Snapshot {
	e.mu.Lock()
	e.status = status
	snap := e.snapshotLocked()
	e.mu.Unlock()
	return snap
}

// Start fetches ratings for the opening pack and arms auto-resolution when
// the first step is a random one. Call once after construction.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	if err := e.ensurePredictions(ctx); err != nil {
		e.notify(e.settle(StatusError))
		return err
	}
	e.notify(e.settle(StatusIdle))
	e.maybeScheduleAutoPick(ctx)
	return nil
}

// Retry re-attempts the last failed external call: the prediction fetch for
// the current (pack, pick) key, or the finish request when the draft has
// already consumed its final pack. Idempotent; only meaningful in Error.
func (e *Engine) Retry(ctx context.Context) error {
	e.mu.Lock()
	if e.status != StatusError {
		e.mu.Unlock()
		return nil
	}
	e.status = StatusBusy
	finish := e.finishPending
	e.mu.Unlock()

	if finish {
		return e.finishDraft(ctx)
	}

	if err := e.ensurePredictions(ctx); err != nil {
		e.notify(e.settle(StatusError))
		return err
	}
	e.notify(e.settle(StatusIdle))
	e.maybeScheduleAutoPick(ctx)
	return nil
}

// ApplyAction applies one human action: the card at packIndex in seat 0's
// open pack goes to (zone, row, col) for pick steps, or is recorded in the
// pick/trash lists otherwise. All bot seats resolve in the same turn, then
// the pack passes or the next pack opens. The whole application is atomic
// from the caller's perspective.
func (e *Engine) ApplyAction(ctx context.Context, packIndex int, zone draft.Zone, row, col int) error {
	if err := e.begin(); err != nil {
		return err
	}

	e.mu.Lock()
	if len(e.state.StepQueue) == 0 {
		e.status = StatusIdle
		e.mu.Unlock()
		return ErrNoStep
	}
	step := e.state.StepQueue[0]
	if step.Action == draft.ActionPass || step.Action == draft.ActionEndPack {
		// Never a human-facing step; advancing applies these itself.
		e.status = StatusIdle
		e.mu.Unlock()
		return fmt.Errorf("%w: step %s takes no action", ErrNoStep, step.Action)
	}
	if packIndex < 0 || packIndex >= len(e.state.Seats[0].Pack) {
		e.status = StatusIdle
		e.mu.Unlock()
		e.log.Warn("pack index out of bounds, dropping action",
			zap.Int("index", packIndex), zap.String("action", string(step.Action)))
		return fmt.Errorf("%w: pack index %d", draft.ErrInvalidIndex, packIndex)
	}
	if isPick(step.Action) && zone != draft.ZoneDeck && zone != draft.ZoneSideboard {
		e.status = StatusIdle
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot pick into %s", draft.ErrInvalidMove, zone)
	}
	needsRatings := step.Action == draft.ActionPick || step.Action == draft.ActionTrash
	e.mu.Unlock()

	// Bot resolution for pick/trash consumes the latest ratings; fetch them
	// first if the cache has no entry for this (pack, pick).
	if needsRatings {
		if err := e.ensurePredictions(ctx); err != nil {
			e.notify(e.settle(StatusError))
			return err
		}
	}

	e.mu.Lock()
	if err := e.applyLocked(step, packIndex, zone, row, col); err != nil {
		e.status = StatusIdle
		e.mu.Unlock()
		return err
	}

	finishNow, openedPack := e.advanceLocked()

	if e.store != nil {
		if err := e.store.SaveDraftState(ctx, e.draft.ID, e.state, e.mainboard, e.sideboard); err != nil {
			e.log.Error("persist draft state failed", zap.Error(err))
		}
	}
	e.mu.Unlock()

	if finishNow {
		return e.finishDraft(ctx)
	}

	if openedPack {
		// Ratings for the fresh pack must be in hand before input unblocks.
		if err := e.ensurePredictions(ctx); err != nil {
			e.notify(e.settle(StatusError))
			return err
		}
	}

	e.notify(e.settle(StatusIdle))
	e.maybeScheduleAutoPick(ctx)
	return nil
}

func isPick(a draft.Action) bool {
	return a == draft.ActionPick || a == draft.ActionPickRandom
}

// applyLocked runs the board move, the step consumption, and the seat
// mutations for one action. Caller holds the lock and has validated inputs.
func (e *Engine) applyLocked(step draft.Step, packIndex int, zone draft.Zone, row, col int) error {
	card := e.state.Seats[0].Pack[packIndex]

	if isPick(step.Action) {
		board := e.mainboard
		if zone == draft.ZoneSideboard {
			board = e.sideboard
		}
		if row < 0 || row >= len(board) || col < 0 || col >= len(board[row]) {
			return fmt.Errorf("%w: %s slot (%d,%d)", draft.ErrInvalidIndex, zone, row, col)
		}
		target := draft.Location{Zone: zone, Row: row, Col: col, Index: len(board[row][col])}
		updated, err := draft.AddCard(board, target, card)
		if err != nil {
			return err
		}
		if zone == draft.ZoneSideboard {
			e.sideboard = updated
		} else {
			e.mainboard = updated
		}
	}

	// Consume the step: decrement a multi-card step, pop otherwise.
	if step.Amount != nil && *step.Amount > 1 {
		n := *step.Amount - 1
		e.state.StepQueue[0] = draft.Step{Action: step.Action, Amount: &n}
	} else {
		e.state.StepQueue = e.state.StepQueue[1:]
	}

	switch step.Action {
	case draft.ActionPick, draft.ActionTrash:
		preds := e.cache[cacheKey{e.state.Pack, e.state.Pick}]
		e.takeCard(0, packIndex, step.Action)
		for i := 1; i < len(e.state.Seats); i++ {
			e.resolveBotSeat(i, step.Action, preds)
		}
	case draft.ActionPickRandom, draft.ActionTrashRandom:
		// Seat 0's card was already chosen (at random) by the caller; every
		// bot takes a uniformly random card without consulting ratings.
		e.takeCard(0, packIndex, step.Action)
		for i := 1; i < len(e.state.Seats); i++ {
			if n := len(e.state.Seats[i].Pack); n > 0 {
				e.takeCard(i, e.rng.Intn(n), step.Action)
			}
		}
	}
	return nil
}

// takeCard removes the card at packIndex from the seat's pack and unshifts
// it onto picks or trashed per the action kind.
func (e *Engine) takeCard(seat, packIndex int, action draft.Action) {
	s := &e.state.Seats[seat]
	card := s.Pack[packIndex]
	s.Pack = append(append([]int{}, s.Pack[:packIndex]...), s.Pack[packIndex+1:]...)
	if action == draft.ActionPick || action == draft.ActionPickRandom {
		s.Picks = append([]int{card}, s.Picks...)
	} else {
		s.Trashed = append([]int{card}, s.Trashed...)
	}
}

// resolveBotSeat picks the highest-rated card in the seat's pack, first
// encountered winning ties. An empty pack contributes nothing; an empty
// rating list falls back to a uniformly random card.
func (e *Engine) resolveBotSeat(seat int, action draft.Action, preds *predictor.Response) {
	pack := e.state.Seats[seat].Pack
	if len(pack) == 0 {
		return
	}

	var ratings []predictor.Rating
	if preds != nil && seat < len(preds.Prediction) {
		ratings = preds.Prediction[seat]
	}
	if len(ratings) == 0 {
		e.takeCard(seat, e.rng.Intn(len(pack)), action)
		return
	}

	byOracle := make(map[string]float64, len(ratings))
	for _, r := range ratings {
		byOracle[r.Oracle] = r.Rating
	}

	// Strictly-greater comparison keeps the tie-break stable: the first
	// card encountered in pack order wins. Unrated cards score zero.
	choice := 0
	best := byOracle[e.draft.Oracle(pack[0])]
	for i := 1; i < len(pack); i++ {
		if r := byOracle[e.draft.Oracle(pack[i])]; r > best {
			best, choice = r, i
		}
	}
	e.takeCard(seat, choice, action)
}

// advanceLocked inspects the head of the step queue after an action: rotates
// packs on a pass step and opens the next pack (or flags completion) on an
// endpack step. Reports whether the draft should finish now and whether a
// new pack was opened.
func (e *Engine) advanceLocked() (finishNow, openedPack bool) {
	if len(e.state.StepQueue) > 0 && e.state.StepQueue[0].Action == draft.ActionPass {
		e.rotatePacksLocked()
		e.state.Pick++
		e.state.StepQueue = e.state.StepQueue[1:]
	}

	if len(e.state.StepQueue) > 0 && e.state.StepQueue[0].Action == draft.ActionEndPack {
		if e.state.Pack >= e.draft.PackCount() {
			e.finishPending = true
			return true, false
		}

		e.state.Pack++
		e.state.Pick = 1
		for i := range e.state.Seats {
			e.state.Seats[i].Pack = []int{}
			if i < len(e.draft.InitialState) && e.state.Pack-1 < len(e.draft.InitialState[i]) {
				e.state.Seats[i].Pack = append([]int{}, e.draft.InitialState[i][e.state.Pack-1].Cards...)
			}
		}
		e.state.StepQueue = e.state.StepQueue[1:]
		return false, true
	}
	return false, false
}

// rotatePacksLocked passes every seat's pack to its neighbor. Direction
// alternates strictly by the pack-relative pick parity: odd picks pass left,
// even picks pass right.
func (e *Engine) rotatePacksLocked() {
	n := len(e.state.Seats)
	direction := -1
	if e.state.Pick%2 == 0 {
		direction = 1
	}
	packs := make([][]int, n)
	for i := range e.state.Seats {
		packs[i] = e.state.Seats[i].Pack
	}
	for i := range e.state.Seats {
		e.state.Seats[(i+direction+n)%n].Pack = packs[i]
	}
}

// ensurePredictions makes sure the cache holds ratings for the current
// (pack, pick) key, issuing at most one request per key. A response that
// arrives for a superseded key is discarded.
func (e *Engine) ensurePredictions(ctx context.Context) error {
	e.mu.Lock()
	key := cacheKey{e.state.Pack, e.state.Pick}
	if _, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return nil
	}
	if e.predictor == nil || len(e.state.Seats[0].Pack) == 0 {
		e.mu.Unlock()
		return nil
	}
	inputs := e.buildInputsLocked()
	e.mu.Unlock()

	resp, err := e.predictor.BatchPredict(ctx, inputs)
	if err != nil {
		e.log.Warn("prediction fetch failed", zap.Int("pack", key.pack), zap.Int("pick", key.pick), zap.Error(err))
		return err
	}

	e.mu.Lock()
	if (cacheKey{e.state.Pack, e.state.Pick}) == key {
		e.cache[key] = resp
	} else {
		e.log.Debug("discarding superseded prediction response",
			zap.Int("pack", key.pack), zap.Int("pick", key.pick))
	}
	e.mu.Unlock()
	return nil
}

// buildInputsLocked translates engine state into one request input per seat,
// dropping cards whose catalog identity is unresolved.
func (e *Engine) buildInputsLocked() []predictor.SeatInput {
	inputs := make([]predictor.SeatInput, len(e.state.Seats))
	for i, seat := range e.state.Seats {
		in := predictor.SeatInput{Pack: []string{}, Picks: []string{}}
		for _, card := range seat.Pack {
			if oracle := e.draft.Oracle(card); oracle != "" {
				in.Pack = append(in.Pack, oracle)
			}
		}
		// Picks are stored most recent first; the bot wants pick order.
		for j := len(seat.Picks) - 1; j >= 0; j-- {
			if oracle := e.draft.Oracle(seat.Picks[j]); oracle != "" {
				in.Picks = append(in.Picks, oracle)
			}
		}
		inputs[i] = in
	}
	return inputs
}

// finishDraft transmits the terminal state. On failure the engine stays in
// Error with state already persisted, so Retry can resubmit without loss.
func (e *Engine) finishDraft(ctx context.Context) error {
	e.mu.Lock()
	state := e.state.Clone()
	main := e.mainboard.Clone()
	side := e.sideboard.Clone()
	e.mu.Unlock()

	redirect, err := e.finisher.FinishDraft(ctx, e.draft.ID, state, main, side)
	if err != nil {
		e.log.Error("draft finish failed", zap.Error(err))
		e.notify(e.settle(StatusError))
		return err
	}

	e.mu.Lock()
	e.redirect = redirect
	e.finishPending = false
	e.status = StatusFinished
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.log.Info("draft finished", zap.String("redirect", redirect))
	e.notify(snap)
	return nil
}

// maybeScheduleAutoPick arms a delayed random selection when the head step
// is pickrandom or trashrandom. The selection routes through the same
// ApplyAction path as a human action.
func (e *Engine) maybeScheduleAutoPick(ctx context.Context) {
	e.mu.Lock()
	ok := e.status == StatusIdle && !e.autoPending &&
		len(e.state.StepQueue) > 0 &&
		(e.state.StepQueue[0].Action == draft.ActionPickRandom || e.state.StepQueue[0].Action == draft.ActionTrashRandom) &&
		len(e.state.Seats[0].Pack) > 0
	if ok {
		e.autoPending = true
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	go func() {
		select {
		case <-e.clock.After(e.delay):
		case <-ctx.Done():
			e.mu.Lock()
			e.autoPending = false
			e.mu.Unlock()
			return
		}

		e.mu.Lock()
		e.autoPending = false
		n := len(e.state.Seats[0].Pack)
		if e.status != StatusIdle || n == 0 {
			e.mu.Unlock()
			return
		}
		index := e.rng.Intn(n)
		row, col := defaultSlot(e.draft, e.state.Seats[0].Pack[index])
		e.mu.Unlock()

		if err := e.ApplyAction(ctx, index, draft.ZoneDeck, row, col); err != nil {
			e.log.Warn("auto pick failed", zap.Error(err))
		}
	}()
}

// defaultSlot mirrors the deck builder's default placement: top row,
// column by mana value capped at the last column.
func defaultSlot(d *draft.Draft, card int) (row, col int) {
	col = 0
	if card >= 0 && card < len(d.Cards) {
		col = d.Cards[card].CMC
	}
	if col > 7 {
		col = 7
	}
	return 0, col
}
