package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cubeforge/cube-draft-backend/internal/draft"
	"github.com/cubeforge/cube-draft-backend/internal/predictor"
	"github.com/cubeforge/cube-draft-backend/internal/store"
)

// testDraft lays cards out seat-major: seat s gets catalog indexes
// [s*packs*size, ...) split into its packs. steps (if non-nil) applies to
// every pack.
func testDraft(numSeats, numPacks, packSize int, steps []draft.Step) *draft.Draft {
	total := numSeats * numPacks * packSize
	cards := make([]draft.Card, total)
	for i := range cards {
		cards[i] = draft.Card{OracleID: fmt.Sprintf("card-%d", i), Name: fmt.Sprintf("Card %d", i)}
	}

	seats := make([]draft.SeatConfig, numSeats)
	seats[0] = draft.SeatConfig{Name: "drafter"}
	for i := 1; i < numSeats; i++ {
		seats[i] = draft.SeatConfig{Name: fmt.Sprintf("bot-%d", i), Bot: true}
	}

	initial := make([][]draft.Pack, numSeats)
	next := 0
	for s := 0; s < numSeats; s++ {
		initial[s] = make([]draft.Pack, numPacks)
		for p := 0; p < numPacks; p++ {
			pack := draft.Pack{Cards: make([]int, packSize), Steps: steps}
			for c := 0; c < packSize; c++ {
				pack.Cards[c] = next
				next++
			}
			initial[s][p] = pack
		}
	}

	return &draft.Draft{
		ID:           "test-draft",
		Cards:        cards,
		Seats:        seats,
		InitialState: initial,
	}
}

// scriptedPredictor rates every card in every seat's pack from a fixed
// oracle -> rating table and counts network calls.
type scriptedPredictor struct {
	mu      sync.Mutex
	calls   int
	err     error
	ratings map[string]float64
}

func (p *scriptedPredictor) BatchPredict(_ context.Context, inputs []predictor.SeatInput) (*predictor.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	resp := &predictor.Response{Prediction: make([][]predictor.Rating, len(inputs))}
	for i, in := range inputs {
		for _, oracle := range in.Pack {
			resp.Prediction[i] = append(resp.Prediction[i], predictor.Rating{Oracle: oracle, Rating: p.ratings[oracle]})
		}
	}
	return resp, nil
}

func (p *scriptedPredictor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedPredictor) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// linearRatings gives card-i the rating i/10, so every card is distinct and
// higher indexes are always preferred.
func linearRatings(n int) map[string]float64 {
	out := make(map[string]float64, n)
	for i := 0; i < n; i++ {
		out[fmt.Sprintf("card-%d", i)] = float64(i) / 10
	}
	return out
}

type recordingFinisher struct {
	mu        sync.Mutex
	calls     int
	err       error
	lastState draft.State
	lastMain  draft.Board
	lastSide  draft.Board
}

func (f *recordingFinisher) FinishDraft(_ context.Context, draftID string, state draft.State, mainboard, sideboard draft.Board) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls++
	f.lastState = state
	f.lastMain = mainboard
	f.lastSide = sideboard
	return "/draft/deckbuilder/" + draftID, nil
}

func (f *recordingFinisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestEngine(t *testing.T, d *draft.Draft, p Predictor, f Finisher, seed int64) *Engine {
	t.Helper()
	eng, err := New(context.Background(), d, Deps{
		Predictor: p,
		Store:     store.NewMemory(),
		Finisher:  f,
		Rand:      rand.New(rand.NewSource(seed)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func mustApply(t *testing.T, eng *Engine, index int) {
	t.Helper()
	if err := eng.ApplyAction(context.Background(), index, draft.ZoneDeck, 0, 0); err != nil {
		t.Fatalf("ApplyAction(%d): %v", index, err)
	}
}

// The 2-seat, 1-pack, 3-card scenario: human picks in pack order, the bot
// must take its highest-rated card each turn, and the finish request is
// issued exactly once after the final pick.
func TestSinglePackScenario(t *testing.T) {
	pick := []draft.Step{draft.PickStep(draft.ActionPick, 1), draft.PickStep(draft.ActionPick, 1), draft.PickStep(draft.ActionPick, 1)}
	d := testDraft(2, 1, 3, pick)
	// Seat 1 holds cards 3,4,5. Card 4 is the standout.
	preds := &scriptedPredictor{ratings: map[string]float64{
		"card-3": 0.1, "card-4": 0.9, "card-5": 0.2,
	}}
	fin := &recordingFinisher{}
	eng := newTestEngine(t, d, preds, fin, 1)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mustApply(t, eng, 0)
	mustApply(t, eng, 0)
	mustApply(t, eng, 0)

	if got := eng.Status(); got != StatusFinished {
		t.Fatalf("want finished, got %s", got)
	}
	if fin.callCount() != 1 {
		t.Fatalf("want exactly one finish request, got %d", fin.callCount())
	}

	// Most recent first.
	if got := fin.lastState.Seats[0].Picks; !reflect.DeepEqual(got, []int{2, 1, 0}) {
		t.Fatalf("seat 0 picks: want [2 1 0], got %v", got)
	}
	if got := fin.lastState.Seats[1].Picks; !reflect.DeepEqual(got, []int{3, 5, 4}) {
		t.Fatalf("seat 1 picks: want [3 5 4], got %v", got)
	}

	// Further actions are rejected.
	if err := eng.ApplyAction(context.Background(), 0, draft.ZoneDeck, 0, 0); !errors.Is(err, ErrFinished) {
		t.Fatalf("want ErrFinished, got %v", err)
	}
}

// Conservation: after a full 3-seat draft with passing, every card is in
// exactly one seat zone, and the boards mirror seat 0's picks.
func TestConservation(t *testing.T) {
	d := testDraft(3, 1, 3, nil)
	preds := &scriptedPredictor{ratings: linearRatings(9)}
	fin := &recordingFinisher{}
	eng := newTestEngine(t, d, preds, fin, 2)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mustApply(t, eng, 0)
	mustApply(t, eng, 0)
	mustApply(t, eng, 0)

	if eng.Status() != StatusFinished {
		t.Fatalf("draft did not finish: %s", eng.Status())
	}

	var all []int
	for _, seat := range fin.lastState.Seats {
		all = append(all, seat.Pack...)
		all = append(all, seat.Picks...)
		all = append(all, seat.Trashed...)
	}
	sort.Ints(all)
	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8}
	if !reflect.DeepEqual(all, want) {
		t.Fatalf("cards not conserved: %v", all)
	}

	var boardCards []int
	for _, b := range []draft.Board{fin.lastMain, fin.lastSide} {
		for _, row := range b {
			for _, stack := range row {
				boardCards = append(boardCards, stack...)
			}
		}
	}
	sort.Ints(boardCards)
	picks := append([]int{}, fin.lastState.Seats[0].Picks...)
	sort.Ints(picks)
	if !reflect.DeepEqual(boardCards, picks) {
		t.Fatalf("boards %v do not mirror seat 0 picks %v", boardCards, picks)
	}
}

// A pick step with amount 2 decrements on the first pick and pops on the
// second.
func TestStepAmountConsumption(t *testing.T) {
	d := testDraft(2, 1, 3, []draft.Step{draft.PickStep(draft.ActionPick, 2)})
	preds := &scriptedPredictor{ratings: linearRatings(6)}
	fin := &recordingFinisher{}
	eng := newTestEngine(t, d, preds, fin, 3)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	before := len(eng.GetState().State.StepQueue)
	mustApply(t, eng, 0)

	snap := eng.GetState()
	if len(snap.State.StepQueue) != before {
		t.Fatalf("step popped instead of decremented")
	}
	head := snap.State.StepQueue[0]
	if head.Action != draft.ActionPick || head.Amount == nil || *head.Amount != 1 {
		t.Fatalf("want pick step with amount 1, got %+v", head)
	}

	mustApply(t, eng, 0)
	if eng.Status() != StatusFinished {
		t.Fatalf("want finished after consuming the step, got %s", eng.Status())
	}
}

// Trash steps remove the card to the trashed list without touching the
// boards, and bots trash their highest-rated card the same way they pick.
func TestTrashStep(t *testing.T) {
	d := testDraft(2, 1, 2, []draft.Step{
		draft.PickStep(draft.ActionTrash, 1),
		draft.PickStep(draft.ActionPick, 1),
	})
	preds := &scriptedPredictor{ratings: linearRatings(4)}
	fin := &recordingFinisher{}
	eng := newTestEngine(t, d, preds, fin, 14)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mustApply(t, eng, 0)

	snap := eng.GetState()
	if got := snap.State.Seats[0].Trashed; !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("want trashed [0], got %v", got)
	}
	if len(snap.State.Seats[0].Picks) != 0 {
		t.Fatalf("trash must not pick: %v", snap.State.Seats[0].Picks)
	}
	// Bot trashes card 3, its highest-rated.
	if got := snap.State.Seats[1].Trashed; !reflect.DeepEqual(got, []int{3}) {
		t.Fatalf("want bot trashed [3], got %v", got)
	}
	for _, row := range snap.Mainboard {
		for _, stack := range row {
			if len(stack) != 0 {
				t.Fatalf("trash placed a card on the mainboard")
			}
		}
	}

	mustApply(t, eng, 0)
	if eng.Status() != StatusFinished {
		t.Fatalf("want finished, got %s", eng.Status())
	}
}

// Equal maximal ratings resolve to the first card encountered in pack
// order, independent of the random source.
func TestBotTieBreakDeterminism(t *testing.T) {
	for _, seed := range []int64{1, 99, 12345} {
		d := testDraft(2, 1, 3, []draft.Step{draft.PickStep(draft.ActionPick, 1)})
		preds := &scriptedPredictor{ratings: map[string]float64{
			"card-3": 0.5, "card-4": 0.5, "card-5": 0.1,
		}}
		fin := &recordingFinisher{}
		eng := newTestEngine(t, d, preds, fin, seed)

		if err := eng.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		mustApply(t, eng, 0)

		snap := eng.GetState()
		if got := snap.State.Seats[1].Picks; !reflect.DeepEqual(got, []int{3}) {
			t.Fatalf("seed %d: want bot pick [3], got %v", seed, got)
		}
	}
}

// Direction alternates by pick parity within a pack: odd picks pass left,
// even picks pass right.
func TestPassDirectionParity(t *testing.T) {
	d := testDraft(3, 1, 3, nil)
	preds := &scriptedPredictor{ratings: linearRatings(9)}
	fin := &recordingFinisher{}
	eng := newTestEngine(t, d, preds, fin, 4)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Pick 1 (odd): seat 0 passes left, receiving seat 1's remnant. The
	// bots hold 3,4,5 and 6,7,8 and always take their highest.
	mustApply(t, eng, 0)
	snap := eng.GetState()
	if snap.State.Pick != 2 {
		t.Fatalf("want pick 2 after first pass, got %d", snap.State.Pick)
	}
	if got := snap.State.Seats[0].Pack; !reflect.DeepEqual(got, []int{3, 4}) {
		t.Fatalf("pick 1: want seat 0 to receive [3 4] from the left pass, got %v", got)
	}

	// Pick 2 (even): pass right, so seat 0 receives seat 2's pack, which is
	// seat 0's own remnant minus the bot's pick of card 2.
	mustApply(t, eng, 0)
	snap = eng.GetState()
	if snap.State.Pick != 3 {
		t.Fatalf("want pick 3 after second pass, got %d", snap.State.Pick)
	}
	if got := snap.State.Seats[0].Pack; !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("pick 2: want seat 0 to receive [1] from the right pass, got %v", got)
	}
}

// One network call per (pack, pick) key, no matter how often ratings are
// needed for it.
func TestPredictionCacheHit(t *testing.T) {
	d := testDraft(2, 1, 2, nil)
	preds := &scriptedPredictor{ratings: linearRatings(4)}
	fin := &recordingFinisher{}
	eng := newTestEngine(t, d, preds, fin, 5)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if preds.callCount() != 1 {
		t.Fatalf("want 1 call after start, got %d", preds.callCount())
	}

	// Same key again: served from cache.
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if preds.callCount() != 1 {
		t.Fatalf("want 1 call after repeat start, got %d", preds.callCount())
	}

	// First pick consumes the cached ratings without a new request.
	mustApply(t, eng, 0)
	if preds.callCount() != 1 {
		t.Fatalf("want 1 call after first pick, got %d", preds.callCount())
	}

	// Second pick is a fresh (pack, pick) key.
	mustApply(t, eng, 0)
	if preds.callCount() != 2 {
		t.Fatalf("want 2 calls after second pick, got %d", preds.callCount())
	}
	if eng.Status() != StatusFinished {
		t.Fatalf("want finished, got %s", eng.Status())
	}
}

// A failed fetch while opening a new pack blocks all input until a retry
// succeeds, and the retry re-issues the same request.
func TestPredictionFailureBlocksInput(t *testing.T) {
	d := testDraft(2, 2, 1, nil)
	preds := &scriptedPredictor{ratings: linearRatings(4)}
	fin := &recordingFinisher{}
	eng := newTestEngine(t, d, preds, fin, 6)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Fail the fetch that pack 2's opening triggers.
	preds.setErr(predictor.ErrPredictionUnavailable)
	err := eng.ApplyAction(context.Background(), 0, draft.ZoneDeck, 0, 0)
	if !errors.Is(err, predictor.ErrPredictionUnavailable) {
		t.Fatalf("want ErrPredictionUnavailable, got %v", err)
	}
	if eng.Status() != StatusError {
		t.Fatalf("want error status, got %s", eng.Status())
	}

	// Human actions are rejected while blocked.
	if err := eng.ApplyAction(context.Background(), 0, draft.ZoneDeck, 0, 0); !errors.Is(err, ErrBlocked) {
		t.Fatalf("want ErrBlocked, got %v", err)
	}

	preds.setErr(nil)
	if err := eng.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if eng.Status() != StatusIdle {
		t.Fatalf("want idle after retry, got %s", eng.Status())
	}

	mustApply(t, eng, 0)
	if eng.Status() != StatusFinished {
		t.Fatalf("want finished, got %s", eng.Status())
	}
	if fin.callCount() != 1 {
		t.Fatalf("want one finish request, got %d", fin.callCount())
	}
}

// A failed finish leaves the engine in error with state persisted; Retry
// resubmits the same terminal state.
func TestFinishFailureIsRetryable(t *testing.T) {
	d := testDraft(2, 1, 1, nil)
	preds := &scriptedPredictor{ratings: linearRatings(2)}
	fin := &recordingFinisher{err: errors.New("persistence boundary down")}
	eng := newTestEngine(t, d, preds, fin, 7)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.ApplyAction(context.Background(), 0, draft.ZoneDeck, 0, 0); err == nil {
		t.Fatalf("expected finish failure")
	}
	if eng.Status() != StatusError {
		t.Fatalf("want error status, got %s", eng.Status())
	}

	fin.mu.Lock()
	fin.err = nil
	fin.mu.Unlock()

	if err := eng.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if eng.Status() != StatusFinished {
		t.Fatalf("want finished after retry, got %s", eng.Status())
	}
	if fin.callCount() != 1 {
		t.Fatalf("want one successful finish, got %d", fin.callCount())
	}
	if got := eng.GetState().Redirect; got != "/draft/deckbuilder/test-draft" {
		t.Fatalf("want deckbuilder redirect, got %q", got)
	}
}

// An out-of-bounds pack index is logged and dropped without mutating state.
func TestInvalidIndexDropsAction(t *testing.T) {
	d := testDraft(2, 1, 3, nil)
	preds := &scriptedPredictor{ratings: linearRatings(6)}
	eng := newTestEngine(t, d, preds, &recordingFinisher{}, 8)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	before := eng.GetState()
	err := eng.ApplyAction(context.Background(), 99, draft.ZoneDeck, 0, 0)
	if !errors.Is(err, draft.ErrInvalidIndex) {
		t.Fatalf("want ErrInvalidIndex, got %v", err)
	}
	after := eng.GetState()

	if !reflect.DeepEqual(before.State, after.State) {
		t.Fatalf("state mutated by dropped action")
	}
	if after.Status != StatusIdle {
		t.Fatalf("want idle, got %s", after.Status)
	}
}

// Picks may only land on the deck or sideboard boards.
func TestPickIntoPackRejected(t *testing.T) {
	d := testDraft(2, 1, 3, nil)
	preds := &scriptedPredictor{ratings: linearRatings(6)}
	eng := newTestEngine(t, d, preds, &recordingFinisher{}, 9)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.ApplyAction(context.Background(), 0, draft.ZonePack, 0, 0); !errors.Is(err, draft.ErrInvalidMove) {
		t.Fatalf("want ErrInvalidMove, got %v", err)
	}
}

// blockingPredictor parks the first caller until released, exposing the
// busy window.
type blockingPredictor struct {
	entered chan struct{}
	release chan struct{}
	inner   *scriptedPredictor
}

func (p *blockingPredictor) BatchPredict(ctx context.Context, inputs []predictor.SeatInput) (*predictor.Response, error) {
	close(p.entered)
	<-p.release
	return p.inner.BatchPredict(ctx, inputs)
}

func TestReentrantActionRejected(t *testing.T) {
	d := testDraft(2, 1, 2, nil)
	blocking := &blockingPredictor{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		inner:   &scriptedPredictor{ratings: linearRatings(4)},
	}
	eng := newTestEngine(t, d, blocking, &recordingFinisher{}, 10)

	done := make(chan error, 1)
	go func() {
		done <- eng.ApplyAction(context.Background(), 0, draft.ZoneDeck, 0, 0)
	}()

	<-blocking.entered
	if err := eng.ApplyAction(context.Background(), 0, draft.ZoneDeck, 0, 0); !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}

	close(blocking.release)
	if err := <-done; err != nil {
		t.Fatalf("first action failed: %v", err)
	}
}

// A pickrandom step resolves itself through ApplyAction after the
// configured delay.
func TestAutoPickRandomStep(t *testing.T) {
	d := testDraft(2, 1, 1, []draft.Step{draft.PickStep(draft.ActionPickRandom, 1)})
	preds := &scriptedPredictor{ratings: linearRatings(2)}
	fin := &recordingFinisher{}
	clock := clockwork.NewFakeClock()

	eng, err := New(context.Background(), d, Deps{
		Predictor:     preds,
		Store:         store.NewMemory(),
		Finisher:      fin,
		Rand:          rand.New(rand.NewSource(11)),
		Clock:         clock,
		AutoPickDelay: time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	finished := make(chan struct{})
	eng.Subscribe(func(snap Snapshot) {
		if snap.Status == StatusFinished {
			close(finished)
		}
	})

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.BlockUntil(1)
	clock.Advance(time.Second)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("auto pick never resolved")
	}
	if fin.callCount() != 1 {
		t.Fatalf("want one finish request, got %d", fin.callCount())
	}
	if got := fin.lastState.Seats[0].Picks; !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("want seat 0 to auto-pick its only card, got %v", got)
	}
}

// The engine resumes from the store when a persisted state exists.
func TestResumeFromStore(t *testing.T) {
	d := testDraft(2, 1, 3, nil)
	preds := &scriptedPredictor{ratings: linearRatings(6)}
	mem := store.NewMemory()

	eng, err := New(context.Background(), d, Deps{
		Predictor: preds,
		Store:     mem,
		Finisher:  &recordingFinisher{},
		Rand:      rand.New(rand.NewSource(12)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mustApply(t, eng, 0)
	mid := eng.GetState()

	resumed, err := New(context.Background(), d, Deps{
		Predictor: preds,
		Store:     mem,
		Finisher:  &recordingFinisher{},
		Rand:      rand.New(rand.NewSource(13)),
	})
	if err != nil {
		t.Fatalf("New (resume): %v", err)
	}

	if !reflect.DeepEqual(resumed.GetState().State, mid.State) {
		t.Fatalf("resumed state differs from persisted state")
	}
}
