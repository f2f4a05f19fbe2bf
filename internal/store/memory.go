package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/cubeforge/cube-draft-backend/internal/draft"
)

// Memory is an in-process Store used by tests and single-node development.
type Memory struct {
	mu        sync.Mutex
	drafts    map[string]*draft.Draft
	states    map[string]persistedState
	completed map[string]persistedState
	followers map[string][]string
}

type persistedState struct {
	state     draft.State
	mainboard draft.Board
	sideboard draft.Board
}

func NewMemory() *Memory {
	return &Memory{
		drafts:    make(map[string]*draft.Draft),
		states:    make(map[string]persistedState),
		completed: make(map[string]persistedState),
		followers: make(map[string][]string),
	}
}

func (m *Memory) SaveDraft(_ context.Context, d *draft.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[d.ID] = d
	return nil
}

func (m *Memory) GetDraft(_ context.Context, id string) (*draft.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, fmt.Errorf("%w: draft %s", ErrNotFound, id)
	}
	return d, nil
}

func (m *Memory) SaveDraftState(_ context.Context, draftID string, state draft.State, mainboard, sideboard draft.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[draftID] = persistedState{state.Clone(), mainboard.Clone(), sideboard.Clone()}
	return nil
}

func (m *Memory) LoadDraftState(_ context.Context, draftID string) (draft.State, draft.Board, draft.Board, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.states[draftID]
	if !ok {
		return draft.State{}, nil, nil, false, nil
	}
	return p.state.Clone(), p.mainboard.Clone(), p.sideboard.Clone(), true, nil
}

func (m *Memory) SaveCompletedDeck(_ context.Context, draftID string, state draft.State, mainboard, sideboard draft.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[draftID] = persistedState{state.Clone(), mainboard.Clone(), sideboard.Clone()}
	return nil
}

// CompletedDeck reports whether a completed deck was stored for the draft.
// Test helper.
func (m *Memory) CompletedDeck(draftID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.completed[draftID]
	return ok
}

func (m *Memory) Follow(_ context.Context, userID, followerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.followers[userID] {
		if f == followerID {
			return nil
		}
	}
	m.followers[userID] = append([]string{followerID}, m.followers[userID]...)
	return nil
}

func (m *Memory) Unfollow(_ context.Context, userID, followerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.followers[userID]
	for i, f := range list {
		if f == followerID {
			m.followers[userID] = append(append([]string{}, list[:i]...), list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) ListFollowers(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.followers[userID]...), nil
}
