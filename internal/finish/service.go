// Package finish accepts the terminal state of a draft, records the
// completed deck, and hands back the deck-builder destination.
package finish

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cubeforge/cube-draft-backend/internal/draft"
)

// Store is the slice of persistence the finish service needs.
type Store interface {
	SaveCompletedDeck(ctx context.Context, draftID string, state draft.State, mainboard, sideboard draft.Board) error
}

type Service struct {
	store Store
	log   *zap.Logger
}

func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log}
}

// FinishDraft validates that no board-affecting steps remain, stores the
// completed deck, and returns the deck-builder redirect target.
func (s *Service) FinishDraft(ctx context.Context, draftID string, state draft.State, mainboard, sideboard draft.Board) (string, error) {
	for _, step := range state.StepQueue {
		switch step.Action {
		case draft.ActionPick, draft.ActionTrash, draft.ActionPickRandom, draft.ActionTrashRandom:
			return "", fmt.Errorf("draft %s is not finished: %s steps remain", draftID, step.Action)
		}
	}

	if err := s.store.SaveCompletedDeck(ctx, draftID, state, mainboard, sideboard); err != nil {
		return "", fmt.Errorf("store completed deck: %w", err)
	}

	s.log.Info("completed deck stored", zap.String("draft_id", draftID))
	return "/draft/deckbuilder/" + draftID, nil
}
