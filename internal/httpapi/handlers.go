package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cubeforge/cube-draft-backend/internal/draft"
	"github.com/cubeforge/cube-draft-backend/internal/store"
)

// DraftStore persists and serves static draft configurations.
type DraftStore interface {
	SaveDraft(ctx context.Context, d *draft.Draft) error
	GetDraft(ctx context.Context, id string) (*draft.Draft, error)
}

// Finisher accepts the terminal draft state.
type Finisher interface {
	FinishDraft(ctx context.Context, draftID string, state draft.State, mainboard, sideboard draft.Board) (string, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// CreateDraft accepts a full draft configuration, assigns it an id, and
// stores it. The draft UI connects to /ws with the returned id.
func CreateDraft(drafts DraftStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var d draft.Draft
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := d.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if err := drafts.SaveDraft(r.Context(), &d); err != nil {
			log.Error("save draft failed", zap.Error(err))
			http.Error(w, "failed to save draft", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			ID string `json:"id"`
		}{ID: d.ID})
	}
}

func GetDraft(drafts DraftStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := drafts.GetDraft(r.Context(), chi.URLParam(r, "draftID"))
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "draft not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to load draft", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

type finishRequest struct {
	State     draft.State `json:"state"`
	Mainboard draft.Board `json:"mainboard"`
	Sideboard draft.Board `json:"sideboard"`
}

// FinishDraft lets a client submit its terminal state directly, mirroring
// what the engine does at completion. Responds with the deck-builder target.
func FinishDraft(fin Finisher, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		draftID := chi.URLParam(r, "draftID")

		var req finishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}

		redirect, err := fin.FinishDraft(r.Context(), draftID, req.State, req.Mainboard, req.Sideboard)
		if err != nil {
			log.Warn("finish draft failed", zap.String("draft_id", draftID), zap.Error(err))
			http.Error(w, "failed to finish draft", http.StatusConflict)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Redirect string `json:"redirect"`
		}{Redirect: redirect})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
