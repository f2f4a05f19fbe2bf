package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cubeforge/cube-draft-backend/internal/hub"
	"github.com/cubeforge/cube-draft-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, drafts DraftStore, followers FollowerStore, fin Finisher, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Post("/drafts", CreateDraft(drafts, log))
	r.Get("/drafts/{draftID}", GetDraft(drafts))
	r.Post("/draft/finish/{draftID}", FinishDraft(fin, log))
	r.Get("/ws", ws.Handler(h, log))
	r.Get("/healthz", Healthz)

	r.Route("/api/followers", func(r chi.Router) {
		r.Get("/{userID}", ListFollowers(followers))
		r.Post("/{userID}", Follow(followers))
		r.Delete("/{userID}/{followerID}", Unfollow(followers))
	})

	return r
}
