package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// FollowerStore backs the followers listing routes.
type FollowerStore interface {
	Follow(ctx context.Context, userID, followerID string) error
	Unfollow(ctx context.Context, userID, followerID string) error
	ListFollowers(ctx context.Context, userID string) ([]string, error)
}

func ListFollowers(followers FollowerStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := followers.ListFollowers(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			http.Error(w, "failed to list followers", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Followers []string `json:"followers"`
		}{Followers: list})
	}
}

func Follow(followers FollowerStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			FollowerID string `json:"follower_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FollowerID == "" {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := followers.Follow(r.Context(), chi.URLParam(r, "userID"), body.FollowerID); err != nil {
			http.Error(w, "failed to follow", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func Unfollow(followers FollowerStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := followers.Unfollow(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "followerID"))
		if err != nil {
			http.Error(w, "failed to unfollow", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
