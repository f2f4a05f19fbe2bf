package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/cubeforge/cube-draft-backend/internal/draft"
	"github.com/cubeforge/cube-draft-backend/internal/hub"
	"github.com/cubeforge/cube-draft-backend/internal/session"
	"github.com/cubeforge/cube-draft-backend/pkg/types"
)

// Handler upgrades GET /ws?draft=<id> and bridges the connection to the
// draft's session actor: views out, actions in.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		draftID := r.URL.Query().Get("draft")
		if draftID == "" {
			http.Error(w, "missing draft", http.StatusBadRequest)
			return
		}

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.EnsureSession{DraftID: draftID, Reply: reply}
		s := <-reply
		if s == nil {
			http.Error(w, "draft not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan session.View, 8)
		clientID := randID(6)

		s.Inbox() <- session.Join{ClientID: clientID, Outbox: out}
		defer func() { s.Inbox() <- session.Leave{ClientID: clientID} }()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for view := range out {
				snap := view.Snapshot
				msg := types.ServerMessage{Type: "StateSnapshot", Version: view.Version, Snapshot: &snap}
				payload, _ := json.Marshal(msg)
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Otherwise, just exit (session.Leave in defer):
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = conn.Write(r.Context(), websocket.MessageText,
					[]byte(`{"type":"Error","error":"bad json"}`))
				continue
			}

			msg, ok := toSessionMsg(cm)
			if !ok {
				_ = conn.Write(r.Context(), websocket.MessageText,
					[]byte(`{"type":"Error","error":"unknown type"}`))
				continue
			}

			s.Inbox() <- msg
		}
	}
}

func toSessionMsg(m types.ClientMessage) (session.Msg, bool) {
	switch m.Type {
	case "MakePick":
		zone, ok := parseZone(m.Zone)
		if !ok {
			return nil, false
		}
		return session.Apply{Index: m.Index, Zone: zone, Row: m.Row, Col: m.Col}, true
	case "Retry":
		return session.RetryPredict{}, true
	default:
		return nil, false
	}
}

func parseZone(zone string) (draft.Zone, bool) {
	switch zone {
	case "deck", "":
		// Zone defaults to the mainboard.
		return draft.ZoneDeck, true
	case "sideboard":
		return draft.ZoneSideboard, true
	default:
		return "", false
	}
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
