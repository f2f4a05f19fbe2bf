package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/cubeforge/cube-draft-backend/internal/session"
)

type HubMsg interface{ isHubMsg() }

type GetSession struct {
	DraftID string
	Reply   chan *session.Session
}

// EnsureSession returns the live session for a draft, creating one through
// the factory if none exists. Reply receives nil when creation fails.
type EnsureSession struct {
	DraftID string
	Reply   chan *session.Session
}

type RemoveSession struct {
	DraftID string
}

type ShutdownHub struct{}

func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

// Factory builds a session for a draft id: load the config, construct the
// engine, start it. Wired up in cmd/server.
type Factory func(ctx context.Context, draftID string) (*session.Session, error)

type Hub struct {
	inbox      chan HubMsg
	sessions   map[string]*session.Session
	newSession Factory
	ctx        context.Context
	cancel     context.CancelFunc
	log        *zap.Logger
}

func NewHub(parent context.Context, factory Factory, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:      make(chan HubMsg, 64),
		sessions:   make(map[string]*session.Session),
		newSession: factory,
		ctx:        ctx,
		cancel:     cancel,
		log:        log,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetSession:
				msg.Reply <- h.sessions[msg.DraftID] // May be nil

			case EnsureSession:
				if s := h.sessions[msg.DraftID]; s != nil {
					msg.Reply <- s
					break
				}
				s, err := h.newSession(h.ctx, msg.DraftID)
				if err != nil {
					h.log.Warn("session creation failed",
						zap.String("draft_id", msg.DraftID), zap.Error(err))
					msg.Reply <- nil
					break
				}
				h.sessions[msg.DraftID] = s
				msg.Reply <- s

			case RemoveSession:
				delete(h.sessions, msg.DraftID)

			case ShutdownHub:
				for _, s := range h.sessions {
					s.Inbox() <- session.Shutdown{}
				}
				clear(h.sessions)
				h.cancel()
			}
		}
	}
}
