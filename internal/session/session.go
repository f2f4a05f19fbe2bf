// Package session hosts one live draft behind an actor goroutine: clients
// join with an outbox channel, send actions, and receive versioned engine
// snapshots. The engine itself serializes all mutation; the session fans
// snapshots out.
package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/cubeforge/cube-draft-backend/internal/draft"
	"github.com/cubeforge/cube-draft-backend/internal/engine"
)

type Msg interface{ isSessionMsg() }

type Join struct {
	ClientID string
	Outbox   chan View // where this client wants to receive views
}

type Leave struct{ ClientID string }

// Apply routes one human action into the engine.
type Apply struct {
	Index int
	Zone  draft.Zone
	Row   int
	Col   int
}

// RetryPredict re-attempts the last failed external call.
type RetryPredict struct{}

type GetView struct {
	Reply chan View
}

type Shutdown struct{}

type engineUpdate struct{ snap engine.Snapshot }

func (Join) isSessionMsg()         {}
func (Leave) isSessionMsg()        {}
func (Apply) isSessionMsg()        {}
func (RetryPredict) isSessionMsg() {}
func (GetView) isSessionMsg()      {}
func (Shutdown) isSessionMsg()     {}
func (engineUpdate) isSessionMsg() {}

// View is what clients observe: a monotonically increasing version plus the
// engine snapshot it corresponds to.
type View struct {
	Version    int
	NumClients int
	Snapshot   engine.Snapshot
}

type Session struct {
	inbox   chan Msg
	eng     *engine.Engine
	version int
	clients map[string]chan View
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
}

func NewSession(parent context.Context, eng *engine.Engine, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		inbox:   make(chan Msg, 64),
		eng:     eng,
		clients: make(map[string]chan View),
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
	}

	// Every engine transition lands back in the inbox so broadcasting stays
	// on the actor goroutine.
	eng.Subscribe(func(snap engine.Snapshot) {
		select {
		case s.inbox <- engineUpdate{snap: snap}:
		case <-ctx.Done():
		}
	})

	go s.loop()
	return s
}

// Inbox exposes the message channel to the transport layer and tests.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- View{Version: s.version, NumClients: len(s.clients), Snapshot: s.eng.GetState()}

			case Leave:
				delete(s.clients, msg.ClientID)

			case Apply:
				// The engine serializes and rejects re-entrant calls itself;
				// run it off the actor goroutine so broadcasts keep flowing.
				go func() {
					if err := s.eng.ApplyAction(s.ctx, msg.Index, msg.Zone, msg.Row, msg.Col); err != nil {
						s.log.Warn("apply action rejected", zap.Error(err))
					}
				}()

			case RetryPredict:
				go func() {
					if err := s.eng.Retry(s.ctx); err != nil {
						s.log.Warn("retry failed", zap.Error(err))
					}
				}()

			case engineUpdate:
				s.version++
				s.broadcast(View{Version: s.version, NumClients: len(s.clients), Snapshot: msg.snap})

			case GetView:
				msg.Reply <- View{Version: s.version, NumClients: len(s.clients), Snapshot: s.eng.GetState()}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) shutdown() {
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
	s.cancel()
}

func (s *Session) broadcast(v View) {
	for id, ch := range s.clients {
		select {
		case ch <- v:
			// ok
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(s.clients, id)
		}
	}
}
