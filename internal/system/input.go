package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/core/event"
	coresys "github.com/voxelgo/server/internal/core/system"
	"github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
)

// InputSystem drains packet queues from all sessions and dispatches them
// through the packet registry. Phase 0 (Input).
type InputSystem struct {
	netServer  *net.Server
	registry   *packet.Registry
	store      *net.SessionStore
	clients    *client.Registry
	bus        *event.Bus
	maxPerTick int
	log        *zap.Logger
}

func NewInputSystem(
	netServer *net.Server,
	registry *packet.Registry,
	store *net.SessionStore,
	clients *client.Registry,
	bus *event.Bus,
	maxPerTick int,
	log *zap.Logger,
) *InputSystem {
	return &InputSystem{
		netServer:  netServer,
		registry:   registry,
		store:      store,
		clients:    clients,
		bus:        bus,
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	// Accept new sessions
	for {
		select {
		case sess := <-s.netServer.NewSessions():
			s.store.Add(sess)
			s.clients.Create(sess.Peer, time.Now())
		default:
			goto doneNew
		}
	}
doneNew:

	// Drop ids whose death was reported last tick
	for {
		select {
		case id := <-s.netServer.DeadSessions():
			s.store.Remove(id)
		default:
			goto doneDead
		}
	}
doneDead:

	for id, sess := range s.store.Raw() {
		if sess.IsClosed() {
			// Drain what the peer managed to send before the close; a
			// goodbye often rides together with a final ack batch.
			s.drainSession(sess)
			sess.FlushOutput()
			s.teardown(id, sess)
			continue
		}
		s.drainSession(sess)
	}

	// Early flush: handshake replies produced in this phase reach the
	// write loop without waiting for the output phase.
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}

// drainSession dispatches up to maxPerTick packets from one session.
func (s *InputSystem) drainSession(sess *net.Session) {
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case data := <-sess.InQueue:
			s.dispatch(sess, data)
		default:
			return
		}
	}
}

func (s *InputSystem) dispatch(sess *net.Session, data []byte) {
	state := client.StateInvalid
	if c := s.clients.Get(sess.Peer); c != nil {
		state = c.State()
	}
	if err := s.registry.Dispatch(sess, state, data); err != nil {
		s.log.Debug("packet dispatch error",
			zap.Uint16("peer", sess.Peer),
			zap.Error(err),
		)
	}
}

// teardown removes every trace of a dead connection: lifecycle event,
// client record, session store entry.
func (s *InputSystem) teardown(id uint16, sess *net.Session) {
	var sessionID uint64
	if c := s.clients.Get(id); c != nil {
		sessionID = c.SessionID()
	}
	s.clients.Event(id, client.EventDisconnect)
	s.clients.Delete(id)
	s.netServer.NotifyDead(id)
	s.store.Remove(id)
	event.Emit(s.bus, event.ClientLeft{Peer: id, SessionID: sessionID})
	s.log.Info("session removed",
		zap.Uint16("peer", id),
		zap.String("ip", sess.IP),
	)
}

// SessionCount returns the current number of attached sessions.
func (s *InputSystem) SessionCount() int {
	return s.store.Count()
}
