package net

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PeerServer is the id the server itself goes by on the wire. Client
// peer ids start above it.
const PeerServer uint16 = 1

// Server accepts TCP connections and creates Sessions.
// New/dead sessions are communicated to the game loop via channels.
type Server struct {
	listener     net.Listener
	nextPeer     atomic.Uint32
	newConns     chan *Session
	deadCh       chan uint16 // peer ids of dead sessions
	inSize       int
	outSize      int
	pktPerSec    int
	writeTimeout time.Duration
	log          *zap.Logger
	closeCh      chan struct{}
}

func NewServer(bindAddr string, inSize, outSize, pktPerSec int, writeTimeout time.Duration, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener:     ln,
		newConns:     make(chan *Session, 64),
		deadCh:       make(chan uint16, 64),
		inSize:       inSize,
		outSize:      outSize,
		pktPerSec:    pktPerSec,
		writeTimeout: writeTimeout,
		log:          log,
		closeCh:      make(chan struct{}),
	}
	return s, nil
}

// AcceptLoop runs in its own goroutine. It accepts connections,
// creates sessions, and pushes them onto the newConns channel.
func (s *Server) AcceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return // server shutting down
			default:
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}

		// Peer ids cycle through [PeerServer+1, 65535]. A collision
		// needs a session to outlive 65534 later connections.
		raw := s.nextPeer.Add(1)
		peer := uint16(raw%uint32(65535-PeerServer)) + PeerServer + 1
		sess := NewSession(conn, peer, s.inSize, s.outSize, s.pktPerSec, s.writeTimeout, s.log)
		sess.Start()

		s.log.Info(fmt.Sprintf("client connected  peer=%d  ip=%s", peer, sess.IP))

		select {
		case s.newConns <- sess:
		default:
			s.log.Warn("connection queue full, refusing new connection")
			sess.Close()
		}
	}
}

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// NotifyDead reports a dead peer id to the game loop.
func (s *Server) NotifyDead(peer uint16) {
	select {
	case s.deadCh <- peer:
	default:
	}
}

// DeadSessions returns the channel of dead peer ids.
func (s *Server) DeadSessions() <-chan uint16 {
	return s.deadCh
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown() {
	close(s.closeCh)
	s.listener.Close()
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
