package net

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Session represents a single client connection. Network I/O runs in
// dedicated goroutines; game state is accessed only from the game loop.
// Peer is the stable id the game loop keys clients by.
type Session struct {
	Peer uint16
	conn net.Conn

	InQueue  chan []byte // game loop reads packets from here
	OutQueue chan []byte // writer goroutine reads from here

	IP string

	outBuf [][]byte // buffered packets, flushed once per tick (game loop only)

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// Per-second packet rate limiter (readLoop goroutine only, no lock needed)
	pktPerSec  int   // max packets/sec (0 = unlimited)
	pktCount   int   // packets received this second
	pktResetAt int64 // unix second of last counter reset

	writeTimeout time.Duration

	log *zap.Logger
}

func NewSession(conn net.Conn, peer uint16, inSize, outSize, pktPerSec int, writeTimeout time.Duration, log *zap.Logger) *Session {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Session{
		Peer:         peer,
		conn:         conn,
		InQueue:      make(chan []byte, inSize),
		OutQueue:     make(chan []byte, outSize),
		IP:           conn.RemoteAddr().String(),
		closeCh:      make(chan struct{}),
		pktPerSec:    pktPerSec,
		writeTimeout: writeTimeout,
		log:          log.With(zap.Uint16("peer", peer)),
	}
}

// Start launches the reader and writer goroutines. The protocol opens
// client-side, so nothing is written here.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// Send buffers a packet for sending. The packet is not written to TCP
// until FlushOutput is called at the end of the tick.
// Called only from the game loop goroutine — no lock needed on outBuf.
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, data)
}

// FlushOutput drains the output buffer to OutQueue for the writeLoop
// goroutine. Non-blocking: if OutQueue is full, the session is
// disconnected (backpressure).
func (s *Session) FlushOutput() {
	for _, data := range s.outBuf {
		select {
		case s.OutQueue <- data:
		default:
			s.log.Warn("out queue full, dropping slow connection")
			s.Close()
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	s.outBuf = s.outBuf[:0]
}

// Close gracefully shuts down the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop runs in its own goroutine. It reads frames from the TCP
// connection and pushes them onto InQueue for the game loop to consume.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		// Per-second packet rate limiter
		if s.pktPerSec > 0 {
			now := time.Now().Unix()
			if now != s.pktResetAt {
				s.pktCount = 0
				s.pktResetAt = now
			}
			s.pktCount++
			if s.pktCount > s.pktPerSec {
				s.log.Warn("packet rate exceeded, dropping connection", zap.Int("pps", s.pktCount))
				return
			}
		}

		// Block until InQueue has space or the session closes. The
		// readLoop goroutine is per-session, so blocking here only
		// stalls this client; dropping instead would lose position
		// and block acks the game loop depends on.
		select {
		case s.InQueue <- payload:
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop runs in its own goroutine. It reads packets from OutQueue
// and writes them as framed data to the TCP connection.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if !s.writeOnePacket(data) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// writeOnePacket writes a single framed packet to the TCP socket.
// Returns true on success.
func (s *Session) writeOnePacket(data []byte) bool {
	if len(data) >= 2 {
		op := binary.BigEndian.Uint16(data)
		s.log.Debug("TX",
			zap.String("op", fmt.Sprintf("0x%02X", op)),
			zap.Int("len", len(data)),
		)
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := WriteFrame(s.conn, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}
