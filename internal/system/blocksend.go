package system

import (
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/config"
	coresys "github.com/voxelgo/server/internal/core/system"
	"github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
	"github.com/voxelgo/server/internal/world"
)

// BlockSendSystem walks every client's transfer window each tick:
// advance the autosend search, pull ready targets and ship compressed
// block payloads. Phase 4 (Output).
type BlockSendSystem struct {
	clients   *client.Registry
	store     *net.SessionStore
	world     *world.Map
	farMap    *world.ServerFarMap
	maxWindow int
	enc       *zstd.Encoder
	log       *zap.Logger
}

func NewBlockSendSystem(
	clients *client.Registry,
	store *net.SessionStore,
	w *world.Map,
	farMap *world.ServerFarMap,
	cfg config.MapConfig,
	log *zap.Logger,
) (*BlockSendSystem, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return &BlockSendSystem{
		clients:   clients,
		store:     store,
		world:     w,
		farMap:    farMap,
		maxWindow: int(cfg.MaxSimultaneousBlockSends),
		enc:       enc,
		log:       log,
	}, nil
}

func (s *BlockSendSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *BlockSendSystem) Update(dt time.Duration) {
	now := time.Now()
	dtSec := dt.Seconds()

	for _, rc := range s.clients.Snapshot() {
		rc.CycleAutosend(dtSec)

		sess := s.store.Get(rc.Peer)
		if sess == nil || sess.IsClosed() {
			continue
		}
		s.fillWindow(rc, sess, now)
	}

	// End-of-tick flush for everything queued since the input phase.
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}

// fillWindow hands out blocks until the client's in-flight window is
// full or nothing further is ready. The custom send queue is bounded
// by the same window so one client cannot monopolize a tick.
func (s *BlockSendSystem) fillWindow(rc *client.RemoteClient, sess *net.Session, now time.Time) {
	for rc.InFlightCount() < s.maxWindow {
		t := rc.NextBlock(now)
		if !t.Valid() {
			return
		}
		frame, ok := s.buildBlockFrame(t)
		if !ok {
			// Picked but no longer available (unloaded between the
			// search and here). Retry next tick.
			s.log.Debug("block vanished before send",
				zap.Uint16("peer", rc.Peer),
				zap.String("pos", t.Pos.String()),
			)
			return
		}
		rc.MarkSending(t, now)
		sess.Send(frame)
	}
}

// buildBlockFrame serializes and compresses one block payload.
func (s *BlockSendSystem) buildBlockFrame(t client.SendTarget) ([]byte, bool) {
	switch t.Kind {
	case client.SendNearBlock:
		payload, ok := s.world.SnapshotPayload(t.Pos)
		if !ok {
			return nil, false
		}
		return s.frame(packet.S_OPCODE_BLOCK_DATA, t, payload), true

	case client.SendFarBlock:
		payload, ok := s.farMap.Payload(t.Pos)
		if !ok {
			return nil, false
		}
		return s.frame(packet.S_OPCODE_FAR_BLOCKS, t, payload), true
	}
	return nil, false
}

func (s *BlockSendSystem) frame(opcode uint16, t client.SendTarget, payload []byte) []byte {
	comp := s.enc.EncodeAll(payload, nil)
	w := packet.NewWriter(opcode)
	w.WriteV3S16(t.Pos)
	w.WriteU32(uint32(len(comp)))
	w.WriteBytes(comp)
	return w.Bytes()
}
