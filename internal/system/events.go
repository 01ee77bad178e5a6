package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/core/event"
	coresys "github.com/voxelgo/server/internal/core/system"
)

// EventDispatchSystem rotates the event bus and delivers last tick's
// events. Phase 1 (PreUpdate), so everything later in the tick sees a
// consistent view of what the workers finished.
type EventDispatchSystem struct {
	bus *event.Bus
}

func NewEventDispatchSystem(bus *event.Bus, clients *client.Registry, log *zap.Logger) *EventDispatchSystem {
	// Emerged blocks are re-armed on every client. Mapgen spills into
	// neighbor blocks, so a client may hold stale copies of blocks it
	// received before the area finished generating.
	event.Subscribe(bus, func(ev event.BlocksEmerged) {
		for _, rc := range clients.Snapshot() {
			rc.SetMapBlocksUpdated(ev.Positions)
		}
	})
	event.Subscribe(bus, func(ev event.ClientJoined) {
		log.Info("player joined",
			zap.Uint16("peer", ev.Peer),
			zap.String("name", ev.Name),
		)
	})
	event.Subscribe(bus, func(ev event.ClientLeft) {
		log.Info("player left",
			zap.Uint16("peer", ev.Peer),
			zap.Uint64("session_id", ev.SessionID),
		)
	})
	return &EventDispatchSystem{bus: bus}
}

func (s *EventDispatchSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *EventDispatchSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}
