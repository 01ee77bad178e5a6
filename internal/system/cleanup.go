package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	coresys "github.com/voxelgo/server/internal/core/system"
	"github.com/voxelgo/server/internal/world"
)

// CleanupSystem unloads blocks nobody touched for a while, keeping the
// in-memory map bounded. Phase 6 (Cleanup).
type CleanupSystem struct {
	world     *world.Map
	maxIdle   time.Duration
	log       *zap.Logger
	tickCount int
	interval  int // sweep every N ticks
}

func NewCleanupSystem(w *world.Map, maxIdle time.Duration, intervalTicks int, log *zap.Logger) *CleanupSystem {
	return &CleanupSystem{
		world:    w,
		maxIdle:  maxIdle,
		log:      log,
		interval: intervalTicks,
	}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if n := s.world.UnloadUnused(ctx, time.Now(), s.maxIdle); n > 0 {
		s.log.Debug("unloaded idle blocks", zap.Int("count", n))
	}
}
