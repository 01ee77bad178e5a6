package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	coresys "github.com/voxelgo/server/internal/core/system"
	"github.com/voxelgo/server/internal/world"
)

// PersistenceSystem periodically writes modified blocks back to the
// block store. Phase 5 (Persist).
type PersistenceSystem struct {
	world     *world.Map
	log       *zap.Logger
	tickCount int
	interval  int // save every N ticks
}

func NewPersistenceSystem(w *world.Map, intervalTicks int, log *zap.Logger) *PersistenceSystem {
	return &PersistenceSystem{
		world:    w,
		log:      log,
		interval: intervalTicks,
	}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.SaveNow()
}

// SaveNow flushes all modified blocks immediately. Also called once on
// graceful shutdown so the last edits reach the database.
func (s *PersistenceSystem) SaveNow() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.world.SaveModified(ctx)
	if err != nil {
		s.log.Error("block save failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("saved modified blocks", zap.Int("count", n))
	}
}
