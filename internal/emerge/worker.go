package emerge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/core/event"
	"github.com/voxelgo/server/internal/geom"
	"github.com/voxelgo/server/internal/mapgen"
	"github.com/voxelgo/server/internal/world"
)

// worker processes one position at a time with its own mapgen
// instance, so generation never contends on generator state.
type worker struct {
	id   int
	gen  mapgen.Generator
	wake chan struct{}

	queue []geom.BlockPos // guarded by Manager.mu
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) workerRun(w *worker) {
	defer m.wg.Done()
	log := m.log.With(zap.Int("worker", w.id))

	for {
		select {
		case <-m.stop:
			// Whatever is still queued is drained as CANCELLED by
			// the manager after the pool joins.
			return
		default:
		}

		pos, bedata, ok := m.popFor(w)
		if !ok {
			select {
			case <-w.wake:
				continue
			case <-m.stop:
				return
			}
		}
		if !m.process(w, pos, bedata, log) {
			return
		}
	}
}

// process resolves one request end to end. A false return stops the
// worker; only corrupt world data does that, mirrored into the
// async-fatal reporter for the server loop to act on.
func (m *Manager) process(w *worker, pos geom.BlockPos, bedata *blockEmergeData, log *zap.Logger) bool {
	if pos.OverLimit() {
		return true
	}

	allowGen := bedata.flags&flagAllowGen != 0
	if m.debugInfo {
		log.Debug("emerge", zap.String("pos", pos.String()), zap.Bool("allow_gen", allowGen))
	}

	block, status, err := m.world.GetBlockOrStartGen(context.Background(), pos, allowGen)
	if err != nil {
		m.fatal.Set(fmt.Sprintf("invalid data in block %v: %v", pos, err))
		runCompletionCallbacks(pos, ActionCancelled, bedata.callbacks)
		return false
	}

	var action Action
	switch status {
	case world.StatusFromMemory:
		action = ActionFromMemory
	case world.StatusFromDisk:
		action = ActionFromDisk
	case world.StatusAbsent:
		action = ActionCancelled
	case world.StatusGenPrepared:
		start := time.Now()
		w.gen.Generate(block)
		if m.debugInfo {
			log.Debug("chunk generated",
				zap.String("pos", pos.String()),
				zap.Duration("took", time.Since(start)))
		}
		if m.script != nil && m.script.HasOnGenerated() {
			if err := m.script.OnGenerated(block); err != nil {
				// The generated block is still installed below so this
				// request resolves; the server loop stops at its next
				// fatal poll.
				m.fatal.Set(err.Error())
			}
		}
		kept, fresh := m.world.FinishGen(block)
		block = kept
		if fresh {
			action = ActionGenerated
		} else {
			action = ActionFromMemory
		}
	}

	// Publish before the callbacks run: anyone notified may turn
	// around and read the far map or the next tick's events.
	if block != nil {
		m.publishFar(pos)
		event.Emit(m.bus, event.BlocksEmerged{Positions: []geom.BlockPos{pos}})
	} else if m.farMap != nil {
		// Even a miss is reported so the far map learns the area is
		// not generated.
		m.farMap.UpdateFrom(world.GenerateEmptyPiece(pos), world.LSNotGenerated)
	}

	runCompletionCallbacks(pos, action, bedata.callbacks)
	return true
}

// publishFar snapshots the block under the map lock and downsamples it
// outside, then merges the piece into the far map.
func (m *Manager) publishFar(pos geom.BlockPos) {
	if m.farMap == nil {
		return
	}
	content, generated, ok := m.world.SnapshotContent(pos)
	if !ok {
		return
	}
	piece := world.GeneratePiece(pos, content, m.farMap.NodeTable())
	ls := world.LSNotGenerated
	if generated {
		ls = world.LSGenerated
	}
	m.farMap.UpdateFrom(piece, ls)
}
