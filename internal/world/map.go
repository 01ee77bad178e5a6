package world

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/geom"
)

// BlockStore abstracts the persistence backing of the map. LoadBlock
// returns (nil, false, nil) for positions with no stored row.
type BlockStore interface {
	LoadBlock(ctx context.Context, pos geom.BlockPos) (blockData []byte, generated bool, err error)
	SaveBlock(ctx context.Context, pos geom.BlockPos, blockData []byte, generated bool) error
}

// GenStatus tells an emerge worker what GetBlockOrStartGen found.
type GenStatus int

const (
	// StatusFromMemory means a generated block was already loaded.
	StatusFromMemory GenStatus = iota
	// StatusFromDisk means a generated block was loaded from the store.
	StatusFromDisk
	// StatusGenPrepared means the returned block is a detached blank
	// the caller must fill and hand back through FinishGen.
	StatusGenPrepared
	// StatusAbsent means no generated data exists and generation was
	// not allowed.
	StatusAbsent
)

func (s GenStatus) String() string {
	switch s {
	case StatusFromMemory:
		return "FROM_MEMORY"
	case StatusFromDisk:
		return "FROM_DISK"
	case StatusGenPrepared:
		return "GEN_PREPARED"
	case StatusAbsent:
		return "ABSENT"
	default:
		return fmt.Sprintf("GenStatus(%d)", int(s))
	}
}

// Map is the in-memory block index. Its mutex doubles as the world
// lock: emerge workers and the server loop serialize block access
// through it, and generation happens on detached blocks outside it.
type Map struct {
	mu     sync.RWMutex
	blocks map[geom.BlockPos]*MapBlock
	store  BlockStore
	log    *zap.Logger
}

func NewMap(store BlockStore, log *zap.Logger) *Map {
	return &Map{
		blocks: make(map[geom.BlockPos]*MapBlock),
		store:  store,
		log:    log,
	}
}

// Block returns the block at pos from memory only, or nil.
func (m *Map) Block(pos geom.BlockPos) *MapBlock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blocks[pos]
}

// InsertBlock places b in the index, replacing any previous block.
func (m *Map) InsertBlock(b *MapBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.Pos] = b
}

// Count returns the number of blocks in memory, dummies included.
func (m *Map) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

// GetBlockOrStartGen resolves pos for an emerge worker: memory first,
// then the store, then a generation slot if allowGen. A disk miss
// without allowGen leaves a dummy behind so later scans skip the
// position without touching the store again.
func (m *Map) GetBlockOrStartGen(ctx context.Context, pos geom.BlockPos, allowGen bool) (*MapBlock, GenStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.blocks[pos]
	if b != nil && b.IsValid() && b.IsGenerated() {
		return b, StatusFromMemory, nil
	}

	if b == nil && m.store != nil {
		raw, generated, err := m.store.LoadBlock(ctx, pos)
		if err != nil {
			return nil, StatusAbsent, fmt.Errorf("load block %v: %w", pos, err)
		}
		if raw != nil {
			nb := NewBlock(pos)
			if err := nb.UnmarshalData(raw); err != nil {
				return nil, StatusAbsent, err
			}
			nb.SetGenerated(generated)
			nb.ResetUsageTimer(time.Now())
			m.blocks[pos] = nb
			if generated {
				return nb, StatusFromDisk, nil
			}
			b = nb
		}
	}

	if !allowGen {
		if b == nil {
			d := NewDummy(pos)
			d.ResetUsageTimer(time.Now())
			m.blocks[pos] = d
		}
		// An ungenerated block loaded from disk is still returned so
		// the caller can publish its content.
		if b != nil && b.IsValid() {
			return b, StatusAbsent, nil
		}
		return nil, StatusAbsent, nil
	}
	return NewBlock(pos), StatusGenPrepared, nil
}

// FinishGen installs a generated block. If a generated block appeared
// at pos meanwhile, that one is kept and the new data discarded, so
// concurrent emerges of the same position cannot clobber edits.
func (m *Map) FinishGen(b *MapBlock) (*MapBlock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev := m.blocks[b.Pos]; prev != nil && prev.IsValid() && prev.IsGenerated() {
		return prev, false
	}
	b.SetGenerated(true)
	b.SetModified(true)
	b.ResetUsageTimer(time.Now())
	m.blocks[b.Pos] = b
	return b, true
}

// SnapshotPayload returns the serialized node content of a valid block
// under the map lock, for handing to the network layer.
func (m *Map) SnapshotPayload(pos geom.BlockPos) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := m.blocks[pos]
	if b == nil || !b.IsValid() {
		return nil, false
	}
	return b.MarshalData(), true
}

// SnapshotContent copies the raw node content of a valid block, for
// work that must run outside the map lock.
func (m *Map) SnapshotContent(pos geom.BlockPos) (content []uint16, generated, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := m.blocks[pos]
	if b == nil || !b.IsValid() {
		return nil, false, false
	}
	out := make([]uint16, len(b.content))
	copy(out, b.content)
	return out, b.IsGenerated(), true
}

// SetNode writes one node of a resident block under the map lock and
// marks the block recently used. Returns false when no valid block is
// loaded at pos.
func (m *Map) SetNode(pos geom.BlockPos, x, y, z int, id uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.blocks[pos]
	if b == nil || !b.IsValid() {
		return false
	}
	b.SetNode(x, y, z, id)
	b.ResetUsageTimer(time.Now())
	return true
}

// SaveModified writes every modified block through the store and
// clears their modified flags. Returns the number saved.
func (m *Map) SaveModified(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := 0
	for _, b := range m.blocks {
		if !b.IsValid() || !b.Modified() {
			continue
		}
		if err := m.store.SaveBlock(ctx, b.Pos, b.MarshalData(), b.IsGenerated()); err != nil {
			return saved, fmt.Errorf("save block %v: %w", b.Pos, err)
		}
		b.SetModified(false)
		saved++
	}
	return saved, nil
}

// UnloadUnused evicts blocks whose usage timer has been idle longer
// than maxIdle, saving modified ones first. Blocks that fail to save
// stay resident.
func (m *Map) UnloadUnused(ctx context.Context, now time.Time, maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for pos, b := range m.blocks {
		if b.IdleSince(now) <= maxIdle {
			continue
		}
		if b.IsValid() && b.Modified() && m.store != nil {
			if err := m.store.SaveBlock(ctx, pos, b.MarshalData(), b.IsGenerated()); err != nil {
				m.log.Error("unload save failed, keeping block",
					zap.String("pos", pos.String()), zap.Error(err))
				continue
			}
		}
		delete(m.blocks, pos)
		evicted++
	}
	return evicted
}
