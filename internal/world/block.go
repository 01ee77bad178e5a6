// Package world holds the authoritative voxel map: near blocks, the
// in-memory block index with its disk-backed loading, and the
// downsampled far map published to clients.
package world

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/voxelgo/server/internal/data"
	"github.com/voxelgo/server/internal/geom"
)

// BlockVolume is the number of nodes in one map block.
const BlockVolume = geom.MapBlockSize * geom.MapBlockSize * geom.MapBlockSize

// MapBlock is one 16^3 cube of nodes. A dummy block has no content and
// marks a position known to be absent from disk, so repeated lookups
// do not hit the store again.
type MapBlock struct {
	Pos geom.BlockPos

	content   []uint16 // nil for dummies
	generated bool
	dummy     bool
	modified  bool

	lastUsed atomic.Int64 // unix nanos, touched from scan paths
}

// NewBlock returns a blank block filled with ignore nodes, not yet
// generated.
func NewBlock(pos geom.BlockPos) *MapBlock {
	b := &MapBlock{
		Pos:     pos,
		content: make([]uint16, BlockVolume),
	}
	for i := range b.content {
		b.content[i] = data.ContentIgnore
	}
	return b
}

// NewDummy returns a placeholder block marking pos as not found on
// disk.
func NewDummy(pos geom.BlockPos) *MapBlock {
	return &MapBlock{Pos: pos, dummy: true}
}

func (b *MapBlock) IsDummy() bool { return b.dummy }

// IsValid reports whether the block carries node content.
func (b *MapBlock) IsValid() bool { return !b.dummy && b.content != nil }

func (b *MapBlock) IsGenerated() bool { return b.generated }

func (b *MapBlock) SetGenerated(v bool) { b.generated = v }

func (b *MapBlock) Modified() bool { return b.modified }

func (b *MapBlock) SetModified(v bool) { b.modified = v }

// nodeIndex flattens block-local coordinates, z-major.
func nodeIndex(x, y, z int) int {
	return (z*geom.MapBlockSize+y)*geom.MapBlockSize + x
}

// NodeAt returns the content id at block-local coordinates. Dummies
// read as ignore everywhere.
func (b *MapBlock) NodeAt(x, y, z int) uint16 {
	if b.content == nil {
		return data.ContentIgnore
	}
	return b.content[nodeIndex(x, y, z)]
}

// SetNode writes the content id at block-local coordinates and marks
// the block modified. No-op on dummies.
func (b *MapBlock) SetNode(x, y, z int, id uint16) {
	if b.content == nil {
		return
	}
	b.content[nodeIndex(x, y, z)] = id
	b.modified = true
}

// Fill sets every node to id.
func (b *MapBlock) Fill(id uint16) {
	for i := range b.content {
		b.content[i] = id
	}
	b.modified = true
}

// ResetUsageTimer marks the block as recently used so the unload sweep
// keeps it. Safe to call without the map lock.
func (b *MapBlock) ResetUsageTimer(now time.Time) {
	b.lastUsed.Store(now.UnixNano())
}

// IdleSince reports how long ago the usage timer was last reset.
func (b *MapBlock) IdleSince(now time.Time) time.Duration {
	last := b.lastUsed.Load()
	if last == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, last))
}

// MarshalData serializes the node content as big-endian u16s. Dummies
// have no serialized form.
func (b *MapBlock) MarshalData() []byte {
	if b.content == nil {
		return nil
	}
	out := make([]byte, 2*BlockVolume)
	for i, id := range b.content {
		binary.BigEndian.PutUint16(out[2*i:], id)
	}
	return out
}

// UnmarshalData replaces the node content from serialized form.
func (b *MapBlock) UnmarshalData(raw []byte) error {
	if len(raw) != 2*BlockVolume {
		return fmt.Errorf("block %v: payload is %d bytes, want %d", b.Pos, len(raw), 2*BlockVolume)
	}
	if b.content == nil {
		b.content = make([]uint16, BlockVolume)
	}
	b.dummy = false
	for i := range b.content {
		b.content[i] = binary.BigEndian.Uint16(raw[2*i:])
	}
	return nil
}
