package world

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/voxelgo/server/internal/data"
	"github.com/voxelgo/server/internal/geom"
)

// FarNodesPerBlock is how many far nodes one map block is divided into
// per dimension.
const FarNodesPerBlock = 4

// FarBlockNodeEdge is the far-node edge length of one far block.
const FarBlockNodeEdge = geom.FarScale * FarNodesPerBlock

const farBlockVolume = geom.FarScale * geom.FarScale * geom.FarScale
const farNodeVolume = FarBlockNodeEdge * FarBlockNodeEdge * FarBlockNodeEdge

// LoadState summarizes what is known about one map block inside a far
// block.
type LoadState uint8

const (
	LSUnknown LoadState = iota
	LSNotGenerated
	LSGenerated
)

func (s LoadState) String() string {
	switch s {
	case LSUnknown:
		return "UNKNOWN"
	case LSNotGenerated:
		return "NOT_GENERATED"
	case LSGenerated:
		return "GENERATED"
	default:
		return fmt.Sprintf("LoadState(%d)", uint8(s))
	}
}

// FarNode is one downsampled cell: a representative content id and a
// rough light estimate.
type FarNode struct {
	ID    uint16
	Light uint8
}

// FarPiece is the downsample of a single map block: 4^3 far nodes.
// Pieces are generated outside the map lock from a content snapshot
// and merged into the far map afterwards.
type FarPiece struct {
	BlockPos geom.BlockPos
	Nodes    [FarNodesPerBlock * FarNodesPerBlock * FarNodesPerBlock]FarNode
}

// GenerateEmptyPiece returns the piece reported for a block that could
// not be loaded, so the far map still learns its load state.
func GenerateEmptyPiece(pos geom.BlockPos) FarPiece {
	p := FarPiece{BlockPos: pos}
	for i := range p.Nodes {
		p.Nodes[i] = FarNode{ID: data.ContentIgnore}
	}
	return p
}

// GeneratePiece downsamples block content: each far node takes the
// most common content id of its 4^3 node cell. Light comes from the
// winning node's light source, or full daylight when the cell touches
// air.
func GeneratePiece(pos geom.BlockPos, content []uint16, nodes *data.NodeTable) FarPiece {
	p := FarPiece{BlockPos: pos}
	const cell = geom.MapBlockSize / FarNodesPerBlock

	for fz := 0; fz < FarNodesPerBlock; fz++ {
		for fy := 0; fy < FarNodesPerBlock; fy++ {
			for fx := 0; fx < FarNodesPerBlock; fx++ {
				counts := make(map[uint16]int, 8)
				hasAir := false
				for dz := 0; dz < cell; dz++ {
					for dy := 0; dy < cell; dy++ {
						for dx := 0; dx < cell; dx++ {
							id := content[nodeIndex(fx*cell+dx, fy*cell+dy, fz*cell+dz)]
							counts[id]++
							if id == data.ContentAir {
								hasAir = true
							}
						}
					}
				}
				best, bestCount := data.ContentIgnore, -1
				for id, n := range counts {
					if n > bestCount || (n == bestCount && id < best) {
						best, bestCount = id, n
					}
				}
				var light uint8
				if nodes != nil {
					if def := nodes.ByID(best); def != nil && def.LightSource > 0 {
						light = def.LightSource
					}
				}
				if light == 0 && hasAir {
					light = 15
				}
				p.Nodes[pieceIndex(fx, fy, fz)] = FarNode{ID: best, Light: light}
			}
		}
	}
	return p
}

func pieceIndex(x, y, z int) int {
	return (z*FarNodesPerBlock+y)*FarNodesPerBlock + x
}

func farNodeIndex(x, y, z int) int {
	return (z*FarBlockNodeEdge+y)*FarBlockNodeEdge + x
}

func farRelIndex(x, y, z int) int {
	return (z*geom.FarScale+y)*geom.FarScale + x
}

// FarBlock aggregates an 8^3 cube of map blocks: a load state per
// contained block plus the downsampled node grid.
type FarBlock struct {
	Pos geom.BlockPos // far coordinates

	loadState []LoadState // farBlockVolume entries
	nodes     []FarNode   // farNodeVolume entries
}

func newFarBlock(pos geom.BlockPos) *FarBlock {
	fb := &FarBlock{
		Pos:       pos,
		loadState: make([]LoadState, farBlockVolume),
		nodes:     make([]FarNode, farNodeVolume),
	}
	for i := range fb.nodes {
		fb.nodes[i] = FarNode{ID: data.ContentIgnore}
	}
	return fb
}

// MarshalData serializes the far block for the wire: the per-block
// load states followed by (id, light) per far node, big-endian.
func (fb *FarBlock) MarshalData() []byte {
	out := make([]byte, farBlockVolume+3*farNodeVolume)
	for i, ls := range fb.loadState {
		out[i] = byte(ls)
	}
	off := farBlockVolume
	for _, n := range fb.nodes {
		binary.BigEndian.PutUint16(out[off:], n.ID)
		out[off+2] = n.Light
		off += 3
	}
	return out
}

// ServerFarMap collects downsampled pieces from emerge results and
// serves far block payloads to the send path.
type ServerFarMap struct {
	mu     sync.RWMutex
	blocks map[geom.BlockPos]*FarBlock
	nodes  *data.NodeTable
}

func NewServerFarMap(nodes *data.NodeTable) *ServerFarMap {
	return &ServerFarMap{
		blocks: make(map[geom.BlockPos]*FarBlock),
		nodes:  nodes,
	}
}

// NodeTable returns the table pieces should be generated against.
func (fm *ServerFarMap) NodeTable() *data.NodeTable { return fm.nodes }

// UpdateFrom merges one block's piece and load state into its far
// block, creating the far block on first contact.
func (fm *ServerFarMap) UpdateFrom(piece FarPiece, ls LoadState) {
	farpos := piece.BlockPos.Container(geom.FarScale)
	rel := geom.BlockPos{
		X: piece.BlockPos.X - farpos.X*geom.FarScale,
		Y: piece.BlockPos.Y - farpos.Y*geom.FarScale,
		Z: piece.BlockPos.Z - farpos.Z*geom.FarScale,
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	fb := fm.blocks[farpos]
	if fb == nil {
		fb = newFarBlock(farpos)
		fm.blocks[farpos] = fb
	}
	fb.loadState[farRelIndex(int(rel.X), int(rel.Y), int(rel.Z))] = ls

	base := geom.BlockPos{
		X: rel.X * FarNodesPerBlock,
		Y: rel.Y * FarNodesPerBlock,
		Z: rel.Z * FarNodesPerBlock,
	}
	for z := 0; z < FarNodesPerBlock; z++ {
		for y := 0; y < FarNodesPerBlock; y++ {
			for x := 0; x < FarNodesPerBlock; x++ {
				fb.nodes[farNodeIndex(int(base.X)+x, int(base.Y)+y, int(base.Z)+z)] =
					piece.Nodes[pieceIndex(x, y, z)]
			}
		}
	}
}

// Known reports whether any piece has been merged for farpos.
func (fm *ServerFarMap) Known(farpos geom.BlockPos) bool {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return fm.blocks[farpos] != nil
}

// Payload returns the serialized far block, or false if nothing has
// been reported for farpos yet.
func (fm *ServerFarMap) Payload(farpos geom.BlockPos) ([]byte, bool) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	fb := fm.blocks[farpos]
	if fb == nil {
		return nil, false
	}
	return fb.MarshalData(), true
}

// State returns the load state recorded for one map block position.
func (fm *ServerFarMap) State(blockpos geom.BlockPos) LoadState {
	farpos := blockpos.Container(geom.FarScale)
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	fb := fm.blocks[farpos]
	if fb == nil {
		return LSUnknown
	}
	rel := geom.BlockPos{
		X: blockpos.X - farpos.X*geom.FarScale,
		Y: blockpos.Y - farpos.Y*geom.FarScale,
		Z: blockpos.Z - farpos.Z*geom.FarScale,
	}
	return fb.loadState[farRelIndex(int(rel.X), int(rel.Y), int(rel.Z))]
}

// Count returns the number of far blocks with any data.
func (fm *ServerFarMap) Count() int {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return len(fm.blocks)
}
