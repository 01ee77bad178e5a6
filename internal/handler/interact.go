package handler

import (
	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/data"
	"github.com/voxelgo/server/internal/geom"
	"github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
)

// Interact actions.
const (
	actionDig   = 0
	actionPlace = 1
)

// HandleInteract applies a single node edit. Digging writes air, placing
// writes the requested content id. The edit marks the containing block
// modified and flags it (plus boundary neighbors) dirty on every client.
func HandleInteract(sess *net.Session, r *packet.Reader, deps *Deps) {
	action := r.ReadU8()
	nodeX := r.ReadS16()
	nodeY := r.ReadS16()
	nodeZ := r.ReadS16()

	var content uint16
	switch action {
	case actionDig:
		content = data.ContentAir
	case actionPlace:
		content = r.ReadU16()
		if deps.Nodes.ByID(content) == nil {
			deps.Log.Debug("interact with unknown content id",
				zap.Uint16("peer", sess.Peer), zap.Uint16("content", content))
			return
		}
	default:
		deps.Log.Debug("unknown interact action",
			zap.Uint16("peer", sess.Peer), zap.Uint8("action", action))
		return
	}

	c := deps.Clients.Get(sess.Peer)
	if c == nil {
		sess.Close()
		return
	}
	c.OnBuildActivity()

	base := geom.NodeToBlock(nodeX, nodeY, nodeZ)
	relX := int(nodeX) - int(base.X)*geom.MapBlockSize
	relY := int(nodeY) - int(base.Y)*geom.MapBlockSize
	relZ := int(nodeZ) - int(base.Z)*geom.MapBlockSize

	if !deps.World.SetNode(base, relX, relY, relZ, content) {
		deps.Log.Debug("interact on unloaded block",
			zap.Uint16("peer", sess.Peer), zap.String("block", base.String()))
		return
	}

	affected := affectedBlocks(base, relX, relY, relZ)
	for _, rc := range deps.Clients.Snapshot() {
		rc.SetMapBlocksUpdated(affected)
	}
}

// affectedBlocks lists the edited block and, for nodes on a block face,
// the neighbors whose cached face shells include the edited node.
func affectedBlocks(base geom.BlockPos, relX, relY, relZ int) []geom.BlockPos {
	xs := boundaryDeltas(relX)
	ys := boundaryDeltas(relY)
	zs := boundaryDeltas(relZ)
	out := make([]geom.BlockPos, 0, len(xs)*len(ys)*len(zs))
	for _, dx := range xs {
		for _, dy := range ys {
			for _, dz := range zs {
				out = append(out, base.Add(geom.BlockPos{X: dx, Y: dy, Z: dz}))
			}
		}
	}
	return out
}

func boundaryDeltas(rel int) []int16 {
	switch rel {
	case 0:
		return []int16{0, -1}
	case geom.MapBlockSize - 1:
		return []int16{0, 1}
	default:
		return []int16{0}
	}
}
