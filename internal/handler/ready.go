package handler

import (
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/core/event"
	"github.com/voxelgo/server/internal/geom"
	"github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
)

// HandleClientReady is the final handshake step. The client reports its
// build version, gets placed at the spawn point and from here on receives
// blocks and broadcasts.
func HandleClientReady(sess *net.Session, r *packet.Reader, deps *Deps) {
	major := r.ReadU8()
	minor := r.ReadU8()
	patch := r.ReadU8()
	versionString := r.ReadString()

	c := deps.Clients.Get(sess.Peer)
	if c == nil {
		sess.Close()
		return
	}
	if !fireEvent(sess, deps, client.EventSetClientReady) {
		return
	}

	spawnNodeY := deps.Config.Mapgen.WaterLevel + 2
	spawn := mgl64.Vec3{0, float64(spawnNodeY) * geom.BS, 0}
	c.UpdatePlayer(client.PlayerState{Pos: spawn, Known: true})

	// Pre-warm the spawn area so the first autosend pass has something
	// to hand out.
	spawnBlock := geom.NodeToBlock(0, spawnNodeY, 0)
	deps.Emerge.Enqueue(sess.Peer, spawnBlock, true)

	event.Emit(deps.Bus, event.ClientJoined{Peer: sess.Peer, Name: c.Name()})

	deps.Log.Info("client entered world",
		zap.Uint16("peer", sess.Peer),
		zap.String("name", c.Name()),
		zap.String("version", versionString),
		zap.Uint8("major", major),
		zap.Uint8("minor", minor),
		zap.Uint8("patch", patch))

	sendMovePlayer(sess, spawn, 0, 0)
}

func sendMovePlayer(sess *net.Session, pos mgl64.Vec3, pitch, yaw float64) {
	w := packet.NewWriter(packet.S_OPCODE_MOVE_PLAYER)
	w.WriteV3F1000(pos)
	w.WriteF1000(pitch)
	w.WriteF1000(yaw)
	sess.Send(w.Bytes())
}
