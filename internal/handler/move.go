package handler

import (
	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
)

// HandlePlayerPos records the client's self-reported position and view
// direction. The values feed the autosend priority math; no movement
// validation happens here.
func HandlePlayerPos(sess *net.Session, r *packet.Reader, deps *Deps) {
	pos := r.ReadV3F1000()
	speed := r.ReadV3F1000()
	pitch := r.ReadF1000()
	yaw := r.ReadF1000()

	c := deps.Clients.Get(sess.Peer)
	if c == nil {
		sess.Close()
		return
	}
	c.UpdatePlayer(client.PlayerState{
		Pos:   pos,
		Speed: speed,
		Pitch: pitch,
		Yaw:   yaw,
		Known: true,
	})
}
