package handler

import (
	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
)

// HandleDisconnect processes an orderly goodbye. The session is closed
// here; the input system notices the dead connection on its next pass and
// removes the client record.
func HandleDisconnect(sess *net.Session, r *packet.Reader, deps *Deps) {
	deps.Log.Info("client requested disconnect", zap.Uint16("peer", sess.Peer))
	deps.Clients.Event(sess.Peer, client.EventDisconnect)
	sess.Close()
}
