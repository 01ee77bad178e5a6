package handler

import (
	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/data"
	"github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
)

// Node definition flag bits on the wire.
const (
	nodeFlagSolid  = 1
	nodeFlagLiquid = 2
)

// HandleInit2 completes the init sequence. The client signals it is ready
// for static data, so the node definition table goes out in response.
func HandleInit2(sess *net.Session, r *packet.Reader, deps *Deps) {
	if !fireEvent(sess, deps, client.EventGotInit2) {
		return
	}
	sendDefinitions(sess, deps.Nodes)
	if !fireEvent(sess, deps, client.EventSetDefinitionsSent) {
		return
	}
	deps.Log.Debug("sent node definitions",
		zap.Uint16("peer", sess.Peer), zap.Int("count", deps.Nodes.Count()))
}

func sendDefinitions(sess *net.Session, nodes *data.NodeTable) {
	defs := nodes.All()
	w := packet.NewWriter(packet.S_OPCODE_DEFINITIONS)
	w.WriteU16(uint16(len(defs)))
	for _, def := range defs {
		var flags uint8
		if def.Solid {
			flags |= nodeFlagSolid
		}
		if def.Liquid {
			flags |= nodeFlagLiquid
		}
		w.WriteU16(def.ID)
		w.WriteString(def.Name)
		w.WriteU8(flags)
		w.WriteU8(def.LightSource)
	}
	sess.Send(w.Bytes())
}
