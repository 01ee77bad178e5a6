package handler

import (
	"math"

	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
)

// HandleAutosend updates the client's block streaming parameters. Radii
// arrive in block units, the field of view in degrees. Clamping to server
// limits happens inside the client object.
func HandleAutosend(sess *net.Session, r *packet.Reader, deps *Deps) {
	radiusMap := r.ReadS16()
	radiusFar := r.ReadS16()
	farWeight := r.ReadF1000()
	fovDegrees := r.ReadF1000()

	c := deps.Clients.Get(sess.Peer)
	if c == nil {
		sess.Close()
		return
	}
	fov := fovDegrees * math.Pi / 180
	c.SetAutosendParameters(radiusMap, radiusFar, farWeight, fov)

	deps.Log.Debug("autosend parameters updated",
		zap.Uint16("peer", sess.Peer),
		zap.Int16("radius_map", radiusMap),
		zap.Int16("radius_far", radiusFar),
		zap.Float64("far_weight", farWeight),
		zap.Float64("fov_degrees", fovDegrees))
}

// HandleSendQueue replaces the client's manual block request queue. The
// queue is drained ahead of autosend picks, letting clients prioritize
// specific blocks (a minimap view, a teleport destination).
func HandleSendQueue(sess *net.Session, r *packet.Reader, deps *Deps) {
	c := deps.Clients.Get(sess.Peer)
	if c == nil {
		sess.Close()
		return
	}
	count := int(r.ReadU16())
	targets := make([]client.SendTarget, 0, count)
	for i := 0; i < count; i++ {
		t, ok := readTarget(r)
		if !ok {
			deps.Log.Debug("malformed send queue entry",
				zap.Uint16("peer", sess.Peer), zap.Int("entry", i))
			break
		}
		targets = append(targets, t)
	}
	c.ReplaceQueue(targets)
}
