package handler

import (
	"time"

	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
)

// Block target kinds on the wire.
const (
	targetKindNear = 0
	targetKindFar  = 1
)

// HandleGotBlocks acknowledges block transfers. Each acked target frees
// one in-flight slot so the send system can hand out the next block.
func HandleGotBlocks(sess *net.Session, r *packet.Reader, deps *Deps) {
	c := deps.Clients.Get(sess.Peer)
	if c == nil {
		sess.Close()
		return
	}
	now := time.Now()
	count := int(r.ReadU8())
	for i := 0; i < count; i++ {
		t, ok := readTarget(r)
		if !ok {
			deps.Log.Debug("malformed got blocks entry",
				zap.Uint16("peer", sess.Peer), zap.Int("entry", i))
			return
		}
		c.GotBlock(t, now)
	}
}

// HandleDeletedBlocks processes cache eviction notes. A deleted target is
// treated as never sent, so it becomes eligible for a fresh transfer if
// it comes back into range.
func HandleDeletedBlocks(sess *net.Session, r *packet.Reader, deps *Deps) {
	c := deps.Clients.Get(sess.Peer)
	if c == nil {
		sess.Close()
		return
	}
	count := int(r.ReadU8())
	for i := 0; i < count; i++ {
		t, ok := readTarget(r)
		if !ok {
			deps.Log.Debug("malformed deleted blocks entry",
				zap.Uint16("peer", sess.Peer), zap.Int("entry", i))
			return
		}
		c.DeletedBlock(t)
	}
}

// readTarget decodes one kind+position entry. A short packet or unknown
// kind returns ok=false; the caller stops parsing then.
func readTarget(r *packet.Reader) (client.SendTarget, bool) {
	if r.Remaining() < 7 {
		return client.SendTarget{}, false
	}
	kind := r.ReadU8()
	pos := r.ReadV3S16()
	switch kind {
	case targetKindNear:
		return client.NearTarget(pos), true
	case targetKindFar:
		return client.FarTarget(pos), true
	}
	return client.SendTarget{}, false
}
