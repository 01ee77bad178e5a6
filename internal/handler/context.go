package handler

import (
	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/config"
	"github.com/voxelgo/server/internal/core/event"
	"github.com/voxelgo/server/internal/data"
	"github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
	"github.com/voxelgo/server/internal/persist"
	"github.com/voxelgo/server/internal/world"
)

// Deps carries the shared server state handlers operate on. All handlers
// run on the game loop goroutine, so no locking is needed beyond what the
// individual services do internally.
type Deps struct {
	Accounts *persist.AccountRepo
	Config   *config.Config
	Log      *zap.Logger
	Clients  *client.Registry
	World    *world.Map
	FarMap   *world.ServerFarMap
	Emerge   client.Emerger
	Nodes    *data.NodeTable
	Bus      *event.Bus
}

// RegisterAll wires every client opcode to its handler. The second argument
// is the minimum connection state a peer must have reached before the packet
// is dispatched; anything earlier is dropped by the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	// Handshake and authentication.
	reg.Register(packet.C_OPCODE_INIT, client.StateCreated, func(sess any, r *packet.Reader) {
		HandleInit(sess.(*net.Session), r, deps)
	})
	reg.Register(packet.C_OPCODE_AUTH, client.StateHelloSent, func(sess any, r *packet.Reader) {
		HandleAuth(sess.(*net.Session), r, deps)
	})
	reg.Register(packet.C_OPCODE_FIRST_AUTH, client.StateHelloSent, func(sess any, r *packet.Reader) {
		HandleFirstAuth(sess.(*net.Session), r, deps)
	})
	reg.Register(packet.C_OPCODE_INIT2, client.StateAwaitingInit2, func(sess any, r *packet.Reader) {
		HandleInit2(sess.(*net.Session), r, deps)
	})
	reg.Register(packet.C_OPCODE_CLIENT_READY, client.StateDefinitionsSent, func(sess any, r *packet.Reader) {
		HandleClientReady(sess.(*net.Session), r, deps)
	})

	// Gameplay.
	reg.Register(packet.C_OPCODE_PLAYER_POS, client.StateInitDone, func(sess any, r *packet.Reader) {
		HandlePlayerPos(sess.(*net.Session), r, deps)
	})
	reg.Register(packet.C_OPCODE_INTERACT, client.StateActive, func(sess any, r *packet.Reader) {
		HandleInteract(sess.(*net.Session), r, deps)
	})

	// Block transfer bookkeeping.
	reg.Register(packet.C_OPCODE_GOT_BLOCKS, client.StateInitDone, func(sess any, r *packet.Reader) {
		HandleGotBlocks(sess.(*net.Session), r, deps)
	})
	reg.Register(packet.C_OPCODE_DELETED_BLOCKS, client.StateInitDone, func(sess any, r *packet.Reader) {
		HandleDeletedBlocks(sess.(*net.Session), r, deps)
	})
	reg.Register(packet.C_OPCODE_AUTOSEND, client.StateInitDone, func(sess any, r *packet.Reader) {
		HandleAutosend(sess.(*net.Session), r, deps)
	})
	reg.Register(packet.C_OPCODE_SEND_QUEUE, client.StateInitDone, func(sess any, r *packet.Reader) {
		HandleSendQueue(sess.(*net.Session), r, deps)
	})

	// Privileged mode.
	reg.Register(packet.C_OPCODE_SUDO, client.StateActive, func(sess any, r *packet.Reader) {
		HandleSudo(sess.(*net.Session), r, deps)
	})
	reg.Register(packet.C_OPCODE_SET_PASSWORD, client.StateSudoMode, func(sess any, r *packet.Reader) {
		HandleSetPassword(sess.(*net.Session), r, deps)
	})

	// Teardown.
	reg.Register(packet.C_OPCODE_DISCONNECT, client.StateCreated, func(sess any, r *packet.Reader) {
		HandleDisconnect(sess.(*net.Session), r, deps)
	})
}

// fireEvent advances the connection state machine for the session's peer.
// An invalid transition means the client is misbehaving (or a bug on our
// side); either way the connection is not recoverable, so it gets closed.
func fireEvent(sess *net.Session, deps *Deps, ev client.StateEvent) bool {
	if err := deps.Clients.Event(sess.Peer, ev); err != nil {
		deps.Log.Warn("state transition rejected, closing connection",
			zap.Uint16("peer", sess.Peer), zap.Error(err))
		sess.Close()
		return false
	}
	return true
}
