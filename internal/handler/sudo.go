package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
)

// HandleSudo elevates an authenticated client after it re-proves its
// password. The verifier is fetched fresh from the database because the
// login copy is discarded once the handshake completes.
func HandleSudo(sess *net.Session, r *packet.Reader, deps *Deps) {
	password := r.ReadString()

	c := deps.Clients.Get(sess.Peer)
	if c == nil {
		sess.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	account, err := deps.Accounts.Load(ctx, c.Name())
	cancel()
	if err != nil {
		deps.Log.Error("account lookup failed",
			zap.String("name", c.Name()), zap.Error(err))
		sendAcceptSudo(sess, false)
		return
	}
	if account == nil || !deps.Accounts.ValidatePassword(account.Verifier, password) {
		deps.Log.Warn("sudo attempt rejected",
			zap.Uint16("peer", sess.Peer), zap.String("name", c.Name()))
		sendAcceptSudo(sess, false)
		return
	}
	if !fireEvent(sess, deps, client.EventSudoSuccess) {
		return
	}
	deps.Log.Info("client entered sudo mode",
		zap.Uint16("peer", sess.Peer), zap.String("name", c.Name()))
	sendAcceptSudo(sess, true)
}

// HandleSetPassword changes the account password. It is the one action
// sudo mode exists for, so the elevation always ends here, successful
// or not.
func HandleSetPassword(sess *net.Session, r *packet.Reader, deps *Deps) {
	newPassword := r.ReadString()

	c := deps.Clients.Get(sess.Peer)
	if c == nil {
		sess.Close()
		return
	}
	if newPassword == "" {
		deps.Log.Warn("rejecting empty new password",
			zap.Uint16("peer", sess.Peer), zap.String("name", c.Name()))
		fireEvent(sess, deps, client.EventSudoLeave)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	err := deps.Accounts.UpdateVerifier(ctx, c.Name(), newPassword)
	cancel()
	if err != nil {
		deps.Log.Error("password change failed",
			zap.String("name", c.Name()), zap.Error(err))
	} else {
		deps.Log.Info("password changed",
			zap.Uint16("peer", sess.Peer), zap.String("name", c.Name()))
	}
	fireEvent(sess, deps, client.EventSudoLeave)
}

func sendAcceptSudo(sess *net.Session, accepted bool) {
	w := packet.NewWriter(packet.S_OPCODE_ACCEPT_SUDO)
	if accepted {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
	sess.Send(w.Bytes())
}
