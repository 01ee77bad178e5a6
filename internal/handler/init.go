package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
)

// Auth method bits advertised in the hello packet.
const (
	authMethodPassword  = 1 // account exists, client must send C_OPCODE_AUTH
	authMethodFirstAuth = 2 // no account yet, client may register with C_OPCODE_FIRST_AUTH
)

const maxPlayerNameLen = 20

// HandleInit processes the first packet of a connection: protocol version
// plus the desired player name. Depending on the negotiated version the
// client either continues with the challenge/response exchange or, for
// legacy clients without an account, is let straight through.
func HandleInit(sess *net.Session, r *packet.Reader, deps *Deps) {
	protoVersion := r.ReadU16()
	name := r.ReadString()

	if protoVersion < packet.MinProtocolVersion || protoVersion > packet.LatestProtocolVersion {
		deps.Log.Info("rejecting client with unsupported protocol",
			zap.Uint16("peer", sess.Peer), zap.Uint16("version", protoVersion))
		denyAndClose(sess, deps, packet.DenyUnsupportedVersion)
		return
	}
	if !validPlayerName(name) {
		deps.Log.Info("rejecting client with invalid name",
			zap.Uint16("peer", sess.Peer), zap.String("name", name))
		denyAndClose(sess, deps, packet.DenyBadName)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	account, err := deps.Accounts.Load(ctx, name)
	cancel()
	if err != nil {
		deps.Log.Error("account lookup failed",
			zap.String("name", name), zap.Error(err))
		denyAndClose(sess, deps, packet.DenyServerError)
		return
	}
	if account != nil && account.Banned {
		deps.Log.Info("rejecting banned account",
			zap.Uint16("peer", sess.Peer), zap.String("name", name))
		denyAndClose(sess, deps, packet.DenyBanned)
		return
	}

	c := deps.Clients.Get(sess.Peer)
	if c == nil {
		sess.Close()
		return
	}
	c.SetName(name)
	c.SetNetProtoVersion(protoVersion)

	if protoVersion < packet.AuthProtocolVersion {
		// Legacy clients cannot authenticate. They may only claim names
		// that have no account attached.
		if account != nil {
			deps.Log.Info("legacy client tried to use registered name",
				zap.Uint16("peer", sess.Peer), zap.String("name", name))
			denyAndClose(sess, deps, packet.DenyWrongPassword)
			return
		}
		if !fireEvent(sess, deps, client.EventInitLegacy) {
			return
		}
		deps.Log.Info("legacy client accepted",
			zap.Uint16("peer", sess.Peer), zap.String("name", name))
		return
	}

	methods := uint8(authMethodFirstAuth)
	if account != nil {
		methods = authMethodPassword
		c.SetAuth(client.NewAuthData(name, []byte(account.Verifier)))
	} else {
		c.SetAuth(client.NewAuthData(name, nil))
	}
	if !fireEvent(sess, deps, client.EventHello) {
		return
	}
	sendHello(sess, methods)
}

// HandleAuth verifies the password of an existing account.
func HandleAuth(sess *net.Session, r *packet.Reader, deps *Deps) {
	password := r.ReadString()

	c := deps.Clients.Get(sess.Peer)
	if c == nil {
		sess.Close()
		return
	}
	auth := c.Auth()
	if auth == nil || !auth.Verify(password) {
		deps.Log.Info("authentication failed",
			zap.Uint16("peer", sess.Peer), zap.String("name", c.Name()))
		deps.Clients.Event(sess.Peer, client.EventSetDenied)
		sendAccessDenied(sess, packet.DenyWrongPassword)
		sess.Close()
		return
	}
	if !fireEvent(sess, deps, client.EventAuthAccept) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := deps.Accounts.UpdateLastSeen(ctx, c.Name()); err != nil {
		deps.Log.Warn("failed to update last seen",
			zap.String("name", c.Name()), zap.Error(err))
	}
	cancel()

	deps.Log.Info("client authenticated",
		zap.Uint16("peer", sess.Peer), zap.String("name", c.Name()))
	sendAuthAccept(sess)
}

// HandleFirstAuth registers a new account for a name that had none at
// hello time. The existence check is repeated here because another
// connection may have registered the name in between.
func HandleFirstAuth(sess *net.Session, r *packet.Reader, deps *Deps) {
	password := r.ReadString()

	c := deps.Clients.Get(sess.Peer)
	if c == nil {
		sess.Close()
		return
	}
	if password == "" {
		deps.Log.Info("rejecting empty registration password",
			zap.Uint16("peer", sess.Peer), zap.String("name", c.Name()))
		deps.Clients.Event(sess.Peer, client.EventSetDenied)
		sendAccessDenied(sess, packet.DenyWrongPassword)
		sess.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	existing, err := deps.Accounts.Load(ctx, c.Name())
	if err != nil {
		deps.Log.Error("account lookup failed",
			zap.String("name", c.Name()), zap.Error(err))
		denyAndClose(sess, deps, packet.DenyServerError)
		return
	}
	if existing != nil {
		deps.Log.Info("name was registered while client negotiated",
			zap.Uint16("peer", sess.Peer), zap.String("name", c.Name()))
		denyAndClose(sess, deps, packet.DenyWrongPassword)
		return
	}
	if _, err := deps.Accounts.Create(ctx, c.Name(), password); err != nil {
		deps.Log.Error("account creation failed",
			zap.String("name", c.Name()), zap.Error(err))
		denyAndClose(sess, deps, packet.DenyServerError)
		return
	}
	if !fireEvent(sess, deps, client.EventAuthAccept) {
		return
	}
	deps.Log.Info("new account registered",
		zap.Uint16("peer", sess.Peer), zap.String("name", c.Name()))
	sendAuthAccept(sess)
}

// validPlayerName restricts names to a conservative character set so they
// can be used directly in chat, logs and database keys.
func validPlayerName(name string) bool {
	if len(name) == 0 || len(name) > maxPlayerNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '_' || ch == '-':
		default:
			return false
		}
	}
	return true
}

// denyAndClose marks the client denied, tells it why and drops the
// connection. The session stays registered until the input system reaps it.
func denyAndClose(sess *net.Session, deps *Deps, reason uint8) {
	deps.Clients.Event(sess.Peer, client.EventSetDenied)
	sendAccessDenied(sess, reason)
	sess.Close()
}

func sendHello(sess *net.Session, authMethods uint8) {
	w := packet.NewWriter(packet.S_OPCODE_HELLO)
	w.WriteU16(packet.LatestProtocolVersion)
	w.WriteU8(authMethods)
	sess.Send(w.Bytes())
}

func sendAuthAccept(sess *net.Session) {
	w := packet.NewWriter(packet.S_OPCODE_AUTH_ACCEPT)
	sess.Send(w.Bytes())
}

func sendAccessDenied(sess *net.Session, reason uint8) {
	w := packet.NewWriter(packet.S_OPCODE_ACCESS_DENIED)
	w.WriteU8(reason)
	sess.Send(w.Bytes())
}
