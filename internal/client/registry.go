package client

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// playerListLogInterval spaces the periodic player list log line.
const playerListLogInterval = 30.0

// ObjectRefs is the object subsystem's ref-count surface; a client
// being destroyed unrefs every object it knew about.
type ObjectRefs interface {
	DecrementKnownBy(id uint16)
}

// PacketSink receives one framed payload for one peer.
type PacketSink func(peer uint16, payload []byte)

// Registry owns every connected client, keyed by peer id. Lookup,
// insert, delete and lifecycle dispatch run under one mutex; the
// player list hook runs outside it.
type Registry struct {
	log  *zap.Logger
	deps Deps
	refs ObjectRefs

	mu          sync.Mutex
	clients     map[uint16]*RemoteClient
	nextSession uint64
	playerList  []string

	onPlayerList func(names []string)

	// playerListTimer is touched by Step only, from the game loop.
	playerListTimer float64
}

// NewRegistry builds an empty registry. refs may be nil when no
// object subsystem is attached.
func NewRegistry(deps Deps, refs ObjectRefs) *Registry {
	return &Registry{
		log:     deps.Log,
		deps:    deps,
		refs:    refs,
		clients: make(map[uint16]*RemoteClient),
	}
}

// OnPlayerListChange registers a hook invoked with the fresh name
// list whenever a ready or teardown event lands. The hook runs
// without the registry lock held.
func (r *Registry) OnPlayerListChange(fn func(names []string)) {
	r.onPlayerList = fn
}

// Create inserts a fresh client for a peer. Creating a taken id
// returns the existing client unchanged.
func (r *Registry) Create(peer uint16, now time.Time) *RemoteClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[peer]; ok {
		return existing
	}
	c := NewRemoteClient(peer, r.deps, now)
	r.nextSession++
	c.sessionID = r.nextSession
	r.clients[peer] = c
	r.log.Info("client created",
		zap.Uint16("peer", peer), zap.Uint64("session", c.sessionID))
	return c
}

// Get returns the client for a peer, nil when gone.
func (r *Registry) Get(peer uint16) *RemoteClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[peer]
}

// Count returns the number of connected clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Delete removes a client and unrefs every object it knew about.
// Deleting an absent peer is a NOP.
func (r *Registry) Delete(peer uint16) {
	r.mu.Lock()
	c, ok := r.clients[peer]
	if ok {
		delete(r.clients, peer)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if r.refs != nil {
		for _, id := range c.KnownObjectIDs() {
			r.refs.DecrementKnownBy(id)
		}
	}
	r.log.Info("client deleted",
		zap.Uint16("peer", peer), zap.Uint64("session", c.sessionID))
}

// Event dispatches a lifecycle event to a peer's client under the
// registry lock. Missing peers are a NOP; emerge callbacks may
// outlive their peer. Ready and teardown events refresh the player
// list after the lock is released.
func (r *Registry) Event(peer uint16, ev StateEvent) error {
	r.mu.Lock()
	c, ok := r.clients[peer]
	var err error
	if ok {
		err = c.NotifyEvent(ev)
	}
	r.mu.Unlock()
	if !ok || err != nil {
		return err
	}
	switch ev {
	case EventSetClientReady, EventDisconnect, EventSetDenied:
		r.refreshPlayerList()
	}
	return nil
}

// Snapshot returns the clients ordered by peer id. The tick loop
// iterates the snapshot so the lock is not held across per-client
// work.
func (r *Registry) Snapshot() []*RemoteClient {
	r.mu.Lock()
	out := make([]*RemoteClient, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// Broadcast hands each connected client's connection the payload,
// skipping clients that have not completed the protocol handshake.
func (r *Registry) Broadcast(payload []byte, send PacketSink) {
	for _, c := range r.Snapshot() {
		if c.NetProtoVersion() == 0 {
			continue
		}
		send(c.Peer, payload)
	}
}

// PlayerNames returns the last refreshed list of ready players.
func (r *Registry) PlayerNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.playerList...)
}

func (r *Registry) refreshPlayerList() {
	r.mu.Lock()
	names := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		switch c.State() {
		case StateActive, StateSudoMode:
			if n := c.Name(); n != "" {
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	r.playerList = names
	r.mu.Unlock()

	if r.onPlayerList != nil {
		r.onPlayerList(names)
	}
}

// Step advances registry housekeeping from the game loop. The player
// list goes to the log every 30 seconds for operator visibility.
func (r *Registry) Step(dt float64) {
	r.playerListTimer += dt
	if r.playerListTimer < playerListLogInterval {
		return
	}
	r.playerListTimer = 0
	names := r.PlayerNames()
	r.log.Info("players online",
		zap.Int("count", len(names)), zap.Strings("names", names))
}
