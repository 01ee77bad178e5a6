package client

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/config"
	"github.com/voxelgo/server/internal/emerge"
	"github.com/voxelgo/server/internal/geom"
	"github.com/voxelgo/server/internal/world"
)

// farResendInterval rate-limits resending a dirty far block; pieces
// trickle in from emerge workers and each one re-arms the block.
const farResendInterval = 5 * time.Second

// fallbackFov is assumed for clients that never configure autosend.
const fallbackFov = 72 * math.Pi / 180

// PlayerState is the most recent movement report for a peer. Known
// flips once the first report arrives; clients and players are not in
// perfect sync.
type PlayerState struct {
	Pos   mgl64.Vec3 // eye position, world units
	Speed mgl64.Vec3
	Pitch float64 // degrees
	Yaw   float64
	Known bool
}

// Emerger is the slice of the emerge dispatcher the send path needs.
type Emerger interface {
	Enqueue(peer uint16, pos geom.BlockPos, allowGen bool, callbacks ...emerge.CompletionCallback) bool
}

// Deps bundles the shared collaborators every client borrows. The
// registry owns one and stamps it onto each created client.
type Deps struct {
	Log    *zap.Logger
	Cfg    config.MapConfig
	World  *world.Map
	FarMap *world.ServerFarMap
	Emerge Emerger
	Shells *geom.FaceShellCache
}

// RemoteClient tracks everything the server knows about one connected
// peer: lifecycle state, credentials in flight, send bookkeeping and
// the autosend search. Methods are driven by the server thread only;
// cross-thread work reaches a client through the event bus.
type RemoteClient struct {
	Peer uint16

	log    *zap.Logger
	cfg    config.MapConfig
	world  *world.Map
	farMap *world.ServerFarMap
	emerge Emerger
	shells *geom.FaceShellCache

	state State
	auth  *AuthData

	sessionID       uint64
	netProtoVersion uint16
	connectedAt     time.Time
	name            string

	player PlayerState

	inFlight    map[SendTarget]time.Time
	sent        map[SendTarget]time.Time
	dirty       map[SendTarget]struct{}
	customQueue []SendTarget

	autosend           Autosend
	autosendConfigured bool

	knownObjects    map[uint16]struct{}
	excessGotBlocks int

	// timeFromBuilding is the seconds since the client last edited a
	// node; low values throttle bulk transfers.
	timeFromBuilding float64
}

// NewRemoteClient builds a client in the Created state.
func NewRemoteClient(peer uint16, deps Deps, now time.Time) *RemoteClient {
	c := &RemoteClient{
		Peer:         peer,
		log:          deps.Log.With(zap.Uint16("peer", peer)),
		cfg:          deps.Cfg,
		world:        deps.World,
		farMap:       deps.FarMap,
		emerge:       deps.Emerge,
		shells:       deps.Shells,
		state:        StateCreated,
		connectedAt:  now,
		inFlight:     make(map[SendTarget]time.Time),
		sent:         make(map[SendTarget]time.Time),
		dirty:        make(map[SendTarget]struct{}),
		knownObjects: make(map[uint16]struct{}),
	}
	c.autosend.init(c)
	return c
}

func (c *RemoteClient) State() State              { return c.state }
func (c *RemoteClient) SessionID() uint64         { return c.sessionID }
func (c *RemoteClient) ConnectedAt() time.Time    { return c.connectedAt }
func (c *RemoteClient) NetProtoVersion() uint16   { return c.netProtoVersion }
func (c *RemoteClient) SetNetProtoVersion(v uint16) { c.netProtoVersion = v }

// Name returns the account name, empty before authentication.
func (c *RemoteClient) Name() string     { return c.name }
func (c *RemoteClient) SetName(n string) { c.name = n }

// SetAuth hands the client the credential verifier for the exchange
// in progress. Any previous verifier is discarded first.
func (c *RemoteClient) SetAuth(a *AuthData) {
	if c.auth != nil {
		c.auth.Release()
	}
	c.auth = a
}

// Auth returns the verifier for the exchange in progress, nil when
// none is held.
func (c *RemoteClient) Auth() *AuthData { return c.auth }

// NotifyEvent advances the lifecycle state machine. On an undefined
// transition the state is unchanged and the error names the pair; the
// caller tears the connection down.
func (c *RemoteClient) NotifyEvent(ev StateEvent) error {
	next, release, err := nextState(c.state, ev)
	if err != nil {
		return err
	}
	if release && c.auth != nil {
		c.auth.Release()
		c.auth = nil
	}
	c.state = next
	return nil
}

// UpdatePlayer records the latest movement report.
func (c *RemoteClient) UpdatePlayer(st PlayerState) {
	st.Known = true
	c.player = st
}

func (c *RemoteClient) Player() PlayerState { return c.player }

// OnBuildActivity marks that the client just edited the world.
func (c *RemoteClient) OnBuildActivity() { c.timeFromBuilding = 0 }

// SetAutosendParameters applies a client-issued autosend command.
func (c *RemoteClient) SetAutosendParameters(radiusMap, radiusFar int16, farWeight, fov float64) {
	c.autosendConfigured = true
	c.autosend.SetParameters(radiusMap, radiusFar, farWeight, fov)
}

// CycleAutosend closes the previous search cycle and opens the next.
// Call once per tick before NextBlock.
func (c *RemoteClient) CycleAutosend(dt float64) {
	if !c.autosendConfigured {
		// Clients that never configure autosend get server defaults
		// and no far blocks.
		c.autosend.SetParameters(c.cfg.MaxBlockSendDistance, 0, defaultFarWeight, fallbackFov)
	}
	c.timeFromBuilding += dt
	c.autosend.Cycle(dt)
}

// NextBlock proposes the next block to transmit. Autosent blocks take
// priority over the client's own queue; a client that wants custom
// transfers fast turns autosend off. Returns the invalid target when
// nothing is ready.
func (c *RemoteClient) NextBlock(now time.Time) SendTarget {
	if t := c.autosend.getNext(now); t.Valid() {
		return t
	}
	return c.nextQueuedBlock(now)
}

// nextQueuedBlock walks the client's requested send list in order and
// returns the first target whose data is ready.
func (c *RemoteClient) nextQueuedBlock(now time.Time) SendTarget {
	for _, t := range c.customQueue {
		switch t.Kind {
		case SendNearBlock:
			if t.Pos.OverLimit() {
				continue
			}
			if _, flying := c.inFlight[t]; flying {
				continue
			}
			if c.sentGateSkips(t, now) {
				continue
			}

			var notOnDisk, emergeRequired bool
			b := c.world.Block(t.Pos)
			if b != nil {
				b.ResetUsageTimer(now)
				if b.IsDummy() {
					notOnDisk = true
				}
				if !b.IsValid() || !b.IsGenerated() {
					emergeRequired = true
				}
			}
			if b == nil || notOnDisk || emergeRequired {
				// Not available now; hopefully it is on a later call.
				c.emerge.Enqueue(c.Peer, t.Pos, true)
				continue
			}
			return t

		case SendFarBlock:
			if t.Pos.OverLimitFar() {
				continue
			}
			if _, flying := c.inFlight[t]; flying {
				continue
			}
			if c.sentGateSkips(t, now) {
				continue
			}
			if !c.farMap.Known(t.Pos) {
				c.emerge.Enqueue(c.Peer, t.Pos.FarBlockCenter(), true)
				continue
			}
			return t
		}
	}
	return SendTarget{}
}

// ReplaceQueue installs the client's requested send list wholesale.
func (c *RemoteClient) ReplaceQueue(targets []SendTarget) {
	c.customQueue = c.customQueue[:0]
	c.customQueue = append(c.customQueue, targets...)
}

// QueueLen returns the requested send list length.
func (c *RemoteClient) QueueLen() int { return len(c.customQueue) }

// sentGateSkips applies the already-sent veto: a delivered target is
// not resent unless marked dirty, and a dirty far block resends at
// most every farResendInterval.
func (c *RemoteClient) sentGateSkips(t SendTarget, now time.Time) bool {
	sentAt, ok := c.sent[t]
	if !ok {
		return false
	}
	if _, dirty := c.dirty[t]; !dirty {
		return true
	}
	if t.Kind == SendFarBlock && now.Sub(sentAt) < farResendInterval {
		return true
	}
	return false
}

// MarkSending moves a proposed target onto the wire; the caller hands
// the payload to the framing layer right after. The target's dirty
// mark is consumed, so an edit landing while it flies re-arms it.
func (c *RemoteClient) MarkSending(t SendTarget, now time.Time) {
	if _, flying := c.inFlight[t]; flying {
		c.log.Warn("block already in flight marked sending again",
			zap.Stringer("target", t))
	}
	c.inFlight[t] = now
	delete(c.dirty, t)
}

// GotBlock acknowledges a delivered target, recording the delivery
// time. Acknowledgements for targets not in flight only bump a
// diagnostic counter.
func (c *RemoteClient) GotBlock(t SendTarget, now time.Time) {
	if _, flying := c.inFlight[t]; flying {
		delete(c.inFlight, t)
		c.sent[t] = now
	} else {
		c.excessGotBlocks++
	}
}

// SetBlockUpdated re-arms one target after a server-side edit.
func (c *RemoteClient) SetBlockUpdated(t SendTarget) {
	if t.Kind == SendNearBlock {
		c.autosend.ResetNearSearch()
	}
	c.dirty[t] = struct{}{}
}

// SetMapBlockUpdated re-arms the map block and the far block
// containing it.
func (c *RemoteClient) SetMapBlockUpdated(pos geom.BlockPos) {
	c.SetBlockUpdated(NearTarget(pos))
	c.SetBlockUpdated(FarTarget(pos.FarPos()))
}

// SetMapBlocksUpdated re-arms a batch of modified map blocks.
func (c *RemoteClient) SetMapBlocksUpdated(positions []geom.BlockPos) {
	for _, p := range positions {
		c.SetMapBlockUpdated(p)
	}
}

// ResendBlockIfOnWire re-arms a target currently in flight so that
// fresher content follows as soon as possible.
func (c *RemoteClient) ResendBlockIfOnWire(t SendTarget) {
	if _, flying := c.inFlight[t]; flying {
		c.SetBlockUpdated(t)
	}
}

// DeletedBlock forgets a target the peer evicted from its cache. The
// next search pass treats it as never sent.
func (c *RemoteClient) DeletedBlock(t SendTarget) {
	delete(c.sent, t)
	delete(c.dirty, t)
}

// AddKnownObject records that the peer has been told about an object.
func (c *RemoteClient) AddKnownObject(id uint16) {
	c.knownObjects[id] = struct{}{}
}

// RemoveKnownObject forgets one object.
func (c *RemoteClient) RemoveKnownObject(id uint16) {
	delete(c.knownObjects, id)
}

// KnownObjectIDs lists the objects the peer knows about.
func (c *RemoteClient) KnownObjectIDs() []uint16 {
	ids := make([]uint16, 0, len(c.knownObjects))
	for id := range c.knownObjects {
		ids = append(ids, id)
	}
	return ids
}

func (c *RemoteClient) InFlightCount() int    { return len(c.inFlight) }
func (c *RemoteClient) SentCount() int        { return len(c.sent) }
func (c *RemoteClient) ExcessGotBlocks() int  { return c.excessGotBlocks }
