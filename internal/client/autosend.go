package client

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/voxelgo/server/internal/geom"
)

const (
	// closeSendRadius is the shell radius up to which the per-client
	// send cap always applies at full strength.
	closeSendRadius = 1

	// limitedSimultaneousSends is the reduced cap used right after
	// the client edited the world.
	limitedSimultaneousSends = 2

	// farSweepInterval makes every n-th far cycle restart from shell
	// zero to catch far blocks missed during movement.
	farSweepInterval = 10

	defaultFarWeight = 8.0

	minFov = math.Pi / 6     // 30 degrees
	maxFov = math.Pi * 8 / 9 // 160 degrees
)

// maxSimultaneousSends returns the in-flight cap for one candidate.
// Close blocks always go at the configured rate; shortly after the
// client edits the world the rate drops so the edit round-trips fast.
func maxSimultaneousSends(base int, timeFromBuilding, buildingLimit float64, d int16) int {
	if d <= closeSendRadius {
		return base
	}
	if timeFromBuilding < buildingLimit {
		return limitedSimultaneousSends
	}
	return base
}

// autosendParams is the client-supplied search configuration. Zero
// radii leave the corresponding ladder disabled.
type autosendParams struct {
	radiusMap int16
	radiusFar int16
	farWeight float64
	fov       float64 // radians
}

// ladderState survives between cycles for one ladder.
type ladderState struct {
	// nearestUnsentD is the smallest shell radius at which work may
	// remain. No smaller radius holds a known sendable, undelivered
	// target.
	nearestUnsentD int16
}

// search is the in-progress scan of one ladder within one cycle.
type search struct {
	kind   SendKind
	d      int16
	dStart int16
	dMax   int16
	i      int

	nearestEmergeQueuedD int32
	nearestEmergeFullD   int32
	nearestSendQueuedD   int32
}

func newSearch(kind SendKind, dStart, dCap int16) search {
	s := search{
		kind:                 kind,
		nearestEmergeQueuedD: math.MaxInt32,
		nearestEmergeFullD:   math.MaxInt32,
		nearestSendQueuedD:   math.MaxInt32,
	}
	if dCap <= 0 {
		s.dMax = -1
		return s
	}
	if dStart < 0 {
		dStart = 0
	}
	// A few shells per tick; close ones are cheap, distant ones are
	// not.
	dMax := dStart
	switch {
	case dStart < 5:
		dMax += 2
	case dStart < 8:
		dMax++
	}
	if dMax > dCap {
		dMax = dCap
	}
	s.d = dStart
	s.dStart = dStart
	s.dMax = dMax
	return s
}

// searchResult is what one ladder's finished scan feeds back into the
// persistent state.
type searchResult struct {
	nearestUnsentD    int16
	recheckPending    bool
	searchedFullRange bool
}

// finishSearch derives the next resume radius. Anything queued for
// emerging or sending is not necessarily handled yet, so iteration
// must restart at the closest radius where such a thing happened.
func finishSearch(s *search, maxD int16) searchResult {
	closest := s.nearestEmergeQueuedD
	if s.nearestEmergeFullD < closest {
		closest = s.nearestEmergeFullD
	}
	if s.nearestSendQueuedD < closest {
		closest = s.nearestSendQueuedD
	}

	switch {
	case closest != math.MaxInt32:
		return searchResult{nearestUnsentD: int16(closest), recheckPending: true}
	case s.d > maxD:
		return searchResult{searchedFullRange: true}
	default:
		return searchResult{nearestUnsentD: s.d}
	}
}

// cycle is the per-tick snapshot the scans run against.
type cycle struct {
	disabled bool

	view     geom.CameraView
	focus    geom.BlockPos
	focusFar geom.BlockPos

	maxSimulSends            int
	buildingLimit            float64
	maxSendDistance          int16
	maxGenDistance           int16
	fovActivationDistance    int16
	farFovActivationDistance int16

	near search
	far  search
}

// Autosend proposes blocks to transmit by expanding concentric face
// shells around the player's predicted focus point, one ladder for
// map blocks and one for far blocks. One instance per client, driven
// only by the server thread.
type Autosend struct {
	client *RemoteClient

	params autosendParams

	near ladderState
	far  ladderState

	nothingSentTimer        float64
	nearestUnsentResetTimer float64
	nothingToSendPauseTimer float64
	fovLimitEnabled         bool
	lastFocusPoint          geom.BlockPos
	focusKnown              bool

	farSweepCounter int

	cyc cycle
}

func (a *Autosend) init(owner *RemoteClient) {
	a.client = owner
	a.fovLimitEnabled = true
	a.nothingToSendPauseTimer = -1
	a.cyc.disabled = true
}

// SetParameters applies the client-supplied search configuration,
// clamped to server bounds.
func (a *Autosend) SetParameters(radiusMap, radiusFar int16, farWeight, fov float64) {
	maxR := a.client.cfg.MaxBlockSendDistance
	a.params.radiusMap = clampRadius(radiusMap, maxR)
	a.params.radiusFar = clampRadius(radiusFar, maxR)
	if farWeight <= 0 {
		farWeight = defaultFarWeight
	}
	a.params.farWeight = farWeight
	a.params.fov = clampFov(fov)
}

func clampRadius(r, max int16) int16 {
	if r < 0 {
		return 0
	}
	if r > max {
		return max
	}
	return r
}

func clampFov(fov float64) float64 {
	if fov < minFov {
		return minFov
	}
	if fov > maxFov {
		return maxFov
	}
	return fov
}

// ResetNearSearch rewinds the near ladder so that a fresh edit close
// to the player is picked up promptly.
func (a *Autosend) ResetNearSearch() {
	a.near.nearestUnsentD = 0
}

// Describe summarizes the resume state for logs.
func (a *Autosend) Describe() string {
	return fmt.Sprintf("(near_unsent_d=%d far_unsent_d=%d)",
		a.near.nearestUnsentD, a.far.nearestUnsentD)
}

// Cycle closes the previous tick's search, advances the timers and
// opens the next search. Call once per server tick before NextBlock.
func (a *Autosend) Cycle(dt float64) {
	a.finishCycle()

	a.nothingSentTimer += dt
	a.nearestUnsentResetTimer += dt
	a.nothingToSendPauseTimer -= dt

	a.initCycle()
}

func (a *Autosend) finishCycle() {
	c := &a.cyc
	if c.disabled {
		return
	}

	nearRes := finishSearch(&c.near, c.maxSendDistance)
	a.near.nearestUnsentD = nearRes.nearestUnsentD
	switch {
	case nearRes.recheckPending:
		// Emerge work is pending close by. If nothing has been sent
		// for a while the disk is likely exhausted at short range;
		// widen the search by dropping the sight limit.
		if a.fovLimitEnabled && a.nothingSentTimer >= 3.0 {
			a.fovLimitEnabled = false
			a.nothingSentTimer = 0
		}
	case nearRes.searchedFullRange:
		if a.fovLimitEnabled {
			// Sweep once more without the sight limit.
			a.fovLimitEnabled = false
		} else {
			// Truly nothing left. Pause, then start over limited.
			a.fovLimitEnabled = true
			a.nothingToSendPauseTimer = 2.0
		}
	}

	farRes := finishSearch(&c.far, a.params.radiusFar)
	a.far.nearestUnsentD = farRes.nearestUnsentD
}

func (a *Autosend) initCycle() {
	c := &a.cyc
	*c = cycle{disabled: true}

	if a.params.radiusMap == 0 && a.params.radiusFar == 0 {
		return
	}
	if a.nothingToSendPauseTimer >= 0 {
		return
	}
	cl := a.client
	if !cl.player.Known {
		// Clients and players are not in perfect sync.
		return
	}
	if len(cl.inFlight) >= int(cl.cfg.MaxSimultaneousBlockSends) {
		return
	}

	c.disabled = false

	// Focus one block ahead along motion so that fresh terrain loads
	// in the direction of travel.
	var speedDir mgl64.Vec3
	if spd := cl.player.Speed.Len(); spd > geom.BS {
		speedDir = cl.player.Speed.Mul(1 / spd)
	}
	predicted := cl.player.Pos.Add(speedDir.Mul(geom.MapBlockSize * geom.BS))
	c.focus = blockAtWorldPos(predicted)
	c.focusFar = c.focus.FarPos()

	c.view = geom.CameraView{
		Pos: cl.player.Pos,
		Dir: geom.DirectionFromAngles(cl.player.Pitch, cl.player.Yaw),
		Fov: a.params.fov,
	}

	if !a.focusKnown || a.lastFocusPoint != c.focus {
		a.near.nearestUnsentD = 0
		a.far.nearestUnsentD = 0
		a.lastFocusPoint = c.focus
		a.focusKnown = true
	}

	c.maxSimulSends = int(cl.cfg.MaxSimultaneousBlockSends)
	c.buildingLimit = cl.cfg.FullSendMinTimeFromBuilding.Seconds()
	c.maxGenDistance = cl.cfg.MaxBlockGenerateDistance

	c.maxSendDistance = cl.cfg.MaxBlockSendDistance
	if a.params.radiusMap < c.maxSendDistance {
		c.maxSendDistance = a.params.radiusMap
	}

	// Periodic reset self-heals any resume point drift.
	if a.nearestUnsentResetTimer > 20.0 {
		a.nearestUnsentResetTimer = 0
		a.near.nearestUnsentD = 0
		a.far.nearestUnsentD = 0
	}

	if a.fovLimitEnabled {
		c.fovActivationDistance = c.maxSendDistance / 2
	} else {
		c.fovActivationDistance = c.maxSendDistance
	}
	fw := a.params.farWeight
	if fw <= 0 {
		fw = defaultFarWeight
	}
	farAct := float64(c.fovActivationDistance) * fw
	if farAct > math.MaxInt16 {
		farAct = math.MaxInt16
	}
	c.farFovActivationDistance = int16(farAct)

	c.near = newSearch(SendNearBlock, a.near.nearestUnsentD, c.maxSendDistance)

	farStart := a.far.nearestUnsentD
	a.farSweepCounter++
	if a.farSweepCounter >= farSweepInterval {
		a.farSweepCounter = 0
		farStart = 0
	}
	c.far = newSearch(SendFarBlock, farStart, a.params.radiusFar)
}

// getNext scans the near ladder, then the far ladder, and returns the
// next target ready for transmission, or the invalid target.
func (a *Autosend) getNext(now time.Time) SendTarget {
	if a.cyc.disabled {
		return SendTarget{}
	}
	selected := len(a.client.inFlight)
	if t := a.scan(&a.cyc.near, selected, now); t.Valid() {
		return t
	}
	return a.scan(&a.cyc.far, selected, now)
}

type probeResult uint8

const (
	probeSkip probeResult = iota
	probeSend
	probeAbort
)

func (a *Autosend) scan(s *search, selected int, now time.Time) SendTarget {
	c := &a.cyc
	cl := a.client

	var (
		focus      geom.BlockPos
		scale      int16
		rangeLimit float64
		activation int16
	)
	if s.kind == SendNearBlock {
		focus = c.focus
		scale = 1
		rangeLimit = float64(c.maxSendDistance) * geom.MapBlockSize * geom.BS
		activation = c.fovActivationDistance
	} else {
		focus = c.focusFar
		scale = geom.FarScale
		rangeLimit = float64(a.params.radiusFar) * geom.FarScale * geom.MapBlockSize * geom.BS
		activation = c.farFovActivationDistance
	}

	for ; s.d <= s.dMax; s.d++ {
		shell := cl.shells.Shell(s.d)
		for ; s.i < len(shell); s.i++ {
			p := focus.Add(shell[s.i])
			t := SendTarget{Kind: s.kind, Pos: p}

			// Cull the square shell to a ball; that is also how the
			// client limits drawing.
			visible, dist := geom.BlockVisible(c.view, p, scale, rangeLimit)
			if dist > rangeLimit {
				continue
			}

			simul := maxSimultaneousSends(c.maxSimulSends,
				cl.timeFromBuilding, c.buildingLimit, s.d)
			if selected >= simul {
				return SendTarget{}
			}

			if _, flying := cl.inFlight[t]; flying {
				continue
			}

			if s.kind == SendNearBlock {
				if p.OverLimit() {
					continue
				}
			} else if p.OverLimitFar() {
				continue
			}

			genAllowed := s.d <= c.maxGenDistance

			if s.d >= activation && !visible {
				continue
			}

			if cl.sentGateSkips(t, now) {
				continue
			}

			var res probeResult
			if s.kind == SendNearBlock {
				res = a.probeNear(s, p, genAllowed, now)
			} else {
				res = a.probeFar(s, p, genAllowed, now)
			}
			switch res {
			case probeSend:
				if s.nearestSendQueuedD == math.MaxInt32 {
					s.nearestSendQueuedD = int32(s.d)
				}
				a.nothingSentTimer = 0
				return t
			case probeAbort:
				// Emerge queue is full; maybe not on the next tick.
				return SendTarget{}
			}
		}
		s.i = 0
	}
	return SendTarget{}
}

// probeNear decides what to do with one map block candidate based on
// its load state.
func (a *Autosend) probeNear(s *search, p geom.BlockPos, genAllowed bool, now time.Time) probeResult {
	cl := a.client

	var notOnDisk, emergeRequired bool
	b := cl.world.Block(p)
	if b != nil {
		// Will be of use shortly; keep it resident.
		b.ResetUsageTimer(now)

		// Dummy means a disk load already came back empty.
		if b.IsDummy() {
			notOnDisk = true
		}
		if !b.IsValid() {
			emergeRequired = true
		}
		if !b.IsGenerated() && genAllowed {
			emergeRequired = true
		}
	}

	if !genAllowed && notOnDisk {
		return probeSkip
	}
	if b == nil || notOnDisk || emergeRequired {
		return a.requestEmerge(s, p, genAllowed)
	}
	return probeSend
}

// probeFar decides what to do with one far block candidate. A far
// block is sendable once the far map knows anything about it; the
// middle map block acts as the emerge probe for unknown regions, and
// later emerges refresh the far block through the dirty set.
func (a *Autosend) probeFar(s *search, p geom.BlockPos, genAllowed bool, now time.Time) probeResult {
	cl := a.client

	center := p.FarBlockCenter()
	if b := cl.world.Block(center); b != nil {
		b.ResetUsageTimer(now)
		if b.IsDummy() && !genAllowed {
			return probeSkip
		}
	}
	if cl.farMap.Known(p) {
		return probeSend
	}
	return a.requestEmerge(s, center, genAllowed)
}

func (a *Autosend) requestEmerge(s *search, p geom.BlockPos, genAllowed bool) probeResult {
	if a.client.emerge.Enqueue(a.client.Peer, p, genAllowed) {
		if s.nearestEmergeQueuedD == math.MaxInt32 {
			s.nearestEmergeQueuedD = int32(s.d)
		}
		return probeSkip
	}
	if s.nearestEmergeFullD == math.MaxInt32 {
		s.nearestEmergeFullD = int32(s.d)
	}
	return probeAbort
}

// blockAtWorldPos returns the map block containing a world position.
// Node centers sit on the BS lattice, so coordinates round.
func blockAtWorldPos(p mgl64.Vec3) geom.BlockPos {
	return geom.NodeToBlock(
		int16(math.Round(p.X()/geom.BS)),
		int16(math.Round(p.Y()/geom.BS)),
		int16(math.Round(p.Z()/geom.BS)),
	)
}
