package client

import (
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/voxelgo/server/internal/geom"
)

const testFov = 72 * math.Pi / 180

// driveTicks advances the autosend loop, acknowledging every proposed
// block immediately, until the idle pause engages or maxTicks pass.
// Returns every target proposed, in order.
func driveTicks(cl *RemoteClient, now *time.Time, maxTicks int) []SendTarget {
	var proposed []SendTarget
	for tick := 0; tick < maxTicks; tick++ {
		cl.CycleAutosend(0.1)
		for {
			tgt := cl.NextBlock(*now)
			if !tgt.Valid() {
				break
			}
			cl.MarkSending(tgt, *now)
			cl.GotBlock(tgt, *now)
			proposed = append(proposed, tgt)
		}
		*now = now.Add(100 * time.Millisecond)
		if cl.autosend.nothingToSendPauseTimer > 0 {
			break
		}
	}
	return proposed
}

func staticPlayerAtOrigin() PlayerState {
	return PlayerState{Pos: mgl64.Vec3{}, Speed: mgl64.Vec3{}, Pitch: 0, Yaw: 0}
}

func TestNearCoverageCompletesWithPause(t *testing.T) {
	cfg := defaultMapConfig()
	cfg.MaxBlockGenerateDistance = 5
	env := newTestEnv(t, cfg)

	cl := NewRemoteClient(3, env.deps, time.Unix(1000, 0))
	cl.UpdatePlayer(staticPlayerAtOrigin())
	cl.SetAutosendParameters(5, 0, defaultFarWeight, testFov)

	now := time.Unix(5000, 0)
	proposed := driveTicks(cl, &now, 5000)

	if cl.autosend.nothingToSendPauseTimer <= 0 {
		t.Fatal("idle pause never engaged")
	}
	if !cl.autosend.fovLimitEnabled {
		t.Error("sight limiting not re-enabled at the idle pause")
	}

	// Guaranteed coverage: every block strictly inside the search
	// radius and inside the Euclidean ball the client draws. The
	// outermost shell stays subject to the sight check even during
	// the unlimited pass, so it is only sent where visible.
	rangeLimit := 5.0 * geom.MapBlockSize * geom.BS
	expected := make(map[SendTarget]struct{})
	for x := int16(-4); x <= 4; x++ {
		for y := int16(-4); y <= 4; y++ {
			for z := int16(-4); z <= 4; z++ {
				p := geom.BlockPos{X: x, Y: y, Z: z}
				if geom.BlockCenter(p, 1).Len() <= rangeLimit {
					expected[NearTarget(p)] = struct{}{}
				}
			}
		}
	}

	got := make(map[SendTarget]struct{})
	for _, tgt := range proposed {
		if tgt.Kind != SendNearBlock {
			t.Fatalf("far target %s proposed with radius_far=0", tgt)
		}
		if _, dup := got[tgt]; dup {
			t.Errorf("target %s proposed twice", tgt)
		}
		got[tgt] = struct{}{}

		p := tgt.Pos
		if p.X < -5 || p.X > 5 || p.Y < -5 || p.Y > 5 || p.Z < -5 || p.Z > 5 {
			t.Errorf("block %s outside the search radius", tgt)
		}
		if geom.BlockCenter(p, 1).Len() > rangeLimit {
			t.Errorf("block %s outside the range ball", tgt)
		}
	}
	for tgt := range expected {
		if _, ok := got[tgt]; !ok {
			t.Errorf("block %s never proposed", tgt)
		}
	}

	// Every proposed block was generated on demand first.
	for tgt := range got {
		calls := env.emerger.callsFor(tgt.Pos)
		if len(calls) == 0 {
			t.Errorf("block %s never emerged", tgt)
			continue
		}
		if !calls[0].allowGen {
			t.Errorf("block %s emerged without generation allowed", tgt)
		}
	}
}

func TestFovLimitTogglePhases(t *testing.T) {
	env := newTestEnv(t, defaultMapConfig())

	cl := NewRemoteClient(4, env.deps, time.Unix(1000, 0))
	cl.UpdatePlayer(staticPlayerAtOrigin()) // facing +Z
	cl.SetAutosendParameters(4, 0, defaultFarWeight, testFov)

	behind := NearTarget(geom.BlockPos{Z: -3})

	now := time.Unix(5000, 0)
	sawDisabled := false
	var whileEnabled, whileDisabled []SendTarget
	for tick := 0; tick < 5000; tick++ {
		cl.CycleAutosend(0.1)
		enabled := cl.autosend.fovLimitEnabled
		if !enabled {
			sawDisabled = true
		}
		for {
			tgt := cl.NextBlock(now)
			if !tgt.Valid() {
				break
			}
			cl.MarkSending(tgt, now)
			cl.GotBlock(tgt, now)
			if enabled {
				whileEnabled = append(whileEnabled, tgt)
			} else {
				whileDisabled = append(whileDisabled, tgt)
			}
		}
		now = now.Add(100 * time.Millisecond)
		if cl.autosend.nothingToSendPauseTimer > 0 {
			break
		}
	}

	if !sawDisabled {
		t.Fatal("sight limiting never dropped for the catch-up pass")
	}
	if cl.autosend.nothingToSendPauseTimer <= 0 {
		t.Fatal("idle pause never engaged")
	}
	if !cl.autosend.fovLimitEnabled {
		t.Error("sight limiting not re-enabled after the catch-up pass")
	}

	for _, tgt := range whileEnabled {
		if tgt == behind {
			t.Fatal("behind-camera block proposed while sight limiting active")
		}
	}
	found := false
	for _, tgt := range whileDisabled {
		if tgt == behind {
			found = true
		}
	}
	if !found {
		t.Error("behind-camera block never proposed in the unlimited pass")
	}
}

func TestFocusMoveRewindsResume(t *testing.T) {
	env := newTestEnv(t, defaultMapConfig())
	cl := NewRemoteClient(5, env.deps, time.Unix(1000, 0))
	cl.UpdatePlayer(staticPlayerAtOrigin())
	cl.SetAutosendParameters(6, 0, defaultFarWeight, testFov)

	// Everything near the focus is already delivered, so one full
	// scan window finds nothing and the resume radius advances past
	// it.
	now := time.Unix(5000, 0)
	for x := int16(-2); x <= 2; x++ {
		for y := int16(-2); y <= 2; y++ {
			for z := int16(-2); z <= 2; z++ {
				cl.sent[NearTarget(geom.BlockPos{X: x, Y: y, Z: z})] = now
			}
		}
	}

	cl.CycleAutosend(0.1)
	if tgt := cl.NextBlock(now); tgt.Valid() {
		t.Fatalf("pre-delivered block %s proposed again", tgt)
	}
	cl.CycleAutosend(0.1)
	if d := cl.autosend.near.nearestUnsentD; d != 3 {
		t.Fatalf("near resume = %d after scanning shells 0..2, want 3", d)
	}

	// Two blocks over is a different focus block.
	moved := staticPlayerAtOrigin()
	moved.Pos = mgl64.Vec3{2 * geom.MapBlockSize * geom.BS, 0, 0}
	cl.UpdatePlayer(moved)
	cl.CycleAutosend(0.1)

	if d := cl.autosend.near.nearestUnsentD; d != 0 {
		t.Errorf("near resume = %d after focus move, want 0", d)
	}
}

func TestCycleDisabledConditions(t *testing.T) {
	env := newTestEnv(t, defaultMapConfig())

	t.Run("no player", func(t *testing.T) {
		cl := NewRemoteClient(6, env.deps, time.Unix(1000, 0))
		cl.SetAutosendParameters(5, 0, defaultFarWeight, testFov)
		cl.CycleAutosend(0.1)
		if !cl.autosend.cyc.disabled {
			t.Error("cycle enabled without a player")
		}
	})

	t.Run("zero radii", func(t *testing.T) {
		cl := NewRemoteClient(7, env.deps, time.Unix(1000, 0))
		cl.UpdatePlayer(staticPlayerAtOrigin())
		cl.SetAutosendParameters(0, 0, defaultFarWeight, testFov)
		cl.CycleAutosend(0.1)
		if !cl.autosend.cyc.disabled {
			t.Error("cycle enabled with both radii zero")
		}
	})

	t.Run("in flight full", func(t *testing.T) {
		cl := NewRemoteClient(8, env.deps, time.Unix(1000, 0))
		cl.UpdatePlayer(staticPlayerAtOrigin())
		cl.SetAutosendParameters(5, 0, defaultFarWeight, testFov)
		now := time.Unix(5000, 0)
		for i := int16(0); i < int16(defaultMapConfig().MaxSimultaneousBlockSends); i++ {
			cl.MarkSending(NearTarget(geom.BlockPos{X: 100 + i}), now)
		}
		cl.CycleAutosend(0.1)
		if !cl.autosend.cyc.disabled {
			t.Error("cycle enabled with the in-flight window full")
		}
	})

	t.Run("pause pending", func(t *testing.T) {
		cl := NewRemoteClient(9, env.deps, time.Unix(1000, 0))
		cl.UpdatePlayer(staticPlayerAtOrigin())
		cl.SetAutosendParameters(5, 0, defaultFarWeight, testFov)
		cl.autosend.nothingToSendPauseTimer = 1.5
		cl.CycleAutosend(0.1)
		if !cl.autosend.cyc.disabled {
			t.Error("cycle enabled during the idle pause")
		}
	})
}

func TestFinishSearchBranches(t *testing.T) {
	s := newSearch(SendNearBlock, 0, 9)
	s.nearestEmergeQueuedD = 3
	s.nearestSendQueuedD = 1
	res := finishSearch(&s, 9)
	if !res.recheckPending || res.nearestUnsentD != 1 {
		t.Errorf("recheck result = %+v, want pending at 1", res)
	}

	s = newSearch(SendNearBlock, 8, 9)
	s.d = 10 // loop ran past the cap
	res = finishSearch(&s, 9)
	if !res.searchedFullRange || res.nearestUnsentD != 0 {
		t.Errorf("full-range result = %+v", res)
	}

	s = newSearch(SendNearBlock, 0, 9)
	s.d = 3
	res = finishSearch(&s, 9)
	if res.recheckPending || res.searchedFullRange || res.nearestUnsentD != 3 {
		t.Errorf("continue result = %+v, want plain resume at 3", res)
	}
}

func TestNewSearchBite(t *testing.T) {
	cases := []struct {
		dStart, dCap int16
		wantMax      int16
	}{
		{0, 9, 2},
		{4, 9, 6},
		{5, 9, 6},
		{7, 9, 8},
		{8, 9, 8},
		{9, 9, 9},
		{4, 5, 5},
	}
	for _, c := range cases {
		s := newSearch(SendNearBlock, c.dStart, c.dCap)
		if s.dMax != c.wantMax {
			t.Errorf("newSearch(%d, cap %d): dMax = %d, want %d",
				c.dStart, c.dCap, s.dMax, c.wantMax)
		}
		if s.d != c.dStart {
			t.Errorf("newSearch(%d, cap %d): d = %d", c.dStart, c.dCap, s.d)
		}
	}

	disabled := newSearch(SendFarBlock, 0, 0)
	if disabled.dMax != -1 {
		t.Errorf("zero cap: dMax = %d, want -1", disabled.dMax)
	}
}

func TestSetParametersClamps(t *testing.T) {
	env := newTestEnv(t, defaultMapConfig())
	cl := NewRemoteClient(10, env.deps, time.Unix(1000, 0))

	cl.SetAutosendParameters(-3, 99, 0, 0)
	p := cl.autosend.params
	if p.radiusMap != 0 {
		t.Errorf("negative radius clamped to %d, want 0", p.radiusMap)
	}
	if p.radiusFar != 9 {
		t.Errorf("oversized far radius clamped to %d, want 9", p.radiusFar)
	}
	if p.farWeight != defaultFarWeight {
		t.Errorf("zero far weight = %v, want default", p.farWeight)
	}
	if p.fov != minFov {
		t.Errorf("zero fov = %v, want %v", p.fov, minFov)
	}

	cl.SetAutosendParameters(4, 2, 2.5, math.Pi)
	p = cl.autosend.params
	if p.fov != maxFov {
		t.Errorf("oversized fov = %v, want %v", p.fov, maxFov)
	}
	if p.radiusMap != 4 || p.radiusFar != 2 || p.farWeight != 2.5 {
		t.Errorf("in-range parameters altered: %+v", p)
	}
}

func TestBuildingThrottle(t *testing.T) {
	if got := maxSimultaneousSends(10, 0.5, 2.0, 1); got != 10 {
		t.Errorf("close block throttled to %d", got)
	}
	if got := maxSimultaneousSends(10, 0.5, 2.0, 4); got != limitedSimultaneousSends {
		t.Errorf("recent build not throttled: %d", got)
	}
	if got := maxSimultaneousSends(10, 3.0, 2.0, 4); got != 10 {
		t.Errorf("stale build throttled to %d", got)
	}
}

func TestFarLadderSendsKnownFarBlocks(t *testing.T) {
	env := newTestEnv(t, defaultMapConfig())
	cl := NewRemoteClient(11, env.deps, time.Unix(1000, 0))
	cl.UpdatePlayer(staticPlayerAtOrigin())
	cl.SetAutosendParameters(2, 2, defaultFarWeight, testFov)

	now := time.Unix(5000, 0)
	proposed := driveTicks(cl, &now, 2000)

	var farSent []SendTarget
	for _, tgt := range proposed {
		if tgt.Kind == SendFarBlock {
			farSent = append(farSent, tgt)
		}
	}
	if len(farSent) == 0 {
		t.Fatal("no far blocks proposed with radius_far=2")
	}
	sentFar := func(p geom.BlockPos) bool {
		for _, tgt := range farSent {
			if tgt == FarTarget(p) {
				return true
			}
		}
		return false
	}

	// The origin far block turns known as a side effect of near
	// emerges underneath it.
	if !sentFar(geom.BlockPos{}) {
		t.Error("origin far block never proposed")
	}

	// A far block with no near coverage needs its middle map block
	// emerged as a probe first.
	beyond := geom.BlockPos{X: 1}
	probe := geom.BlockPos{X: 12, Y: 4, Z: 4}
	if len(env.emerger.callsFor(probe)) == 0 {
		t.Error("far probe block never emerged")
	}
	if !env.farMap.Known(beyond) {
		t.Error("probed far block still unknown")
	}
	if !sentFar(beyond) {
		t.Error("probed far block never proposed")
	}
}

func TestEmergeRejectionRecordsResumeRadius(t *testing.T) {
	env := newTestEnv(t, defaultMapConfig())
	env.emerger.reject = true

	cl := NewRemoteClient(12, env.deps, time.Unix(1000, 0))
	cl.UpdatePlayer(staticPlayerAtOrigin())
	cl.SetAutosendParameters(5, 0, defaultFarWeight, testFov)

	now := time.Unix(5000, 0)
	cl.CycleAutosend(0.1)
	if tgt := cl.NextBlock(now); tgt.Valid() {
		t.Fatalf("target %s proposed while the emerge queue rejects", tgt)
	}
	cl.CycleAutosend(0.1)
	if d := cl.autosend.near.nearestUnsentD; d != 0 {
		t.Errorf("resume radius = %d after rejection at shell 0, want 0", d)
	}

	// Queue relief lets the scan move again.
	env.emerger.reject = false
	var progressed bool
	for tick := 0; tick < 50 && !progressed; tick++ {
		for {
			tgt := cl.NextBlock(now)
			if !tgt.Valid() {
				break
			}
			cl.MarkSending(tgt, now)
			cl.GotBlock(tgt, now)
			progressed = true
		}
		now = now.Add(100 * time.Millisecond)
		cl.CycleAutosend(0.1)
	}
	if !progressed {
		t.Error("no block proposed after queue relief")
	}
}

func TestStalledEmergeDropsSightLimit(t *testing.T) {
	env := newTestEnv(t, defaultMapConfig())
	env.emerger.stall = true

	cl := NewRemoteClient(13, env.deps, time.Unix(1000, 0))
	cl.UpdatePlayer(staticPlayerAtOrigin())
	cl.SetAutosendParameters(5, 0, defaultFarWeight, testFov)

	// Every candidate queues for emerging and nothing ever comes back,
	// so each cycle ends with close-range work still pending.
	now := time.Unix(5000, 0)
	dropTick := -1
	for tick := 0; tick < 50; tick++ {
		cl.CycleAutosend(0.1)
		if !cl.autosend.fovLimitEnabled {
			dropTick = tick
			break
		}
		if tgt := cl.NextBlock(now); tgt.Valid() {
			t.Fatalf("target %s proposed while every emerge stalls", tgt)
		}
		now = now.Add(100 * time.Millisecond)
	}

	if len(env.emerger.calls) == 0 {
		t.Fatal("no emerge requests issued")
	}
	if dropTick < 0 {
		t.Fatal("sight limit never dropped on a stalled emerge queue")
	}
	if dropTick < 30 {
		t.Errorf("sight limit dropped after %d ticks, want none before 3s", dropTick)
	}
	if tm := cl.autosend.nothingSentTimer; tm >= 0.2 {
		t.Errorf("stall timer = %v after the drop, want restarted", tm)
	}
}

func TestPeriodicResetRewindsResume(t *testing.T) {
	env := newTestEnv(t, defaultMapConfig())
	cl := NewRemoteClient(14, env.deps, time.Unix(1000, 0))
	cl.UpdatePlayer(staticPlayerAtOrigin())
	cl.SetAutosendParameters(6, 2, defaultFarWeight, testFov)

	// Open a cycle so the focus is pinned; the rewind below must not be
	// explainable by a focus change.
	cl.CycleAutosend(0.1)

	// Long-connected drift: both ladders resumed well past shell zero.
	cl.autosend.cyc.near.d = 4
	cl.autosend.cyc.far.d = 1
	cl.autosend.nearestUnsentResetTimer = 10
	cl.autosend.farSweepCounter = 0
	cl.CycleAutosend(0.1)
	if d := cl.autosend.near.nearestUnsentD; d != 4 {
		t.Fatalf("near resume = %d short of the reset interval, want 4", d)
	}
	if d := cl.autosend.far.nearestUnsentD; d != 1 {
		t.Fatalf("far resume = %d short of the reset interval, want 1", d)
	}
	if d := cl.autosend.cyc.near.dStart; d != 4 {
		t.Fatalf("near search opened at %d, want 4", d)
	}

	cl.autosend.nearestUnsentResetTimer = 25
	cl.autosend.farSweepCounter = 0
	cl.CycleAutosend(0.1)
	if d := cl.autosend.near.nearestUnsentD; d != 0 {
		t.Errorf("near resume = %d after the periodic reset, want 0", d)
	}
	if d := cl.autosend.far.nearestUnsentD; d != 0 {
		t.Errorf("far resume = %d after the periodic reset, want 0", d)
	}
	if d := cl.autosend.cyc.near.dStart; d != 0 {
		t.Errorf("near search opened at %d after the reset, want 0", d)
	}
	if d := cl.autosend.cyc.far.dStart; d != 0 {
		t.Errorf("far search opened at %d after the reset, want 0", d)
	}
	if tm := cl.autosend.nearestUnsentResetTimer; tm != 0 {
		t.Errorf("reset timer = %v after firing, want 0", tm)
	}
}
