package emerge

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/config"
	"github.com/voxelgo/server/internal/core/event"
	"github.com/voxelgo/server/internal/fatal"
	"github.com/voxelgo/server/internal/geom"
	"github.com/voxelgo/server/internal/mapgen"
	"github.com/voxelgo/server/internal/world"
)

type testEnv struct {
	m      *Manager
	world  *world.Map
	farMap *world.ServerFarMap
	bus    *event.Bus
	fatal  *fatal.Reporter
}

func newTestEnv(t *testing.T, cfg config.EmergeConfig) *testEnv {
	t.Helper()
	factory, err := mapgen.NewFactory("flat", mapgen.Params{})
	if err != nil {
		t.Fatalf("mapgen factory: %v", err)
	}
	env := &testEnv{
		world:  world.NewMap(nil, zap.NewNop()),
		farMap: world.NewServerFarMap(nil),
		bus:    event.NewBus(),
		fatal:  fatal.NewReporter(),
	}
	env.m, err = NewManager(cfg, factory, env.world, env.farMap, nil, env.bus, env.fatal, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return env
}

type result struct {
	pos    geom.BlockPos
	action Action
}

func collector(ch chan result) CompletionCallback {
	return func(pos geom.BlockPos, action Action) {
		ch <- result{pos, action}
	}
}

func waitResult(t *testing.T, ch chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no emerge completion within 5s")
		return result{}
	}
}

func TestQuotaDerivation(t *testing.T) {
	env := newTestEnv(t, config.EmergeConfig{NumThreads: 3})
	if env.m.NumWorkers() != 3 {
		t.Errorf("workers = %d, want 3", env.m.NumWorkers())
	}
	if env.m.qlimitTotal != 1 {
		t.Errorf("total limit = %d, want floor 1", env.m.qlimitTotal)
	}
	if env.m.qlimitDiskonly != 16 {
		t.Errorf("diskonly limit = %d, want 3*5+1", env.m.qlimitDiskonly)
	}
	if env.m.qlimitGenerate != 4 {
		t.Errorf("generate limit = %d, want 3+1", env.m.qlimitGenerate)
	}
}

func TestCoalescing(t *testing.T) {
	env := newTestEnv(t, config.EmergeConfig{NumThreads: 1, QueueLimitTotal: 16})
	pos := geom.BlockPos{X: 1}
	ch := make(chan result, 4)

	if !env.m.Enqueue(3, pos, false, collector(ch)) {
		t.Fatal("first enqueue rejected")
	}
	if !env.m.Enqueue(3, pos, true, collector(ch)) {
		t.Fatal("coalescing enqueue rejected")
	}
	if env.m.QueueSize() != 1 {
		t.Fatalf("QueueSize = %d, want 1 after coalescing", env.m.QueueSize())
	}

	w := env.m.workers[0]
	if len(w.queue) != 1 {
		t.Fatalf("worker queue = %d entries, want 1", len(w.queue))
	}
	gotPos, bedata, ok := env.m.popFor(w)
	if !ok || gotPos != pos {
		t.Fatalf("popFor = %v/%v", gotPos, ok)
	}
	if bedata.flags&flagAllowGen == 0 {
		t.Error("allow-gen flag lost in coalescing")
	}
	if len(bedata.callbacks) != 2 {
		t.Errorf("callbacks = %d, want 2", len(bedata.callbacks))
	}
	env.m.mu.Lock()
	if env.m.peerCounts[3] != 0 {
		t.Errorf("peer count = %d after pop, want 0", env.m.peerCounts[3])
	}
	env.m.mu.Unlock()
}

func TestPerPeerQuota(t *testing.T) {
	env := newTestEnv(t, config.EmergeConfig{
		NumThreads:         1,
		QueueLimitTotal:    100,
		QueueLimitDiskonly: 3,
		QueueLimitGenerate: 2,
	})
	const peer = 7

	if !env.m.Enqueue(peer, geom.BlockPos{X: 1}, true) {
		t.Fatal("gen request 1 rejected")
	}
	if !env.m.Enqueue(peer, geom.BlockPos{X: 2}, true) {
		t.Fatal("gen request 2 rejected")
	}
	if env.m.Enqueue(peer, geom.BlockPos{X: 3}, true) {
		t.Fatal("gen request 3 accepted past the generate quota")
	}
	// The disk-only quota is higher; the same peer may still load.
	if !env.m.Enqueue(peer, geom.BlockPos{X: 4}, false) {
		t.Fatal("disk request rejected under the diskonly quota")
	}
	if env.m.Enqueue(peer, geom.BlockPos{X: 5}, false) {
		t.Fatal("disk request accepted past the diskonly quota")
	}
	// Anonymous requests bypass per-peer quotas entirely.
	if !env.m.Enqueue(PeerAnonymous, geom.BlockPos{X: 6}, true) {
		t.Fatal("anonymous request hit a peer quota")
	}
}

func TestTotalLimitAndRetry(t *testing.T) {
	env := newTestEnv(t, config.EmergeConfig{NumThreads: 1, QueueLimitTotal: 2})

	if !env.m.Enqueue(1, geom.BlockPos{X: 1}, false) ||
		!env.m.Enqueue(1, geom.BlockPos{X: 2}, false) {
		t.Fatal("fill enqueues rejected")
	}
	if env.m.Enqueue(1, geom.BlockPos{X: 3}, false) {
		t.Fatal("enqueue accepted past the total limit")
	}
	// The limit applies before the duplicate lookup, so even a repeat
	// position waits its turn.
	if env.m.Enqueue(1, geom.BlockPos{X: 1}, true) {
		t.Fatal("repeat position accepted past the total limit")
	}
	// Force queue ignores the limit and coalesces into live entries.
	if !env.m.EnqueueForce(1, geom.BlockPos{X: 4}, false) {
		t.Fatal("force enqueue rejected")
	}
	if !env.m.EnqueueForce(1, geom.BlockPos{X: 1}, true) {
		t.Fatal("force coalesce rejected")
	}
	if env.m.QueueSize() != 3 {
		t.Fatalf("QueueSize = %d, want 3 after force coalesce", env.m.QueueSize())
	}
	// Draining below the limit lets the rejected position retry.
	env.m.popFor(env.m.workers[0])
	env.m.popFor(env.m.workers[0])
	if !env.m.Enqueue(1, geom.BlockPos{X: 3}, false) {
		t.Fatal("retry after drain rejected")
	}
}

func TestLeastLoadedSelection(t *testing.T) {
	env := newTestEnv(t, config.EmergeConfig{NumThreads: 3, QueueLimitTotal: 100})
	for i := int16(0); i < 5; i++ {
		if !env.m.Enqueue(PeerAnonymous, geom.BlockPos{X: i}, false) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	sizes := []int{
		len(env.m.workers[0].queue),
		len(env.m.workers[1].queue),
		len(env.m.workers[2].queue),
	}
	if sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("queue sizes = %v, want [2 2 1]", sizes)
	}
}

func TestWorkerGeneratesAndPublishes(t *testing.T) {
	env := newTestEnv(t, config.EmergeConfig{NumThreads: 2, QueueLimitTotal: 16})
	ch := make(chan result, 1)
	pos := geom.BlockPos{X: 1, Y: 2, Z: 3}

	env.m.StartWorkers()
	defer env.m.StopWorkers()

	if !env.m.Enqueue(1, pos, true, collector(ch)) {
		t.Fatal("enqueue rejected")
	}
	r := waitResult(t, ch)
	if r.pos != pos || r.action != ActionGenerated {
		t.Fatalf("completion = %v %v, want GENERATED at %v", r.pos, r.action, pos)
	}

	b := env.world.Block(pos)
	if b == nil || !b.IsGenerated() {
		t.Fatal("generated block not installed")
	}
	if got := env.farMap.State(pos); got != world.LSGenerated {
		t.Errorf("far state = %v, want GENERATED", got)
	}

	env.bus.SwapBuffers()
	var emerged []geom.BlockPos
	event.Subscribe(env.bus, func(ev event.BlocksEmerged) {
		emerged = append(emerged, ev.Positions...)
	})
	env.bus.DispatchAll()
	found := false
	for _, p := range emerged {
		if p == pos {
			found = true
		}
	}
	if !found {
		t.Error("BlocksEmerged event not published")
	}

	// A repeat emerge resolves from memory.
	if !env.m.Enqueue(1, pos, true, collector(ch)) {
		t.Fatal("repeat enqueue rejected")
	}
	if r := waitResult(t, ch); r.action != ActionFromMemory {
		t.Errorf("repeat completion = %v, want FROM_MEMORY", r.action)
	}
}

func TestCancelledWithoutGeneration(t *testing.T) {
	env := newTestEnv(t, config.EmergeConfig{NumThreads: 1, QueueLimitTotal: 16})
	ch := make(chan result, 1)
	pos := geom.BlockPos{X: -4}

	env.m.StartWorkers()
	defer env.m.StopWorkers()

	if !env.m.Enqueue(1, pos, false, collector(ch)) {
		t.Fatal("enqueue rejected")
	}
	if r := waitResult(t, ch); r.action != ActionCancelled {
		t.Fatalf("completion = %v, want CANCELLED", r.action)
	}
	// The miss is still reported to the far map.
	if got := env.farMap.State(pos); got != world.LSNotGenerated {
		t.Errorf("far state = %v, want NOT_GENERATED", got)
	}
}

func TestStopDrainsAsCancelled(t *testing.T) {
	env := newTestEnv(t, config.EmergeConfig{NumThreads: 2, QueueLimitTotal: 16})
	ch := make(chan result, 8)

	for i := int16(0); i < 4; i++ {
		if !env.m.Enqueue(1, geom.BlockPos{X: i}, true, collector(ch)) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	// Workers never started; stop must still resolve every request.
	env.m.StopWorkers()

	for i := 0; i < 4; i++ {
		if r := waitResult(t, ch); r.action != ActionCancelled {
			t.Fatalf("drain completion = %v, want CANCELLED", r.action)
		}
	}
	if env.m.QueueSize() != 0 {
		t.Errorf("QueueSize = %d after drain, want 0", env.m.QueueSize())
	}
}

// corruptStore hands back rows too short to be block payloads.
type corruptStore struct{}

func (corruptStore) LoadBlock(context.Context, geom.BlockPos) ([]byte, bool, error) {
	return []byte{0x01, 0x02, 0x03}, true, nil
}

func (corruptStore) SaveBlock(context.Context, geom.BlockPos, []byte, bool) error {
	return nil
}

func TestCorruptBlockCancelsAndReportsFatal(t *testing.T) {
	factory, err := mapgen.NewFactory("flat", mapgen.Params{})
	if err != nil {
		t.Fatalf("mapgen factory: %v", err)
	}
	rep := fatal.NewReporter()
	m, err := NewManager(config.EmergeConfig{NumThreads: 1, QueueLimitTotal: 16},
		factory, world.NewMap(corruptStore{}, zap.NewNop()), world.NewServerFarMap(nil),
		nil, event.NewBus(), rep, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.StartWorkers()
	defer m.StopWorkers()

	ch := make(chan result, 1)
	if !m.Enqueue(1, geom.BlockPos{X: 2}, true, collector(ch)) {
		t.Fatal("enqueue rejected")
	}
	// The request still resolves, with the cancelled outcome; the error
	// itself travels through the fatal reporter.
	if r := waitResult(t, ch); r.action != ActionCancelled {
		t.Fatalf("completion = %v, want CANCELLED", r.action)
	}
	if rep.Get() == "" {
		t.Error("corrupt row not reported to the fatal reporter")
	}
}

func TestOverLimitDroppedWithoutCallback(t *testing.T) {
	env := newTestEnv(t, config.EmergeConfig{NumThreads: 1, QueueLimitTotal: 16})
	ch := make(chan result, 2)
	over := geom.BlockPos{X: 1950} // past the map generation boundary
	normal := geom.BlockPos{X: 1}

	env.m.StartWorkers()
	defer env.m.StopWorkers()

	if !env.m.Enqueue(1, over, true, collector(ch)) {
		t.Fatal("over-limit enqueue rejected at the queue")
	}
	if !env.m.Enqueue(1, normal, true, collector(ch)) {
		t.Fatal("normal enqueue rejected")
	}
	// The single worker processes in order; once the normal position
	// resolves, the over-limit one has already been silently dropped.
	if r := waitResult(t, ch); r.pos != normal {
		t.Fatalf("completion for %v, want %v (over-limit must stay silent)", r.pos, normal)
	}
	select {
	case r := <-ch:
		t.Fatalf("unexpected completion %v %v for dropped position", r.pos, r.action)
	default:
	}
}
