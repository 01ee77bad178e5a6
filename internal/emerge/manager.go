package emerge

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/config"
	"github.com/voxelgo/server/internal/core/event"
	"github.com/voxelgo/server/internal/fatal"
	"github.com/voxelgo/server/internal/geom"
	"github.com/voxelgo/server/internal/mapgen"
	"github.com/voxelgo/server/internal/scripting"
	"github.com/voxelgo/server/internal/world"
)

// PeerAnonymous marks requests not attributed to any client; they are
// exempt from the per-peer quotas.
const PeerAnonymous uint16 = 0

const (
	flagAllowGen   uint16 = 1 << 0
	flagForceQueue uint16 = 1 << 1
)

// CompletionCallback runs on the worker goroutine once a request
// resolves. Implementations must not block.
type CompletionCallback func(pos geom.BlockPos, action Action)

// blockEmergeData is the coalesced state of one queued position.
type blockEmergeData struct {
	flags         uint16
	peerRequested uint16
	callbacks     []CompletionCallback
}

// Manager owns the request map, the per-peer counters and the worker
// pool. One mutex guards the request map and every worker's queue, the
// way the request and dispatch state is a single consistent unit.
type Manager struct {
	log    *zap.Logger
	world  *world.Map
	farMap *world.ServerFarMap
	script *scripting.Engine // may be nil
	bus    *event.Bus
	fatal  *fatal.Reporter

	genFactory mapgen.Factory
	debugInfo  bool

	qlimitTotal    uint16
	qlimitDiskonly uint16
	qlimitGenerate uint16

	mu         sync.Mutex
	enqueued   map[geom.BlockPos]*blockEmergeData
	peerCounts map[uint16]uint16
	workers    []*worker

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewManager(
	cfg config.EmergeConfig,
	genFactory mapgen.Factory,
	w *world.Map,
	farMap *world.ServerFarMap,
	script *scripting.Engine,
	bus *event.Bus,
	rep *fatal.Reporter,
	log *zap.Logger,
) (*Manager, error) {
	nthreads := cfg.Threads()

	qlimitTotal := cfg.QueueLimitTotal
	if qlimitTotal < 1 {
		qlimitTotal = 1
	}
	qlimitDiskonly := cfg.QueueLimitDiskonly
	if qlimitDiskonly == 0 {
		qlimitDiskonly = uint16(nthreads*5 + 1)
	}
	qlimitGenerate := cfg.QueueLimitGenerate
	if qlimitGenerate == 0 {
		qlimitGenerate = uint16(nthreads + 1)
	}

	m := &Manager{
		log:            log,
		world:          w,
		farMap:         farMap,
		script:         script,
		bus:            bus,
		fatal:          rep,
		genFactory:     genFactory,
		debugInfo:      cfg.MapgenDebugInfo,
		qlimitTotal:    qlimitTotal,
		qlimitDiskonly: qlimitDiskonly,
		qlimitGenerate: qlimitGenerate,
		enqueued:       make(map[geom.BlockPos]*blockEmergeData),
		peerCounts:     make(map[uint16]uint16),
		stop:           make(chan struct{}),
	}

	for i := 0; i < nthreads; i++ {
		gen, err := genFactory()
		if err != nil {
			return nil, fmt.Errorf("worker %d mapgen: %w", i, err)
		}
		m.workers = append(m.workers, &worker{
			id:   i,
			gen:  gen,
			wake: make(chan struct{}, 1),
		})
	}
	return m, nil
}

// NumWorkers returns the pool size.
func (m *Manager) NumWorkers() int { return len(m.workers) }

// QueueSize returns the number of distinct positions queued.
func (m *Manager) QueueSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enqueued)
}

// StartWorkers launches the pool.
func (m *Manager) StartWorkers() {
	for _, w := range m.workers {
		m.wg.Add(1)
		go m.workerRun(w)
	}
	m.log.Info("emerge workers started",
		zap.Int("workers", len(m.workers)),
		zap.Uint16("queue_limit_total", m.qlimitTotal),
		zap.Uint16("queue_limit_diskonly", m.qlimitDiskonly),
		zap.Uint16("queue_limit_generate", m.qlimitGenerate))
}

// StopWorkers stops the pool, waits for in-flight work, then resolves
// everything still queued as CANCELLED so no callback is left hanging.
func (m *Manager) StopWorkers() {
	close(m.stop)
	for _, w := range m.workers {
		w.signal()
	}
	m.wg.Wait()
	m.cancelPendingItems()
}

// Enqueue requests pos on behalf of peer. Returns false when the total
// queue limit or the peer's quota rejects the request.
func (m *Manager) Enqueue(peer uint16, pos geom.BlockPos, allowGen bool, callbacks ...CompletionCallback) bool {
	var flags uint16
	if allowGen {
		flags |= flagAllowGen
	}
	return m.enqueueEx(pos, peer, flags, callbacks)
}

// EnqueueForce requests pos bypassing the queue limits. Used for
// server-initiated work such as spawn prefetch.
func (m *Manager) EnqueueForce(peer uint16, pos geom.BlockPos, allowGen bool, callbacks ...CompletionCallback) bool {
	flags := flagForceQueue
	if allowGen {
		flags |= flagAllowGen
	}
	return m.enqueueEx(pos, peer, flags, callbacks)
}

func (m *Manager) enqueueEx(pos geom.BlockPos, peer uint16, flags uint16, callbacks []CompletionCallback) bool {
	var target *worker

	m.mu.Lock()
	accepted, isNew := m.pushBlockEmergeData(pos, peer, flags, callbacks)
	if !accepted {
		m.mu.Unlock()
		return false
	}
	if isNew {
		target = m.leastLoadedWorker()
		target.queue = append(target.queue, pos)
	}
	m.mu.Unlock()

	if target != nil {
		target.signal()
	}
	return true
}

// pushBlockEmergeData inserts or coalesces a request. Callers hold mu.
// On update the flags OR together and the callback list grows; the
// peer counter only moves for fresh inserts.
func (m *Manager) pushBlockEmergeData(pos geom.BlockPos, peer uint16, flags uint16, callbacks []CompletionCallback) (accepted, isNew bool) {
	if flags&flagForceQueue == 0 {
		if len(m.enqueued) >= int(m.qlimitTotal) {
			return false, false
		}
		if peer != PeerAnonymous {
			qlimitPeer := m.qlimitDiskonly
			if flags&flagAllowGen != 0 {
				qlimitPeer = m.qlimitGenerate
			}
			if m.peerCounts[peer] >= qlimitPeer {
				return false, false
			}
		}
	}

	bedata, found := m.enqueued[pos]
	if found {
		bedata.flags |= flags
		bedata.callbacks = append(bedata.callbacks, callbacks...)
		return true, false
	}

	m.enqueued[pos] = &blockEmergeData{
		flags:         flags,
		peerRequested: peer,
		callbacks:     append([]CompletionCallback(nil), callbacks...),
	}
	m.peerCounts[peer]++
	return true, true
}

// popBlockEmergeData removes the coalesced state for pos and releases
// its peer slot. Callers hold mu.
func (m *Manager) popBlockEmergeData(pos geom.BlockPos) (*blockEmergeData, bool) {
	bedata, found := m.enqueued[pos]
	if !found {
		return nil, false
	}
	delete(m.enqueued, pos)
	m.peerCounts[bedata.peerRequested]--
	return bedata, true
}

// leastLoadedWorker picks the worker with the shortest queue, lowest
// id on ties. Callers hold mu.
func (m *Manager) leastLoadedWorker() *worker {
	target := m.workers[0]
	lowest := len(target.queue)
	for _, w := range m.workers[1:] {
		if len(w.queue) < lowest {
			target = w
			lowest = len(w.queue)
		}
	}
	return target
}

// popFor takes the next queued position for w, skipping entries whose
// request state was already consumed.
func (m *Manager) popFor(w *worker) (geom.BlockPos, *blockEmergeData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(w.queue) > 0 {
		pos := w.queue[0]
		w.queue = w.queue[1:]
		if bedata, ok := m.popBlockEmergeData(pos); ok {
			return pos, bedata, true
		}
	}
	return geom.BlockPos{}, nil, false
}

// cancelPendingItems resolves every still-queued request as CANCELLED.
func (m *Manager) cancelPendingItems() {
	m.mu.Lock()
	type pending struct {
		pos    geom.BlockPos
		bedata *blockEmergeData
	}
	var drained []pending
	for _, w := range m.workers {
		for _, pos := range w.queue {
			if bedata, ok := m.popBlockEmergeData(pos); ok {
				drained = append(drained, pending{pos, bedata})
			}
		}
		w.queue = nil
	}
	m.mu.Unlock()

	for _, p := range drained {
		runCompletionCallbacks(p.pos, ActionCancelled, p.bedata.callbacks)
	}
}

func runCompletionCallbacks(pos geom.BlockPos, action Action, callbacks []CompletionCallback) {
	for _, cb := range callbacks {
		cb(pos, action)
	}
}
