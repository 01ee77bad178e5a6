package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/config"
	"github.com/voxelgo/server/internal/data"
	"github.com/voxelgo/server/internal/emerge"
	"github.com/voxelgo/server/internal/geom"
	"github.com/voxelgo/server/internal/world"
)

// emptyStore is a block store with nothing on disk.
type emptyStore struct{}

func (emptyStore) LoadBlock(context.Context, geom.BlockPos) ([]byte, bool, error) {
	return nil, false, nil
}

func (emptyStore) SaveBlock(context.Context, geom.BlockPos, []byte, bool) error {
	return nil
}

type emergeCall struct {
	peer     uint16
	pos      geom.BlockPos
	allowGen bool
}

// instantEmerger accepts every request and completes it synchronously
// the way a worker with an instant generator would: missing blocks
// come out as generated air and their far pieces are published.
type instantEmerger struct {
	m      *world.Map
	farMap *world.ServerFarMap
	calls  []emergeCall
	reject bool
	stall  bool
}

func (e *instantEmerger) Enqueue(peer uint16, pos geom.BlockPos, allowGen bool, callbacks ...emerge.CompletionCallback) bool {
	if e.reject {
		return false
	}
	e.calls = append(e.calls, emergeCall{peer, pos, allowGen})
	if e.stall {
		// Accepted but never completed, like a saturated worker pool.
		return true
	}

	b, status, err := e.m.GetBlockOrStartGen(context.Background(), pos, allowGen)
	if err != nil {
		return false
	}
	action := emerge.ActionCancelled
	switch status {
	case world.StatusFromMemory:
		action = emerge.ActionFromMemory
	case world.StatusFromDisk:
		action = emerge.ActionFromDisk
	case world.StatusGenPrepared:
		b.Fill(data.ContentAir)
		b.SetGenerated(true)
		b, _ = e.m.FinishGen(b)
		action = emerge.ActionGenerated
	}
	if e.farMap != nil && b != nil && b.IsValid() {
		if content, generated, ok := e.m.SnapshotContent(pos); ok {
			ls := world.LSNotGenerated
			if generated {
				ls = world.LSGenerated
			}
			e.farMap.UpdateFrom(world.GeneratePiece(pos, content, e.farMap.NodeTable()), ls)
		}
	}
	for _, cb := range callbacks {
		cb(pos, action)
	}
	return true
}

func (e *instantEmerger) callsFor(pos geom.BlockPos) []emergeCall {
	var out []emergeCall
	for _, c := range e.calls {
		if c.pos == pos {
			out = append(out, c)
		}
	}
	return out
}

func testNodeTable(t *testing.T) *data.NodeTable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodes.yaml")
	src := "nodes:\n  - id: 0\n    name: stone\n    solid: true\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	table, err := data.LoadNodes(path)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func defaultMapConfig() config.MapConfig {
	return config.MapConfig{
		MaxSimultaneousBlockSends:   10,
		MaxBlockSendDistance:        9,
		MaxBlockGenerateDistance:    6,
		FullSendMinTimeFromBuilding: 2 * time.Second,
	}
}

// testEnv wires a client environment against an empty world.
type testEnv struct {
	world   *world.Map
	farMap  *world.ServerFarMap
	emerger *instantEmerger
	deps    Deps
}

func newTestEnv(t *testing.T, cfg config.MapConfig) *testEnv {
	t.Helper()
	m := world.NewMap(emptyStore{}, zap.NewNop())
	fm := world.NewServerFarMap(testNodeTable(t))
	em := &instantEmerger{m: m, farMap: fm}
	return &testEnv{
		world:   m,
		farMap:  fm,
		emerger: em,
		deps: Deps{
			Log:    zap.NewNop(),
			Cfg:    cfg,
			World:  m,
			FarMap: fm,
			Emerge: em,
			Shells: geom.NewFaceShellCache(),
		},
	}
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	return newTestEnv(t, defaultMapConfig()).deps
}
