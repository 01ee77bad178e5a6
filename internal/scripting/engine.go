package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/geom"
	"github.com/voxelgo/server/internal/world"
)

// Engine wraps a single gopher-lua VM for world hooks. LStates are not
// safe for concurrent use; emerge workers share this engine, so every
// entry point serializes on the mutex.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	vm.SetGlobal("server_log", vm.NewFunction(func(L *lua.LState) int {
		log.Info("lua: " + L.CheckString(1))
		return 0
	}))

	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}

	return e, nil
}

// loadDir loads all .lua files in a directory, sorted by name.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}

	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".lua") {
			continue
		}
		names = append(names, ent.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("script %s: %w", name, err)
		}
		e.log.Debug("script loaded", zap.String("path", path))
	}
	return nil
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}

// HasOnGenerated reports whether any loaded script defines the
// on_generated hook.
func (e *Engine) HasOnGenerated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vm.GetGlobal("on_generated") != lua.LNil
}

// OnGenerated calls the Lua on_generated function for a freshly
// generated block. The hook receives the block position and returns
// either nil or an array of node edits {x, y, z, id} in block-local
// coordinates, which are applied before the block is installed.
// Script errors are returned for the caller to escalate.
func (e *Engine) OnGenerated(b *world.MapBlock) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.vm.GetGlobal("on_generated")
	if fn == lua.LNil {
		return nil
	}

	// Build context table
	t := e.vm.NewTable()
	pos := e.vm.NewTable()
	pos.RawSetString("x", lua.LNumber(b.Pos.X))
	pos.RawSetString("y", lua.LNumber(b.Pos.Y))
	pos.RawSetString("z", lua.LNumber(b.Pos.Z))
	t.RawSetString("pos", pos)

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		return fmt.Errorf("lua on_generated: %w", err)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	if result == lua.LNil {
		return nil
	}
	rt, ok := result.(*lua.LTable)
	if !ok {
		return fmt.Errorf("lua on_generated returned %s, want table or nil", result.Type())
	}

	for i := 1; i <= rt.Len(); i++ {
		edit, ok := rt.RawGetInt(i).(*lua.LTable)
		if !ok {
			return fmt.Errorf("lua on_generated edit %d is not a table", i)
		}
		x := int(lua.LVAsNumber(edit.RawGetString("x")))
		y := int(lua.LVAsNumber(edit.RawGetString("y")))
		z := int(lua.LVAsNumber(edit.RawGetString("z")))
		id := int(lua.LVAsNumber(edit.RawGetString("id")))
		if x < 0 || x >= geom.MapBlockSize ||
			y < 0 || y >= geom.MapBlockSize ||
			z < 0 || z >= geom.MapBlockSize {
			return fmt.Errorf("lua on_generated edit %d at (%d,%d,%d) is out of block", i, x, y, z)
		}
		if id < 0 || id > 0xFFFF {
			return fmt.Errorf("lua on_generated edit %d has bad id %d", i, id)
		}
		b.SetNode(x, y, z, uint16(id))
	}
	return nil
}
