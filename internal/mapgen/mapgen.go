// Package mapgen fills blank blocks with terrain. Each emerge worker
// owns its own Generator instance, so implementations may keep scratch
// state without locking.
package mapgen

import (
	"fmt"

	"github.com/voxelgo/server/internal/data"
	"github.com/voxelgo/server/internal/geom"
	"github.com/voxelgo/server/internal/world"
)

type Generator interface {
	Name() string
	Generate(b *world.MapBlock)
}

// Params carries the knobs shared by all generators.
type Params struct {
	Seed       int64
	WaterLevel int16
	Nodes      *data.NodeTable
}

// Factory builds one Generator; the emerge manager calls it once per
// worker.
type Factory func() (Generator, error)

// NewFactory resolves a generator name from config.
func NewFactory(name string, params Params) (Factory, error) {
	switch name {
	case "flat":
		return func() (Generator, error) { return NewFlat(params), nil }, nil
	case "noise":
		return func() (Generator, error) { return NewNoise(params), nil }, nil
	default:
		return nil, fmt.Errorf("unknown mapgen %q", name)
	}
}

// palette resolves the node names generators place. Missing
// definitions degrade toward stone so a sparse nodes.yaml still
// produces terrain.
type palette struct {
	stone, dirt, grass, sand, water uint16
}

func newPalette(nodes *data.NodeTable) palette {
	p := palette{
		stone: data.ContentUnknown,
		dirt:  data.ContentUnknown,
		grass: data.ContentUnknown,
		sand:  data.ContentUnknown,
		water: data.ContentUnknown,
	}
	if nodes == nil {
		return p
	}
	p.stone = nodes.IDByName("stone")
	fallback := func(id uint16) uint16 {
		if id == data.ContentUnknown {
			return p.stone
		}
		return id
	}
	p.dirt = fallback(nodes.IDByName("dirt"))
	p.grass = fallback(nodes.IDByName("grass"))
	p.sand = fallback(nodes.IDByName("sand"))
	p.water = fallback(nodes.IDByName("water"))
	return p
}

// Flat generates stone up to y=0 with air above, plus water up to the
// water level. Useful for tests and benchmarks.
type Flat struct {
	params  Params
	palette palette
}

func NewFlat(params Params) *Flat {
	return &Flat{params: params, palette: newPalette(params.Nodes)}
}

func (g *Flat) Name() string { return "flat" }

func (g *Flat) Generate(b *world.MapBlock) {
	baseY := int(b.Pos.Y) * geom.MapBlockSize
	for y := 0; y < geom.MapBlockSize; y++ {
		worldY := baseY + y
		var id uint16
		switch {
		case worldY < 0:
			id = g.palette.stone
		case worldY < int(g.params.WaterLevel):
			id = g.palette.water
		default:
			id = data.ContentAir
		}
		for z := 0; z < geom.MapBlockSize; z++ {
			for x := 0; x < geom.MapBlockSize; x++ {
				b.SetNode(x, y, z, id)
			}
		}
	}
}
