package mapgen

import (
	"math"

	"github.com/voxelgo/server/internal/data"
	"github.com/voxelgo/server/internal/geom"
	"github.com/voxelgo/server/internal/world"
)

// Noise generates rolling terrain from a 2D value-noise heightmap:
// stone core, dirt cap, grass or sand surface, water filling basins up
// to the water level.
type Noise struct {
	params  Params
	palette palette
}

func NewNoise(params Params) *Noise {
	return &Noise{params: params, palette: newPalette(params.Nodes)}
}

func (g *Noise) Name() string { return "noise" }

func (g *Noise) Generate(b *world.MapBlock) {
	baseX := int(b.Pos.X) * geom.MapBlockSize
	baseY := int(b.Pos.Y) * geom.MapBlockSize
	baseZ := int(b.Pos.Z) * geom.MapBlockSize
	water := int(g.params.WaterLevel)

	for z := 0; z < geom.MapBlockSize; z++ {
		for x := 0; x < geom.MapBlockSize; x++ {
			h := g.heightAt(baseX+x, baseZ+z)
			surface := g.palette.grass
			if h < water+2 {
				surface = g.palette.sand
			}
			for y := 0; y < geom.MapBlockSize; y++ {
				worldY := baseY + y
				var id uint16
				switch {
				case worldY < h-3:
					id = g.palette.stone
				case worldY < h:
					id = g.palette.dirt
				case worldY == h:
					id = surface
				case worldY <= water:
					id = g.palette.water
				default:
					id = data.ContentAir
				}
				b.SetNode(x, y, z, id)
			}
		}
	}
}

// heightAt sums three octaves of value noise into a surface height
// around y=8 with roughly +-24 of relief.
func (g *Noise) heightAt(x, z int) int {
	h := 8.0
	h += 24 * g.valueNoise(float64(x)/192, float64(z)/192, 0)
	h += 8 * g.valueNoise(float64(x)/48, float64(z)/48, 1)
	h += 2 * g.valueNoise(float64(x)/12, float64(z)/12, 2)
	return int(math.Floor(h))
}

// valueNoise interpolates lattice values in [-1, 1) with smoothstep.
func (g *Noise) valueNoise(x, z float64, octave uint64) float64 {
	x0, z0 := math.Floor(x), math.Floor(z)
	fx, fz := x-x0, z-z0
	sx := fx * fx * (3 - 2*fx)
	sz := fz * fz * (3 - 2*fz)

	ix, iz := int64(x0), int64(z0)
	v00 := g.lattice(ix, iz, octave)
	v10 := g.lattice(ix+1, iz, octave)
	v01 := g.lattice(ix, iz+1, octave)
	v11 := g.lattice(ix+1, iz+1, octave)

	top := v00 + (v10-v00)*sx
	bottom := v01 + (v11-v01)*sx
	return top + (bottom-top)*sz
}

// lattice hashes a lattice point and the seed into [-1, 1).
func (g *Noise) lattice(x, z int64, octave uint64) float64 {
	h := uint64(g.params.Seed) ^ octave*0x9e3779b97f4a7c15
	h ^= uint64(x) * 0xbf58476d1ce4e5b9
	h ^= uint64(z) * 0x94d049bb133111eb
	h ^= h >> 31
	h *= 0xd6e8feb86659fd93
	h ^= h >> 32
	return float64(h>>11)/float64(1<<52) - 1
}
