package geom

import "fmt"

// World geometry constants. MapBlockSize and FarScale have wire
// significance and must not change between server and client.
const (
	// MapBlockSize is the edge length of a map block in nodes.
	MapBlockSize = 16

	// FarScale is the edge length of a far block in map blocks.
	FarScale = 8

	// BS is the size of one node in world units.
	BS = 10.0

	// MapGenLimit is the maximum absolute node coordinate the map
	// may contain. Blocks beyond it are never generated or sent.
	MapGenLimit = 31000
)

// BlockPos addresses one map block on the signed 16-bit block lattice.
// The same type addresses far blocks; those coordinates are block
// coordinates divided by FarScale.
type BlockPos struct {
	X, Y, Z int16
}

func (p BlockPos) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z)
}

// Add returns p offset by o.
func (p BlockPos) Add(o BlockPos) BlockPos {
	return BlockPos{p.X + o.X, p.Y + o.Y, p.Z + o.Z}
}

// Container returns the position of the size d container holding p,
// flooring toward negative infinity so that -1/d lands in container -1.
func (p BlockPos) Container(d int16) BlockPos {
	return BlockPos{floorDiv(p.X, d), floorDiv(p.Y, d), floorDiv(p.Z, d)}
}

// FarPos returns the far block containing the map block p.
func (p BlockPos) FarPos() BlockPos {
	return p.Container(FarScale)
}

// OverLimit reports whether any coordinate of the block lies outside
// the hard map limit. Over-limit positions are never dispatched.
func (p BlockPos) OverLimit() bool {
	const lim = MapGenLimit / MapBlockSize
	return p.X < -lim || p.X > lim ||
		p.Y < -lim || p.Y > lim ||
		p.Z < -lim || p.Z > lim
}

// OverLimitFar reports whether a far block lies entirely outside the
// hard map limit, so that none of its map blocks is addressable.
func (p BlockPos) OverLimitFar() bool {
	const lim = MapGenLimit / MapBlockSize
	lo := floorDiv(-lim, FarScale)
	hi := floorDiv(lim, FarScale)
	return p.X < lo || p.X > hi ||
		p.Y < lo || p.Y > hi ||
		p.Z < lo || p.Z > hi
}

// FarBlockCenter returns the map block at the center of the far block
// p. p is in far block coordinates.
func (p BlockPos) FarBlockCenter() BlockPos {
	const half = FarScale / 2
	return BlockPos{
		p.X*FarScale + half,
		p.Y*FarScale + half,
		p.Z*FarScale + half,
	}
}

func floorDiv(p, d int16) int16 {
	if p >= 0 {
		return p / d
	}
	return (p - d + 1) / d
}

// NodeToBlock returns the block containing the given node position.
func NodeToBlock(x, y, z int16) BlockPos {
	return BlockPos{floorDiv(x, MapBlockSize), floorDiv(y, MapBlockSize), floorDiv(z, MapBlockSize)}
}
