package geom

import "sync"

// FaceShellCache memoizes the lattice points lying on the surface of an
// L-infinity ball of radius d. Shell order is fixed at generation time
// so scans can resume from a saved index; callers must not modify the
// returned slice. The cache is shared by all clients.
type FaceShellCache struct {
	mu     sync.RWMutex
	shells map[int16][]BlockPos
}

func NewFaceShellCache() *FaceShellCache {
	return &FaceShellCache{shells: make(map[int16][]BlockPos)}
}

// Shell returns the face positions for radius d. Radius 0 is the single
// point (0,0,0); radius d covers 24*d*d+2 points.
func (c *FaceShellCache) Shell(d int16) []BlockPos {
	c.mu.RLock()
	ps, ok := c.shells[d]
	c.mu.RUnlock()
	if ok {
		return ps
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ps, ok := c.shells[d]; ok {
		return ps
	}
	ps = generateShell(d)
	c.shells[d] = ps
	return ps
}

func generateShell(d int16) []BlockPos {
	if d == 0 {
		return []BlockPos{{0, 0, 0}}
	}
	if d == 1 {
		// Hand-ordered so the most useful neighbors come first:
		// top, back, sides, then edges, then corners.
		return []BlockPos{
			{0, 1, 0}, {0, 0, 1}, {-1, 0, 0}, {1, 0, 0}, {0, 0, -1}, {0, -1, 0},
			{-1, 0, 1}, {1, 0, 1}, {-1, 0, -1}, {1, 0, -1},
			{-1, -1, 0}, {1, -1, 0}, {0, -1, 1}, {0, -1, -1},
			{-1, 1, 0}, {1, 1, 0}, {0, 1, 1}, {0, 1, -1},
			{-1, 1, 1}, {1, 1, 1}, {-1, 1, -1}, {1, 1, -1},
			{-1, -1, 1}, {1, -1, 1}, {-1, -1, -1}, {1, -1, -1},
		}
	}

	ps := make([]BlockPos, 0, 24*int(d)*int(d)+2)

	// Walk the four vertical walls outward from y=0 so near-horizon
	// positions are visited before the poles.
	for y := int16(0); y <= d-1; y++ {
		// Left and right walls including borders.
		for z := -d; z <= d; z++ {
			ps = append(ps, BlockPos{d, y, z}, BlockPos{-d, y, z})
			if y != 0 {
				ps = append(ps, BlockPos{d, -y, z}, BlockPos{-d, -y, z})
			}
		}
		// Back and front walls excluding borders.
		for x := -d + 1; x <= d-1; x++ {
			ps = append(ps, BlockPos{x, y, d}, BlockPos{x, y, -d})
			if y != 0 {
				ps = append(ps, BlockPos{x, -y, d}, BlockPos{x, -y, -d})
			}
		}
	}

	// Bottom and top faces with borders.
	for x := -d; x <= d; x++ {
		for z := -d; z <= d; z++ {
			ps = append(ps, BlockPos{x, -d, z}, BlockPos{x, d, z})
		}
	}

	return ps
}
