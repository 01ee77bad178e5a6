package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// CameraView is a per-cycle snapshot of a player's camera used for
// sight tests. Pos is the eye position in world units, Dir a unit
// view direction, Fov the total view angle in radians.
type CameraView struct {
	Pos mgl64.Vec3
	Dir mgl64.Vec3
	Fov float64
}

// DirectionFromAngles converts player pitch and yaw (degrees) into a
// unit view direction. Zero pitch and yaw faces +Z.
func DirectionFromAngles(pitch, yaw float64) mgl64.Vec3 {
	p := mgl64.DegToRad(pitch)
	y := mgl64.DegToRad(yaw)
	return mgl64.Vec3{
		-math.Cos(p) * math.Sin(y),
		-math.Sin(p),
		math.Cos(p) * math.Cos(y),
	}
}

// BlockCenter returns the world-unit center of a block. scale is 1 for
// map blocks and FarScale for far blocks.
func BlockCenter(p BlockPos, scale int16) mgl64.Vec3 {
	edge := float64(scale) * MapBlockSize * BS
	return mgl64.Vec3{
		float64(p.X)*edge + edge/2,
		float64(p.Y)*edge + edge/2,
		float64(p.Z)*edge + edge/2,
	}
}

// BlockVisible reports whether any part of the block can fall inside
// the camera's view cone within maxRange world units. Blocks close
// enough to touch the camera pass unconditionally; beyond that the
// camera is pulled back far enough that a block with any visible
// portion has a visible center, and the center is tested against the
// cone half-angle.
func BlockVisible(view CameraView, p BlockPos, scale int16, maxRange float64) (bool, float64) {
	rel := BlockCenter(p, scale).Sub(view.Pos)
	d := rel.Len()
	if d > maxRange {
		return false, d
	}

	blockMaxRadius := 0.5 * 1.44 * 1.44 * float64(scale) * MapBlockSize * BS
	if d < blockMaxRadius {
		return true, d
	}

	adjdist := blockMaxRadius / math.Cos((math.Pi-view.Fov)/2)
	adjPos := view.Pos.Sub(view.Dir.Mul(adjdist))
	relAdj := BlockCenter(p, scale).Sub(adjPos)
	dforward := relAdj.Dot(view.Dir)
	cosangle := dforward / relAdj.Len()

	return cosangle >= math.Cos(view.Fov/2), d
}
