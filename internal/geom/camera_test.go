package geom

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestDirectionFromAngles(t *testing.T) {
	cases := []struct {
		name       string
		pitch, yaw float64
		want       mgl64.Vec3
	}{
		{"level facing +Z", 0, 0, mgl64.Vec3{0, 0, 1}},
		{"looking straight down", 90, 0, mgl64.Vec3{0, -1, 0}},
		{"looking straight up", -90, 0, mgl64.Vec3{0, 1, 0}},
		{"level yaw 180", 0, 180, mgl64.Vec3{0, 0, -1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := DirectionFromAngles(c.pitch, c.yaw)
			if !got.ApproxEqualThreshold(c.want, 1e-9) {
				t.Errorf("DirectionFromAngles(%v, %v) = %v, want %v", c.pitch, c.yaw, got, c.want)
			}
		})
	}
}

func TestBlockVisibleCone(t *testing.T) {
	view := CameraView{
		Pos: mgl64.Vec3{0, 0, 0},
		Dir: mgl64.Vec3{0, 0, 1},
		Fov: mgl64.DegToRad(72),
	}
	maxRange := 10000.0 * BS

	// Far ahead on the view axis.
	if ok, _ := BlockVisible(view, BlockPos{0, 0, 20}, 1, maxRange); !ok {
		t.Error("block straight ahead should be visible")
	}

	// Far behind the camera.
	if ok, _ := BlockVisible(view, BlockPos{0, 0, -20}, 1, maxRange); ok {
		t.Error("block behind the camera should not be visible")
	}

	// Well outside the 36 degree half-angle.
	if ok, _ := BlockVisible(view, BlockPos{40, 0, 20}, 1, maxRange); ok {
		t.Error("block far off-axis should not be visible")
	}

	// Outside the range cap regardless of direction.
	if ok, _ := BlockVisible(view, BlockPos{0, 0, 20}, 1, 10*BS); ok {
		t.Error("block beyond maxRange should not be visible")
	}
}

func TestBlockVisibleTouchingCamera(t *testing.T) {
	view := CameraView{
		Pos: BlockCenter(BlockPos{0, 0, 0}, 1),
		Dir: mgl64.Vec3{0, 0, 1},
		Fov: mgl64.DegToRad(72),
	}
	// The block containing the camera is visible even though its
	// center is at zero forward distance.
	if ok, _ := BlockVisible(view, BlockPos{0, 0, 0}, 1, 10000*BS); !ok {
		t.Error("block containing the camera should be visible")
	}
	// Same rule applies to the nearest neighbor behind; it is within
	// the touching radius.
	if ok, _ := BlockVisible(view, BlockPos{0, 0, -1}, 1, 10000*BS); !ok {
		t.Error("adjacent block should pass the touching-radius rule")
	}
}

func TestBlockVisibleDistanceReturned(t *testing.T) {
	view := CameraView{Pos: mgl64.Vec3{0, 0, 0}, Dir: mgl64.Vec3{0, 0, 1}, Fov: mgl64.DegToRad(72)}
	_, d := BlockVisible(view, BlockPos{0, 0, 3}, 1, 10000*BS)
	want := BlockCenter(BlockPos{0, 0, 3}, 1).Len()
	if math.Abs(d-want) > 1e-9 {
		t.Errorf("distance = %v, want %v", d, want)
	}
}
