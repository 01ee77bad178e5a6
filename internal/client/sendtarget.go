package client

import (
	"fmt"

	"github.com/voxelgo/server/internal/geom"
)

// SendKind distinguishes the two transmission ladders.
type SendKind uint8

const (
	SendInvalid SendKind = iota
	SendNearBlock
	SendFarBlock
)

func (k SendKind) String() string {
	switch k {
	case SendNearBlock:
		return "near"
	case SendFarBlock:
		return "far"
	default:
		return "invalid"
	}
}

// SendTarget is the atomic unit of map transmission. For near targets
// Pos addresses a map block; for far targets Pos is in far block
// coordinates. The zero value is the invalid target.
type SendTarget struct {
	Kind SendKind
	Pos  geom.BlockPos
}

// NearTarget builds a map block target.
func NearTarget(pos geom.BlockPos) SendTarget {
	return SendTarget{Kind: SendNearBlock, Pos: pos}
}

// FarTarget builds a far block target.
func FarTarget(pos geom.BlockPos) SendTarget {
	return SendTarget{Kind: SendFarBlock, Pos: pos}
}

// Valid reports whether the target names a block at all.
func (t SendTarget) Valid() bool { return t.Kind != SendInvalid }

func (t SendTarget) String() string {
	return fmt.Sprintf("%s%s", t.Kind, t.Pos)
}
