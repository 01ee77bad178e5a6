package event

import "github.com/voxelgo/server/internal/geom"

// Event types carried between ticks.

// BlocksEmerged is published by emerge workers once a load or
// generation finishes; the dispatch system fans the positions out to
// every client's dirty tracking.
type BlocksEmerged struct {
	Positions []geom.BlockPos
}

type ClientJoined struct {
	Peer uint16
	Name string
}

type ClientLeft struct {
	Peer      uint16
	SessionID uint64
}
