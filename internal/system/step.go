package system

import (
	"time"

	"github.com/voxelgo/server/internal/client"
	coresys "github.com/voxelgo/server/internal/core/system"
)

// ClientStepSystem advances per-client housekeeping timers (the
// periodic player list log). Phase 2 (Update).
type ClientStepSystem struct {
	clients *client.Registry
}

func NewClientStepSystem(clients *client.Registry) *ClientStepSystem {
	return &ClientStepSystem{clients: clients}
}

func (s *ClientStepSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *ClientStepSystem) Update(dt time.Duration) {
	s.clients.Step(dt.Seconds())
}
