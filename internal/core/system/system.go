package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: drain packet queues
	PhasePreUpdate               // 1: process last tick's events
	PhaseUpdate                  // 2: player state integration
	PhasePostUpdate              // 3: block send selection
	PhaseOutput                  // 4: build + send packets
	PhasePersist                 // 5: periodic block save
	PhaseCleanup                 // 6: drop dead sessions, unload blocks
)

// System is the interface every system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
