package system

import (
	"testing"
	"time"
)

type recordingSystem struct {
	phase Phase
	log   *[]Phase
}

func (s *recordingSystem) Phase() Phase { return s.phase }

func (s *recordingSystem) Update(time.Duration) {
	*s.log = append(*s.log, s.phase)
}

func TestTickRunsInPhaseOrder(t *testing.T) {
	var log []Phase
	r := NewRunner()
	// Registered out of order on purpose.
	for _, p := range []Phase{PhaseOutput, PhaseInput, PhaseCleanup, PhaseUpdate} {
		r.Register(&recordingSystem{phase: p, log: &log})
	}

	r.Tick(time.Millisecond)

	want := []Phase{PhaseInput, PhaseUpdate, PhaseOutput, PhaseCleanup}
	if len(log) != len(want) {
		t.Fatalf("ran %d systems, want %d", len(log), len(want))
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("execution order %v, want %v", log, want)
		}
	}
}

func TestTickPhaseRunsOnlyThatPhase(t *testing.T) {
	var log []Phase
	r := NewRunner()
	r.Register(&recordingSystem{phase: PhaseInput, log: &log})
	r.Register(&recordingSystem{phase: PhaseOutput, log: &log})

	r.TickPhase(PhaseInput, time.Millisecond)

	if len(log) != 1 || log[0] != PhaseInput {
		t.Fatalf("TickPhase ran %v, want just the input phase", log)
	}
}

func TestRegisterAfterTickResorts(t *testing.T) {
	var log []Phase
	r := NewRunner()
	r.Register(&recordingSystem{phase: PhaseOutput, log: &log})
	r.Tick(time.Millisecond)

	r.Register(&recordingSystem{phase: PhaseInput, log: &log})
	log = log[:0]
	r.Tick(time.Millisecond)

	if len(log) != 2 || log[0] != PhaseInput || log[1] != PhaseOutput {
		t.Fatalf("execution order %v, want input before output", log)
	}
}
