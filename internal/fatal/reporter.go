// Package fatal carries fatal errors from worker goroutines to the
// game loop. Workers never unwind into the loop's control path; they
// record the failure here and the loop polls it once per tick.
package fatal

import "sync"

// Reporter keeps the first fatal message set on it. Later calls are
// dropped so the original cause is what gets reported.
type Reporter struct {
	mu  sync.Mutex
	msg string
	set bool
}

func NewReporter() *Reporter {
	return &Reporter{}
}

// Set records msg unless a fatal error was already recorded.
func (r *Reporter) Set(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set {
		return
	}
	r.msg = msg
	r.set = true
}

// Get returns the recorded message, or "" if none was set.
func (r *Reporter) Get() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msg
}
