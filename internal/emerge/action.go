// Package emerge dispatches block load/generate requests to a worker
// pool. Requests coalesce per position, per-peer quotas bound how much
// of the queue one client can occupy, and completions are reported
// through callbacks on the worker goroutine.
package emerge

import "fmt"

// Action is the outcome of one emerge request.
type Action int

const (
	ActionCancelled Action = iota
	ActionFromMemory
	ActionFromDisk
	ActionGenerated
)

func (a Action) String() string {
	switch a {
	case ActionCancelled:
		return "CANCELLED"
case ActionFromMemory:
		return "FROM_MEMORY"
	case ActionFromDisk:
		return "FROM_DISK"
	case ActionGenerated:
		return "GENERATED"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}
