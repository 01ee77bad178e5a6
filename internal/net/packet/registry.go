package packet

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/voxelgo/server/internal/client"
)

// HandlerFunc is the callback signature for packet handlers.
// The session pointer is passed as an opaque interface to avoid import cycles.
type HandlerFunc func(sess any, r *Reader)

type handlerEntry struct {
	fn  HandlerFunc
	min client.State
}

// Registry maps opcodes to handlers. Each handler declares the minimum
// client lifecycle state it needs; packets arriving earlier than that,
// or on a terminal client, are logged and dropped.
type Registry struct {
	handlers map[uint16]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[uint16]*handlerEntry),
		log:      log,
	}
}

// Register maps an opcode to a handler with its minimum state.
func (reg *Registry) Register(opcode uint16, min client.State, fn HandlerFunc) {
	reg.handlers[opcode] = &handlerEntry{fn: fn, min: min}
}

// Dispatch finds the handler for the opcode in data[0:2], validates
// the client state, and calls the handler. Under-state and unknown
// packets are dropped without error; only malformed frames and handler
// panics are returned to the caller.
func (reg *Registry) Dispatch(sess any, state client.State, data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("short packet: %d bytes", len(data))
	}
	r := NewReader(data)
	opcode := r.Opcode()
	reg.log.Debug("packet received",
		zap.Uint16("opcode", opcode),
		zap.Int("size", len(data)),
		zap.String("state", state.String()),
	)

	entry, ok := reg.handlers[opcode]
	if !ok {
		reg.log.Debug("unknown opcode", zap.Uint16("opcode", opcode), zap.String("state", state.String()))
		return nil // silently ignore unknown opcodes
	}

	if state.Terminal() || state < entry.min {
		reg.log.Warn("opcode not allowed in state",
			zap.Uint16("opcode", opcode),
			zap.String("state", state.String()),
			zap.String("min", entry.min.String()),
		)
		return nil
	}

	return reg.safeCall(entry.fn, sess, r, opcode)
}

// safeCall executes a handler with panic recovery to prevent a single
// bad packet from crashing the entire game loop.
func (reg *Registry) safeCall(fn HandlerFunc, sess any, r *Reader, opcode uint16) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.Uint16("opcode", opcode),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for opcode %d: %v", opcode, rec)
		}
	}()
	fn(sess, r)
	return nil
}
