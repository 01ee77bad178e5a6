package net

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame payload. The largest legitimate
// frame is a far block batch, well under 1 MiB even uncompressed.
const MaxFrameSize = 1 << 20

// ReadFrame reads one packet frame from r.
// Wire format: [4 bytes BE: payload length][payload]. The payload
// begins with a 2-byte opcode.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	payloadLen := int(binary.BigEndian.Uint32(header[:]))
	if payloadLen < 2 || payloadLen > MaxFrameSize {
		return nil, fmt.Errorf("invalid frame length: %d", payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", payloadLen, err)
	}
	return payload, nil
}

// WriteFrame writes one packet frame to w.
// Wire format: [4 bytes BE: len(data)][data].
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}
