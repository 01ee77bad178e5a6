package packet

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/text/encoding/unicode"

	"github.com/voxelgo/server/internal/geom"
)

// Writer builds a server packet. All multi-byte writes are big-endian.
// The opcode occupies bytes 0-1.
type Writer struct {
	buf []byte
}

func NewWriter(opcode uint16) *Writer {
	w := &Writer{buf: make([]byte, 0, 64)}
	w.WriteU16(opcode)
	return w
}

// WriteU8 writes 1 byte.
func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

// WriteU16 writes 2 bytes big-endian.
func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteS16 writes 2 bytes big-endian signed.
func (w *Writer) WriteS16(v int16) {
	w.WriteU16(uint16(v))
}

// WriteU32 writes 4 bytes big-endian.
func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteS32 writes 4 bytes big-endian signed.
func (w *Writer) WriteS32(v int32) {
	w.WriteU32(uint32(v))
}

// WriteU64 writes 8 bytes big-endian.
func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteF1000 writes a float as signed 32-bit fixed point scaled by
// 1000. Values outside the representable range saturate.
func (w *Writer) WriteF1000(v float64) {
	scaled := math.Round(v * 1000.0)
	if scaled > math.MaxInt32 {
		scaled = math.MaxInt32
	} else if scaled < math.MinInt32 {
		scaled = math.MinInt32
	}
	w.WriteS32(int32(scaled))
}

// WriteV3S16 writes a block position as three big-endian int16.
func (w *Writer) WriteV3S16(p geom.BlockPos) {
	w.WriteS16(p.X)
	w.WriteS16(p.Y)
	w.WriteS16(p.Z)
}

// WriteV3F1000 writes a vector as three F1000 components.
func (w *Writer) WriteV3F1000(v mgl64.Vec3) {
	w.WriteF1000(v[0])
	w.WriteF1000(v[1])
	w.WriteF1000(v[2])
}

// WriteString writes a uint16 byte-length prefix followed by UTF-8
// bytes. Strings longer than 65535 bytes are truncated.
func (w *Writer) WriteString(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.WriteU16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteWideString writes a uint16 code-unit count followed by the
// string as UTF-16BE.
func (w *Writer) WriteWideString(s string) {
	encoded, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		encoded = nil
	}
	units := len(encoded) / 2
	if units > math.MaxUint16 {
		units = math.MaxUint16
		encoded = encoded[:units*2]
	}
	w.WriteU16(uint16(units))
	w.buf = append(w.buf, encoded...)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes returns the packet content, opcode included.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current length.
func (w *Writer) Len() int {
	return len(w.buf)
}
