package packet

import (
	"encoding/binary"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/text/encoding/unicode"

	"github.com/voxelgo/server/internal/geom"
)

// Reader reads packet fields from a framed payload. Bytes 0-1 are
// always the opcode. All fields are big-endian. Reads past the end
// return zero values; handlers validate semantics, not framing.
type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data, off: 2} // skip opcode
}

func (r *Reader) Opcode() uint16 {
	if len(r.data) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(r.data)
}

// ReadU8 reads 1 unsigned byte.
func (r *Reader) ReadU8() uint8 {
	if r.off >= len(r.data) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

// ReadU16 reads 2 bytes as big-endian uint16.
func (r *Reader) ReadU16() uint16 {
	if r.off+2 > len(r.data) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

// ReadS16 reads 2 bytes as big-endian int16.
func (r *Reader) ReadS16() int16 {
	return int16(r.ReadU16())
}

// ReadU32 reads 4 bytes as big-endian uint32.
func (r *Reader) ReadU32() uint32 {
	if r.off+4 > len(r.data) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

// ReadS32 reads 4 bytes as big-endian int32.
func (r *Reader) ReadS32() int32 {
	return int32(r.ReadU32())
}

// ReadU64 reads 8 bytes as big-endian uint64.
func (r *Reader) ReadU64() uint64 {
	if r.off+8 > len(r.data) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

// ReadF1000 reads a signed 32-bit fixed-point value scaled by 1000.
func (r *Reader) ReadF1000() float64 {
	return float64(r.ReadS32()) / 1000.0
}

// ReadV3S16 reads three big-endian int16 coordinates as a block
// position.
func (r *Reader) ReadV3S16() geom.BlockPos {
	return geom.BlockPos{X: r.ReadS16(), Y: r.ReadS16(), Z: r.ReadS16()}
}

// ReadV3F1000 reads three F1000 components as a vector.
func (r *Reader) ReadV3F1000() mgl64.Vec3 {
	return mgl64.Vec3{r.ReadF1000(), r.ReadF1000(), r.ReadF1000()}
}

// ReadString reads a uint16 byte-length prefix followed by UTF-8
// bytes. A truncated string consumes the rest of the payload and
// returns empty.
func (r *Reader) ReadString() string {
	n := int(r.ReadU16())
	if r.off+n > len(r.data) {
		r.off = len(r.data)
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

// ReadWideString reads a uint16 code-unit count followed by UTF-16BE
// text and returns UTF-8.
func (r *Reader) ReadWideString() string {
	n := int(r.ReadU16()) * 2
	if r.off+n > len(r.data) {
		r.off = len(r.data)
		return ""
	}
	raw := r.data[r.off : r.off+n]
	r.off += n
	decoded, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return ""
	}
	return string(decoded)
}

// ReadBytes reads n raw bytes.
func (r *Reader) ReadBytes(n int) []byte {
	if r.off+n > len(r.data) {
		remaining := r.data[r.off:]
		r.off = len(r.data)
		return remaining
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}
