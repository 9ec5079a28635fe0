// Package cellcode decodes scalar, array, and bitfield cells out of a raw
// telemetry frame buffer at a (offset, type, count) descriptor. All
// multi-byte numerics are little-endian, matching the simulator's native
// wire format.
package cellcode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/apexdata/pitwall/internal/pitwallerr"
)

// CellType tags the wire representation of a telemetry variable.
type CellType uint8

const (
	Char CellType = iota
	Bool
	Int8
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Float32
	Float64
	BitField
)

// Size returns the number of bytes a single element of t occupies on the
// wire. It is a pure function of the tag.
func Size(t CellType) int {
	switch t {
	case Char, Bool, Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Float32, BitField:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

func (t CellType) String() string {
	switch t {
	case Char:
		return "Char"
	case Bool:
		return "Bool"
	case Int8:
		return "Int8"
	case UInt8:
		return "UInt8"
	case Int16:
		return "Int16"
	case UInt16:
		return "UInt16"
	case Int32:
		return "Int32"
	case UInt32:
		return "UInt32"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case BitField:
		return "BitField"
	default:
		return "Unknown"
	}
}

// descriptor is the minimal shape cellcode needs from a schema.VarInfo,
// kept local to avoid an import cycle between cellcode and schema.
type descriptor struct {
	Offset int
	Type   CellType
	Count  int
}

func boundsCheck(buf []byte, off, size int) error {
	if off < 0 || size < 0 || off+size > len(buf) {
		e := pitwallerr.New(pitwallerr.MemoryAccess,
			fmt.Sprintf("range [%d,%d) out of bounds for buffer of length %d", off, off+size, len(buf)), nil)
		e.Offset = int64(off)
		return e
	}
	return nil
}

func typeCheck(want, got CellType) error {
	if want != got {
		e := pitwallerr.New(pitwallerr.TypeMismatch,
			fmt.Sprintf("expected cell type %s, descriptor has %s", want, got), nil)
		e.ExpectedType = want.String()
		e.ActualType = got.String()
		return e
	}
	return nil
}

// DecodeChar decodes a single Char cell (one byte, treated as ASCII) at
// info's offset.
func DecodeChar(buf []byte, infoType CellType, offset int) (byte, error) {
	if err := typeCheck(Char, infoType); err != nil {
		return 0, err
	}
	if err := boundsCheck(buf, offset, 1); err != nil {
		return 0, err
	}
	return buf[offset], nil
}

// DecodeBool decodes a single Bool cell: any non-zero byte is true.
func DecodeBool(buf []byte, infoType CellType, offset int) (bool, error) {
	if err := typeCheck(Bool, infoType); err != nil {
		return false, err
	}
	if err := boundsCheck(buf, offset, 1); err != nil {
		return false, err
	}
	return buf[offset] != 0, nil
}

// DecodeInt8 decodes a single signed byte cell.
func DecodeInt8(buf []byte, infoType CellType, offset int) (int8, error) {
	if err := typeCheck(Int8, infoType); err != nil {
		return 0, err
	}
	if err := boundsCheck(buf, offset, 1); err != nil {
		return 0, err
	}
	return int8(buf[offset]), nil
}

// DecodeUInt8 decodes a single unsigned byte cell.
func DecodeUInt8(buf []byte, infoType CellType, offset int) (uint8, error) {
	if err := typeCheck(UInt8, infoType); err != nil {
		return 0, err
	}
	if err := boundsCheck(buf, offset, 1); err != nil {
		return 0, err
	}
	return buf[offset], nil
}

// DecodeInt16 decodes a little-endian signed 16-bit cell.
func DecodeInt16(buf []byte, infoType CellType, offset int) (int16, error) {
	if err := typeCheck(Int16, infoType); err != nil {
		return 0, err
	}
	if err := boundsCheck(buf, offset, 2); err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(buf[offset:])), nil
}

// DecodeUInt16 decodes a little-endian unsigned 16-bit cell.
func DecodeUInt16(buf []byte, infoType CellType, offset int) (uint16, error) {
	if err := typeCheck(UInt16, infoType); err != nil {
		return 0, err
	}
	if err := boundsCheck(buf, offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[offset:]), nil
}

// DecodeInt32 decodes a little-endian signed 32-bit cell.
func DecodeInt32(buf []byte, infoType CellType, offset int) (int32, error) {
	if err := typeCheck(Int32, infoType); err != nil {
		return 0, err
	}
	if err := boundsCheck(buf, offset, 4); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[offset:])), nil
}

// DecodeUInt32 decodes a little-endian unsigned 32-bit cell.
func DecodeUInt32(buf []byte, infoType CellType, offset int) (uint32, error) {
	if err := typeCheck(UInt32, infoType); err != nil {
		return 0, err
	}
	if err := boundsCheck(buf, offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[offset:]), nil
}

// DecodeFloat32 decodes a little-endian IEEE-754 32-bit float cell. NaN
// bit patterns are preserved exactly: the conversion goes through
// math.Float32frombits, never through a textual or arithmetic path that
// could canonicalize a NaN payload.
func DecodeFloat32(buf []byte, infoType CellType, offset int) (float32, error) {
	if err := typeCheck(Float32, infoType); err != nil {
		return 0, err
	}
	if err := boundsCheck(buf, offset, 4); err != nil {
		return 0, err
	}
	bits := binary.LittleEndian.Uint32(buf[offset:])
	return math.Float32frombits(bits), nil
}

// DecodeFloat64 decodes a little-endian IEEE-754 64-bit float cell.
func DecodeFloat64(buf []byte, infoType CellType, offset int) (float64, error) {
	if err := typeCheck(Float64, infoType); err != nil {
		return 0, err
	}
	if err := boundsCheck(buf, offset, 8); err != nil {
		return 0, err
	}
	bits := binary.LittleEndian.Uint64(buf[offset:])
	return math.Float64frombits(bits), nil
}

// BitFieldValue is the decoded value of a BitField cell: a 4-byte
// little-endian unsigned value with bit-testing helpers.
type BitFieldValue uint32

// IsSet reports whether bit k (0-31) is set.
func (b BitFieldValue) IsSet(k uint) bool {
	return (uint32(b)>>k)&1 == 1
}

// HasFlag reports whether any bit in mask is set.
func (b BitFieldValue) HasFlag(mask uint32) bool {
	return uint32(b)&mask != 0
}

// Value returns the raw 32-bit value.
func (b BitFieldValue) Value() uint32 {
	return uint32(b)
}

// DecodeBitField decodes a single BitField cell.
func DecodeBitField(buf []byte, infoType CellType, offset int) (BitFieldValue, error) {
	if err := typeCheck(BitField, infoType); err != nil {
		return 0, err
	}
	if err := boundsCheck(buf, offset, 4); err != nil {
		return 0, err
	}
	return BitFieldValue(binary.LittleEndian.Uint32(buf[offset:])), nil
}

// DecodeFloat32Array decodes count consecutive Float32 elements starting
// at offset, each size(Float32) bytes apart.
func DecodeFloat32Array(buf []byte, infoType CellType, offset, count int) ([]float32, error) {
	if err := typeCheck(Float32, infoType); err != nil {
		return nil, err
	}
	out := make([]float32, count)
	for i := 0; i < count; i++ {
		elemOff := offset + i*4
		if err := boundsCheck(buf, elemOff, 4); err != nil {
			return nil, err
		}
		bits := binary.LittleEndian.Uint32(buf[elemOff:])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

// DecodeInt32Array decodes count consecutive Int32 elements starting at
// offset.
func DecodeInt32Array(buf []byte, infoType CellType, offset, count int) ([]int32, error) {
	if err := typeCheck(Int32, infoType); err != nil {
		return nil, err
	}
	out := make([]int32, count)
	for i := 0; i < count; i++ {
		elemOff := offset + i*4
		if err := boundsCheck(buf, elemOff, 4); err != nil {
			return nil, err
		}
		out[i] = int32(binary.LittleEndian.Uint32(buf[elemOff:]))
	}
	return out, nil
}

// TickAfter reports whether tick a is logically after tick b under
// 32-bit wraparound arithmetic, matching the simulator's tick counter
// semantics: a is after b iff the wrapping difference a-b, interpreted as
// unsigned, is less than 2^31.
func TickAfter(a, b uint32) bool {
	return a-b < 1<<31
}
