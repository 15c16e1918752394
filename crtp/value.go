package crtp

import (
	"fmt"
	"math"
)

// ValueType enumerates the firmware value types. The set is closed: the
// firmware defines these tags and nothing else, which keeps decoding
// exhaustive.
type ValueType uint8

const (
	TypeU8 ValueType = iota
	TypeU16
	TypeU32
	TypeU64
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeF16
	TypeF32
	TypeF64
)

var valueTypeString = map[ValueType]string{
	TypeU8:  "uint8",
	TypeU16: "uint16",
	TypeU32: "uint32",
	TypeU64: "uint64",
	TypeI8:  "int8",
	TypeI16: "int16",
	TypeI32: "int32",
	TypeI64: "int64",
	TypeF16: "float16",
	TypeF32: "float32",
	TypeF64: "float64",
}

func (t ValueType) String() string {
	if s, ok := valueTypeString[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ByteLength returns the wire width of the type.
func (t ValueType) ByteLength() int {
	switch t {
	case TypeU8, TypeI8:
		return 1
	case TypeU16, TypeI16, TypeF16:
		return 2
	case TypeU32, TypeI32, TypeF32:
		return 4
	case TypeU64, TypeI64, TypeF64:
		return 8
	}
	return 0
}

// Value is a tagged union over the firmware value types. The payload is
// kept as the raw little-endian bits of its declared width so that every
// value round-trips losslessly through encode/decode.
type Value struct {
	Type ValueType
	bits uint64
}

func Uint8(v uint8) Value   { return Value{TypeU8, uint64(v)} }
func Uint16(v uint16) Value { return Value{TypeU16, uint64(v)} }
func Uint32(v uint32) Value { return Value{TypeU32, uint64(v)} }
func Uint64(v uint64) Value { return Value{TypeU64, v} }
func Int8(v int8) Value     { return Value{TypeI8, uint64(uint8(v))} }
func Int16(v int16) Value   { return Value{TypeI16, uint64(uint16(v))} }
func Int32(v int32) Value   { return Value{TypeI32, uint64(uint32(v))} }
func Int64(v int64) Value   { return Value{TypeI64, uint64(v)} }
func Float32(v float32) Value {
	return Value{TypeF32, uint64(math.Float32bits(v))}
}
func Float64(v float64) Value {
	return Value{TypeF64, math.Float64bits(v)}
}

// Float16 stores v rounded to the nearest representable half-precision
// float.
func Float16(v float32) Value {
	return Value{TypeF16, uint64(float16FromFloat32(v))}
}

// ValueFromBytes decodes a little-endian value of the given type. The slice
// length must match the type width exactly.
func ValueFromBytes(t ValueType, b []byte) (Value, error) {
	n := t.ByteLength()
	if n == 0 {
		return Value{}, ErrorUnknownValueType
	}
	if len(b) != n {
		return Value{}, ErrorBadValueLength
	}
	var bits uint64
	for i := n - 1; i >= 0; i-- {
		bits = bits<<8 | uint64(b[i])
	}
	return Value{Type: t, bits: bits}, nil
}

// Bytes encodes the value in firmware byte order (little endian).
func (v Value) Bytes() []byte {
	n := v.Type.ByteLength()
	buf := make([]byte, n)
	bits := v.bits
	for i := 0; i < n; i++ {
		buf[i] = byte(bits)
		bits >>= 8
	}
	return buf
}

func (v Value) String() string {
	return fmt.Sprintf("%v (%s)", v.Interface(), v.Type)
}

// Interface returns the host-native representation of the value. Float16
// values surface as float32.
func (v Value) Interface() interface{} {
	switch v.Type {
	case TypeU8:
		return uint8(v.bits)
	case TypeU16:
		return uint16(v.bits)
	case TypeU32:
		return uint32(v.bits)
	case TypeU64:
		return v.bits
	case TypeI8:
		return int8(v.bits)
	case TypeI16:
		return int16(v.bits)
	case TypeI32:
		return int32(v.bits)
	case TypeI64:
		return int64(v.bits)
	case TypeF16:
		return float16ToFloat32(uint16(v.bits))
	case TypeF32:
		return math.Float32frombits(uint32(v.bits))
	case TypeF64:
		return math.Float64frombits(v.bits)
	}
	return nil
}

// Float64Lossy converts any value to a float64, losing precision for wide
// integers. Useful for display and for untyped REST clients.
func (v Value) Float64Lossy() float64 {
	switch x := v.Interface().(type) {
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

// ValueFromFloat64Lossy builds a value of the wanted type from a float64,
// truncating as needed. Integer conversion follows Go semantics.
func ValueFromFloat64Lossy(t ValueType, f float64) Value {
	switch t {
	case TypeU8:
		return Uint8(uint8(f))
	case TypeU16:
		return Uint16(uint16(f))
	case TypeU32:
		return Uint32(uint32(f))
	case TypeU64:
		return Uint64(uint64(f))
	case TypeI8:
		return Int8(int8(f))
	case TypeI16:
		return Int16(int16(f))
	case TypeI32:
		return Int32(int32(f))
	case TypeI64:
		return Int64(int64(f))
	case TypeF16:
		return Float16(float32(f))
	case TypeF32:
		return Float32(float32(f))
	default:
		return Float64(f)
	}
}

// float16ToFloat32 expands IEEE 754 binary16 bits. Subnormals are
// normalized, NaN and infinities map to their float32 counterparts.
func float16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)

	switch {
	case exp == 0x1F:
		if frac != 0 {
			return math.Float32frombits(sign | 0x7FC00000) // NaN
		}
		return math.Float32frombits(sign | 0x7F800000) // Inf
	case exp == 0:
		if frac == 0 {
			return math.Float32frombits(sign) // signed zero
		}
		e := uint32(113) // exponent of 2^-14 in binary32
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		return math.Float32frombits(sign | e<<23 | (frac&0x3FF)<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | frac<<13)
}

// float16FromFloat32 compresses a float32 to binary16 bits, rounding to
// nearest even. Overflow becomes infinity, underflow a signed zero.
func float16FromFloat32(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23) & 0xFF
	frac := bits & 0x7FFFFF

	if exp == 0xFF {
		if frac != 0 {
			return sign | 0x7E00 // NaN
		}
		return sign | 0x7C00 // Inf
	}

	e := exp - 127 + 15
	switch {
	case e >= 0x1F:
		return sign | 0x7C00 // overflow
	case e <= 0:
		if e < -10 {
			return sign // too small even for a subnormal
		}
		// subnormal: shift the full 24-bit mantissa into 10 bits
		frac |= 0x800000
		shift := uint32(14 - e)
		h := sign | uint16(frac>>shift)
		rem := frac & (1<<shift - 1)
		half := uint32(1) << (shift - 1)
		if rem > half || (rem == half && h&1 == 1) {
			h++
		}
		return h
	}

	h := sign | uint16(e)<<10 | uint16(frac>>13)
	rem := frac & 0x1FFF
	if rem > 0x1000 || (rem == 0x1000 && h&1 == 1) {
		h++ // the carry propagating into the exponent is the correct result
	}
	return h
}
