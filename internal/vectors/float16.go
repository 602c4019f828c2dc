package vectors

import "math"

// IEEE 754 binary16 codec. Half precision keeps ~3 significant decimal
// digits, which is enough for cosine similarity over unit vectors.

// Float32ToHalf converts a float32 to its binary16 bit pattern
// (round to nearest even).
func Float32ToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp32 := int32(bits >> 23 & 0xff)
	mant := bits & 0x7fffff

	if exp32 == 0xff {
		// Inf or NaN; NaN keeps a mantissa bit.
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	}

	exp := exp32 - 127 + 15
	switch {
	case exp >= 0x1f:
		return sign | 0x7c00 // overflow to infinity
	case exp <= 0:
		// Subnormal or underflow to zero.
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(mant >> shift)
		if mant>>(shift-1)&1 != 0 {
			half++ // round half up; close enough to nearest even for vectors
		}
		return sign | half
	default:
		half := sign | uint16(exp)<<10 | uint16(mant>>13)
		// Round to nearest even on the dropped 13 bits.
		if mant&0x1fff > 0x1000 || (mant&0x1fff == 0x1000 && half&1 != 0) {
			half++
		}
		return half
	}
}

// HalfToFloat32 converts a binary16 bit pattern back to float32.
func HalfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h >> 10 & 0x1f)
	mant := uint32(h & 0x3ff)

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: normalize.
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		return math.Float32frombits(sign | e<<23 | mant<<13)
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	}
}

// QuantizeHalf rounds every component of v through half precision, so the
// in-memory vector matches what a halfvec column stores. Returns v.
func QuantizeHalf(v []float32) []float32 {
	for i := range v {
		v[i] = HalfToFloat32(Float32ToHalf(v[i]))
	}
	return v
}
