package velvet

import (
	"fmt"
	"math"
	"math/bits"
	"time"
)

// NoPTS marks a timestamp that is not set. It is never rescaled.
const NoPTS int64 = math.MinInt64

// TimeBase is a rational number of seconds per timestamp tick.
type TimeBase struct {
	Num int64
	Den int64
}

// Common time bases.
var (
	// NanoTimeBase maps ticks to nanoseconds.
	NanoTimeBase = TimeBase{1, int64(time.Second)}
	// MilliTimeBase maps ticks to milliseconds (FLV/RTMP timestamps).
	MilliTimeBase = TimeBase{1, 1000}
	// RTPVideoTimeBase is the 90 kHz clock used for video RTP timestamps.
	RTPVideoTimeBase = TimeBase{1, 90000}
)

// FramerateTimeBase returns the codec time base for a constant frame rate.
func FramerateTimeBase(fps int) TimeBase {
	return TimeBase{1, int64(fps)}
}

// Valid reports whether the time base can take part in a rescale.
func (tb TimeBase) Valid() bool {
	return tb.Num > 0 && tb.Den > 0
}

func (tb TimeBase) String() string {
	return fmt.Sprintf("%d/%d", tb.Num, tb.Den)
}

// Duration converts a tick count in this time base to a time.Duration.
func (tb TimeBase) Duration(v int64) time.Duration {
	if v == NoPTS {
		return 0
	}
	return time.Duration(Rescale(v, tb, NanoTimeBase))
}

// Rescale converts v from one time base to another:
//
//	v * from.Num * to.Den / (from.Den * to.Num)
//
// The product is computed in 128 bits and truncated toward zero, so the result
// is exact whenever it fits in an int64. NoPTS is returned unchanged.
// Rescale panics if either time base is not Valid.
func Rescale(v int64, from, to TimeBase) int64 {
	if v == NoPTS {
		return NoPTS
	}
	if !from.Valid() || !to.Valid() {
		panic(fmt.Sprintf("velvet: rescale with invalid time base %v -> %v", from, to))
	}
	if from == to {
		return v
	}

	neg := v < 0
	mag := uint64(v)
	if neg {
		mag = uint64(-v)
	}

	hi, lo := bits.Mul64(mag, uint64(from.Num))
	hi, lo = mul128x64(hi, lo, uint64(to.Den))
	div := mulDivisor(uint64(from.Den), uint64(to.Num))

	q, ok := div128(hi, lo, div)
	if !ok {
		if neg {
			return math.MinInt64 + 1
		}
		return math.MaxInt64
	}
	if neg {
		if q >= 1<<63 {
			return math.MinInt64 + 1
		}
		return -int64(q)
	}
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

// mul128x64 multiplies a 128-bit value by a 64-bit value, saturating on overflow.
func mul128x64(hi, lo, m uint64) (uint64, uint64) {
	h1, l1 := bits.Mul64(lo, m)
	h2, l2 := bits.Mul64(hi, m)
	if h2 != 0 {
		return math.MaxUint64, math.MaxUint64
	}
	sum, carry := bits.Add64(h1, l2, 0)
	if carry != 0 {
		return math.MaxUint64, math.MaxUint64
	}
	return sum, l1
}

// mulDivisor returns a*b, saturating to MaxUint64 (rescales with such
// divisors collapse to zero anyway).
func mulDivisor(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

// div128 divides a 128-bit value by d. ok is false when the quotient does
// not fit in 64 bits.
func div128(hi, lo, d uint64) (q uint64, ok bool) {
	if hi >= d {
		return 0, false
	}
	q, _ = bits.Div64(hi, lo, d)
	return q, true
}
