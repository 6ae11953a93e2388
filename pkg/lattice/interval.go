// Package lattice implements the abstract domains the engine runs over:
// the interval lattice, the address-set lattice, and their reduced-product
// union, AbsVal.
package lattice

import "math"

// NegInf and PosInf are the extended-rational infinities. Ordinary bounds
// are plain int64; the extended-rational bounds used in the classic
// interval-widening literature collapse to ordinary integers for the
// integer/pointer IR this engine consumes.
const (
	NegInf = math.MinInt64
	PosInf = math.MaxInt64
)

// Interval is a closed interval [Lo, Hi] over the extended integers, or
// the distinguished Bottom ("no value").
type Interval struct {
	Lo, Hi int64
	bottom bool
}

// Bottom returns ⊥.
func Bottom() Interval { return Interval{bottom: true} }

// Top returns [-∞, +∞].
func Top() Interval { return Interval{Lo: NegInf, Hi: PosInf} }

// Num returns the numeral interval [k, k].
func Num(k int64) Interval { return Interval{Lo: k, Hi: k} }

// Range returns [lo, hi]; if lo > hi the result is ⊥ (callers should not
// rely on this — it exists so arithmetic that computes a crossed range
// degrades soundly instead of panicking).
func Range(lo, hi int64) Interval {
	if lo > hi {
		return Bottom()
	}
	return Interval{Lo: lo, Hi: hi}
}

// IsBottom reports whether i is ⊥.
func (i Interval) IsBottom() bool { return i.bottom }

// IsTop reports whether i is exactly [-∞, +∞].
func (i Interval) IsTop() bool { return !i.bottom && i.Lo == NegInf && i.Hi == PosInf }

// IsNumeral reports whether i is a single finite value.
func (i Interval) IsNumeral() bool {
	return !i.bottom && i.Lo == i.Hi && i.Lo != NegInf && i.Hi != PosInf
}

// Numeral returns the single value of a numeral interval and true, or
// (0, false) if i is not a numeral.
func (i Interval) Numeral() (int64, bool) {
	if i.IsNumeral() {
		return i.Lo, true
	}
	return 0, false
}

// Contains reports whether k lies within i.
func (i Interval) Contains(k int64) bool {
	if i.bottom {
		return false
	}
	return i.Lo <= k && k <= i.Hi
}

func addSat(a, b int64) int64 {
	if a == NegInf || b == NegInf {
		return NegInf
	}
	if a == PosInf || b == PosInf {
		return PosInf
	}
	sum := a + b
	// Overflow check: if signs of a,b agree but result sign differs, saturate.
	if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum > 0) {
		if a > 0 {
			return PosInf
		}
		return NegInf
	}
	return sum
}

func negSat(a int64) int64 {
	if a == NegInf {
		return PosInf
	}
	if a == PosInf {
		return NegInf
	}
	return -a
}

func subSat(a, b int64) int64 { return addSat(a, negSat(b)) }

func mulSat(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	inf := a == NegInf || a == PosInf || b == NegInf || b == PosInf
	if inf {
		neg := (a < 0) != (b < 0)
		if neg {
			return NegInf
		}
		return PosInf
	}
	// Overflow-checked multiply.
	hi := math.MaxInt64 / absI64(b)
	if absI64(a) > hi {
		if (a < 0) != (b < 0) {
			return NegInf
		}
		return PosInf
	}
	return a * b
}

func absI64(a int64) int64 {
	if a == NegInf {
		// -NegInf overflows int64 (two's-complement MinInt64 negates to
		// itself); its magnitude is unbounded, so PosInf is the sound
		// answer.
		return PosInf
	}
	if a < 0 {
		return -a
	}
	return a
}

// Add returns the sound join of i+j over all pairs of elements.
func (i Interval) Add(j Interval) Interval {
	if i.bottom || j.bottom {
		return Bottom()
	}
	return Interval{Lo: addSat(i.Lo, j.Lo), Hi: addSat(i.Hi, j.Hi)}
}

// Sub returns the sound result of i-j.
func (i Interval) Sub(j Interval) Interval {
	if i.bottom || j.bottom {
		return Bottom()
	}
	return Interval{Lo: subSat(i.Lo, j.Hi), Hi: subSat(i.Hi, j.Lo)}
}

// Mul returns the sound result of i*j.
func (i Interval) Mul(j Interval) Interval {
	if i.bottom || j.bottom {
		return Bottom()
	}
	candidates := [4]int64{
		mulSat(i.Lo, j.Lo), mulSat(i.Lo, j.Hi),
		mulSat(i.Hi, j.Lo), mulSat(i.Hi, j.Hi),
	}
	lo, hi := candidates[0], candidates[0]
	for _, c := range candidates[1:] {
		if c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	return Interval{Lo: lo, Hi: hi}
}

// Div returns the sound result of i/j. Division by an interval
// containing zero yields ⊤, not an error.
func (i Interval) Div(j Interval) Interval {
	if i.bottom || j.bottom {
		return Bottom()
	}
	if j.Contains(0) {
		return Top()
	}
	candidates := [4]int64{
		divSat(i.Lo, j.Lo), divSat(i.Lo, j.Hi),
		divSat(i.Hi, j.Lo), divSat(i.Hi, j.Hi),
	}
	lo, hi := candidates[0], candidates[0]
	for _, c := range candidates[1:] {
		if c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	return Interval{Lo: lo, Hi: hi}
}

func divSat(a, b int64) int64 {
	if b == 0 {
		if a >= 0 {
			return PosInf
		}
		return NegInf
	}
	if a == NegInf || a == PosInf {
		neg := (a < 0) != (b < 0)
		if neg {
			return NegInf
		}
		return PosInf
	}
	if b == NegInf || b == PosInf {
		return 0
	}
	return a / b
}

// Rem returns a sound over-approximation of i%j (sign follows the
// dividend, as in two's-complement remainder). Division by a range
// containing zero yields ⊤.
func (i Interval) Rem(j Interval) Interval {
	if i.bottom || j.bottom {
		return Bottom()
	}
	if j.Contains(0) {
		return Top()
	}
	bound := absI64(j.Lo)
	if absI64(j.Hi) > bound {
		bound = absI64(j.Hi)
	}
	if bound == PosInf || bound == 0 {
		return Top()
	}
	lo, hi := -(bound - 1), bound-1
	if i.Lo >= 0 {
		lo = 0
	}
	if i.Hi < 0 {
		hi = 0
	}
	return Interval{Lo: lo, Hi: hi}
}

// And, Or, Xor fold concrete numerals exactly; any interval with
// unknown bits widens to ⊤, matching "bitwise on integer
// intervals widens on unknown bits".
func (i Interval) And(j Interval) Interval { return bitwise(i, j, func(a, b int64) int64 { return a & b }) }
func (i Interval) Or(j Interval) Interval { return bitwise(i, j, func(a, b int64) int64 { return a | b }) }
func (i Interval) Xor(j Interval) Interval { return bitwise(i, j, func(a, b int64) int64 { return a ^ b }) }

func bitwise(i, j Interval, op func(a, b int64) int64) Interval {
	if i.bottom || j.bottom {
		return Bottom()
	}
	a, ok1 := i.Numeral()
	b, ok2 := j.Numeral()
	if ok1 && ok2 {
		return Num(op(a, b))
	}
	return Top()
}

// Shl, LShr, AShr are sound: shifting a range by a numeral shift scales
// the bounds; a non-numeral shift amount widens to ⊤.
func (i Interval) Shl(j Interval) Interval {
	if i.bottom || j.bottom {
		return Bottom()
	}
	k, ok := j.Numeral()
	// k == 63 is rejected too: 1<<63 overflows int64 to math.MinInt64,
	// bit-identical to the NegInf sentinel, which would corrupt Mul's
	// overflow detection.
	if !ok || k < 0 || k >= 63 {
		return Top()
	}
	return i.Mul(Num(1 << uint(k)))
}

func (i Interval) LShr(j Interval) Interval {
	if i.bottom || j.bottom {
		return Bottom()
	}
	k, ok := j.Numeral()
	if !ok || k < 0 || k >= 64 || i.Lo < 0 {
		return Top()
	}
	return Interval{Lo: i.Lo >> uint(k), Hi: i.Hi >> uint(k)}
}

func (i Interval) AShr(j Interval) Interval {
	if i.bottom || j.bottom {
		return Bottom()
	}
	k, ok := j.Numeral()
	if !ok || k < 0 || k >= 64 {
		return Top()
	}
	return Interval{Lo: i.Lo >> uint(k), Hi: i.Hi >> uint(k)}
}

// Neg returns -i.
func (i Interval) Neg() Interval {
	if i.bottom {
		return Bottom()
	}
	return Interval{Lo: negSat(i.Hi), Hi: negSat(i.Lo)}
}

// CmpResult is a three-valued comparison outcome.
var (
	CmpFalseVal = Num(0)
	CmpTrueVal = Num(1)
	CmpUnknownVal = Range(0, 1)
)

// Lt, Le, Gt, Ge, Eq, Ne return the three-valued result of the respective
// comparison over every pair of elements in i and j.
func (i Interval) Lt(j Interval) Interval { return threeValued(i, j, ltCertain) }

func ltCertain(a, b Interval) (definiteTrue, definiteFalse bool) {
	return a.Hi < b.Lo, a.Lo >= b.Hi
}
func leCertain(a, b Interval) (definiteTrue, definiteFalse bool) {
	return a.Hi <= b.Lo, a.Lo > b.Hi
}
func gtCertain(a, b Interval) (definiteTrue, definiteFalse bool) {
	return a.Lo > b.Hi, a.Hi <= b.Lo
}
func geCertain(a, b Interval) (definiteTrue, definiteFalse bool) {
	return a.Lo >= b.Hi, a.Hi < b.Lo
}
func eqCertain(a, b Interval) (definiteTrue, definiteFalse bool) {
	at, ok1 := a.Numeral()
	bt, ok2 := b.Numeral()
	if ok1 && ok2 {
		return at == bt, at != bt
	}
	return false, a.Hi < b.Lo || b.Hi < a.Lo
}
func neCertain(a, b Interval) (definiteTrue, definiteFalse bool) {
	t, f := eqCertain(a, b)
	return f, t
}

func threeValued(i, j Interval, certain func(a, b Interval) (bool, bool)) Interval {
	if i.bottom || j.bottom {
		return Bottom()
	}
	dt, df := certain(i, j)
	switch {
	case dt:
		return CmpTrueVal
	case df:
		return CmpFalseVal
	default:
		return CmpUnknownVal
	}
}

// Le returns the three-valued result of i <= j.
func (i Interval) Le(j Interval) Interval { return threeValued(i, j, leCertain) }

// Gt returns the three-valued result of i > j.
func (i Interval) Gt(j Interval) Interval { return threeValued(i, j, gtCertain) }

// Ge returns the three-valued result of i >= j.
func (i Interval) Ge(j Interval) Interval { return threeValued(i, j, geCertain) }

// Eq returns the three-valued result of i == j.
func (i Interval) Eq(j Interval) Interval { return threeValued(i, j, eqCertain) }

// Ne returns the three-valued result of i != j.
func (i Interval) Ne(j Interval) Interval { return threeValued(i, j, neCertain) }

// Join returns the least upper bound i ⊔ j.
func (i Interval) Join(j Interval) Interval {
	if i.bottom {
		return j
	}
	if j.bottom {
		return i
	}
	lo, hi := i.Lo, i.Hi
	if j.Lo < lo {
		lo = j.Lo
	}
	if j.Hi > hi {
		hi = j.Hi
	}
	return Interval{Lo: lo, Hi: hi}
}

// Meet returns the greatest lower bound i ⊓ j.
func (i Interval) Meet(j Interval) Interval {
	if i.bottom || j.bottom {
		return Bottom()
	}
	lo, hi := i.Lo, i.Hi
	if j.Lo > lo {
		lo = j.Lo
	}
	if j.Hi < hi {
		hi = j.Hi
	}
	if lo > hi {
		return Bottom()
	}
	return Interval{Lo: lo, Hi: hi}
}

// WidenWith applies the standard widening rule: [a,b] ∇ [c,d] =
// [c<a ? -∞ : a, d>b ? +∞ : b].
func (i Interval) WidenWith(j Interval) Interval {
	if i.bottom {
		return j
	}
	if j.bottom {
		return i
	}
	lo, hi := i.Lo, i.Hi
	if j.Lo < i.Lo {
		lo = NegInf
	}
	if j.Hi > i.Hi {
		hi = PosInf
	}
	return Interval{Lo: lo, Hi: hi}
}

// NarrowWith replaces an infinite bound of i with the corresponding
// finite bound of j.
func (i Interval) NarrowWith(j Interval) Interval {
	if i.bottom || j.bottom {
		return Bottom()
	}
	lo, hi := i.Lo, i.Hi
	if lo == NegInf && j.Lo != NegInf {
		lo = j.Lo
	}
	if hi == PosInf && j.Hi != PosInf {
		hi = j.Hi
	}
	return Interval{Lo: lo, Hi: hi}
}

// LessEq is the lattice order i ≤ j (i.e. i ⊑ j).
func (i Interval) LessEq(j Interval) bool {
	if i.bottom {
		return true
	}
	if j.bottom {
		return false
	}
	return j.Lo <= i.Lo && i.Hi <= j.Hi
}

// Equal reports structural/semantic equality.
func (i Interval) Equal(j Interval) bool {
	if i.bottom || j.bottom {
		return i.bottom == j.bottom
	}
	return i.Lo == j.Lo && i.Hi == j.Hi
}

// CastSigned reinterprets i as a cast into a signed integer of the given
// bit width (SExt/Trunc family helper): truncation that wraps (computed
// lo>hi after masking) returns the full representable range.
func (i Interval) CastSigned(bits int) Interval {
	if i.bottom {
		return Bottom()
	}
	if bits <= 0 || bits >= 64 {
		return i
	}
	lo := -(int64(1) << uint(bits-1))
	hi := (int64(1) << uint(bits-1)) - 1
	if i.Lo >= lo && i.Hi <= hi {
		return i
	}
	return Interval{Lo: lo, Hi: hi}
}

// CastUnsigned reinterprets i as a cast into an unsigned integer of the
// given bit width (ZExt family helper).
func (i Interval) CastUnsigned(bits int) Interval {
	if i.bottom {
		return Bottom()
	}
	if bits <= 0 || bits >= 64 {
		if i.Lo < 0 {
			return Top()
		}
		return i
	}
	hi := (int64(1) << uint(bits)) - 1
	if i.Lo >= 0 && i.Hi <= hi {
		return i
	}
	return Interval{Lo: 0, Hi: hi}
}

// String renders the interval for debugging/dumps.
func (i Interval) String() string {
	if i.bottom {
		return "⊥"
	}
	lo, hi := "", ""
	if i.Lo == NegInf {
		lo = "-inf"
	} else {
		lo = itoa(i.Lo)
	}
	if i.Hi == PosInf {
		hi = "+inf"
	} else {
		hi = itoa(i.Hi)
	}
	return "[" + lo + ", " + hi + "]"
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	n := len(buf)
	for v > 0 {
		n--
		buf[n] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		n--
		buf[n] = '-'
	}
	return string(buf[n:])
}
