package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntervalJoinIsLeastUpperBound(t *testing.T) {
	cases := []struct {
		name     string
		a, b     Interval
		expected Interval
	}{
		{"disjoint", Num(1), Num(5), Range(1, 5)},
		{"overlapping", Range(0, 10), Range(5, 20), Range(0, 20)},
		{"bottom-left", Bottom(), Num(3), Num(3)},
		{"bottom-right", Num(3), Bottom(), Num(3)},
		{"top-absorbs", Top(), Num(3), Top()},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.True(t, c.a.Join(c.b).Equal(c.expected))
		})
	}
}

func TestIntervalMeet(t *testing.T) {
	assert.True(t, Range(0, 10).Meet(Range(5, 20)).Equal(Range(5, 10)))
	assert.True(t, Range(0, 1).Meet(Range(5, 6)).IsBottom())
	assert.True(t, Top().Meet(Num(7)).Equal(Num(7)))
}

func TestIntervalArithmeticSaturates(t *testing.T) {
	big := Num(PosInf - 1)
	sum := big.Add(Num(10))
	assert.Equal(t, int64(PosInf), sum.Hi)

	small := Num(NegInf + 1)
	diff := small.Sub(Num(10))
	assert.Equal(t, int64(NegInf), diff.Lo)
}

func TestIntervalDivByZeroStraddlingIsTop(t *testing.T) {
	got := Range(10, 20).Div(Range(-1, 1))
	assert.True(t, got.Equal(Top()), "dividing by a range straddling zero must be sound-top, got %s", got)
}

func TestIntervalWidenReachesInfinity(t *testing.T) {
	v := Num(0)
	for i := 0; i < 3; i++ {
		v = v.WidenWith(Range(0, int64(i+1)))
	}
	assert.Equal(t, int64(PosInf), v.Hi, "growing upper bound must widen to +inf")
}

func TestIntervalNarrowTightensWithinWidened(t *testing.T) {
	widened := Range(0, PosInf)
	narrowed := widened.NarrowWith(Range(0, 100))
	assert.Equal(t, int64(100), narrowed.Hi)
}

func TestIntervalThreeValuedComparison(t *testing.T) {
	// Disjoint ranges: comparison is certain.
	assert.True(t, Range(0, 5).Lt(Range(10, 20)).Equal(CmpTrueVal))
	assert.True(t, Range(10, 20).Lt(Range(0, 5)).Equal(CmpFalseVal))

	// Overlapping ranges: comparison is uncertain (both outcomes possible).
	assert.True(t, Range(0, 10).Lt(Range(5, 15)).Equal(CmpUnknownVal))
}

func TestIntervalLessEqIsPartialOrder(t *testing.T) {
	assert.True(t, Bottom().LessEq(Num(3)))
	assert.True(t, Num(3).LessEq(Range(0, 10)))
	assert.False(t, Range(0, 10).LessEq(Num(3)))
	assert.True(t, Range(0, 10).LessEq(Top()))
}

func TestIntervalCastWidensOutOfRangeToFullDomain(t *testing.T) {
	// A value outside the target width's representable range casts to the
	// full [0, 2^bits-1] domain rather than a precise modular wraparound.
	neg1 := Num(-1).CastUnsigned(8)
	assert.Equal(t, int64(0), neg1.Lo)
	assert.Equal(t, int64(255), neg1.Hi)

	inRange := Num(42).CastUnsigned(8)
	assert.True(t, inRange.Equal(Num(42)), "values already within range are untouched")
}
