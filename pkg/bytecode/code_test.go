package bytecode

import "testing"

// ---------------------------------------------------------------------------
// Constant pooling
// ---------------------------------------------------------------------------

func TestScalarConstantsPool(t *testing.T) {
	code := NewCodeObject("pool")
	a := code.AddConstant(IntConst(7))
	b := code.AddConstant(IntConst(7))
	if a != b {
		t.Errorf("IntConst(7) pooled at %d and %d", a, b)
	}
	s1 := code.AddConstant(StringConst("x"))
	s2 := code.AddConstant(StringConst("x"))
	if s1 != s2 {
		t.Errorf("StringConst(%q) pooled at %d and %d", "x", s1, s2)
	}
	if other := code.AddConstant(StringConst("y")); other == s1 {
		t.Error("distinct strings share a pool slot")
	}
	if f := code.AddConstant(FloatConst(1.5)); f != code.AddConstant(FloatConst(1.5)) {
		t.Error("equal floats not pooled")
	}
}

func TestZeroValuedConstantsStayDistinctAcrossKinds(t *testing.T) {
	code := NewCodeObject("pool")
	n := code.AddConstant(NullConst())
	f := code.AddConstant(BoolConst(false))
	z := code.AddConstant(IntConst(0))
	e := code.AddConstant(StringConst(""))
	if n == f || f == z || z == e || n == z {
		t.Errorf("kinds collided: null=%d false=%d 0=%d \"\"=%d", n, f, z, e)
	}
}

func TestArrayConstantsNeverPool(t *testing.T) {
	code := NewCodeObject("pool")
	arr := Constant{Kind: ConstArray, Arr: []ConstPair{{Value: IntConst(1)}}}
	a := code.AddConstant(arr)
	b := code.AddConstant(arr)
	if a == b {
		t.Error("array constants share a pool slot")
	}
}
