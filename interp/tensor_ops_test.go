package interp

import "testing"

func vecInt(vals ...int64) *Tensor {
	t := NewTensor(EInt64, []int64{int64(len(vals))})
	for i, v := range vals {
		t.data[i] = IntVal(v)
	}
	return t
}

func TestElementwiseBinaryTensorTensor(t *testing.T) {
	a := vecInt(1, 2, 3)
	b := vecInt(10, 20, 30)
	result, err := elementwiseBinary(TnsVal(a), TnsVal(b), addElem, Pos{})
	if err != nil {
		t.Fatalf("ADD failed: %v", err)
	}
	got := result.T.data
	want := []int64{11, 22, 33}
	for i, w := range want {
		if got[i].I != w {
			t.Errorf("data[%d] = %d, want %d", i, got[i].I, w)
		}
	}
}

func TestElementwiseBinaryShapeMismatch(t *testing.T) {
	a := vecInt(1, 2, 3)
	b := vecInt(1, 2)
	_, err := elementwiseBinary(TnsVal(a), TnsVal(b), addElem, Pos{})
	if err == nil || err.Kind != ErrShapeMismatch {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestElementwiseBinaryTensorScalar(t *testing.T) {
	a := vecInt(1, 2, 3)
	result, err := elementwiseBinary(TnsVal(a), IntVal(5), mulElem, Pos{})
	if err != nil {
		t.Fatalf("MUL failed: %v", err)
	}
	want := []int64{5, 10, 15}
	for i, w := range want {
		if result.T.data[i].I != w {
			t.Errorf("data[%d] = %d, want %d", i, result.T.data[i].I, w)
		}
	}
}

func TestDivElemByZero(t *testing.T) {
	_, err := divElem(IntVal(4), IntVal(0), Pos{})
	if err == nil || err.Kind != ErrDivisionByZero {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestTFlip(t *testing.T) {
	a := vecInt(1, 2, 3, 4)
	result, err := TFlip(a, 1, Pos{})
	if err != nil {
		t.Fatalf("TFlip failed: %v", err)
	}
	want := []int64{4, 3, 2, 1}
	for i, w := range want {
		if result.T.data[i].I != w {
			t.Errorf("data[%d] = %d, want %d", i, result.T.data[i].I, w)
		}
	}
}

func TestShape(t *testing.T) {
	tn := NewTensor(EInt64, []int64{2, 3})
	sh := Shape(tn)
	if sh.T.Len() != 2 {
		t.Fatalf("expected rank 2 shape tensor, got len %d", sh.T.Len())
	}
	if sh.T.data[0].I != 2 || sh.T.data[1].I != 3 {
		t.Errorf("SHAPE = %v, want [2 3]", sh.T.data)
	}
}

func TestConvReplicatePadding(t *testing.T) {
	x := vecInt(1, 2, 3, 4, 5)
	k := vecInt(1, 0, 0)
	result, err := Conv(x, k, Pos{})
	if err != nil {
		t.Fatalf("CONV failed: %v", err)
	}
	if result.T.Len() != 5 {
		t.Fatalf("expected same-length output, got %d", result.T.Len())
	}
}

func TestConvShapeMismatchRejected(t *testing.T) {
	x := vecInt(1, 2, 3)
	k := NewTensor(EInt64, []int64{2, 2})
	_, err := Conv(x, k, Pos{})
	if err == nil || err.Kind != ErrShapeMismatch {
		t.Fatalf("expected ErrShapeMismatch for rank mismatch, got %v", err)
	}
}

func TestFillTypeMismatch(t *testing.T) {
	tn := NewTensor(EInt64, []int64{3})
	_, err := Fill(tn, StrVal("x"), Pos{})
	if err == nil || err.Kind != ErrTypeMismatch {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}
