package interp

import "math"

// tensor_ops.go implements C5 (spec §4.5): the shape/stride-checked
// elementwise kernels, convolution, slice/scatter, flip, fill, and shape
// introspection. Kernels are plain functions rather than BuiltinRegistry
// entries directly so §4.3's writeback handling in callBuiltin can wrap
// them uniformly with every other builtin.

// binaryElemOp is one scalar kernel shared by the T* and strict M* builtin
// families (§4.5 "All elementwise binary kernels... enforce identical rank
// and shape for tensor-tensor forms; tensor-scalar forms require the
// element static type to match the scalar kind").
type binaryElemOp func(a, b Value, pos Pos) (Value, *RuntimeError)

func addElem(a, b Value, pos Pos) (Value, *RuntimeError) {
	switch {
	case a.Kind == VInt && b.Kind == VInt:
		return IntVal(a.I + b.I), nil
	case a.Kind == VFlt && b.Kind == VFlt:
		return FltVal(a.F + b.F), nil
	}
	return Value{}, Raise(ErrTypeMismatch, pos, "cannot add %s and %s", a.Kind, b.Kind)
}

func subElem(a, b Value, pos Pos) (Value, *RuntimeError) {
	switch {
	case a.Kind == VInt && b.Kind == VInt:
		return IntVal(a.I - b.I), nil
	case a.Kind == VFlt && b.Kind == VFlt:
		return FltVal(a.F - b.F), nil
	}
	return Value{}, Raise(ErrTypeMismatch, pos, "cannot subtract %s and %s", a.Kind, b.Kind)
}

func mulElem(a, b Value, pos Pos) (Value, *RuntimeError) {
	switch {
	case a.Kind == VInt && b.Kind == VInt:
		return IntVal(a.I * b.I), nil
	case a.Kind == VFlt && b.Kind == VFlt:
		return FltVal(a.F * b.F), nil
	}
	return Value{}, Raise(ErrTypeMismatch, pos, "cannot multiply %s and %s", a.Kind, b.Kind)
}

func divElem(a, b Value, pos Pos) (Value, *RuntimeError) {
	switch {
	case a.Kind == VInt && b.Kind == VInt:
		if b.I == 0 {
			return Value{}, Raise(ErrDivisionByZero, pos, "integer division by zero")
		}
		return IntVal(a.I / b.I), nil
	case a.Kind == VFlt && b.Kind == VFlt:
		return FltVal(a.F / b.F), nil
	}
	return Value{}, Raise(ErrTypeMismatch, pos, "cannot divide %s and %s", a.Kind, b.Kind)
}

func powElem(a, b Value, pos Pos) (Value, *RuntimeError) {
	switch {
	case a.Kind == VInt && b.Kind == VInt:
		if b.I < 0 {
			return Value{}, Raise(ErrTypeMismatch, pos, "integer POW rejects a negative exponent")
		}
		return IntVal(intPow(a.I, b.I)), nil
	case a.Kind == VFlt && b.Kind == VFlt:
		return FltVal(math.Pow(a.F, b.F)), nil
	}
	return Value{}, Raise(ErrTypeMismatch, pos, "cannot raise %s to %s", a.Kind, b.Kind)
}

func intPow(base, exp int64) int64 {
	result := int64(1)
	for ; exp > 0; exp-- {
		result *= base
	}
	return result
}

// elementwiseBinary applies op across two tensors of identical shape, or a
// tensor and a scalar whose kind matches the tensor's element type (§4.5).
func elementwiseBinary(a, b Value, op binaryElemOp, pos Pos) (Value, *RuntimeError) {
	switch {
	case a.Kind == VTns && b.Kind == VTns:
		return tensorTensorBinary(a.T, b.T, op, pos)
	case a.Kind == VTns && b.Kind != VTns:
		return tensorScalarBinary(a.T, b, op, false, pos)
	case a.Kind != VTns && b.Kind == VTns:
		return tensorScalarBinary(b.T, a, op, true, pos)
	}
	return op(a, b, pos)
}

func tensorTensorBinary(a, b *Tensor, op binaryElemOp, pos Pos) (Value, *RuntimeError) {
	if !int64SliceEqual(a.Shape(), b.Shape()) {
		return Value{}, Raise(ErrShapeMismatch, pos, "shape mismatch: %v vs %v", a.Shape(), b.Shape())
	}
	out := NewTensor(a.ElemType(), a.Shape())
	n := a.Len()
	for idx := int64(0); idx < n; idx++ {
		v, err := op(a.At(idx), b.At(idx), pos)
		if err != nil {
			return Value{}, err
		}
		out.Set(idx, v)
	}
	return TnsVal(out), nil
}

// tensorScalarBinary applies op between every tensor element and scalar.
// scalarFirst controls operand order (matters for SUB/DIV/POW).
func tensorScalarBinary(t *Tensor, scalar Value, op binaryElemOp, scalarFirst bool, pos Pos) (Value, *RuntimeError) {
	if t.ElemType() != EUnknown && elemKindOf(scalar) != t.ElemType() {
		return Value{}, Raise(ErrTypeMismatch, pos, "scalar kind %s does not match tensor element type", scalar.Kind)
	}
	out := NewTensor(t.ElemType(), t.Shape())
	n := t.Len()
	for idx := int64(0); idx < n; idx++ {
		elem := t.At(idx)
		var v Value
		var err *RuntimeError
		if scalarFirst {
			v, err = op(scalar, elem, pos)
		} else {
			v, err = op(elem, scalar, pos)
		}
		if err != nil {
			return Value{}, err
		}
		out.Set(idx, v)
	}
	return TnsVal(out), nil
}

// TAdd/TSub/TMul/TDiv/TPow implement the TADD/TSUB/TMUL/TDIV/TPOW builtins;
// MAdd/MSub/MMul/MDiv implement the strict MADD/MSUB/MMUL/MDIV family named
// alongside them in §4.5 — same elementwise contract, kept as a distinct
// registry entry per the glossary's separate listing.
func TAdd(a, b Value, pos Pos) (Value, *RuntimeError) { return elementwiseBinary(a, b, addElem, pos) }
func TSub(a, b Value, pos Pos) (Value, *RuntimeError) { return elementwiseBinary(a, b, subElem, pos) }
func TMul(a, b Value, pos Pos) (Value, *RuntimeError) { return elementwiseBinary(a, b, mulElem, pos) }
func TDiv(a, b Value, pos Pos) (Value, *RuntimeError) { return elementwiseBinary(a, b, divElem, pos) }
func TPow(a, b Value, pos Pos) (Value, *RuntimeError) { return elementwiseBinary(a, b, powElem, pos) }

func MAdd(a, b Value, pos Pos) (Value, *RuntimeError) { return elementwiseBinary(a, b, addElem, pos) }
func MSub(a, b Value, pos Pos) (Value, *RuntimeError) { return elementwiseBinary(a, b, subElem, pos) }
func MMul(a, b Value, pos Pos) (Value, *RuntimeError) { return elementwiseBinary(a, b, mulElem, pos) }
func MDiv(a, b Value, pos Pos) (Value, *RuntimeError) { return elementwiseBinary(a, b, divElem, pos) }

// MSum/MProd fold addElem/mulElem across a variadic argument list (§4.5
// "variadic MSUM/MPROD").
func MSum(args []Value, pos Pos) (Value, *RuntimeError) {
	return foldElem(args, addElem, pos)
}

func MProd(args []Value, pos Pos) (Value, *RuntimeError) {
	return foldElem(args, mulElem, pos)
}

func foldElem(args []Value, op binaryElemOp, pos Pos) (Value, *RuntimeError) {
	if len(args) == 0 {
		return Value{}, Raise(ErrArityMismatch, pos, "requires at least one argument")
	}
	acc := args[0]
	for _, v := range args[1:] {
		next, err := elementwiseBinary(acc, v, op, pos)
		if err != nil {
			return Value{}, err
		}
		acc = next
	}
	return acc, nil
}

// Shape returns a 1-D INT tensor of t's extents (§4.5 SHAPE).
func Shape(t *Tensor) Value {
	shape := t.Shape()
	out := NewTensor(EInt64, []int64{int64(len(shape))})
	for i, d := range shape {
		out.Set(int64(i), IntVal(d))
	}
	return TnsVal(out)
}

// TLen returns the extent of t along the 1-based dim (§4.5 TLEN).
func TLen(t *Tensor, dim int64, pos Pos) (Value, *RuntimeError) {
	shape := t.Shape()
	if dim < 1 || dim > int64(len(shape)) {
		return Value{}, Raise(ErrIndexOutOfRange, pos, "dimension %d out of range for rank %d", dim, len(shape))
	}
	return IntVal(shape[dim-1]), nil
}

// TFlip reverses t along the 1-based dim (§4.5 TFLIP).
func TFlip(t *Tensor, dim int64, pos Pos) (Value, *RuntimeError) {
	shape := t.Shape()
	if dim < 1 || dim > int64(len(shape)) {
		return Value{}, Raise(ErrIndexOutOfRange, pos, "dimension %d out of range for rank %d", dim, len(shape))
	}
	d := int(dim - 1)
	strides := stridesFor(shape)
	out := NewTensor(t.ElemType(), shape)
	n := t.Len()
	coords := make([]int64, len(shape))
	for linear := int64(0); linear < n; linear++ {
		rem := linear
		for i, s := range strides {
			coords[i] = rem / s
			rem %= s
		}
		srcCoords := append([]int64(nil), coords...)
		srcCoords[d] = shape[d] - 1 - coords[d]
		var srcLinear int64
		for i, c := range srcCoords {
			srcLinear += c * strides[i]
		}
		out.Set(linear, t.At(srcLinear))
	}
	return TnsVal(out), nil
}

// Fill returns a same-shape tensor with every element replaced by a deep
// copy of v, after checking v's kind matches t's element type (§4.5 FILL).
func Fill(t *Tensor, v Value, pos Pos) (Value, *RuntimeError) {
	if t.ElemType() != EUnknown && elemKindOf(v) != t.ElemType() {
		return Value{}, Raise(ErrTypeMismatch, pos, "fill value kind %s does not match tensor element type", v.Kind)
	}
	out := NewTensor(t.ElemType(), t.Shape())
	n := out.Len()
	for idx := int64(0); idx < n; idx++ {
		out.Set(idx, v.DeepCopy())
	}
	return TnsVal(out), nil
}

// Scat returns a copy of dst with the rectangular sub-block named by ind
// (a [rank,2] INT tensor of 1-based inclusive lo/hi per dimension,
// negatives counting from the end) replaced by src (§4.5 SCAT).
func Scat(src, dst, ind *Tensor, pos Pos) (Value, *RuntimeError) {
	dstShape := dst.Shape()
	rank := len(dstShape)
	if ind.Rank() != 2 || len(ind.Shape()) != 2 || ind.Shape()[0] != int64(rank) || ind.Shape()[1] != 2 {
		return Value{}, Raise(ErrShapeMismatch, pos, "scatter index must have shape [%d,2]", rank)
	}
	los := make([]int64, rank)
	his := make([]int64, rank)
	srcShape := src.Shape()
	for d := 0; d < rank; d++ {
		loRaw := ind.At(int64(d)*2 + 0).I
		hiRaw := ind.At(int64(d)*2 + 1).I
		lo := normalizeIndex(loRaw, dstShape[d])
		hi := normalizeIndex(hiRaw, dstShape[d])
		if lo < 1 || hi > dstShape[d] || lo > hi {
			return Value{}, Raise(ErrIndexOutOfRange, pos, "scatter bounds [%d,%d] out of range for extent %d", loRaw, hiRaw, dstShape[d])
		}
		if hi-lo+1 != srcShape[d] {
			return Value{}, Raise(ErrShapeMismatch, pos, "scatter slice extent %d does not match src extent %d", hi-lo+1, srcShape[d])
		}
		los[d] = lo
		his[d] = hi
	}
	out := dst.deepCopy()
	outStrides := stridesFor(dstShape)
	srcStrides := stridesFor(srcShape)
	var walk func(d int, dstBase, srcBase int64)
	walk = func(d int, dstBase, srcBase int64) {
		if d == rank {
			out.Set(dstBase, src.At(srcBase))
			return
		}
		for v := int64(0); v < srcShape[d]; v++ {
			walk(d+1, dstBase+(los[d]-1+v)*outStrides[d], srcBase+v*srcStrides[d])
		}
	}
	walk(0, 0, 0)
	return TnsVal(out), nil
}

// Conv performs N-D discrete convolution of x by kernel with replicate
// (edge) padding; kernel must match x in rank and every kernel extent must
// be odd (§4.5 CONV). Output element type is INT only when both x and
// kernel are INT, otherwise FLT.
func Conv(x, kernel *Tensor, pos Pos) (Value, *RuntimeError) {
	xShape := x.Shape()
	kShape := kernel.Shape()
	if len(xShape) != len(kShape) {
		return Value{}, Raise(ErrShapeMismatch, pos, "kernel rank %d does not match input rank %d", len(kShape), len(xShape))
	}
	rank := len(xShape)
	radius := make([]int64, rank)
	for d, ext := range kShape {
		if ext%2 == 0 {
			return Value{}, Raise(ErrShapeMismatch, pos, "kernel extent %d at dimension %d must be odd", ext, d+1)
		}
		radius[d] = ext / 2
	}
	outElem := EFlt64
	if x.ElemType() == EInt64 && kernel.ElemType() == EInt64 {
		outElem = EInt64
	}
	out := NewTensor(outElem, xShape)
	xStrides := stridesFor(xShape)
	kStrides := stridesFor(kShape)
	coords := make([]int64, rank)
	n := x.Len()
	for linear := int64(0); linear < n; linear++ {
		rem := linear
		for i, s := range xStrides {
			coords[i] = rem / s
			rem %= s
		}
		sum := 0.0
		isum := int64(0)
		kCoords := make([]int64, rank)
		var walk func(d int, kLinear int64)
		walk = func(d int, kLinear int64) {
			if d == rank {
				var srcLinear int64
				for i := 0; i < rank; i++ {
					c := coords[i] + kCoords[i] - radius[i]
					if c < 0 {
						c = 0
					}
					if c >= xShape[i] {
						c = xShape[i] - 1
					}
					srcLinear += c * xStrides[i]
				}
				xv := x.At(srcLinear)
				kv := kernel.At(kLinear)
				if outElem == EInt64 {
					isum += xv.I * kv.I
				} else {
					sum += asFloat(xv) * asFloat(kv)
				}
				return
			}
			for v := int64(0); v < kShape[d]; v++ {
				kCoords[d] = v
				walk(d+1, kLinear+v*kStrides[d])
			}
		}
		walk(0, 0)
		if outElem == EInt64 {
			out.Set(linear, IntVal(isum))
		} else {
			out.Set(linear, FltVal(sum))
		}
	}
	return TnsVal(out), nil
}

func asFloat(v Value) float64 {
	if v.Kind == VInt {
		return float64(v.I)
	}
	return v.F
}

// TnsFromString builds the one-arg TNS(str) form: a 1-D tensor of
// single-character strings (§4.5 TNS constructor).
func TnsFromString(s string) Value {
	runes := []rune(s)
	out := NewTensor(EString, []int64{int64(len(runes))})
	for i, r := range runes {
		out.Set(int64(i), StrVal(string(r)))
	}
	return TnsVal(out)
}

// TnsFromShape builds the two-arg TNS(shape, value) form: a tensor of the
// given shape filled with deep copies of value.
func TnsFromShape(shape *Tensor, value Value, pos Pos) (Value, *RuntimeError) {
	if shape.ElemType() != EInt64 && shape.ElemType() != EUnknown {
		return Value{}, Raise(ErrTypeMismatch, pos, "TNS shape argument must be an INT tensor")
	}
	n := shape.Len()
	dims := make([]int64, n)
	for i := int64(0); i < n; i++ {
		dims[i] = shape.At(i).I
	}
	out := NewTensor(elemKindOf(value), dims)
	total := out.Len()
	for idx := int64(0); idx < total; idx++ {
		out.Set(idx, value.DeepCopy())
	}
	return TnsVal(out), nil
}
