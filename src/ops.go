package qamatch

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Differentiable ops on the tape. Every value is a 2-D matrix; sequences are
// slices of per-step [batch, features] nodes.

// matMul computes a·b.
func (tp *tape) matMul(a, b *node) *node {
	ar, _ := a.dims()
	_, bc := b.dims()
	v := mat.NewDense(ar, bc, nil)
	v.Mul(a.value, b.value)
	out := tp.record(v, a, b)
	out.backward = func() {
		if a.needsGrad {
			var ga mat.Dense
			ga.Mul(out.grad, b.value.T())
			a.accumulate(&ga)
		}
		if b.needsGrad {
			var gb mat.Dense
			gb.Mul(a.value.T(), out.grad)
			b.accumulate(&gb)
		}
	}
	return out
}

// matMulT computes a·bᵀ.
func (tp *tape) matMulT(a, b *node) *node {
	ar, _ := a.dims()
	br, _ := b.dims()
	v := mat.NewDense(ar, br, nil)
	v.Mul(a.value, b.value.T())
	out := tp.record(v, a, b)
	out.backward = func() {
		if a.needsGrad {
			var ga mat.Dense
			ga.Mul(out.grad, b.value)
			a.accumulate(&ga)
		}
		if b.needsGrad {
			var gb mat.Dense
			gb.Mul(out.grad.T(), a.value)
			b.accumulate(&gb)
		}
	}
	return out
}

func (tp *tape) add(a, b *node) *node {
	r, c := a.dims()
	v := mat.NewDense(r, c, nil)
	v.Add(a.value, b.value)
	out := tp.record(v, a, b)
	out.backward = func() {
		a.accumulate(out.grad)
		b.accumulate(out.grad)
	}
	return out
}

// addBias adds the [1, cols] row b to every row of x.
func (tp *tape) addBias(x, b *node) *node {
	r, c := x.dims()
	v := mat.NewDense(r, c, nil)
	bias := b.value.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.AddTo(v.RawRowView(i), x.value.RawRowView(i), bias)
	}
	out := tp.record(v, x, b)
	out.backward = func() {
		x.accumulate(out.grad)
		if b.needsGrad {
			sums := make([]float64, c)
			for i := 0; i < r; i++ {
				floats.Add(sums, out.grad.RawRowView(i))
			}
			b.accumulateRow(0, sums)
		}
	}
	return out
}

// addScalar adds the constant s to every element.
func (tp *tape) addScalar(x *node, s float64) *node {
	r, c := x.dims()
	v := mat.NewDense(r, c, nil)
	v.Apply(func(_, _ int, e float64) float64 { return e + s }, x.value)
	out := tp.record(v, x)
	out.backward = func() {
		x.accumulate(out.grad)
	}
	return out
}

// mul is the element-wise product.
func (tp *tape) mul(a, b *node) *node {
	r, c := a.dims()
	v := mat.NewDense(r, c, nil)
	v.MulElem(a.value, b.value)
	out := tp.record(v, a, b)
	out.backward = func() {
		if a.needsGrad {
			var ga mat.Dense
			ga.MulElem(out.grad, b.value)
			a.accumulate(&ga)
		}
		if b.needsGrad {
			var gb mat.Dense
			gb.MulElem(out.grad, a.value)
			b.accumulate(&gb)
		}
	}
	return out
}

// oneMinus computes 1 - x.
func (tp *tape) oneMinus(x *node) *node {
	r, c := x.dims()
	v := mat.NewDense(r, c, nil)
	v.Apply(func(_, _ int, e float64) float64 { return 1 - e }, x.value)
	out := tp.record(v, x)
	out.backward = func() {
		var g mat.Dense
		g.Scale(-1, out.grad)
		x.accumulate(&g)
	}
	return out
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func (tp *tape) sigmoid(x *node) *node {
	r, c := x.dims()
	v := mat.NewDense(r, c, nil)
	v.Apply(func(_, _ int, e float64) float64 { return sigmoid(e) }, x.value)
	out := tp.record(v, x)
	out.backward = func() {
		var g mat.Dense
		g.Apply(func(i, j int, e float64) float64 {
			s := v.At(i, j)
			return e * s * (1 - s)
		}, out.grad)
		x.accumulate(&g)
	}
	return out
}

func (tp *tape) tanh(x *node) *node {
	r, c := x.dims()
	v := mat.NewDense(r, c, nil)
	v.Apply(func(_, _ int, e float64) float64 { return math.Tanh(e) }, x.value)
	out := tp.record(v, x)
	out.backward = func() {
		var g mat.Dense
		g.Apply(func(i, j int, e float64) float64 {
			t := v.At(i, j)
			return e * (1 - t*t)
		}, out.grad)
		x.accumulate(&g)
	}
	return out
}

// concatCols joins nodes with equal row counts along the feature axis.
func (tp *tape) concatCols(parts ...*node) *node {
	if len(parts) == 1 {
		return parts[0]
	}
	r, _ := parts[0].dims()
	width := 0
	for _, p := range parts {
		_, c := p.dims()
		width += c
	}
	v := mat.NewDense(r, width, nil)
	off := 0
	for _, p := range parts {
		_, c := p.dims()
		v.Slice(0, r, off, off+c).(*mat.Dense).Copy(p.value)
		off += c
	}
	out := tp.record(v, parts...)
	out.backward = func() {
		off := 0
		for _, p := range parts {
			_, c := p.dims()
			p.accumulate(out.grad.Slice(0, r, off, off+c))
			off += c
		}
	}
	return out
}

// sliceCols returns columns [from, to) of x.
func (tp *tape) sliceCols(x *node, from, to int) *node {
	r, _ := x.dims()
	v := mat.DenseCopyOf(x.value.Slice(0, r, from, to))
	out := tp.record(v, x)
	out.backward = func() {
		x.accumulateCols(from, out.grad)
	}
	return out
}

// selectRows builds a matrix whose row r is row idx[r] of x, or zeros when
// idx[r] is negative. Repeated indices accumulate in the backward pass, which
// makes this the embedding lookup as well as the sequence reversal.
func (tp *tape) selectRows(x *node, idx []int) *node {
	_, c := x.dims()
	v := mat.NewDense(len(idx), c, nil)
	for r, i := range idx {
		if i >= 0 {
			copy(v.RawRowView(r), x.value.RawRowView(i))
		}
	}
	out := tp.record(v, x)
	out.backward = func() {
		for r, i := range idx {
			if i >= 0 {
				x.accumulateRow(i, out.grad.RawRowView(r))
			}
		}
	}
	return out
}

// stackRows stacks equally shaped [batch, w] steps into [steps*batch, w] with
// row t*batch+i holding step t, example i.
func (tp *tape) stackRows(steps []*node) *node {
	b, w := steps[0].dims()
	v := mat.NewDense(len(steps)*b, w, nil)
	for t, s := range steps {
		v.Slice(t*b, (t+1)*b, 0, w).(*mat.Dense).Copy(s.value)
	}
	out := tp.record(v, steps...)
	out.backward = func() {
		for t, s := range steps {
			s.accumulate(out.grad.Slice(t*b, (t+1)*b, 0, w))
		}
	}
	return out
}

// whereRows takes row i from a when keep[i] is set and from b otherwise.
func (tp *tape) whereRows(keep []bool, a, b *node) *node {
	r, c := a.dims()
	v := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		if keep[i] {
			copy(v.RawRowView(i), a.value.RawRowView(i))
		} else {
			copy(v.RawRowView(i), b.value.RawRowView(i))
		}
	}
	out := tp.record(v, a, b)
	out.backward = func() {
		for i := 0; i < r; i++ {
			if keep[i] {
				a.accumulateRow(i, out.grad.RawRowView(i))
			} else {
				b.accumulateRow(i, out.grad.RawRowView(i))
			}
		}
	}
	return out
}

// mulCol scales row i of x by the scalar a(i, 0).
func (tp *tape) mulCol(x, a *node) *node {
	r, c := x.dims()
	v := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		floats.ScaleTo(v.RawRowView(i), a.value.At(i, 0), x.value.RawRowView(i))
	}
	out := tp.record(v, x, a)
	out.backward = func() {
		for i := 0; i < r; i++ {
			g := out.grad.RawRowView(i)
			if x.needsGrad {
				row := make([]float64, c)
				floats.ScaleTo(row, a.value.At(i, 0), g)
				x.accumulateRow(i, row)
			}
			if a.needsGrad {
				a.accumulateRow(i, []float64{floats.Dot(g, x.value.RawRowView(i))})
			}
		}
	}
	return out
}

// maskedSoftmax applies a row softmax over the first lengths[i] columns of
// row i. Columns past the length, and rows of length zero, are exactly zero.
func (tp *tape) maskedSoftmax(x *node, lengths []int) *node {
	r, c := x.dims()
	v := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		n := min(lengths[i], c)
		if n <= 0 {
			continue
		}
		in := x.value.RawRowView(i)[:n]
		row := v.RawRowView(i)[:n]
		peak := floats.Max(in)
		for j, e := range in {
			row[j] = math.Exp(e - peak)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
	out := tp.record(v, x)
	out.backward = func() {
		for i := 0; i < r; i++ {
			n := min(lengths[i], c)
			if n <= 0 {
				continue
			}
			s := v.RawRowView(i)[:n]
			g := out.grad.RawRowView(i)[:n]
			inner := floats.Dot(s, g)
			row := make([]float64, c)
			for j := range s {
				row[j] = s[j] * (g[j] - inner)
			}
			x.accumulateRow(i, row)
		}
	}
	return out
}

// dropout zeroes each element with probability 1-keep and scales survivors
// by 1/keep. keep == 1 is the identity and consumes no randomness.
func (tp *tape) dropout(x *node, keep float64, rng *rand.Rand) *node {
	if keep >= 1 {
		return x
	}
	r, c := x.dims()
	mask := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := mask.RawRowView(i)
		for j := range row {
			if rng.Float64() < keep {
				row[j] = 1 / keep
			}
		}
	}
	return tp.mul(x, tp.constant(mask))
}
