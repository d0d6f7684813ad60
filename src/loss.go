package qamatch

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// softmaxCrossEntropy is the mean over rows of -Σ_j labels_ij·log softmax(logits)_ij.
// The result is a [1,1] node.
func (tp *tape) softmaxCrossEntropy(logits *node, labels *mat.Dense) *node {
	r, c := logits.dims()
	probs := mat.NewDense(r, c, nil)
	total := 0.0
	for i := 0; i < r; i++ {
		in := logits.value.RawRowView(i)
		row := probs.RawRowView(i)
		peak := floats.Max(in)
		for j, e := range in {
			row[j] = math.Exp(e - peak)
		}
		sum := floats.Sum(row)
		logSum := math.Log(sum) + peak
		floats.Scale(1/sum, row)
		for j, y := range labels.RawRowView(i) {
			if y != 0 {
				total -= y * (in[j] - logSum)
			}
		}
	}
	v := mat.NewDense(1, 1, []float64{total / float64(r)})
	out := tp.record(v, logits)
	out.backward = func() {
		if !logits.needsGrad {
			return
		}
		scale := out.grad.At(0, 0) / float64(r)
		var g mat.Dense
		g.Sub(probs, labels)
		g.Scale(scale, &g)
		logits.accumulate(&g)
	}
	return out
}

// bilinear scores every question against every answer: Q·(A·W)ᵀ.
type bilinear struct {
	w *Param
}

func newBilinear(dim int, src rand.Source) *bilinear {
	return &bilinear{
		w: newParam("linear/linear_w", dim, dim, TruncatedNormal(0, 1), dim, dim, src, false),
	}
}

func (b *bilinear) score(tp *tape, q, a *node) *node {
	return tp.matMulT(q, tp.matMul(a, tp.param(b.w)))
}

func (b *bilinear) params() []*Param { return []*Param{b.w} }

// identityLabels is the in-batch target: question i matches answer i only.
func identityLabels(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
