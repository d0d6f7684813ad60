package qamatch

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestL2(t *testing.T) {
	w := mat.NewDense(1, 2, []float64{3, 4})
	reg := L2(0.1)
	if got := reg.loss(w); math.Abs(got-1.25) > 1e-12 {
		t.Errorf("loss = %f, want 0.5·0.1·25", got)
	}
	g := mat.NewDense(1, 2, []float64{1, 1})
	reg.gradient(w, g)
	if !mat.EqualApprox(g, mat.NewDense(1, 2, []float64{1.3, 1.4}), 1e-12) {
		t.Errorf("gradient = %v, want [1.3 1.4]", g.RawRowView(0))
	}
}

func TestRegularizeSkipsBiases(t *testing.T) {
	kernel := &Param{Name: "k", Value: mat.NewDense(1, 2, []float64{1, 2})}
	unused := &Param{Name: "u", Value: mat.NewDense(1, 1, []float64{2})}
	bias := &Param{Name: "b", Value: mat.NewDense(1, 1, []float64{10}), Bias: true}
	params := []*Param{kernel, unused, bias}

	grads := map[*Param]*mat.Dense{kernel: mat.NewDense(1, 2, []float64{0.5, 0.5})}
	total := regularize(L2(1), params, grads)

	if want := 0.5 * (1 + 4 + 4); math.Abs(total-want) > 1e-12 {
		t.Errorf("penalty = %f, want %f", total, want)
	}
	if total != penalty(L2(1), params) {
		t.Error("regularize and penalty disagree")
	}
	if !mat.Equal(grads[kernel], mat.NewDense(1, 2, []float64{1.5, 2.5})) {
		t.Errorf("kernel grad = %v", grads[kernel].RawRowView(0))
	}
	if g, ok := grads[unused]; !ok || g.At(0, 0) != 2 {
		t.Error("a non-bias parameter without a data gradient should get the penalty gradient")
	}
	if _, ok := grads[bias]; ok {
		t.Error("biases are not regularized")
	}

	if regularize(NoReg(), params, map[*Param]*mat.Dense{}) != 0 {
		t.Error("NoReg should add no penalty")
	}
}
