package qamatch

import (
	"gonum.org/v1/gonum/mat"
)

// Regularizer applies regularization to weights
type Regularizer interface {
	loss(weights *mat.Dense) float64
	gradient(weights *mat.Dense, grad *mat.Dense)
	name() string
}

// L2Regularizer - Ridge regularization, 0.5·λ·‖w‖²
type L2Regularizer struct {
	Lambda float64
}

func L2(lambda float64) Regularizer {
	return &L2Regularizer{Lambda: lambda}
}

func (l *L2Regularizer) loss(weights *mat.Dense) float64 {
	sum := 0.0
	r, _ := weights.Dims()
	for i := 0; i < r; i++ {
		for _, v := range weights.RawRowView(i) {
			sum += v * v
		}
	}
	return 0.5 * l.Lambda * sum
}

func (l *L2Regularizer) gradient(weights *mat.Dense, grad *mat.Dense) {
	grad.Apply(func(i, j int, g float64) float64 {
		return g + l.Lambda*weights.At(i, j)
	}, grad)
}

func (l *L2Regularizer) name() string { return "l2" }

// NoRegularizer - no regularization
type NoRegularizer struct{}

func NoReg() Regularizer { return &NoRegularizer{} }

func (n *NoRegularizer) loss(weights *mat.Dense) float64              { return 0 }
func (n *NoRegularizer) gradient(weights *mat.Dense, grad *mat.Dense) {}
func (n *NoRegularizer) name() string                                 { return "none" }

// penalty sums the regularization loss over every non-bias parameter.
func penalty(reg Regularizer, params []*Param) float64 {
	total := 0.0
	for _, p := range params {
		if !p.Bias {
			total += reg.loss(p.Value)
		}
	}
	return total
}

// regularize adds the penalty of every non-bias parameter to the loss and
// its gradient to grads. Non-bias parameters always end up with a gradient,
// because the penalty depends on them even when the data loss does not.
func regularize(reg Regularizer, params []*Param, grads map[*Param]*mat.Dense) float64 {
	total := 0.0
	for _, p := range params {
		if p.Bias {
			continue
		}
		total += reg.loss(p.Value)
		g, ok := grads[p]
		if !ok || g == nil {
			r, c := p.Value.Dims()
			g = mat.NewDense(r, c, nil)
			grads[p] = g
		}
		reg.gradient(p.Value, g)
	}
	return total
}
