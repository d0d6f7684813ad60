package qamatch

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Optimizer updates parameters from their gradients. Only parameters with a
// defined gradient are passed in, so slot state is kept per parameter.
type Optimizer interface {
	step(params []*Param, grads []*mat.Dense, lr float64)
	name() string
}

// SGDOptimizer - Stochastic Gradient Descent
type SGDOptimizer struct {
	Momentum   float64
	Nesterov   bool
	velocities map[*Param]*mat.Dense
}

type SGDConfig struct {
	Momentum float64
	Nesterov bool
}

func SGD(config SGDConfig) Optimizer {
	return &SGDOptimizer{
		Momentum:   config.Momentum,
		Nesterov:   config.Nesterov,
		velocities: make(map[*Param]*mat.Dense),
	}
}

func (s *SGDOptimizer) step(params []*Param, grads []*mat.Dense, lr float64) {
	for i, p := range params {
		g := grads[i]
		if s.Momentum == 0 {
			p.Value.Apply(func(r, c int, w float64) float64 {
				return w - lr*g.At(r, c)
			}, p.Value)
			continue
		}
		v := slot(s.velocities, p)
		p.Value.Apply(func(r, c int, w float64) float64 {
			grad := g.At(r, c)
			vel := s.Momentum*v.At(r, c) + grad
			v.Set(r, c, vel)
			if s.Nesterov {
				grad += s.Momentum * vel
			} else {
				grad = vel
			}
			return w - lr*grad
		}, p.Value)
	}
}

func (s *SGDOptimizer) name() string { return "sgd" }

// AdamOptimizer - Adaptive Moment Estimation. Moments of a parameter only
// move on steps where it has a gradient.
type AdamOptimizer struct {
	Beta1   float64
	Beta2   float64
	Epsilon float64
	m       map[*Param]*mat.Dense
	v       map[*Param]*mat.Dense
	t       int
}

type AdamConfig struct {
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

func Adam(config AdamConfig) Optimizer {
	return &AdamOptimizer{
		Beta1:   config.Beta1,
		Beta2:   config.Beta2,
		Epsilon: config.Epsilon,
		m:       make(map[*Param]*mat.Dense),
		v:       make(map[*Param]*mat.Dense),
	}
}

func (a *AdamOptimizer) step(params []*Param, grads []*mat.Dense, lr float64) {
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		g := grads[i]
		m := slot(a.m, p)
		v := slot(a.v, p)

		p.Value.Apply(func(r, c int, w float64) float64 {
			grad := g.At(r, c)
			mj := a.Beta1*m.At(r, c) + (1-a.Beta1)*grad
			vj := a.Beta2*v.At(r, c) + (1-a.Beta2)*grad*grad
			m.Set(r, c, mj)
			v.Set(r, c, vj)

			mHat := mj / bc1
			vHat := vj / bc2
			return w - lr*mHat/(math.Sqrt(vHat)+a.Epsilon)
		}, p.Value)
	}
}

func (a *AdamOptimizer) name() string { return "adam" }

func slot(slots map[*Param]*mat.Dense, p *Param) *mat.Dense {
	s, ok := slots[p]
	if !ok {
		r, c := p.Value.Dims()
		s = mat.NewDense(r, c, nil)
		slots[p] = s
	}
	return s
}

func newOptimizer(kind string) Optimizer {
	if kind == "sgd" {
		return SGD(SGDConfig{Momentum: 0.9})
	}
	return Adam(AdamConfig{Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8})
}

// GradientClipConfig for gradient clipping
type GradientClipConfig struct {
	Mode     string // "norm", "value", or "none"
	MaxNorm  float64
	MaxValue float64
}

func clipConfigFrom(hp HParams) GradientClipConfig {
	return GradientClipConfig{Mode: hp.ClipMode, MaxNorm: hp.GradClip, MaxValue: hp.GradClip}
}

// clipGradients clips in place. "value" clamps every element to
// [-MaxValue, MaxValue]; "norm" rescales all gradients together when their
// global L2 norm exceeds MaxNorm.
func clipGradients(grads []*mat.Dense, cfg GradientClipConfig) {
	switch cfg.Mode {
	case ClipNorm:
		total := 0.0
		for _, g := range grads {
			n := mat.Norm(g, 2)
			total += n * n
		}
		total = math.Sqrt(total)
		if total > cfg.MaxNorm {
			scale := cfg.MaxNorm / total
			for _, g := range grads {
				g.Scale(scale, g)
			}
		}
	case ClipValue:
		for _, g := range grads {
			g.Apply(func(_, _ int, v float64) float64 {
				return math.Max(-cfg.MaxValue, math.Min(cfg.MaxValue, v))
			}, g)
		}
	}
}
