package qamatch

import (
	"math/rand/v2"
)

// linear is an affine map x·W + b. The bias is optional.
type linear struct {
	kernel *Param
	bias   *Param
}

type linearConfig struct {
	scope    string
	in, out  int
	init     Initializer
	biasInit Initializer // nil disables the bias
}

func newLinear(cfg linearConfig, src rand.Source) *linear {
	l := &linear{
		kernel: newParam(cfg.scope+"/kernel", cfg.in, cfg.out, cfg.init, cfg.in, cfg.out, src, false),
	}
	if cfg.biasInit != nil {
		l.bias = newParam(cfg.scope+"/bias", 1, cfg.out, cfg.biasInit, cfg.in, cfg.out, src, true)
	}
	return l
}

func (l *linear) forward(tp *tape, x *node) *node {
	y := tp.matMul(x, tp.param(l.kernel))
	if l.bias != nil {
		y = tp.addBias(y, tp.param(l.bias))
	}
	return y
}

func (l *linear) params() []*Param {
	if l.bias == nil {
		return []*Param{l.kernel}
	}
	return []*Param{l.kernel, l.bias}
}
