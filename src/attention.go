package qamatch

import (
	"math/rand/v2"
)

// attentionPooling reduces per-step encoder outputs to one vector per row:
//
//	v_t = tanh(h_t·Wω + bω)
//	α   = softmax_t(v_t·uω)   over valid steps only
//	out = (Σ_t α_t h_t)·P
//
// Rows without a valid step pool to zero.
type attentionPooling struct {
	omega *linear
	u     *Param
	proj  *Param
	out   int
}

func newAttentionPooling(scope string, features, size int, src rand.Source) *attentionPooling {
	return &attentionPooling{
		omega: newLinear(linearConfig{
			scope:    scope + "/omega",
			in:       features,
			out:      size,
			init:     XavierUniform(1.0),
			biasInit: Zeros(),
		}, src),
		u:    newParam(scope+"/u_omega", size, 1, XavierUniform(1.0), size, 1, src, false),
		proj: newParam(scope+"/projection", features, size, XavierUniform(1.0), features, size, src, false),
		out:  size,
	}
}

func (a *attentionPooling) pool(tp *tape, steps []*node, lengths []int, batch int) *node {
	if len(steps) == 0 {
		return tp.zeros(batch, a.out)
	}
	u := tp.param(a.u)
	energies := make([]*node, len(steps))
	for t, h := range steps {
		energies[t] = tp.matMul(tp.tanh(a.omega.forward(tp, h)), u)
	}
	alpha := tp.maskedSoftmax(tp.concatCols(energies...), lengths)

	pooled := tp.mulCol(steps[0], tp.sliceCols(alpha, 0, 1))
	for t := 1; t < len(steps); t++ {
		pooled = tp.add(pooled, tp.mulCol(steps[t], tp.sliceCols(alpha, t, t+1)))
	}
	return tp.matMul(pooled, tp.param(a.proj))
}

func (a *attentionPooling) params() []*Param {
	return append(a.omega.params(), a.u, a.proj)
}
