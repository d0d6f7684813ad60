package qamatch

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// cellState is the per-layer recurrent state. c is nil for cells without a
// separate memory track (GRU, plain RNN).
type cellState struct {
	c *node
	h *node
}

// cell advances one layer by one time step.
type cell interface {
	module
	zeroState(tp *tape, batch int) cellState
	step(tp *tape, x *node, s cellState) (*node, cellState)
	units() int
	kind() string
}

// newCell selects the cell variant by name, case-insensitively. Names other
// than lstm and gru fall back to the plain tanh cell.
func newCell(kind, scope string, inputDim, units int, src rand.Source) cell {
	switch strings.ToLower(kind) {
	case "lstm":
		return newLSTMCell(scope, inputDim, units, src)
	case "gru":
		return newGRUCell(scope, inputDim, units, src)
	default:
		return newBasicCell(scope, inputDim, units, src)
	}
}

// lstmCell - Long Short-Term Memory
// One fused kernel over [x, h] yields the i, j, f, o blocks.
type lstmCell struct {
	n          int
	forgetBias float64
	kernel     *linear
}

func newLSTMCell(scope string, inputDim, units int, src rand.Source) *lstmCell {
	return &lstmCell{
		n:          units,
		forgetBias: 1.0,
		kernel: newLinear(linearConfig{
			scope:    scope + "/lstm",
			in:       inputDim + units,
			out:      4 * units,
			init:     XavierUniform(1.0),
			biasInit: Zeros(),
		}, src),
	}
}

func (l *lstmCell) zeroState(tp *tape, batch int) cellState {
	return cellState{c: tp.zeros(batch, l.n), h: tp.zeros(batch, l.n)}
}

func (l *lstmCell) step(tp *tape, x *node, s cellState) (*node, cellState) {
	z := l.kernel.forward(tp, tp.concatCols(x, s.h))
	n := l.n
	i := tp.sliceCols(z, 0, n)
	j := tp.sliceCols(z, n, 2*n)
	f := tp.sliceCols(z, 2*n, 3*n)
	o := tp.sliceCols(z, 3*n, 4*n)

	// C_t = σ(f + forget_bias) ⊙ C_{t-1} + σ(i) ⊙ tanh(j)
	c := tp.add(
		tp.mul(tp.sigmoid(tp.addScalar(f, l.forgetBias)), s.c),
		tp.mul(tp.sigmoid(i), tp.tanh(j)),
	)
	// h_t = σ(o) ⊙ tanh(C_t)
	h := tp.mul(tp.sigmoid(o), tp.tanh(c))
	return h, cellState{c: c, h: h}
}

func (l *lstmCell) params() []*Param { return l.kernel.params() }
func (l *lstmCell) units() int       { return l.n }
func (l *lstmCell) kind() string     { return "lstm" }

// gruCell - Gated Recurrent Unit
// Reset and update gates share one kernel; the candidate has its own.
type gruCell struct {
	n         int
	gates     *linear
	candidate *linear
}

func newGRUCell(scope string, inputDim, units int, src rand.Source) *gruCell {
	return &gruCell{
		n: units,
		gates: newLinear(linearConfig{
			scope:    scope + "/gru/gates",
			in:       inputDim + units,
			out:      2 * units,
			init:     XavierUniform(1.0),
			biasInit: Constant(1.0),
		}, src),
		candidate: newLinear(linearConfig{
			scope:    scope + "/gru/candidate",
			in:       inputDim + units,
			out:      units,
			init:     XavierUniform(1.0),
			biasInit: Zeros(),
		}, src),
	}
}

func (g *gruCell) zeroState(tp *tape, batch int) cellState {
	return cellState{h: tp.zeros(batch, g.n)}
}

func (g *gruCell) step(tp *tape, x *node, s cellState) (*node, cellState) {
	gates := tp.sigmoid(g.gates.forward(tp, tp.concatCols(x, s.h)))
	r := tp.sliceCols(gates, 0, g.n)
	u := tp.sliceCols(gates, g.n, 2*g.n)

	// h̃_t = tanh(W · [x_t, r_t ⊙ h_{t-1}] + b)
	cand := tp.tanh(g.candidate.forward(tp, tp.concatCols(x, tp.mul(r, s.h))))

	// h_t = u_t ⊙ h_{t-1} + (1 - u_t) ⊙ h̃_t
	h := tp.add(tp.mul(u, s.h), tp.mul(tp.oneMinus(u), cand))
	return h, cellState{h: h}
}

func (g *gruCell) params() []*Param {
	return append(g.gates.params(), g.candidate.params()...)
}
func (g *gruCell) units() int   { return g.n }
func (g *gruCell) kind() string { return "gru" }

// basicCell - plain RNN without gates
type basicCell struct {
	n      int
	kernel *linear
}

func newBasicCell(scope string, inputDim, units int, src rand.Source) *basicCell {
	return &basicCell{
		n: units,
		kernel: newLinear(linearConfig{
			scope:    scope + "/basic_rnn",
			in:       inputDim + units,
			out:      units,
			init:     XavierUniform(1.0),
			biasInit: Zeros(),
		}, src),
	}
}

func (b *basicCell) zeroState(tp *tape, batch int) cellState {
	return cellState{h: tp.zeros(batch, b.n)}
}

func (b *basicCell) step(tp *tape, x *node, s cellState) (*node, cellState) {
	h := tp.tanh(b.kernel.forward(tp, tp.concatCols(x, s.h)))
	return h, cellState{h: h}
}

func (b *basicCell) params() []*Param { return b.kernel.params() }
func (b *basicCell) units() int       { return b.n }
func (b *basicCell) kind() string     { return "basic_rnn" }

// stackedCell runs num_layers cells in sequence. Each layer's output goes
// through dropout before it feeds the next layer; states are never dropped.
type stackedCell struct {
	layers []cell
}

func newStackedCell(scope, kind string, inputDim, units, numLayers int, src rand.Source) *stackedCell {
	s := &stackedCell{layers: make([]cell, numLayers)}
	in := inputDim
	for l := range s.layers {
		s.layers[l] = newCell(kind, fmt.Sprintf("%s/layer_%d", scope, l), in, units, src)
		in = units
	}
	return s
}

func (s *stackedCell) zeroState(tp *tape, batch int) []cellState {
	states := make([]cellState, len(s.layers))
	for l, c := range s.layers {
		states[l] = c.zeroState(tp, batch)
	}
	return states
}

func (s *stackedCell) step(tp *tape, x *node, states []cellState, drop func(*node) *node) (*node, []cellState) {
	next := make([]cellState, len(s.layers))
	in := x
	for l, c := range s.layers {
		out, st := c.step(tp, in, states[l])
		next[l] = st
		in = drop(out)
	}
	return in, next
}

func (s *stackedCell) units() int {
	return s.layers[len(s.layers)-1].units()
}

func (s *stackedCell) params() []*Param {
	var ps []*Param
	for _, c := range s.layers {
		ps = append(ps, c.params()...)
	}
	return ps
}

// runRNN unrolls the stack over steps. Row i only advances while
// t < lengths[i]; afterwards it emits zeros and carries its state, so the
// final state reflects the valid prefix only.
func runRNN(tp *tape, s *stackedCell, steps []*node, lengths []int, batch int, drop func(*node) *node) ([]*node, []cellState) {
	states := s.zeroState(tp, batch)
	zero := tp.zeros(batch, s.units())
	outputs := make([]*node, len(steps))

	for t, x := range steps {
		valid := make([]bool, batch)
		active, all := 0, true
		for i := range valid {
			valid[i] = t < lengths[i]
			if valid[i] {
				active++
			} else {
				all = false
			}
		}
		if active == 0 {
			outputs[t] = zero
			continue
		}

		out, next := s.step(tp, x, states, drop)
		if all {
			outputs[t] = out
			states = next
			continue
		}
		outputs[t] = tp.whereRows(valid, out, zero)
		for l := range states {
			carried := cellState{h: tp.whereRows(valid, next[l].h, states[l].h)}
			if next[l].c != nil {
				carried.c = tp.whereRows(valid, next[l].c, states[l].c)
			}
			states[l] = carried
		}
	}
	return outputs, states
}

// encoder is the recurrent encoder shared by the question and answer sides.
type encoder struct {
	direction string
	fw        *stackedCell
	bw        *stackedCell // nil in mono mode
}

// encoding is the result of one encoder invocation.
type encoding struct {
	outputs []*node     // per step [batch, width]; zero past each row's length
	final   []cellState // forward-direction final state per layer
	width   int
}

func newEncoder(hp HParams, src rand.Source) *encoder {
	e := &encoder{
		direction: hp.Direction,
		fw:        newStackedCell("fw", hp.RNNCell, hp.EmbDim, hp.Hidden, hp.NumLayers, src),
	}
	if hp.Direction == DirectionBi {
		e.bw = newStackedCell("bw", hp.RNNCell, hp.EmbDim, hp.Hidden, hp.NumLayers, src)
	}
	return e
}

func (e *encoder) outputWidth() int {
	if e.bw != nil {
		return 2 * e.fw.units()
	}
	return e.fw.units()
}

// encode runs the encoder over an embedded sequence laid out time-major as
// [steps*batch, emb_dim].
func (e *encoder) encode(tp *tape, embedded *node, batch, steps int, lengths []int, drop func(*node) *node) encoding {
	fwIn := make([]*node, steps)
	for t := range fwIn {
		idx := make([]int, batch)
		for i := range idx {
			idx[i] = t*batch + i
		}
		fwIn[t] = tp.selectRows(embedded, idx)
	}
	fwOut, fwFinal := runRNN(tp, e.fw, fwIn, lengths, batch, drop)
	if e.bw == nil {
		return encoding{outputs: fwOut, final: fwFinal, width: e.outputWidth()}
	}

	// The backward stack reads every row reversed within its own length.
	reversed := func(t int) []int {
		idx := make([]int, batch)
		for i := range idx {
			idx[i] = -1
			if t < lengths[i] {
				idx[i] = (lengths[i]-1-t)*batch + i
			}
		}
		return idx
	}
	bwIn := make([]*node, steps)
	for t := range bwIn {
		bwIn[t] = tp.selectRows(embedded, reversed(t))
	}
	bwRev, _ := runRNN(tp, e.bw, bwIn, lengths, batch, drop)

	outputs := make([]*node, steps)
	if steps > 0 {
		stacked := tp.stackRows(bwRev)
		for t := range outputs {
			outputs[t] = tp.concatCols(fwOut[t], tp.selectRows(stacked, reversed(t)))
		}
	}
	return encoding{outputs: outputs, final: fwFinal, width: e.outputWidth()}
}

func (e *encoder) params() []*Param {
	ps := e.fw.params()
	if e.bw != nil {
		ps = append(ps, e.bw.params()...)
	}
	return ps
}
