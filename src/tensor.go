package qamatch

import (
	"gonum.org/v1/gonum/mat"
)

// node is one value recorded on a tape. grad stays nil until the backward
// pass reaches the node from the root, which is how "no gradient" is told
// apart from "zero gradient".
type node struct {
	value     *mat.Dense
	grad      *mat.Dense
	needsGrad bool
	backward  func()
}

func (n *node) dims() (int, int) {
	return n.value.Dims()
}

func (n *node) ensureGrad() {
	if n.grad == nil {
		r, c := n.value.Dims()
		n.grad = mat.NewDense(r, c, nil)
	}
}

// accumulate adds g into the node gradient.
func (n *node) accumulate(g mat.Matrix) {
	if !n.needsGrad {
		return
	}
	n.ensureGrad()
	n.grad.Add(n.grad, g)
}

// accumulateCols adds g into the column block of the gradient starting at from.
func (n *node) accumulateCols(from int, g mat.Matrix) {
	if !n.needsGrad {
		return
	}
	n.ensureGrad()
	r, c := g.Dims()
	block := n.grad.Slice(0, r, from, from+c).(*mat.Dense)
	block.Add(block, g)
}

// accumulateRow adds g into row i of the gradient.
func (n *node) accumulateRow(i int, g []float64) {
	if !n.needsGrad {
		return
	}
	n.ensureGrad()
	row := n.grad.RawRowView(i)
	for j, v := range g {
		row[j] += v
	}
}

// tape records the forward computation of a single Run in execution order,
// which is also a valid topological order for the backward sweep.
type tape struct {
	nodes  []*node
	params map[*Param]*node
}

func newTape() *tape {
	return &tape{params: make(map[*Param]*node)}
}

// record appends an op result. The node needs a gradient when any input does.
func (tp *tape) record(value *mat.Dense, inputs ...*node) *node {
	n := &node{value: value}
	for _, in := range inputs {
		if in.needsGrad {
			n.needsGrad = true
			break
		}
	}
	tp.nodes = append(tp.nodes, n)
	return n
}

// constant wraps a matrix that never receives a gradient.
func (tp *tape) constant(m *mat.Dense) *node {
	return &node{value: m}
}

func (tp *tape) zeros(rows, cols int) *node {
	return tp.constant(mat.NewDense(rows, cols, nil))
}

// param returns the single leaf node bound to p on this tape. Reading the
// same parameter twice yields the same node so gradients from every use
// land in one place.
func (tp *tape) param(p *Param) *node {
	if n, ok := tp.params[p]; ok {
		return n
	}
	n := &node{value: p.Value, needsGrad: true}
	tp.params[p] = n
	return n
}

// backprop seeds root with seed and sweeps the tape in reverse.
func (tp *tape) backprop(root *node, seed *mat.Dense) {
	root.grad = mat.DenseCopyOf(seed)
	for i := len(tp.nodes) - 1; i >= 0; i-- {
		n := tp.nodes[i]
		if n.grad == nil || n.backward == nil {
			continue
		}
		n.backward()
	}
}

// gradOf reports the gradient that reached p during the last backprop, or
// nil when p is not connected to the root.
func (tp *tape) gradOf(p *Param) *mat.Dense {
	n, ok := tp.params[p]
	if !ok {
		return nil
	}
	return n.grad
}

func scalar(n *node) float64 {
	return n.value.At(0, 0)
}
