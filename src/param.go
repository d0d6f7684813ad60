package qamatch

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Param is a trainable matrix owned by exactly one module.
type Param struct {
	Name  string
	Value *mat.Dense
	Bias  bool // excluded from L2 regularization

	grad *mat.Dense // gradient of the last update, nil when undefined
}

func newParam(name string, rows, cols int, init Initializer, fanIn, fanOut int, src rand.Source, bias bool) *Param {
	p := &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Bias:  bias,
	}
	init.initialize(p.Value, fanIn, fanOut, src)
	return p
}

// Size is the number of scalar weights in p.
func (p *Param) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// Grad is the clipped gradient applied by the last training update, or nil
// when the parameter had no gradient and was skipped.
func (p *Param) Grad() *mat.Dense { return p.grad }

// ParamSet is the explicit, ordered registry of every trainable parameter
// of a model. Sub-modules hand their parameters to the body, which
// registers them once.
type ParamSet struct {
	params []*Param
	byName map[string]*Param
}

func newParamSet() *ParamSet {
	return &ParamSet{byName: make(map[string]*Param)}
}

func (s *ParamSet) register(params ...*Param) error {
	for _, p := range params {
		if _, dup := s.byName[p.Name]; dup {
			return errorf("parameter %q registered twice", p.Name)
		}
		s.byName[p.Name] = p
		s.params = append(s.params, p)
	}
	return nil
}

// All returns the parameters in registration order.
func (s *ParamSet) All() []*Param {
	out := make([]*Param, len(s.params))
	copy(out, s.params)
	return out
}

// Lookup finds a parameter by its scoped name, e.g. "fw/layer_0/lstm/kernel".
func (s *ParamSet) Lookup(name string) (*Param, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// Len is the number of parameter matrices.
func (s *ParamSet) Len() int {
	return len(s.params)
}

// Size is the total number of scalar weights.
func (s *ParamSet) Size() int {
	total := 0
	for _, p := range s.params {
		total += p.Size()
	}
	return total
}

func (s *ParamSet) clearGrads() {
	for _, p := range s.params {
		p.grad = nil
	}
}

// module is implemented by every component that owns parameters.
type module interface {
	params() []*Param
}
