package qamatch

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Initializer sets up initial weights for parameters
type Initializer interface {
	initialize(m *mat.Dense, fanIn, fanOut int, src rand.Source)
	name() string
}

func fillFrom(m *mat.Dense, draw func() float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] = draw()
		}
	}
}

// XavierUniformInit - Xavier/Glorot uniform initialization
type XavierUniformInit struct {
	Gain float64
}

func XavierUniform(gain float64) Initializer {
	return &XavierUniformInit{Gain: gain}
}

func (x *XavierUniformInit) initialize(m *mat.Dense, fanIn, fanOut int, src rand.Source) {
	limit := x.Gain * math.Sqrt(6.0/float64(fanIn+fanOut))
	dist := distuv.Uniform{Min: -limit, Max: limit, Src: src}
	fillFrom(m, dist.Rand)
}

func (x *XavierUniformInit) name() string { return "xavier_uniform" }

// TruncatedNormalInit draws from a normal distribution and redraws any value
// further than two standard deviations from the mean.
type TruncatedNormalInit struct {
	Mean   float64
	StdDev float64
}

func TruncatedNormal(mean, stddev float64) Initializer {
	return &TruncatedNormalInit{Mean: mean, StdDev: stddev}
}

func (t *TruncatedNormalInit) initialize(m *mat.Dense, fanIn, fanOut int, src rand.Source) {
	dist := distuv.Normal{Mu: t.Mean, Sigma: t.StdDev, Src: src}
	bound := 2 * t.StdDev
	fillFrom(m, func() float64 {
		for {
			v := dist.Rand()
			if math.Abs(v-t.Mean) <= bound {
				return v
			}
		}
	})
}

func (t *TruncatedNormalInit) name() string { return "truncated_normal" }

// ZerosInit - initialize with zeros
type ZerosInit struct{}

func Zeros() Initializer { return &ZerosInit{} }

func (z *ZerosInit) initialize(m *mat.Dense, fanIn, fanOut int, src rand.Source) {
	m.Zero()
}

func (z *ZerosInit) name() string { return "zeros" }

// ConstantInit - initialize with constant value
type ConstantInit struct {
	Value float64
}

func Constant(value float64) Initializer {
	return &ConstantInit{Value: value}
}

func (c *ConstantInit) initialize(m *mat.Dense, fanIn, fanOut int, src rand.Source) {
	fillFrom(m, func() float64 { return c.Value })
}

func (c *ConstantInit) name() string { return "constant" }
