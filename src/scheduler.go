package qamatch

import "math"

// Scheduler maps the global step to a learning rate
type Scheduler interface {
	rate(globalStep int64) float64
	name() string
}

// ExponentialDecayScheduler - base·gamma^(step/decaySteps), continuous
type ExponentialDecayScheduler struct {
	Base       float64
	Gamma      float64
	DecaySteps int
	Staircase  bool // floor the exponent, dropping in discrete jumps
}

type ExponentialDecayConfig struct {
	Base       float64
	Gamma      float64
	DecaySteps int
	Staircase  bool
}

func ExponentialDecay(config ExponentialDecayConfig) Scheduler {
	return &ExponentialDecayScheduler{
		Base:       config.Base,
		Gamma:      config.Gamma,
		DecaySteps: config.DecaySteps,
		Staircase:  config.Staircase,
	}
}

func (e *ExponentialDecayScheduler) rate(globalStep int64) float64 {
	p := float64(globalStep) / float64(e.DecaySteps)
	if e.Staircase {
		p = math.Floor(p)
	}
	return e.Base * math.Pow(e.Gamma, p)
}

func (e *ExponentialDecayScheduler) name() string { return "exponential_decay" }

// ConstantScheduler - fixed learning rate
type ConstantScheduler struct {
	LR float64
}

func ConstantLR(lr float64) Scheduler { return &ConstantScheduler{LR: lr} }

func (c *ConstantScheduler) rate(globalStep int64) float64 { return c.LR }

func (c *ConstantScheduler) name() string { return "constant" }
