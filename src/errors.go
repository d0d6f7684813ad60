package qamatch

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidConfig is wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("qamatch: invalid configuration")

// ErrMissingFeed is returned by Run when a fetch needs an input the plan
// does not bind.
var ErrMissingFeed = errors.New("qamatch: missing feed")

// ConfigError names the offending hyperparameter.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("qamatch: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func configErr(field string, value any, reason string) error {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}

// TensorInfo captures matrix state for error reporting
type TensorInfo struct {
	Shape      []int
	Size       int
	NaNCount   int
	InfCount   int
	MinValue   float64
	MaxValue   float64
	BadIndices []int // First 10 corrupted indices
}

// Format returns a compact string representation
func (t *TensorInfo) Format() string {
	s := fmt.Sprintf("%v size=%d", t.Shape, t.Size)
	if t.NaNCount > 0 || t.InfCount > 0 {
		s += fmt.Sprintf(" (corrupt: %d NaN, %d Inf)", t.NaNCount, t.InfCount)
	} else {
		s += fmt.Sprintf(" range=[%.4f, %.4f]", t.MinValue, t.MaxValue)
	}
	return s
}

// ScanMatrix checks for NaN/Inf and collects stats
func ScanMatrix(m *mat.Dense) *TensorInfo {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	info := &TensorInfo{
		Shape:      []int{r, c},
		Size:       r * c,
		MinValue:   math.Inf(1),
		MaxValue:   math.Inf(-1),
		BadIndices: make([]int, 0, 10),
	}

	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i) {
			switch {
			case math.IsNaN(v):
				info.NaNCount++
			case math.IsInf(v, 0):
				info.InfCount++
			default:
				info.MinValue = math.Min(info.MinValue, v)
				info.MaxValue = math.Max(info.MaxValue, v)
				continue
			}
			if len(info.BadIndices) < 10 {
				info.BadIndices = append(info.BadIndices, i*c+j)
			}
		}
	}

	// Handle all-corrupt matrices
	if math.IsInf(info.MinValue, 1) {
		info.MinValue = 0
	}
	if math.IsInf(info.MaxValue, -1) {
		info.MaxValue = 0
	}
	return info
}

// ModelError is the structured error Run returns when a computation goes
// numerically wrong.
type ModelError struct {
	Component string // "scorer", "encoder", ...
	ErrorType string // "NaN detected", "Inf detected"
	Phase     string // "forward", "backward", "update"
	Step      int64  // global step at the time
	Info      *TensorInfo
	Cause     string
}

// Error implements the error interface
func (e *ModelError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "qamatch: %s %s during %s at step %d\n", e.Component, e.ErrorType, e.Phase, e.Step)
	if e.Info != nil {
		fmt.Fprintf(&b, "  value:    %s\n", e.Info.Format())
	}
	fmt.Fprintf(&b, "  cause:    %s", e.Cause)
	return b.String()
}

// checkFinite reports a ModelError when m holds NaN or Inf.
func checkFinite(m *mat.Dense, component, phase string, step int64) error {
	info := ScanMatrix(m)
	switch {
	case info.NaNCount > 0:
		return &ModelError{
			Component: component,
			ErrorType: "NaN detected",
			Phase:     phase,
			Step:      step,
			Info:      info,
			Cause:     fmt.Sprintf("%d NaN values at indices %v", info.NaNCount, info.BadIndices),
		}
	case info.InfCount > 0:
		return &ModelError{
			Component: component,
			ErrorType: "Inf detected",
			Phase:     phase,
			Step:      step,
			Info:      info,
			Cause:     fmt.Sprintf("%d Inf values at indices %v - likely overflow", info.InfCount, info.BadIndices),
		}
	}
	return nil
}
