package qamatch

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// ParamState is one serialized parameter.
type ParamState struct {
	Name   string    `json:"name"`
	Shape  [2]int    `json:"shape"`
	Values []float64 `json:"values"`
}

// ModelState for serialization. Optimizer slots are not saved; a resumed
// model restarts its moment estimates.
type ModelState struct {
	Version    string       `json:"version"`
	HParams    HParams      `json:"hparams"`
	GlobalStep int64        `json:"global_step"`
	Params     []ParamState `json:"params"`
}

// Save writes parameters and the global step to path as JSON.
func (m *Model) Save(path string) error {
	m.mu.Lock()
	state := ModelState{
		Version:    Version,
		HParams:    m.hp,
		GlobalStep: m.globalStep,
	}
	for _, p := range m.params.All() {
		r, c := p.Value.Dims()
		values := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			values = append(values, p.Value.RawRowView(i)...)
		}
		state.Params = append(state.Params, ParamState{Name: p.Name, Shape: [2]int{r, c}, Values: values})
	}
	m.mu.Unlock()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("qamatch: save checkpoint: %w", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(state); err != nil {
		return fmt.Errorf("qamatch: save checkpoint: %w", err)
	}
	return file.Close()
}

// Load restores a checkpoint written by Save. Every parameter of the model
// must be present with the same shape; nothing is changed on mismatch.
func (m *Model) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("qamatch: load checkpoint: %w", err)
	}
	defer file.Close()

	var state ModelState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return fmt.Errorf("qamatch: load checkpoint %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(state.Params) != m.params.Len() {
		return errorf("checkpoint has %d parameters, model has %d", len(state.Params), m.params.Len())
	}
	restored := make(map[*Param]*mat.Dense, len(state.Params))
	for _, ps := range state.Params {
		p, ok := m.params.Lookup(ps.Name)
		if !ok {
			return errorf("checkpoint parameter %q not in model", ps.Name)
		}
		if _, dup := restored[p]; dup {
			return errorf("checkpoint parameter %q appears twice", ps.Name)
		}
		r, c := p.Value.Dims()
		if ps.Shape != [2]int{r, c} || len(ps.Values) != r*c {
			return errorf("checkpoint parameter %q has shape %v, model has [%d %d]", ps.Name, ps.Shape, r, c)
		}
		restored[p] = mat.NewDense(r, c, ps.Values)
	}
	for p, v := range restored {
		p.Value.Copy(v)
	}
	m.globalStep = state.GlobalStep
	return nil
}
