package qamatch

import (
	"sort"
	"strings"
)

// Parameter freezing for fine-tuning. A frozen parameter still takes part
// in the forward pass and the losses, but training updates leave it alone.

// ParamFreezeInfo reports one parameter's freeze status
type ParamFreezeInfo struct {
	Name   string
	Frozen bool
	Size   int
}

// matchScope reports whether name lies in scope, e.g. "fw" holds
// "fw/layer_0/lstm/kernel" but not "fwd/x".
func matchScope(name, scope string) bool {
	return name == scope || strings.HasPrefix(name, scope+"/")
}

func (m *Model) scopeParams(scope string) ([]*Param, error) {
	var ps []*Param
	for _, p := range m.params.All() {
		if matchScope(p.Name, scope) {
			ps = append(ps, p)
		}
	}
	if len(ps) == 0 {
		return nil, errorf("no parameter in scope %q", scope)
	}
	return ps, nil
}

// Freeze freezes every parameter under the given scopes, e.g. "embedding"
// to keep pretrained token vectors fixed. Unknown scopes are an error and
// freeze nothing.
func (m *Model) Freeze(scopes ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var targets []*Param
	for _, s := range scopes {
		ps, err := m.scopeParams(s)
		if err != nil {
			return err
		}
		targets = append(targets, ps...)
	}
	if m.frozen == nil {
		m.frozen = make(map[*Param]bool)
	}
	for _, p := range targets {
		m.frozen[p] = true
	}
	return nil
}

// Unfreeze lets the parameters under the given scopes train again
func (m *Model) Unfreeze(scopes ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range scopes {
		ps, err := m.scopeParams(s)
		if err != nil {
			return err
		}
		for _, p := range ps {
			delete(m.frozen, p)
		}
	}
	return nil
}

// UnfreezeAll unfreezes every parameter
func (m *Model) UnfreezeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = nil
}

// IsFrozen returns whether the named parameter is frozen
func (m *Model) IsFrozen(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.params.Lookup(name)
	return ok && m.frozen[p]
}

// FrozenParams returns the names of all frozen parameters, sorted
func (m *Model) FrozenParams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.frozen))
	for p := range m.frozen {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// FreezeSummary lists every parameter in registration order
func (m *Model) FreezeSummary() []ParamFreezeInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.params.All()
	info := make([]ParamFreezeInfo, len(all))
	for i, p := range all {
		info[i] = ParamFreezeInfo{Name: p.Name, Frozen: m.frozen[p], Size: p.Size()}
	}
	return info
}

// TrainableParamCount is the number of weights a training update can change
func (m *Model) TrainableParamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, p := range m.params.All() {
		if !m.frozen[p] {
			total += p.Size()
		}
	}
	return total
}
