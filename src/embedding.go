package qamatch

import (
	"math/rand/v2"
)

// embedding maps token ids to rows of a trainable [vocab, dim] table. One
// table serves both the question and the answer side.
type embedding struct {
	table *Param
	vocab int
	dim   int
}

func newEmbedding(vocab, dim int, src rand.Source) *embedding {
	return &embedding{
		table: newParam("embedding/embedding", vocab, dim, XavierUniform(1.0), vocab, dim, src, false),
		vocab: vocab,
		dim:   dim,
	}
}

// sequence is a token grid prepared for lookup.
type sequence struct {
	batch   int
	steps   int
	lengths []int
	ids     []int // time-major: ids[t*batch+i] is step t of row i
}

// newSequence flattens a [batch][time] grid time-major. Short rows are
// treated as padded with 0.
func newSequence(grid [][]int) sequence {
	s := sequence{batch: len(grid), lengths: make([]int, len(grid))}
	for i, row := range grid {
		s.steps = max(s.steps, len(row))
		s.lengths[i] = seqLength(row)
	}
	s.ids = make([]int, s.steps*s.batch)
	for i, row := range grid {
		for t, id := range row {
			s.ids[t*s.batch+i] = id
		}
	}
	return s
}

// lookup embeds s into a [steps*batch, dim] node, or nil when s has no
// steps at all.
func (e *embedding) lookup(tp *tape, s sequence) (*node, error) {
	if len(s.ids) == 0 {
		return nil, nil
	}
	for k, id := range s.ids {
		if id < 0 || id >= e.vocab {
			return nil, errorf("token id %d at row %d step %d out of range [0, %d)", id, k%s.batch, k/s.batch, e.vocab)
		}
	}
	return tp.selectRows(tp.param(e.table), s.ids), nil
}

func (e *embedding) params() []*Param { return []*Param{e.table} }
