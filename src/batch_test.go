package qamatch

import (
	"reflect"
	"testing"
)

func TestNewPairBatch(t *testing.T) {
	questions := [][]int{{1, 2, 3, 4, 5}, {6}}
	answers := [][]int{{7, 8}, {9}}
	b := NewPairBatch(questions, answers, 3, 4)

	q, a := b.QuestionAnswerPair()
	if want := [][]int{{1, 2, 3}, {6, 0, 0}}; !reflect.DeepEqual(q, want) {
		t.Errorf("questions = %v, want %v", q, want)
	}
	if want := [][]int{{7, 8}, {9, 0}}; !reflect.DeepEqual(a, want) {
		t.Errorf("answers = %v, want %v", a, want)
	}
	if b.Size() != 2 {
		t.Errorf("Size = %d, want 2", b.Size())
	}

	questions[1][0] = 99
	if q[1][0] != 6 {
		t.Error("batch should copy its inputs")
	}
}

func TestNewCorpusErrors(t *testing.T) {
	hp := smallHParams()
	tests := []struct {
		name string
		q, a [][]int
		hp   HParams
	}{
		{"empty", nil, nil, hp},
		{"mismatched", [][]int{{1}, {2}}, [][]int{{3}}, hp},
		{"batch size", [][]int{{1}}, [][]int{{2}}, Merge(hp, Overrides{BatchSize: Ptr(0)})},
		{"max len", [][]int{{1}}, [][]int{{2}}, Merge(hp, Overrides{YMaxLen: Ptr(0)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if c, err := NewCorpus(tt.q, tt.a, tt.hp, 1); err == nil || c != nil {
				t.Errorf("NewCorpus = %v, %v; want an error", c, err)
			}
		})
	}
}

func TestCorpusEpochs(t *testing.T) {
	const n = 10
	q := make([][]int, n)
	a := make([][]int, n)
	for i := range q {
		q[i] = []int{i + 1}
		a[i] = []int{i + 1, i + 1}
	}
	c, err := NewCorpus(q, a, smallHParams(), 7) // batch size 4
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != n {
		t.Fatalf("Len = %d, want %d", c.Len(), n)
	}

	seen := make(map[int]int)
	sizes := []int{}
	for c.Epoch() == 0 {
		b := c.Next()
		sizes = append(sizes, b.Size())
		bq, ba := b.QuestionAnswerPair()
		for i := range bq {
			if ba[i][0] != bq[i][0] {
				t.Fatalf("pair broken: question %v answer %v", bq[i], ba[i])
			}
			seen[bq[i][0]]++
		}
	}
	if !reflect.DeepEqual(sizes, []int{4, 4, 2}) {
		t.Errorf("batch sizes = %v, want [4 4 2]", sizes)
	}
	for id := 1; id <= n; id++ {
		if seen[id] != 1 {
			t.Errorf("pair %d seen %d times in one epoch", id, seen[id])
		}
	}
	if b := c.Next(); b.Size() != 4 || c.Epoch() != 1 {
		t.Errorf("second epoch starts with a batch of %d at epoch %d", b.Size(), c.Epoch())
	}
}
