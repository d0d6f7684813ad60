package qamatch

import (
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func noDrop(n *node) *node { return n }

func TestNewCellFallback(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{"lstm", "lstm"},
		{"LSTM", "lstm"},
		{"gru", "gru"},
		{"Gru", "gru"},
		{"rnn", "basic_rnn"},
		{"", "basic_rnn"},
	}
	for _, tt := range tests {
		c := newCell(tt.kind, "cell", 3, 4, rand.NewPCG(1, 2))
		if c.kind() != tt.want {
			t.Errorf("newCell(%q) = %s, want %s", tt.kind, c.kind(), tt.want)
		}
	}
}

func TestCellParamCounts(t *testing.T) {
	src := rand.NewPCG(1, 2)
	tests := []struct {
		c    cell
		want int
	}{
		{newLSTMCell("l", 3, 4, src), (3+4)*16 + 16},
		{newGRUCell("g", 3, 4, src), (3+4)*8 + 8 + (3+4)*4 + 4},
		{newBasicCell("b", 3, 4, src), (3+4)*4 + 4},
	}
	for _, tt := range tests {
		total := 0
		for _, p := range tt.c.params() {
			total += p.Size()
		}
		if total != tt.want {
			t.Errorf("%s: %d weights, want %d", tt.c.kind(), total, tt.want)
		}
	}
}

func TestGRUGateBiasStartsAtOne(t *testing.T) {
	g := newGRUCell("g", 2, 3, rand.NewPCG(1, 2))
	bias := g.gates.bias.Value
	r, c := bias.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if bias.At(i, j) != 1 {
				t.Fatalf("gate bias (%d,%d) = %f, want 1", i, j, bias.At(i, j))
			}
		}
	}
}

// rollout runs a two-layer stack over a time-major input parameter and
// returns every output step and the top final h stacked together.
func rollout(s *stackedCell, x *Param, batch, steps int, lengths []int) func(tp *tape) *node {
	return func(tp *tape) *node {
		in := tp.param(x)
		xs := make([]*node, steps)
		for t := range xs {
			idx := make([]int, batch)
			for i := range idx {
				idx[i] = t*batch + i
			}
			xs[t] = tp.selectRows(in, idx)
		}
		outs, final := runRNN(tp, s, xs, lengths, batch, noDrop)
		return tp.stackRows(append(outs, final[len(final)-1].h))
	}
}

func TestRNNGradients(t *testing.T) {
	const batch, steps, in, units = 3, 3, 2, 3
	lengths := []int{3, 1, 2}
	for _, kind := range []string{"lstm", "gru", "basic"} {
		t.Run(kind, func(t *testing.T) {
			s := newStackedCell("fw", kind, in, units, 2, rand.NewPCG(5, 6))
			x := testParam("x", steps*batch, in, 9)
			gradCheck(t, append(s.params(), x), rollout(s, x, batch, steps, lengths))
		})
	}
}

func TestRNNMasking(t *testing.T) {
	const batch, steps, in, units = 3, 4, 2, 5
	lengths := []int{4, 1, 0}
	s := newStackedCell("fw", "lstm", in, units, 1, rand.NewPCG(1, 2))
	x := testParam("x", steps*batch, in, 3)

	tp := newTape()
	xs := make([]*node, steps)
	for t := range xs {
		xs[t] = tp.selectRows(tp.param(x), []int{t * batch, t*batch + 1, t*batch + 2})
	}
	outs, final := runRNN(tp, s, xs, lengths, batch, noDrop)

	for step, o := range outs {
		for i := 0; i < batch; i++ {
			row := o.value.RawRowView(i)
			if step >= lengths[i] && !mat.Equal(mat.NewDense(1, units, row), mat.NewDense(1, units, nil)) {
				t.Errorf("step %d row %d past length is %v, want zeros", step, i, row)
			}
		}
	}

	h := final[0].h.value
	// Row 1 stops after its first step, so its final h is that step's output.
	if !mat.EqualApprox(h.Slice(1, 2, 0, units), outs[0].value.Slice(1, 2, 0, units), 1e-12) {
		t.Error("final state of a length-1 row should equal its first output")
	}
	if !mat.EqualApprox(h.Slice(0, 1, 0, units), outs[3].value.Slice(0, 1, 0, units), 1e-12) {
		t.Error("final state of a full row should equal its last output")
	}
	for _, v := range h.RawRowView(2) {
		if v != 0 {
			t.Fatalf("zero-length row final state = %v, want zeros", h.RawRowView(2))
		}
	}
}

func encodeGrid(e *encoder, emb *embedding, grid [][]int) encoding {
	tp := newTape()
	s := newSequence(grid)
	x, err := emb.lookup(tp, s)
	if err != nil {
		panic(err)
	}
	return e.encode(tp, x, s.batch, s.steps, s.lengths, noDrop)
}

func TestBiEncoderPaddingInvariance(t *testing.T) {
	hp := Merge(SoloBase(), Overrides{
		Direction: Ptr(DirectionBi),
		Hidden:    Ptr(4),
		EmbDim:    Ptr(3),
		VocabSize: Ptr(20),
	})
	src := rand.NewPCG(1, 2)
	e := newEncoder(hp, src)
	emb := newEmbedding(hp.VocabSize, hp.EmbDim, src)

	short := encodeGrid(e, emb, [][]int{{5, 9, 2}})
	padded := encodeGrid(e, emb, [][]int{{5, 9, 2, 0, 0}})

	if short.width != 8 || padded.width != 8 {
		t.Fatalf("bi width = %d, want 8", short.width)
	}
	if len(padded.outputs) != 5 {
		t.Fatalf("padded outputs = %d steps, want 5", len(padded.outputs))
	}
	for step := 0; step < 3; step++ {
		if !mat.EqualApprox(short.outputs[step].value, padded.outputs[step].value, 1e-12) {
			t.Errorf("step %d differs between padded and unpadded input", step)
		}
	}
	for step := 3; step < 5; step++ {
		if mat.Sum(padded.outputs[step].value) != 0 || mat.Norm(padded.outputs[step].value, 2) != 0 {
			t.Errorf("padding step %d should be zero", step)
		}
	}
	if !mat.EqualApprox(short.final[0].h.value, padded.final[0].h.value, 1e-12) {
		t.Error("final state should ignore padding")
	}
}

func TestBiEncoderBackwardReadsReversed(t *testing.T) {
	hp := Merge(SoloBase(), Overrides{
		Direction: Ptr(DirectionBi),
		RNNCell:   Ptr("gru"),
		Hidden:    Ptr(3),
		EmbDim:    Ptr(2),
		VocabSize: Ptr(10),
	})
	src := rand.NewPCG(3, 4)
	e := newEncoder(hp, src)
	emb := newEmbedding(hp.VocabSize, hp.EmbDim, src)

	forward := encodeGrid(e, emb, [][]int{{1, 2, 3}})

	// Running the bw stack forward over the reversed tokens must give the
	// backward half of the outputs, reversed.
	tp := newTape()
	s := newSequence([][]int{{3, 2, 1}})
	x, _ := emb.lookup(tp, s)
	xs := make([]*node, 3)
	for t := range xs {
		xs[t] = tp.selectRows(x, []int{t})
	}
	bwOuts, _ := runRNN(tp, e.bw, xs, s.lengths, 1, noDrop)

	for step := 0; step < 3; step++ {
		got := forward.outputs[step].value.Slice(0, 1, 3, 6)
		want := bwOuts[2-step].value
		if !mat.EqualApprox(got, want, 1e-12) {
			t.Errorf("step %d backward half = %v, want %v", step, mat.Formatted(got), mat.Formatted(want))
		}
	}
}

func TestEncoderZeroSteps(t *testing.T) {
	hp := Merge(SoloBase(), Overrides{Direction: Ptr(DirectionBi), Hidden: Ptr(4), EmbDim: Ptr(3), VocabSize: Ptr(10)})
	src := rand.NewPCG(1, 2)
	enc := encodeGrid(newEncoder(hp, src), newEmbedding(10, 3, src), [][]int{{}, {}})
	if len(enc.outputs) != 0 {
		t.Fatalf("outputs = %d steps, want 0", len(enc.outputs))
	}
	if mat.Norm(enc.final[0].h.value, 2) != 0 {
		t.Error("final state of empty input should be zero")
	}
}
