package qamatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testCorpus(t *testing.T, hp HParams) *Corpus {
	t.Helper()
	q := make([][]int, 12)
	a := make([][]int, 12)
	for i := range q {
		q[i] = []int{1 + i, 20 + i, 40 + i}
		a[i] = []int{60 + i, 1 + i}
	}
	c, err := NewCorpus(q, a, hp, 5)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestTrainerRun(t *testing.T) {
	hp := smallHParams()
	m := newTestModel(t, hp)
	path := filepath.Join(t.TempDir(), "model.json")
	history := History()

	result, err := NewTrainer(m, testCorpus(t, hp)).
		WithEval(pairBatch(), MeanReciprocalRank()).
		Run(context.Background(), TrainConfig{MaxIter: 6, ShowIter: 2, SaveIter: 3, CheckpointPath: path}, []Callback{history})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Steps != 6 || result.LastStep != 6 || result.Stopped {
		t.Errorf("result = %+v", result)
	}
	for _, key := range []string{"show_loss", "learning_rate", "val_mrr", "val_show_loss"} {
		if n := len(history.History[key]); n != 3 {
			t.Errorf("history[%s] has %d windows, want 3", key, n)
		}
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("checkpoint not written: %v", err)
	}
}

func TestTrainerEarlyStopping(t *testing.T) {
	hp := smallHParams(Overrides{DecayRate: Ptr(0.5), DecaySteps: Ptr(1)})
	m := newTestModel(t, hp)

	// The learning rate only falls, so max mode never improves after the
	// first window.
	stopper := EarlyStopping(EarlyStoppingConfig{Monitor: "learning_rate", Patience: 2, Mode: "max"}).(*EarlyStoppingCallback)
	result, err := NewTrainer(m, testCorpus(t, hp)).
		Run(context.Background(), TrainConfig{MaxIter: 20, ShowIter: 2}, []Callback{stopper})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Stopped || result.Steps != 6 || stopper.StoppedStep() != 6 {
		t.Errorf("result = %+v, stopped at %d; want a stop after 3 windows", result, stopper.StoppedStep())
	}
}

func TestTrainerCancelled(t *testing.T) {
	hp := smallHParams()
	m := newTestModel(t, hp)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewTrainer(m, testCorpus(t, hp)).Run(ctx, TrainConfig{MaxIter: 5, ShowIter: 1}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if result.Steps != 0 || m.GlobalStep() != 0 {
		t.Errorf("cancelled run applied %d updates", result.Steps)
	}
}

func TestTrainerRejectsBadConfig(t *testing.T) {
	hp := smallHParams()
	m := newTestModel(t, hp)
	if _, err := NewTrainer(m, testCorpus(t, hp)).Run(context.Background(), TrainConfig{MaxIter: 5}, nil); err == nil {
		t.Error("Run should reject ShowIter 0")
	}
}
