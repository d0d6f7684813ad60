package qamatch

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Metric accumulates a retrieval metric over [batch, batch] score matrices
// whose diagonal holds the paired answers.
type Metric interface {
	reset()
	update(scores *mat.Dense)
	result() float64
	name() string
}

// pairRank is the 1-based rank of the paired answer in row i. Ties rank in
// the pair's favour.
func pairRank(scores *mat.Dense, i int) int {
	row := scores.RawRowView(i)
	rank := 1
	for j, s := range row {
		if j != i && s > row[i] {
			rank++
		}
	}
	return rank
}

// TopKAccuracyMetric - share of questions whose answer ranks in the top K
type TopKAccuracyMetric struct {
	K       int
	correct int
	total   int
}

type TopKConfig struct {
	K int
}

func TopKAccuracy(config TopKConfig) Metric {
	return &TopKAccuracyMetric{K: config.K}
}

func (t *TopKAccuracyMetric) reset() {
	t.correct = 0
	t.total = 0
}

func (t *TopKAccuracyMetric) update(scores *mat.Dense) {
	r, _ := scores.Dims()
	for i := 0; i < r; i++ {
		if pairRank(scores, i) <= t.K {
			t.correct++
		}
		t.total++
	}
}

func (t *TopKAccuracyMetric) result() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.correct) / float64(t.total)
}

func (t *TopKAccuracyMetric) name() string { return fmt.Sprintf("top_%d_accuracy", t.K) }

// MeanReciprocalRankMetric - mean of 1/rank of the paired answer
type MeanReciprocalRankMetric struct {
	sum   float64
	total int
}

func MeanReciprocalRank() Metric {
	return &MeanReciprocalRankMetric{}
}

func (m *MeanReciprocalRankMetric) reset() {
	m.sum = 0
	m.total = 0
}

func (m *MeanReciprocalRankMetric) update(scores *mat.Dense) {
	r, _ := scores.Dims()
	for i := 0; i < r; i++ {
		m.sum += 1 / float64(pairRank(scores, i))
		m.total++
	}
}

func (m *MeanReciprocalRankMetric) result() float64 {
	if m.total == 0 {
		return 0
	}
	return m.sum / float64(m.total)
}

func (m *MeanReciprocalRankMetric) name() string { return "mrr" }
