package qamatch

import (
	"math/rand/v2"
)

// Batch yields paired question/answer token grids. Row i of the question
// grid is answered by row i of the answer grid.
type Batch interface {
	Size() int
	QuestionAnswerPair() (questions, answers [][]int)
}

// BatchSource hands out training batches.
type BatchSource interface {
	Next() Batch
}

// PairBatch is a padded in-memory Batch.
type PairBatch struct {
	questions [][]int
	answers   [][]int
}

// NewPairBatch truncates questions to xMaxLen and answers to yMaxLen, then
// zero pads each side to its longest remaining row. The inputs are copied.
func NewPairBatch(questions, answers [][]int, xMaxLen, yMaxLen int) *PairBatch {
	return &PairBatch{
		questions: padRows(questions, xMaxLen),
		answers:   padRows(answers, yMaxLen),
	}
}

func (b *PairBatch) Size() int { return len(b.questions) }

func (b *PairBatch) QuestionAnswerPair() ([][]int, [][]int) {
	return b.questions, b.answers
}

func padRows(rows [][]int, maxLen int) [][]int {
	width := 0
	for _, r := range rows {
		width = max(width, min(len(r), maxLen))
	}
	out := make([][]int, len(rows))
	for i, r := range rows {
		out[i] = make([]int, width)
		copy(out[i], r[:min(len(r), maxLen)])
	}
	return out
}

// Corpus cycles over a paired dataset in shuffled minibatches. The order is
// reshuffled at every epoch boundary; the last batch of an epoch may be
// short.
type Corpus struct {
	questions [][]int
	answers   [][]int
	batchSize int
	xMaxLen   int
	yMaxLen   int
	rng       *rand.Rand
	pos       int
	epoch     int
}

// NewCorpus takes ownership of the slices and shuffles them in place.
func NewCorpus(questions, answers [][]int, hp HParams, seed uint64) (*Corpus, error) {
	if len(questions) == 0 {
		return nil, errorf("corpus is empty")
	}
	if len(questions) != len(answers) {
		return nil, errorf("corpus has %d questions but %d answers", len(questions), len(answers))
	}
	if hp.BatchSize <= 0 {
		return nil, configErr("batch_size", hp.BatchSize, "must be > 0")
	}
	if hp.XMaxLen <= 0 || hp.YMaxLen <= 0 {
		return nil, configErr("x_max_len/y_max_len", [2]int{hp.XMaxLen, hp.YMaxLen}, "must be > 0")
	}
	c := &Corpus{
		questions: questions,
		answers:   answers,
		batchSize: hp.BatchSize,
		xMaxLen:   hp.XMaxLen,
		yMaxLen:   hp.YMaxLen,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	shufflePairs(c.questions, c.answers, c.rng)
	return c, nil
}

// Len is the number of pairs.
func (c *Corpus) Len() int { return len(c.questions) }

// Epoch is the number of completed passes.
func (c *Corpus) Epoch() int { return c.epoch }

// Next returns the following minibatch.
func (c *Corpus) Next() Batch {
	end := min(c.pos+c.batchSize, len(c.questions))
	b := NewPairBatch(c.questions[c.pos:end], c.answers[c.pos:end], c.xMaxLen, c.yMaxLen)
	c.pos = end
	if c.pos == len(c.questions) {
		c.pos = 0
		c.epoch++
		shufflePairs(c.questions, c.answers, c.rng)
	}
	return b
}
