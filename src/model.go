package qamatch

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Fetch names an output Run can produce.
type Fetch string

const (
	// TrainOp applies one optimizer update. It is the only fetch that
	// mutates the model. Its value is the global step after the update.
	TrainOp       Fetch = "train_op"
	ShowLoss      Fetch = "show_loss" // mean cross-entropy, no penalty
	MeanLoss      Fetch = "mean_loss" // ShowLoss plus the L2 penalty
	QuestionState Fetch = "question_state"
	AnswerState   Fetch = "answer_state"
	Scores        Fetch = "scores"
	LearningRate  Fetch = "learning_rate"
)

// Feed binds the inputs of one Run. Nothing has a default: a fetch whose
// input is unbound fails with ErrMissingFeed.
type Feed struct {
	Question [][]int
	Answer   [][]int
	Labels   *mat.Dense
	KeepProb *float64
}

// Plan is what Step and Infer return: the outputs to fetch and the inputs
// to bind.
type Plan struct {
	Fetches []Fetch
	Feed    Feed
}

// Result holds the fetched values of one Run.
type Result struct {
	values map[Fetch]*mat.Dense
}

// Matrix returns a fetched value, or nil when f was not fetched.
func (r *Result) Matrix(f Fetch) *mat.Dense { return r.values[f] }

// Scalar returns element (0, 0) of a fetched value.
func (r *Result) Scalar(f Fetch) float64 {
	m := r.values[f]
	if m == nil {
		return 0
	}
	return m.At(0, 0)
}

// Has reports whether f was fetched.
func (r *Result) Has(f Fetch) bool {
	_, ok := r.values[f]
	return ok
}

// Model is the dual-encoder matcher. It is built completely by New; Run is
// safe to call from several goroutines but callers decide the order of
// training updates.
type Model struct {
	hp     HParams
	logger *logrus.Logger

	params     *ParamSet
	embedding  *embedding
	encoder    *encoder
	qAttention *attentionPooling // nil with final-state pooling
	aAttention *attentionPooling
	scorer     *bilinear

	reg      Regularizer
	opt      Optimizer
	schedule Scheduler
	clip     GradientClipConfig

	mu         sync.Mutex
	globalStep int64
	dropRNG    *rand.Rand
	frozen     map[*Param]bool
}

// New validates hp and allocates every parameter. A configuration error
// returns a nil model and allocates nothing.
func New(hp HParams, cfg ModelConfig) (*Model, error) {
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = defaultLogger
	}

	src := rand.NewPCG(cfg.Seed, 0x5851f42d4c957f2d)
	m := &Model{
		hp:        hp,
		logger:    logger,
		params:    newParamSet(),
		embedding: newEmbedding(hp.VocabSize, hp.EmbDim, src),
		encoder:   newEncoder(hp, src),
		clip:      clipConfigFrom(hp),
		opt:       cfg.Optimizer,
		dropRNG:   rand.New(rand.NewPCG(cfg.Seed, 0x14057b7ef767814f)),
	}
	if hp.usesAttention() {
		width := m.encoder.outputWidth()
		m.qAttention = newAttentionPooling("question_attention", width, hp.AttentionSize, src)
		m.aAttention = newAttentionPooling("answer_attention", width, hp.AttentionSize, src)
	}
	m.scorer = newBilinear(hp.pooledWidth(), src)

	if hp.L2Weight > 0 {
		m.reg = L2(hp.L2Weight)
	} else {
		m.reg = NoReg()
	}
	if m.opt == nil {
		m.opt = newOptimizer(hp.Optimizer)
	}
	switch {
	case cfg.Scheduler != nil:
		m.schedule = cfg.Scheduler
	case hp.DecayRate == 1:
		m.schedule = ConstantLR(hp.LearningRate)
	default:
		m.schedule = ExponentialDecay(ExponentialDecayConfig{
			Base:       hp.LearningRate,
			Gamma:      hp.DecayRate,
			DecaySteps: hp.DecaySteps,
		})
	}

	modules := []module{m.embedding, m.encoder}
	if m.qAttention != nil {
		modules = append(modules, m.qAttention, m.aAttention)
	}
	modules = append(modules, m.scorer)
	for _, mod := range modules {
		if err := m.params.register(mod.params()...); err != nil {
			return nil, err
		}
	}

	logger.WithFields(logrus.Fields{
		"cell":      hp.RNNCell,
		"direction": hp.Direction,
		"attention": hp.Attention,
		"layers":    hp.NumLayers,
		"params":    m.params.Size(),
		"optimizer": m.opt.name(),
		"schedule":  m.schedule.name(),
		"reg":       m.reg.name(),
	}).Info("qamatch model built")
	return m, nil
}

// HParams returns the settings the model was built with.
func (m *Model) HParams() HParams { return m.hp }

// Params returns the parameter registry.
func (m *Model) Params() *ParamSet { return m.params }

// GlobalStep is the number of training updates applied so far.
func (m *Model) GlobalStep() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.globalStep
}

// Step plans a training update (isTrain) or an evaluation pass over batch.
// Labels are the identity of the batch size: each question's positive is
// its own answer, every other answer in the batch is a negative.
func (m *Model) Step(batch Batch, isTrain bool) Plan {
	q, a := batch.QuestionAnswerPair()
	feed := Feed{
		Question: q,
		Answer:   a,
		Labels:   identityLabels(batch.Size()),
		KeepProb: Ptr(m.hp.KeepProb),
	}
	if isTrain {
		return Plan{Fetches: []Fetch{TrainOp, ShowLoss}, Feed: feed}
	}
	feed.KeepProb = Ptr(1.0)
	return Plan{Fetches: []Fetch{QuestionState, AnswerState, ShowLoss}, Feed: feed}
}

// Infer plans the encoding of a single question without dropout.
func (m *Model) Infer(tokens []int) Plan {
	return Plan{
		Fetches: []Fetch{QuestionState},
		Feed: Feed{
			Question: [][]int{tokens},
			KeepProb: Ptr(1.0),
		},
	}
}

// needs records which parts of the graph a plan touches.
type needs struct {
	question, answer, scores, loss, train bool
}

func (m *Model) analyse(plan Plan) (needs, error) {
	var n needs
	for _, f := range plan.Fetches {
		switch f {
		case QuestionState:
			n.question = true
		case AnswerState:
			n.answer = true
		case Scores:
			n.scores = true
		case ShowLoss, MeanLoss:
			n.loss = true
		case TrainOp:
			n.loss, n.train = true, true
		case LearningRate:
		default:
			return n, errorf("unknown fetch %q", f)
		}
	}
	n.scores = n.scores || n.loss
	n.question = n.question || n.scores
	n.answer = n.answer || n.scores

	feed := plan.Feed
	missing := func(what string) error {
		return fmt.Errorf("%w: %s", ErrMissingFeed, what)
	}
	if (n.question || n.answer) && feed.KeepProb == nil {
		return n, missing("keep_prob")
	}
	if feed.KeepProb != nil && (*feed.KeepProb <= 0 || *feed.KeepProb > 1) {
		return n, errorf("keep_prob %v outside (0, 1]", *feed.KeepProb)
	}
	if n.question && len(feed.Question) == 0 {
		return n, missing("question")
	}
	if n.answer && len(feed.Answer) == 0 {
		return n, missing("answer")
	}
	if n.loss {
		if feed.Labels == nil {
			return n, missing("labels")
		}
		r, c := feed.Labels.Dims()
		if r != len(feed.Question) || c != len(feed.Answer) {
			return n, errorf("labels are %dx%d, want %dx%d", r, c, len(feed.Question), len(feed.Answer))
		}
	}
	return n, nil
}

// encodeSide embeds, encodes and pools one token grid.
func (m *Model) encodeSide(tp *tape, grid [][]int, keep float64, pool *attentionPooling) (*node, error) {
	s := newSequence(grid)
	emb, err := m.embedding.lookup(tp, s)
	if err != nil {
		return nil, err
	}
	drop := func(n *node) *node { return tp.dropout(n, keep, m.dropRNG) }
	if emb != nil {
		emb = drop(emb)
	}
	enc := m.encoder.encode(tp, emb, s.batch, s.steps, s.lengths, drop)
	if pool == nil {
		return enc.final[len(enc.final)-1].h, nil
	}
	return drop(pool.pool(tp, enc.outputs, s.lengths, s.batch)), nil
}

// Run executes a plan. Losses are computed from the parameters as they
// were before the update TrainOp applies.
func (m *Model) Run(plan Plan) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.analyse(plan)
	if err != nil {
		return nil, err
	}
	res := &Result{values: make(map[Fetch]*mat.Dense)}
	lr := m.schedule.rate(m.globalStep)
	if want(plan, LearningRate) {
		res.values[LearningRate] = mat.NewDense(1, 1, []float64{lr})
	}

	tp := newTape()
	feed := plan.Feed
	var q, a, scores, loss *node
	if n.question {
		if q, err = m.encodeSide(tp, feed.Question, *feed.KeepProb, m.qAttention); err != nil {
			return nil, fmt.Errorf("qamatch: question: %w", err)
		}
		res.values[QuestionState] = mat.DenseCopyOf(q.value)
	}
	if n.answer {
		if a, err = m.encodeSide(tp, feed.Answer, *feed.KeepProb, m.aAttention); err != nil {
			return nil, fmt.Errorf("qamatch: answer: %w", err)
		}
		res.values[AnswerState] = mat.DenseCopyOf(a.value)
	}
	if n.scores {
		scores = m.scorer.score(tp, q, a)
		res.values[Scores] = mat.DenseCopyOf(scores.value)
	}
	if !n.loss {
		m.trim(plan, res)
		return res, nil
	}

	loss = tp.softmaxCrossEntropy(scores, feed.Labels)
	if err := checkFinite(loss.value, "scorer", "forward", m.globalStep); err != nil {
		return nil, err
	}
	showLoss := scalar(loss)
	res.values[ShowLoss] = mat.NewDense(1, 1, []float64{showLoss})

	all := m.params.All()
	if !n.train {
		meanLoss := showLoss + penalty(m.reg, all)
		res.values[MeanLoss] = mat.NewDense(1, 1, []float64{meanLoss})
		m.trim(plan, res)
		return res, nil
	}

	tp.backprop(loss, mat.NewDense(1, 1, []float64{1}))
	grads := make(map[*Param]*mat.Dense, len(all))
	for _, p := range all {
		if g := tp.gradOf(p); g != nil {
			grads[p] = g
		}
	}
	meanLoss := showLoss + regularize(m.reg, all, grads)
	res.values[MeanLoss] = mat.NewDense(1, 1, []float64{meanLoss})

	var defined []*Param
	var gs []*mat.Dense
	m.params.clearGrads()
	for _, p := range all {
		if g, ok := grads[p]; ok && !m.frozen[p] {
			defined = append(defined, p)
			gs = append(gs, g)
			p.grad = g
		}
	}
	for i, g := range gs {
		if err := checkFinite(g, defined[i].Name, "backward", m.globalStep); err != nil {
			return nil, err
		}
	}
	clipGradients(gs, m.clip)
	m.opt.step(defined, gs, lr)
	m.globalStep++
	res.values[TrainOp] = mat.NewDense(1, 1, []float64{float64(m.globalStep)})

	m.logger.WithFields(logrus.Fields{
		"global_step":   m.globalStep,
		"learning_rate": lr,
		"show_loss":     showLoss,
		"mean_loss":     meanLoss,
		"updated":       len(defined),
		"skipped":       len(all) - len(defined),
		"frozen":        len(m.frozen),
	}).Debug("train step")

	m.trim(plan, res)
	return res, nil
}

func want(plan Plan, f Fetch) bool {
	for _, x := range plan.Fetches {
		if x == f {
			return true
		}
	}
	return false
}

// trim drops intermediate values the plan did not ask for.
func (m *Model) trim(plan Plan, res *Result) {
	for f := range res.values {
		if !want(plan, f) {
			delete(res.values, f)
		}
	}
}

// Evaluate scores batch without dropout and feeds the score matrix to each
// metric. The returned map holds every metric result plus show_loss and
// mean_loss.
func (m *Model) Evaluate(batch Batch, metrics ...Metric) (map[string]float64, error) {
	plan := m.Step(batch, false)
	plan.Fetches = []Fetch{Scores, ShowLoss, MeanLoss}
	res, err := m.Run(plan)
	if err != nil {
		return nil, err
	}
	out := map[string]float64{
		string(ShowLoss): res.Scalar(ShowLoss),
		string(MeanLoss): res.Scalar(MeanLoss),
	}
	for _, mt := range metrics {
		mt.reset()
		mt.update(res.Matrix(Scores))
		out[mt.name()] = mt.result()
	}
	return out, nil
}
