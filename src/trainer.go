package qamatch

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"
)

// Callback is called by Trainer.Run. A window is ShowIter consecutive
// training updates.
type Callback interface {
	onTrainBegin(logs map[string]float64)
	onTrainEnd(logs map[string]float64)
	onStepEnd(step int64, logs map[string]float64)
	onWindowEnd(step int64, logs map[string]float64) bool // return true to stop training
	name() string
}

// EarlyStoppingCallback stops training when a window metric stops improving
type EarlyStoppingCallback struct {
	Monitor   string
	MinDelta  float64
	Patience  int
	Mode      string // "min" or "max"
	bestValue float64
	wait      int
	stopped   int64
}

type EarlyStoppingConfig struct {
	Monitor  string
	MinDelta float64
	Patience int
	Mode     string
}

func EarlyStopping(config EarlyStoppingConfig) Callback {
	e := &EarlyStoppingCallback{
		Monitor:  config.Monitor,
		MinDelta: config.MinDelta,
		Patience: config.Patience,
		Mode:     config.Mode,
	}
	e.onTrainBegin(nil)
	return e
}

func (e *EarlyStoppingCallback) onTrainBegin(logs map[string]float64) {
	e.wait = 0
	e.stopped = 0
	if e.Mode == "max" {
		e.bestValue = math.Inf(-1)
	} else {
		e.bestValue = math.Inf(1)
	}
}

func (e *EarlyStoppingCallback) onTrainEnd(logs map[string]float64)            {}
func (e *EarlyStoppingCallback) onStepEnd(step int64, logs map[string]float64) {}

func (e *EarlyStoppingCallback) onWindowEnd(step int64, logs map[string]float64) bool {
	current, ok := logs[e.Monitor]
	if !ok {
		return false
	}
	improved := current < e.bestValue-e.MinDelta
	if e.Mode == "max" {
		improved = current > e.bestValue+e.MinDelta
	}
	if improved {
		e.bestValue = current
		e.wait = 0
		return false
	}
	e.wait++
	if e.wait >= e.Patience {
		e.stopped = step
		return true
	}
	return false
}

// StoppedStep is the global step training was stopped at, or 0.
func (e *EarlyStoppingCallback) StoppedStep() int64 { return e.stopped }

func (e *EarlyStoppingCallback) name() string { return "early_stopping" }

// HistoryCallback records every window's logs
type HistoryCallback struct {
	History map[string][]float64
}

func History() *HistoryCallback {
	return &HistoryCallback{History: make(map[string][]float64)}
}

func (h *HistoryCallback) onTrainBegin(logs map[string]float64) {
	h.History = make(map[string][]float64)
}

func (h *HistoryCallback) onTrainEnd(logs map[string]float64)            {}
func (h *HistoryCallback) onStepEnd(step int64, logs map[string]float64) {}

func (h *HistoryCallback) onWindowEnd(step int64, logs map[string]float64) bool {
	for k, v := range logs {
		h.History[k] = append(h.History[k], v)
	}
	return false
}

func (h *HistoryCallback) name() string { return "history" }

// LogProgressCallback logs every window at Info
type LogProgressCallback struct {
	logger *logrus.Logger
}

func LogProgress(logger *logrus.Logger) Callback {
	if logger == nil {
		logger = defaultLogger
	}
	return &LogProgressCallback{logger: logger}
}

func (p *LogProgressCallback) onTrainBegin(logs map[string]float64) {
	p.logger.Info("training started")
}

func (p *LogProgressCallback) onTrainEnd(logs map[string]float64) {
	p.logger.WithFields(fields(logs)).Info("training finished")
}

func (p *LogProgressCallback) onStepEnd(step int64, logs map[string]float64) {}

func (p *LogProgressCallback) onWindowEnd(step int64, logs map[string]float64) bool {
	p.logger.WithFields(fields(logs)).WithField("global_step", step).Info("progress")
	return false
}

func (p *LogProgressCallback) name() string { return "log_progress" }

func fields(logs map[string]float64) logrus.Fields {
	f := make(logrus.Fields, len(logs))
	for k, v := range logs {
		f[k] = v
	}
	return f
}

// Trainer drives training updates from a BatchSource, the reference
// driver for Step and Run.
type Trainer struct {
	model   *Model
	source  BatchSource
	eval    Batch
	metrics []Metric
}

func NewTrainer(model *Model, source BatchSource) *Trainer {
	return &Trainer{model: model, source: source}
}

// WithEval evaluates batch with metrics at the end of every window. Results
// enter the window logs with a "val_" prefix.
func (t *Trainer) WithEval(batch Batch, metrics ...Metric) *Trainer {
	t.eval = batch
	t.metrics = metrics
	return t
}

// TrainResult holds training output
type TrainResult struct {
	Steps     int   // updates applied by this call
	LastStep  int64 // global step at return
	FinalLoss float64
	Stopped   bool // a callback ended training early
}

// Run applies up to cfg.MaxIter updates. It checks ctx between updates and
// returns the partial result with ctx.Err() when cancelled.
func (t *Trainer) Run(ctx context.Context, cfg TrainConfig, callbacks []Callback) (*TrainResult, error) {
	if err := ValidateTrainConfig(cfg); err != nil {
		return nil, err
	}

	result := &TrainResult{}
	logs := make(map[string]float64)
	for _, cb := range callbacks {
		cb.onTrainBegin(logs)
	}

	windowLoss, windowSteps := 0.0, 0
	for i := 0; i < cfg.MaxIter; i++ {
		if err := ctx.Err(); err != nil {
			result.LastStep = t.model.GlobalStep()
			return result, err
		}

		plan := t.model.Step(t.source.Next(), true)
		plan.Fetches = append(plan.Fetches, MeanLoss, LearningRate)
		res, err := t.model.Run(plan)
		if err != nil {
			result.LastStep = t.model.GlobalStep()
			return result, err
		}
		step := int64(res.Scalar(TrainOp))
		result.Steps++
		result.FinalLoss = res.Scalar(ShowLoss)
		windowLoss += res.Scalar(ShowLoss)
		windowSteps++

		logs = map[string]float64{
			"show_loss":     res.Scalar(ShowLoss),
			"mean_loss":     res.Scalar(MeanLoss),
			"learning_rate": res.Scalar(LearningRate),
		}
		for _, cb := range callbacks {
			cb.onStepEnd(step, logs)
		}

		if cfg.SaveIter > 0 && step%int64(cfg.SaveIter) == 0 {
			if err := t.model.Save(cfg.CheckpointPath); err != nil {
				result.LastStep = step
				return result, err
			}
		}

		if windowSteps < cfg.ShowIter {
			continue
		}
		window := map[string]float64{
			"show_loss":     windowLoss / float64(windowSteps),
			"learning_rate": logs["learning_rate"],
		}
		windowLoss, windowSteps = 0, 0
		if t.eval != nil {
			evalLogs, err := t.model.Evaluate(t.eval, t.metrics...)
			if err != nil {
				result.LastStep = step
				return result, err
			}
			for k, v := range evalLogs {
				window["val_"+k] = v
			}
		}
		stop := false
		for _, cb := range callbacks {
			if cb.onWindowEnd(step, window) {
				stop = true
			}
		}
		logs = window
		if stop {
			result.Stopped = true
			break
		}
	}

	result.LastStep = t.model.GlobalStep()
	for _, cb := range callbacks {
		cb.onTrainEnd(logs)
	}
	return result, nil
}
