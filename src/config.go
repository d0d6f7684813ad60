package qamatch

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Direction modes
const (
	DirectionMono = "mono"
	DirectionBi   = "bi"
)

// Attention modes. AttentionNone and the empty string both select the
// final-state pooling.
const (
	AttentionNone = "none"
	AttentionSelf = "self_att"
)

// Clip modes
const (
	ClipValue = "value"
	ClipNorm  = "norm"
	ClipNone  = "none"
)

// HParams holds every model and driver setting. The model keeps its own
// copy and never mutates it.
type HParams struct {
	// RNNCell is "lstm" or "gru", matched case-insensitively. Any other
	// name builds a plain tanh RNN cell.
	RNNCell   string  `json:"rnn_cell"`
	Hidden    int     `json:"hidden"`
	KeepProb  float64 `json:"keep_prob"`
	NumLayers int     `json:"num_layers"`
	VocabSize int     `json:"vocab_size"`
	EmbDim    int     `json:"emb_dim"`

	LearningRate float64 `json:"learning_rate"`
	DecayRate    float64 `json:"decay_rate"`
	DecaySteps   int     `json:"decay_steps"`
	Optimizer    string  `json:"optimizer"` // "adam" or "sgd"
	GradClip     float64 `json:"grad_clip"`
	ClipMode     string  `json:"clip_mode"`

	MaxIter   int `json:"max_iter"`
	ShowIter  int `json:"show_iter"`
	SaveIter  int `json:"save_iter"`
	BatchSize int `json:"batch_size"`
	XMaxLen   int `json:"x_max_len"`
	YMaxLen   int `json:"y_max_len"`

	Direction     string  `json:"direction"`
	L2Weight      float64 `json:"l2_weight"`
	Attention     string  `json:"attention"`
	AttentionSize int     `json:"attention_size"`
}

// Overrides is a sparse HParams: nil fields leave the base value alone.
type Overrides struct {
	RNNCell       *string
	Hidden        *int
	KeepProb      *float64
	NumLayers     *int
	VocabSize     *int
	EmbDim        *int
	LearningRate  *float64
	DecayRate     *float64
	DecaySteps    *int
	Optimizer     *string
	GradClip      *float64
	ClipMode      *string
	MaxIter       *int
	ShowIter      *int
	SaveIter      *int
	BatchSize     *int
	XMaxLen       *int
	YMaxLen       *int
	Direction     *string
	L2Weight      *float64
	Attention     *string
	AttentionSize *int
}

// Ptr returns a pointer to v, for filling Overrides.
func Ptr[T any](v T) *T { return &v }

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Merge layers the overrides onto base, later layers winning.
func Merge(base HParams, layers ...Overrides) HParams {
	hp := base
	for _, o := range layers {
		set(&hp.RNNCell, o.RNNCell)
		set(&hp.Hidden, o.Hidden)
		set(&hp.KeepProb, o.KeepProb)
		set(&hp.NumLayers, o.NumLayers)
		set(&hp.VocabSize, o.VocabSize)
		set(&hp.EmbDim, o.EmbDim)
		set(&hp.LearningRate, o.LearningRate)
		set(&hp.DecayRate, o.DecayRate)
		set(&hp.DecaySteps, o.DecaySteps)
		set(&hp.Optimizer, o.Optimizer)
		set(&hp.GradClip, o.GradClip)
		set(&hp.ClipMode, o.ClipMode)
		set(&hp.MaxIter, o.MaxIter)
		set(&hp.ShowIter, o.ShowIter)
		set(&hp.SaveIter, o.SaveIter)
		set(&hp.BatchSize, o.BatchSize)
		set(&hp.XMaxLen, o.XMaxLen)
		set(&hp.YMaxLen, o.YMaxLen)
		set(&hp.Direction, o.Direction)
		set(&hp.L2Weight, o.L2Weight)
		set(&hp.Attention, o.Attention)
		set(&hp.AttentionSize, o.AttentionSize)
	}
	return hp
}

// SoloBase is the unidirectional LSTM preset.
func SoloBase() HParams {
	return HParams{
		RNNCell:       "lstm",
		Hidden:        128,
		KeepProb:      0.85,
		NumLayers:     1,
		VocabSize:     50000,
		EmbDim:        128,
		LearningRate:  0.004,
		DecayRate:     0.95,
		DecaySteps:    100,
		Optimizer:     "adam",
		GradClip:      1.0,
		ClipMode:      ClipValue,
		MaxIter:       10000,
		ShowIter:      100,
		SaveIter:      500,
		BatchSize:     256,
		XMaxLen:       128,
		YMaxLen:       32,
		Direction:     DirectionMono,
		L2Weight:      0.0001,
		Attention:     AttentionNone,
		AttentionSize: 32,
	}
}

// SoloBiBase is SoloBase with a bidirectional encoder.
func SoloBiBase() HParams {
	return Merge(SoloBase(), Overrides{
		Direction: Ptr(DirectionBi),
		KeepProb:  Ptr(0.75),
		DecayRate: Ptr(0.92),
	})
}

// SoloBiAtt is SoloBiBase with self-attention pooling.
func SoloBiAtt() HParams {
	return Merge(SoloBiBase(), Overrides{
		LearningRate:  Ptr(0.003),
		KeepProb:      Ptr(0.7),
		Attention:     Ptr(AttentionSelf),
		AttentionSize: Ptr(4096),
		DecayRate:     Ptr(0.9),
	})
}

// Preset returns a preset by name.
func Preset(name string) (HParams, error) {
	switch name {
	case "solo_base":
		return SoloBase(), nil
	case "solo_bi_base":
		return SoloBiBase(), nil
	case "solo_bi_att":
		return SoloBiAtt(), nil
	}
	return HParams{}, configErr("preset", name, "expected solo_base, solo_bi_base or solo_bi_att")
}

// usesAttention reports whether pooling goes through attention.
func (hp HParams) usesAttention() bool {
	return hp.Attention == AttentionSelf
}

// pooledWidth is the width of the question and answer vectors.
func (hp HParams) pooledWidth() int {
	if hp.usesAttention() {
		return hp.AttentionSize
	}
	return hp.Hidden
}

// Validate checks every model setting. It never touches driver settings,
// which ValidateTrainConfig covers.
func (hp HParams) Validate() error {
	switch hp.Direction {
	case DirectionMono, DirectionBi:
	default:
		return configErr("direction", hp.Direction, "expected mono or bi")
	}
	switch hp.Attention {
	case "", AttentionNone:
	case AttentionSelf:
		if hp.AttentionSize <= 0 {
			return configErr("attention_size", hp.AttentionSize, "must be > 0")
		}
	default:
		return configErr("attention", hp.Attention, "expected none or self_att")
	}
	if hp.Hidden <= 0 {
		return configErr("hidden", hp.Hidden, "must be > 0")
	}
	if hp.NumLayers <= 0 {
		return configErr("num_layers", hp.NumLayers, "must be > 0")
	}
	if hp.VocabSize <= 0 {
		return configErr("vocab_size", hp.VocabSize, "must be > 0")
	}
	if hp.EmbDim <= 0 {
		return configErr("emb_dim", hp.EmbDim, "must be > 0")
	}
	if hp.KeepProb <= 0 || hp.KeepProb > 1 {
		return configErr("keep_prob", hp.KeepProb, "must be in (0, 1]")
	}
	if hp.LearningRate <= 0 {
		return configErr("learning_rate", hp.LearningRate, "must be > 0")
	}
	if hp.DecayRate <= 0 {
		return configErr("decay_rate", hp.DecayRate, "must be > 0")
	}
	if hp.DecaySteps <= 0 {
		return configErr("decay_steps", hp.DecaySteps, "must be > 0")
	}
	if hp.L2Weight < 0 {
		return configErr("l2_weight", hp.L2Weight, "must be >= 0")
	}
	switch hp.ClipMode {
	case ClipValue, ClipNorm:
		if hp.GradClip <= 0 {
			return configErr("grad_clip", hp.GradClip, "must be > 0")
		}
	case ClipNone:
	default:
		return configErr("clip_mode", hp.ClipMode, "expected value, norm or none")
	}
	switch hp.Optimizer {
	case "adam", "sgd":
	default:
		return configErr("optimizer", hp.Optimizer, "expected adam or sgd")
	}
	return nil
}

// LoadHParams reads a JSON object from path and lays its keys over base.
// Keys missing from the file keep the base value.
func LoadHParams(path string, base HParams) (HParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HParams{}, fmt.Errorf("qamatch: read hparams: %w", err)
	}
	hp := base
	if err := json.Unmarshal(data, &hp); err != nil {
		return HParams{}, fmt.Errorf("qamatch: parse hparams %s: %w", path, err)
	}
	return hp, nil
}

// ModelConfig for model construction. Optimizer and Scheduler replace the
// ones New derives from HParams; an optimizer keeps per-parameter state and
// must not be shared between models.
type ModelConfig struct {
	Seed      uint64
	Logger    *logrus.Logger // nil uses the package logger
	Optimizer Optimizer      // nil selects hp.Optimizer
	Scheduler Scheduler      // nil selects exponential decay, or constant when decay_rate is 1
}

// TrainConfig drives Trainer.Run - ALL fields required except CheckpointPath
type TrainConfig struct {
	MaxIter        int
	ShowIter       int
	SaveIter       int    // 0 disables periodic checkpoints
	CheckpointPath string // required when SaveIter > 0
}

// TrainConfigFrom copies the driver settings out of hp.
func TrainConfigFrom(hp HParams, checkpointPath string) TrainConfig {
	return TrainConfig{
		MaxIter:        hp.MaxIter,
		ShowIter:       hp.ShowIter,
		SaveIter:       hp.SaveIter,
		CheckpointPath: checkpointPath,
	}
}

// ValidateTrainConfig checks all required fields are set
func ValidateTrainConfig(cfg TrainConfig) error {
	if cfg.MaxIter <= 0 {
		return errorf("MaxIter must be > 0, got %d", cfg.MaxIter)
	}
	if cfg.ShowIter <= 0 {
		return errorf("ShowIter must be > 0, got %d", cfg.ShowIter)
	}
	if cfg.SaveIter < 0 {
		return errorf("SaveIter must be >= 0, got %d", cfg.SaveIter)
	}
	if cfg.SaveIter > 0 && cfg.CheckpointPath == "" {
		return errorf("CheckpointPath is required when SaveIter > 0")
	}
	return nil
}
