package qamatch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPresets(t *testing.T) {
	base := SoloBase()
	if base.Direction != DirectionMono || base.Attention != AttentionNone || base.RNNCell != "lstm" {
		t.Errorf("solo_base = %+v", base)
	}
	bi := SoloBiBase()
	if bi.Direction != DirectionBi || bi.KeepProb != 0.75 || bi.Hidden != base.Hidden {
		t.Errorf("solo_bi_base = %+v", bi)
	}
	att := SoloBiAtt()
	if att.Direction != DirectionBi || att.Attention != AttentionSelf || att.AttentionSize != 4096 || att.KeepProb != 0.7 {
		t.Errorf("solo_bi_att = %+v", att)
	}
	for _, hp := range []HParams{base, bi, att} {
		if err := hp.Validate(); err != nil {
			t.Errorf("preset does not validate: %v", err)
		}
	}

	for name, want := range map[string]HParams{
		"solo_base":    base,
		"solo_bi_base": bi,
		"solo_bi_att":  att,
	} {
		got, err := Preset(name)
		if err != nil || got != want {
			t.Errorf("Preset(%q) = %+v, %v", name, got, err)
		}
	}
	if _, err := Preset("solo_tri"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unknown preset error = %v", err)
	}
}

func TestMergeLeavesBaseAlone(t *testing.T) {
	base := SoloBase()
	merged := Merge(base,
		Overrides{Hidden: Ptr(64), Attention: Ptr(AttentionSelf)},
		Overrides{Hidden: Ptr(32)},
	)
	if merged.Hidden != 32 || merged.Attention != AttentionSelf {
		t.Errorf("merged = %+v", merged)
	}
	if merged.EmbDim != base.EmbDim {
		t.Error("unset override changed emb_dim")
	}
	if base != SoloBase() {
		t.Error("Merge mutated its base")
	}
}

func TestPooledWidth(t *testing.T) {
	if w := SoloBiBase().pooledWidth(); w != 128 {
		t.Errorf("final-state pooled width = %d, want hidden", w)
	}
	if w := SoloBiAtt().pooledWidth(); w != 4096 {
		t.Errorf("attention pooled width = %d, want attention_size", w)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		o     Overrides
		field string
	}{
		{"ok", Overrides{}, ""},
		{"empty attention", Overrides{Attention: Ptr("")}, ""},
		{"no clipping", Overrides{ClipMode: Ptr(ClipNone), GradClip: Ptr(0.0)}, ""},
		{"direction", Overrides{Direction: Ptr("both")}, "direction"},
		{"attention", Overrides{Attention: Ptr("additive")}, "attention"},
		{"attention size", Overrides{Attention: Ptr(AttentionSelf), AttentionSize: Ptr(0)}, "attention_size"},
		{"hidden", Overrides{Hidden: Ptr(0)}, "hidden"},
		{"layers", Overrides{NumLayers: Ptr(0)}, "num_layers"},
		{"vocab", Overrides{VocabSize: Ptr(-1)}, "vocab_size"},
		{"emb dim", Overrides{EmbDim: Ptr(0)}, "emb_dim"},
		{"keep zero", Overrides{KeepProb: Ptr(0.0)}, "keep_prob"},
		{"keep above one", Overrides{KeepProb: Ptr(1.5)}, "keep_prob"},
		{"learning rate", Overrides{LearningRate: Ptr(0.0)}, "learning_rate"},
		{"decay rate", Overrides{DecayRate: Ptr(0.0)}, "decay_rate"},
		{"decay steps", Overrides{DecaySteps: Ptr(0)}, "decay_steps"},
		{"l2", Overrides{L2Weight: Ptr(-0.1)}, "l2_weight"},
		{"grad clip", Overrides{GradClip: Ptr(0.0)}, "grad_clip"},
		{"clip mode", Overrides{ClipMode: Ptr("global")}, "clip_mode"},
		{"optimizer", Overrides{Optimizer: Ptr("rmsprop")}, "optimizer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Merge(SoloBase(), tt.o).Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate = %v, want a ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %s, want %s", ce.Field, tt.field)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Error("ConfigError should wrap ErrInvalidConfig")
			}
		})
	}
}

func TestLoadHParams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hparams.json")
	if err := os.WriteFile(path, []byte(`{"rnn_cell": "gru", "hidden": 64, "attention": "self_att"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	hp, err := LoadHParams(path, SoloBiBase())
	if err != nil {
		t.Fatalf("LoadHParams: %v", err)
	}
	if hp.RNNCell != "gru" || hp.Hidden != 64 || hp.Attention != AttentionSelf {
		t.Errorf("file keys not applied: %+v", hp)
	}
	if hp.Direction != DirectionBi || hp.KeepProb != 0.75 {
		t.Error("keys missing from the file should keep the base value")
	}

	if _, err := LoadHParams(filepath.Join(dir, "missing.json"), SoloBase()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v", err)
	}
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"hidden": "wide"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadHParams(bad, SoloBase()); err == nil {
		t.Error("mistyped value should fail to parse")
	}
}

func TestValidateTrainConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TrainConfig
		wantErr bool
	}{
		{"from preset", TrainConfigFrom(SoloBase(), "model.json"), false},
		{"no saving", TrainConfig{MaxIter: 10, ShowIter: 5}, false},
		{"max iter", TrainConfig{ShowIter: 5}, true},
		{"show iter", TrainConfig{MaxIter: 10}, true},
		{"negative save", TrainConfig{MaxIter: 10, ShowIter: 5, SaveIter: -1}, true},
		{"save without path", TrainConfig{MaxIter: 10, ShowIter: 5, SaveIter: 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateTrainConfig(tt.cfg); (err != nil) != tt.wantErr {
				t.Errorf("ValidateTrainConfig = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
