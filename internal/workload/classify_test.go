// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		cmdline   string
		framework Framework
		model     ModelKind
		kind      Kind
		minConf   float64
		retained  bool
	}{
		{
			name:      "torchrun llama training",
			cmdline:   "torchrun --nproc_per_node=8 train_llama.py",
			framework: FrameworkPyTorch,
			model:     ModelLLM,
			kind:      KindTraining,
			minConf:   0.7,
			retained:  true,
		},
		{
			name:      "plain python script",
			cmdline:   "python script.py",
			framework: FrameworkUnknown,
			model:     ModelUnknown,
			kind:      KindUnknown,
			retained:  false,
		},
		{
			name:      "tensorflow keras fit",
			cmdline:   "python keras_fit.py --epochs 10",
			framework: FrameworkTensorFlow,
			model:     ModelUnknown,
			kind:      KindTraining,
			minConf:   0.8,
			retained:  true,
		},
		{
			name:      "jax whisper eval",
			cmdline:   "python -m jax_runner evaluate_whisper.py",
			framework: FrameworkJAX,
			model:     ModelAudioSpeech,
			kind:      KindEvaluation,
			minConf:   0.8,
			retained:  true,
		},
		{
			name:      "vision inference server",
			cmdline:   "serve_yolo --port 8080",
			framework: FrameworkUnknown,
			model:     ModelComputerVision,
			kind:      KindInference,
			minConf:   0.7,
			retained:  true,
		},
		{
			name:      "workload kind only",
			cmdline:   "run_benchmark --suite io",
			framework: FrameworkUnknown,
			model:     ModelUnknown,
			kind:      KindEvaluation,
			minConf:   0.6,
			retained:  true,
		},
		{
			name:     "empty command line",
			cmdline:  "",
			retained: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.cmdline)
			assert.Equal(t, tt.framework, c.Framework)
			assert.Equal(t, tt.model, c.Model)
			assert.Equal(t, tt.kind, c.Kind)
			if tt.minConf > 0 {
				assert.GreaterOrEqual(t, c.Confidence, tt.minConf)
			} else {
				assert.LessOrEqual(t, c.Confidence, 0.3)
			}
			assert.Equal(t, tt.retained, c.Retained())
		})
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// "transformers" appears in both the pytorch and huggingface rows;
	// the pytorch row is evaluated first and must win deterministically.
	c := Classify("python -m transformers.trainer")
	assert.Equal(t, FrameworkPyTorch, c.Framework)
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "pytorch", FrameworkPyTorch.String())
	assert.Equal(t, "unknown", FrameworkUnknown.String())
	assert.Equal(t, "computer_vision", ModelComputerVision.String())
	assert.Equal(t, "training", KindTraining.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
