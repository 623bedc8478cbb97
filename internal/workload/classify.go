// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package workload

import "strings"

// Classification tables. Each axis is an ordered list evaluated
// deterministically against the lowercased command line; the first kind
// with any matching substring wins for that axis.

var frameworkTable = []struct {
	kind     Framework
	patterns []string
}{
	{FrameworkPyTorch, []string{"torch", "torchrun", "pytorch", "transformers", "accelerate"}},
	{FrameworkTensorFlow, []string{"tensorflow", "tf.", "keras", "tf_"}},
	{FrameworkJAX, []string{"jax", "flax", "optax", "haiku"}},
	{FrameworkHuggingFace, []string{"transformers", "datasets", "accelerate", "peft"}},
}

var modelTable = []struct {
	kind     ModelKind
	patterns []string
}{
	{ModelLLM, []string{"gpt", "bert", "roberta", "llama", "mistral", "falcon", "t5"}},
	{ModelComputerVision, []string{"resnet", "vgg", "yolo", "rcnn", "efficientnet"}},
	{ModelAudioSpeech, []string{"whisper", "wav2vec", "hubert", "speechbrain"}},
}

var kindTable = []struct {
	kind     Kind
	patterns []string
}{
	{KindTraining, []string{"train", "training", "fit", "finetune"}},
	{KindInference, []string{"inference", "infer", "predict", "generate", "serve"}},
	{KindEvaluation, []string{"eval", "evaluate", "test", "benchmark"}},
}

// Per-axis confidence contribution when that axis matched.
const (
	frameworkConfidence = 0.8
	modelConfidence     = 0.7
	kindConfidence      = 0.6

	// retainThreshold is the minimum overall confidence for a process
	// to be kept in the active workload list.
	retainThreshold = 0.3
)

// Classification is the result of command-line pattern matching for one
// process.
type Classification struct {
	Framework  Framework
	Model      ModelKind
	Kind       Kind
	Confidence float64
}

// Classify matches a command line against the three pattern tables.
// Overall confidence is the highest of the per-axis scores; a process
// with zero matches comes back unknown on all axes with confidence 0.
func Classify(cmdline string) Classification {
	lower := strings.ToLower(cmdline)
	var c Classification

	for _, row := range frameworkTable {
		if containsAny(lower, row.patterns) {
			c.Framework = row.kind
			c.Confidence = frameworkConfidence
			break
		}
	}
	for _, row := range modelTable {
		if containsAny(lower, row.patterns) {
			c.Model = row.kind
			if modelConfidence > c.Confidence {
				c.Confidence = modelConfidence
			}
			break
		}
	}
	for _, row := range kindTable {
		if containsAny(lower, row.patterns) {
			c.Kind = row.kind
			if kindConfidence > c.Confidence {
				c.Confidence = kindConfidence
			}
			break
		}
	}
	return c
}

// Retained reports whether the classification clears the confidence bar
// for inclusion in the active list.
func (c Classification) Retained() bool {
	return c.Confidence > retainThreshold
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
