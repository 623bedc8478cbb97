// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

// Package workload detects host processes that look like active ML jobs
// so the safety coordinator can back off its polling rate while the
// accelerator is busy.
package workload

import "time"

// Framework identifies the ML framework a process appears to run.
type Framework int

const (
	FrameworkUnknown Framework = iota
	FrameworkPyTorch
	FrameworkTensorFlow
	FrameworkJAX
	FrameworkHuggingFace
)

func (f Framework) String() string {
	switch f {
	case FrameworkPyTorch:
		return "pytorch"
	case FrameworkTensorFlow:
		return "tensorflow"
	case FrameworkJAX:
		return "jax"
	case FrameworkHuggingFace:
		return "huggingface"
	default:
		return "unknown"
	}
}

// ModelKind is a coarse model family guess from the command line.
type ModelKind int

const (
	ModelUnknown ModelKind = iota
	ModelLLM
	ModelComputerVision
	ModelAudioSpeech
)

func (m ModelKind) String() string {
	switch m {
	case ModelLLM:
		return "llm"
	case ModelComputerVision:
		return "computer_vision"
	case ModelAudioSpeech:
		return "audio_speech"
	default:
		return "unknown"
	}
}

// Kind classifies what the workload is doing.
type Kind int

const (
	KindUnknown Kind = iota
	KindTraining
	KindInference
	KindEvaluation
)

func (k Kind) String() string {
	switch k {
	case KindTraining:
		return "training"
	case KindInference:
		return "inference"
	case KindEvaluation:
		return "evaluation"
	default:
		return "unknown"
	}
}

// Record describes one classified ML process.
type Record struct {
	PID       int
	Cmdline   string // snippet, capped at 100 chars
	Framework Framework
	Model     ModelKind
	Kind      Kind

	// Confidence in [0,1] that this is an ML process at all.
	Confidence float64

	// Correlation in [0,1] that this process is driving the accelerator,
	// blended from its resource footprint and current device telemetry.
	Correlation float64

	MemoryGB float64
	Threads  int
}

// State is a point-in-time snapshot of the host workload picture. It is
// produced whole by one scan, served unchanged until the next scan
// supersedes it, and never mutated in place.
type State struct {
	// Active holds retained ML records, sorted by correlation then
	// confidence, strongest first.
	Active []Record

	// ProcessCount is the number of retained ML records.
	ProcessCount int

	// TotalMemoryGB sums resident memory across retained records.
	TotalMemoryGB float64

	// HighMemoryCount is how many processes exceeded the memory
	// threshold regardless of classification.
	HighMemoryCount int

	// IsActive is the throttle signal for the coordinator.
	IsActive bool

	Timestamp time.Time
}
