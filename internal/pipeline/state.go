// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"time"

	"github.com/cloudwego/agentrelay/internal/artifact"
	"github.com/cloudwego/agentrelay/internal/memory"
	"github.com/cloudwego/agentrelay/llm"
)

// ExecutionState is the controller's top-level state.
type ExecutionState string

const (
	StateIdle         ExecutionState = "idle"
	StateRunning      ExecutionState = "running"
	StateChoosingNext ExecutionState = "choosing_next"
	StateInteracting  ExecutionState = "interacting"
	StateComplete     ExecutionState = "complete"
)

// NoActiveStep marks a run with no step open.
const NoActiveStep = -1

// PipelineRun is the live execution context of one session.
type PipelineRun struct {
	ID           string
	Mode         Mode
	State        ExecutionState
	ActiveStep   int
	InitialInput string

	// Logs holds one entry per finalized step, index-aligned with PipelineFiles.
	Logs          []LogEntry
	PipelineFiles []artifact.Artifact
	Memory        *memory.Log

	// History is the turn-by-turn exchange of the active step only.
	History []llm.Turn
	// Output is the latest agent output of the active step.
	Output string
	// Input is the pending chat input: the seed of a fresh step, or a message
	// kept after a blocked or failed turn.
	Input            string
	InputAttachments []artifact.Artifact
}

func newRun(id string, mode Mode, initialInput string) *PipelineRun {
	return &PipelineRun{
		ID:           id,
		Mode:         mode,
		State:        StateIdle,
		ActiveStep:   NoActiveStep,
		InitialInput: initialInput,
		Memory:       memory.New(),
	}
}

// LogEntry is the finalized record of one step.
type LogEntry struct {
	Step   int        `json:"step" yaml:"step"` // 1-based
	Agent  string     `json:"agent" yaml:"agent"`
	Status StepStatus `json:"status" yaml:"status"`
	Output string     `json:"output" yaml:"output"`
	Time   time.Time  `json:"time" yaml:"time"`
}

// StepStatus is the outcome of a step run.
type StepStatus string

const (
	StepComplete StepStatus = "complete"
)
