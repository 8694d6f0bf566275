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
	"fmt"

	"github.com/cloudwego/agentrelay/internal/artifact"
)

// Agent is a named model configuration invoked for one or more steps.
type Agent struct {
	ID        string              `json:"id" yaml:"id"`
	Name      string              `json:"name" yaml:"name"`
	Model     string              `json:"model" yaml:"model"`
	Prompt    string              `json:"prompt" yaml:"prompt"`
	Knowledge []artifact.Artifact `json:"knowledge,omitempty" yaml:"knowledge,omitempty"`
}

// WorkflowStep binds one position of the pipeline to an agent.
type WorkflowStep struct {
	ID      string              `json:"id" yaml:"id"`
	AgentID string              `json:"agent_id" yaml:"agent_id"`
	Task    string              `json:"task,omitempty" yaml:"task,omitempty"`
	Files   []artifact.Artifact `json:"files,omitempty" yaml:"files,omitempty"`
}

// Mode selects how the workflow is walked.
type Mode string

const (
	// ModeLinear walks a pre-authored workflow.
	ModeLinear Mode = "linear"
	// ModeInteractive builds the workflow one step at a time.
	ModeInteractive Mode = "interactive"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLinear, "":
		return ModeLinear, nil
	case ModeInteractive:
		return ModeInteractive, nil
	}
	return "", fmt.Errorf("unknown pipeline mode %q", s)
}

// OutputArtifact is the file a finalized step contributes to later steps.
func OutputArtifact(step int, agentName, output string) artifact.Artifact {
	return artifact.Artifact{
		Name:     fmt.Sprintf("Output_Step_%d_%s.md", step, agentName),
		MimeType: "text/markdown",
		Content:  output,
	}
}

func findAgent(agents []Agent, id string) (Agent, bool) {
	for _, a := range agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}
