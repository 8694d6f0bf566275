/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/cloudwego/agentrelay/internal/artifact"
)

const closingLine = "Respond based on your system instructions, knowledge base, and the global conversation context."

var stepTpl = template.Must(template.New("step").Parse(
	`{{if .First}}GOAL:{{else}}USER REQUEST:{{end}}
"{{.Seed}}"

{{with .Task}}TASK INSTRUCTION:
{{.}}

{{end}}` + closingLine))

var knowledgeTpl = template.Must(template.New("knowledge").Parse(
	`=== KNOWLEDGE BASE ===
{{range .}}{{if not .IsBinary}}[File: {{.Name}}]
{{.Content}}
{{end}}{{end}}=== END KNOWLEDGE ===

`))

var attachmentTpl = template.Must(template.New("attachments").Parse(
	`{{range .}}{{if not .IsBinary}}[User Attached File: {{.Name}}]
{{.Content}}
{{end}}{{end}}`))

// StepInput frames the opening turn of a step.
type StepInput struct {
	// First is true for the pipeline's first step.
	First bool
	Seed  string
	Task  string
}

// Step renders the opening user prompt of a step.
func Step(in StepInput) string {
	return render(stepTpl, in)
}

// Knowledge renders the text artifacts of ctx as one block, or "" when ctx is empty.
func Knowledge(ctx []artifact.Artifact) string {
	if len(ctx) == 0 {
		return ""
	}
	return render(knowledgeTpl, ctx)
}

// Attachments renders the text attachments of a single turn.
func Attachments(files []artifact.Artifact) string {
	if len(files) == 0 {
		return ""
	}
	return render(attachmentTpl, files)
}

// WithMemory appends the global conversation log to a system prompt.
func WithMemory(system, memory string) string {
	if memory == "" {
		return system
	}
	return system + "\n\n=== GLOBAL CONVERSATION LOG ===\n" + memory + "\n=== END LOG ==="
}

// WithSafety appends safety instructions to a system prompt.
func WithSafety(system, safety string) string {
	return system + "\n\n" + strings.TrimSpace(safety)
}

// HistoryText is the stored form of a user turn that carried attachments.
func HistoryText(message string, attachments int) string {
	if attachments == 0 {
		return message
	}
	return fmt.Sprintf("%s\n[Attached %d file(s)]", message, attachments)
}

func render(t *template.Template, data any) string {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		panic(err)
	}
	return sb.String()
}

const (
	SummarizerSystem = "You are a summarizer."
	GeneratorSystem  = "You are an agent generator."
)

// Summary asks for a report over "[agent]: response" lines.
func Summary(lines []string) string {
	return "Please summarize the following session history into a concise report:\n\n" + strings.Join(lines, "\n\n")
}

//go:embed agent_generator.md
var agentGeneratorText string

var agentGeneratorTpl = template.Must(template.New("generator").Parse(agentGeneratorText))

// AgentGenerator asks a model for a JSON agent definition matching description.
func AgentGenerator(description, defaultModel string) string {
	return render(agentGeneratorTpl, struct {
		Description  string
		DefaultModel string
	}{description, defaultModel})
}
