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
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/agentrelay/internal/artifact"
	"github.com/cloudwego/agentrelay/internal/guardrail"
	"github.com/cloudwego/agentrelay/internal/log"
	"github.com/cloudwego/agentrelay/internal/memory"
	"github.com/cloudwego/agentrelay/internal/telemetry"
	"github.com/cloudwego/agentrelay/llm"
	"github.com/google/uuid"
)

// Persistence stores configuration values and finished runs.
type Persistence interface {
	Save(ctx context.Context, key string, value any) error
	// Load decodes the value stored under key into out and reports whether it existed.
	Load(ctx context.Context, key string, out any) (bool, error)
	SaveRun(ctx context.Context, run RunRecord) error
	LoadAllRuns(ctx context.Context) ([]RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	Wipe(ctx context.Context) error
}

type Options struct {
	Gateway  llm.Gateway
	Gate     *guardrail.Gate
	Store    Persistence
	Metrics  *telemetry.Metrics
	Agents   []Agent
	Workflow []WorkflowStep

	Guardrails    guardrail.Settings
	DisableMemory bool
	Clock         func() time.Time
}

type EventType string

const (
	EventState     EventType = "state"
	EventTurn      EventType = "turn"
	EventBlocked   EventType = "blocked"
	EventFinalized EventType = "finalized"
	EventRollback  EventType = "rollback"
	EventBranch    EventType = "branch"
)

// Event notifies subscribers of a controller change. Step is the 0-based active step.
type Event struct {
	Type  EventType
	State ExecutionState
	Step  int
}

// Controller is the pipeline state machine. All methods are safe for
// concurrent use; at most one model call is in flight at a time.
type Controller struct {
	mu       sync.Mutex
	gateway  llm.Gateway
	exec     *Executor
	runner   *ComparisonRunner
	store    Persistence
	metrics  *telemetry.Metrics
	now      func() time.Time
	agents   []Agent
	// steps is the configured workflow; workflow is the one the live run walks.
	steps    []WorkflowStep
	workflow []WorkflowStep

	guardrails guardrail.Settings
	memoryOn   bool

	run      *PipelineRun
	branches *BranchManager
	busy     bool
	// gen changes whenever the live run is replaced; results of calls
	// started under an older generation are dropped.
	gen     atomic.Uint64
	batch   *comparisonBatch
	lastRun *RunRecord

	listeners []func(Event)
	pending   []Event
}

func NewController(opts Options) *Controller {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	exec := &Executor{Gateway: opts.Gateway, Gate: opts.Gate, Metrics: opts.Metrics}
	c := &Controller{
		gateway:    opts.Gateway,
		exec:       exec,
		runner:     &ComparisonRunner{Executor: exec},
		store:      opts.Store,
		metrics:    opts.Metrics,
		now:        clock,
		agents:     append([]Agent(nil), opts.Agents...),
		steps:      append([]WorkflowStep(nil), opts.Workflow...),
		workflow:   append([]WorkflowStep(nil), opts.Workflow...),
		guardrails: opts.Guardrails,
		memoryOn:   !opts.DisableMemory,
		branches:   NewBranchManager(),
	}
	c.run = c.newRun("", ModeLinear, "")
	return c
}

// Subscribe registers fn for every subsequent event. fn runs outside the controller lock.
func (c *Controller) Subscribe(fn func(Event)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Controller) notify(t EventType) {
	c.pending = append(c.pending, Event{Type: t, State: c.run.State, Step: c.run.ActiveStep})
}

// unlock releases mu and delivers events queued while it was held.
func (c *Controller) unlock() {
	evs := c.pending
	c.pending = nil
	ls := c.listeners
	c.mu.Unlock()
	for _, ev := range evs {
		for _, fn := range ls {
			fn(ev)
		}
	}
}

func (c *Controller) newRun(id string, mode Mode, initialInput string) *PipelineRun {
	run := newRun(id, mode, initialInput)
	run.Memory.SetClock(c.now)
	return run
}

func (c *Controller) setState(s ExecutionState) {
	if prev := c.run.State; prev != s {
		log.Info("pipeline %s: %s -> %s", c.run.ID, prev, s)
	}
	c.run.State = s
	c.notify(EventState)
}

func (c *Controller) hasAnyCredential() bool {
	for _, a := range c.agents {
		if c.gateway.HasCredential(a.Model) {
			return true
		}
	}
	return false
}

// Start begins a new run seeded with seed. Interactive runs start with an
// empty workflow and wait for AddInteractiveStep.
func (c *Controller) Start(ctx context.Context, seed string, mode Mode) error {
	c.mu.Lock()
	defer c.unlock()
	if st := c.run.State; st != StateIdle && st != StateComplete {
		return ErrInvalidState
	}
	if strings.TrimSpace(seed) == "" {
		return ErrEmptyMessage
	}
	if !c.hasAnyCredential() {
		return ErrNoCredentials
	}
	if mode == ModeLinear && len(c.steps) == 0 {
		return ErrInvalidState
	}
	c.gen.Add(1)
	c.run = c.newRun(uuid.NewString(), mode, seed)
	c.branches.Reset()
	c.batch = nil
	if mode == ModeInteractive {
		c.workflow = nil
		c.setState(StateChoosingNext)
		return nil
	}
	c.workflow = append([]WorkflowStep(nil), c.steps...)
	c.setState(StateRunning)
	return c.initStep(ctx, 0, seed)
}

// Cancel abandons the run. A call still in flight is not interrupted but its
// result is discarded.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.unlock()
	c.gen.Add(1)
	c.busy = false
	c.batch = nil
	c.run = c.newRun("", ModeLinear, "")
	c.branches.Reset()
	c.setState(StateIdle)
}

// initStep opens step index, or completes a linear run past its last step.
// The returned error only reports a failed save of the completed run.
func (c *Controller) initStep(ctx context.Context, index int, seed string) error {
	run := c.run
	if run.Mode == ModeLinear && index >= len(c.workflow) {
		run.ActiveStep = NoActiveStep
		run.History = nil
		run.Output = ""
		run.Input = ""
		c.setState(StateComplete)
		return c.saveRun(ctx)
	}
	run.ActiveStep = index
	run.History = nil
	run.Output = ""
	run.Input = seed
	run.InputAttachments = nil
	c.branches.Reset()
	c.batch = nil
	c.setState(StateInteracting)
	return nil
}

// FinalizeStep commits the active step's latest output and advances.
func (c *Controller) FinalizeStep(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()
	if c.run.State != StateInteracting {
		return ErrInvalidState
	}
	if c.busy {
		return ErrBusy
	}
	if len(c.run.History) == 0 {
		return ErrInvalidState
	}
	idx := c.run.ActiveStep
	agent, ok := findAgent(c.agents, c.workflow[idx].AgentID)
	if !ok {
		return ErrUnknownAgent
	}
	output := c.run.Output
	c.commitStep(idx, agent.Name, output)
	c.metrics.StepFinalized()
	c.notify(EventFinalized)

	if c.run.Mode == ModeInteractive {
		c.run.ActiveStep = NoActiveStep
		c.run.History = nil
		c.run.Output = ""
		c.batch = nil
		c.setState(StateChoosingNext)
		return nil
	}
	return c.initStep(ctx, idx+1, output)
}

// commitStep writes the log entry and output file of step idx, replacing
// both when the step was finalized before.
func (c *Controller) commitStep(idx int, agentName, output string) {
	run := c.run
	entry := LogEntry{Step: idx + 1, Agent: agentName, Status: StepComplete, Output: output, Time: c.now()}
	file := OutputArtifact(idx+1, agentName, output)
	for i, l := range run.Logs {
		if l.Step != entry.Step {
			continue
		}
		run.Logs[i] = entry
		if i < len(run.PipelineFiles) {
			run.PipelineFiles[i] = file
		} else {
			run.PipelineFiles = append(run.PipelineFiles, file)
		}
		return
	}
	run.Logs = append(run.Logs, entry)
	run.PipelineFiles = append(run.PipelineFiles, file)
}

// Rollback discards every finalized step from target on and reopens target.
func (c *Controller) Rollback(ctx context.Context, target int) error {
	c.mu.Lock()
	defer c.unlock()
	if c.busy {
		return ErrBusy
	}
	if c.run.State == StateIdle {
		return ErrInvalidState
	}
	run := c.run
	if target < 0 || target > len(run.Logs) || target >= len(c.workflow) {
		return ErrInvalidIndex
	}
	if run.Mode == ModeInteractive {
		c.workflow = append([]WorkflowStep(nil), c.workflow[:target+1]...)
	}
	run.Logs = append([]LogEntry(nil), run.Logs[:target]...)
	run.PipelineFiles = append([]artifact.Artifact(nil), run.PipelineFiles[:target]...)
	run.Memory = run.Memory.FilterUpTo(target)

	seed := run.InitialInput
	if target > 0 {
		seed = run.PipelineFiles[target-1].Content
	}
	log.Info("pipeline %s: rollback to step %d", run.ID, target+1)
	c.metrics.Rollback()
	c.notify(EventRollback)
	return c.initStep(ctx, target, seed)
}

// AddInteractiveStep appends a step for agentID and opens it, seeded with
// the last finalized output.
func (c *Controller) AddInteractiveStep(ctx context.Context, agentID string) error {
	c.mu.Lock()
	defer c.unlock()
	if c.run.Mode != ModeInteractive || c.run.State != StateChoosingNext {
		return ErrInvalidState
	}
	if _, ok := findAgent(c.agents, agentID); !ok {
		return ErrUnknownAgent
	}
	c.workflow = append(c.workflow, WorkflowStep{ID: uuid.NewString(), AgentID: agentID})
	seed := c.run.InitialInput
	if n := len(c.run.Logs); n > 0 {
		seed = c.run.Logs[n-1].Output
	}
	return c.initStep(ctx, len(c.workflow)-1, seed)
}

// Finish completes an interactive run that is waiting for its next step
// and saves it to run history.
func (c *Controller) Finish(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()
	if c.run.Mode != ModeInteractive || c.run.State != StateChoosingNext {
		return ErrInvalidState
	}
	if len(c.run.Logs) == 0 {
		return ErrInvalidState
	}
	c.setState(StateComplete)
	return c.saveRun(ctx)
}

// SetGuardrails replaces the guardrail settings used by later turns.
func (c *Controller) SetGuardrails(s guardrail.Settings) {
	c.mu.Lock()
	c.guardrails = s
	c.mu.Unlock()
}

func (c *Controller) Guardrails() guardrail.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guardrails
}

// SetMemoryEnabled controls whether turns read and write the global memory.
func (c *Controller) SetMemoryEnabled(on bool) {
	c.mu.Lock()
	c.memoryOn = on
	c.mu.Unlock()
}

// View is a read-only copy of the live run.
type View struct {
	RunID         string              `json:"run_id"`
	Mode          Mode                `json:"mode"`
	State         ExecutionState      `json:"state"`
	ActiveStep    int                 `json:"active_step"`
	Busy          bool                `json:"busy"`
	Input         string              `json:"input,omitempty"`
	History       []llm.Turn          `json:"history"`
	Logs          []LogEntry          `json:"logs"`
	PipelineFiles []artifact.Artifact `json:"pipeline_files"`
	Memory        []memory.Entry      `json:"memory"`
	Branch        string              `json:"branch"`
	Branches      []Branch            `json:"branches"`
	Comparison    []ComparisonResult  `json:"comparison,omitempty"`
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	run := c.run
	v := View{
		RunID:         run.ID,
		Mode:          run.Mode,
		State:         run.State,
		ActiveStep:    run.ActiveStep,
		Busy:          c.busy,
		Input:         run.Input,
		History:       append([]llm.Turn(nil), run.History...),
		Logs:          append([]LogEntry(nil), run.Logs...),
		PipelineFiles: append([]artifact.Artifact(nil), run.PipelineFiles...),
		Memory:        run.Memory.Entries(),
		Branch:        c.branches.Current(),
		Branches:      c.branches.List(),
	}
	if c.batch != nil {
		v.Comparison = append([]ComparisonResult(nil), c.batch.results...)
	}
	return v
}

func (c *Controller) State() ExecutionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run.State
}

func (c *Controller) ActiveStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run.ActiveStep
}

func (c *Controller) History() []llm.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Turn(nil), c.run.History...)
}

func (c *Controller) Logs() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry(nil), c.run.Logs...)
}

func (c *Controller) PipelineFiles() []artifact.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]artifact.Artifact(nil), c.run.PipelineFiles...)
}

// MemoryText is the rendered global memory of the live run.
func (c *Controller) MemoryText() string {
	c.mu.Lock()
	mem := c.run.Memory
	c.mu.Unlock()
	return mem.Format()
}

// Input is the pending chat input of the active step.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run.Input
}
