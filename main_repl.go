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


package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cloudwego/agentrelay/internal/artifact"
	"github.com/cloudwego/agentrelay/internal/memory"
	"github.com/cloudwego/agentrelay/internal/pipeline"
	"github.com/cloudwego/agentrelay/llm"
	"github.com/pkg/errors"
)

const replHelp = `Commands:
  <text>                      send a message to the active agent (an empty line sends the seed)
  /override [text]            resend, skipping guardrail categories that allow it
  /attach <path>...           attach files to the next message
  /finalize                   commit the latest output and move to the next step
  /rollback <step>            reopen a finalized step (1-based) and discard the later ones
  /next <agent id>            interactive mode: open a step run by the agent
  /finish                     interactive mode: complete and save the run
  /compare <m1,m2,...> [text] send one message to several models
  /select <model>             keep one comparison result
  /dismiss                    discard the comparison
  /edit <turn> <text>         rewrite a user turn; the old history is kept as a branch
  /regen                      regenerate the last agent turn
  /fork <turn>                keep the history as a branch and continue from a turn
  /branches                   list branches
  /switch <id>                switch to a branch
  /history                    show the turns of the active step
  /status                     show the run
  /logs                       print the finalized outputs
  /memory                     print the global memory
  /agents                     list agents
  /cancel                     abandon the run
  /quit
`

// repl drives a controller from line-oriented input.
type repl struct {
	ctrl    *pipeline.Controller
	reader  artifact.Reader
	in      *bufio.Scanner
	out     io.Writer
	pending []artifact.Artifact
}

func newREPL(ctrl *pipeline.Controller, reader artifact.Reader, in io.Reader, out io.Writer) *repl {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	r := &repl{ctrl: ctrl, reader: reader, in: sc, out: out}
	ctrl.Subscribe(func(ev pipeline.Event) {
		switch {
		case ev.Type == pipeline.EventFinalized:
			fmt.Fprintf(out, "step %d finalized\n", ev.Step+1)
		case ev.Type == pipeline.EventState && ev.State == pipeline.StateComplete:
			fmt.Fprintln(out, "pipeline complete")
		}
	})
	return r
}

// Run reads commands until EOF or /quit. New runs are started in mode.
func (r *repl) Run(ctx context.Context, mode pipeline.Mode) error {
	for {
		fmt.Fprint(r.out, r.prompt())
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if err := r.handle(ctx, mode, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	}
}

func (r *repl) prompt() string {
	v := r.ctrl.View()
	switch v.State {
	case pipeline.StateIdle:
		return "seed> "
	case pipeline.StateComplete:
		return "done> "
	case pipeline.StateChoosingNext:
		return "next agent> "
	}
	var hint string
	if len(v.History) == 0 && v.Input != "" {
		hint = fmt.Sprintf("(enter sends: %s)\n", memory.Truncate(v.Input, 60))
	}
	wf := r.ctrl.Workflow()
	var name string
	if v.ActiveStep >= 0 && v.ActiveStep < len(wf) {
		name = r.agentName(wf[v.ActiveStep].AgentID)
	}
	if v.Mode == pipeline.ModeInteractive {
		return fmt.Sprintf("%sstep %d %s> ", hint, v.ActiveStep+1, name)
	}
	return fmt.Sprintf("%sstep %d/%d %s> ", hint, v.ActiveStep+1, len(wf), name)
}

func (r *repl) agentName(id string) string {
	for _, a := range r.ctrl.Agents() {
		if a.ID == id {
			return a.Name
		}
	}
	return id
}

func (r *repl) handle(ctx context.Context, mode pipeline.Mode, line string) error {
	if !strings.HasPrefix(line, "/") {
		switch r.ctrl.State() {
		case pipeline.StateIdle, pipeline.StateComplete:
			if line == "" {
				return nil
			}
			return r.ctrl.Start(ctx, line, mode)
		case pipeline.StateChoosingNext:
			if line == "" {
				return nil
			}
			return r.ctrl.AddInteractiveStep(ctx, line)
		}
		return r.send(ctx, line, false)
	}

	cmd, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "help":
		fmt.Fprint(r.out, replHelp)
	case "override":
		msg := rest
		if msg == "" {
			msg = r.ctrl.Input()
		}
		return r.send(ctx, msg, true)
	case "attach":
		arts, err := r.reader.ReadPaths(strings.Fields(rest)...)
		if err != nil {
			return err
		}
		r.pending = append(r.pending, arts...)
		fmt.Fprintf(r.out, "%d file(s) attached to the next message\n", len(arts))
	case "finalize":
		return r.ctrl.FinalizeStep(ctx)
	case "rollback":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return errors.Wrap(err, "step number")
		}
		return r.ctrl.Rollback(ctx, n-1)
	case "next":
		return r.ctrl.AddInteractiveStep(ctx, rest)
	case "finish":
		return r.ctrl.Finish(ctx)
	case "compare":
		list, msg, _ := strings.Cut(rest, " ")
		results, err := r.ctrl.CompareModels(ctx, strings.Split(list, ","), strings.TrimSpace(msg), nil)
		if err != nil {
			return err
		}
		printComparison(r.out, results)
	case "select":
		return r.ctrl.SelectComparisonResult(rest)
	case "dismiss":
		r.ctrl.DismissComparison()
	case "edit":
		idx, text, err := turnArg(rest)
		if err != nil {
			return err
		}
		return r.outcome(r.ctrl.EditTurn(ctx, idx, text, r.stream()))
	case "regen":
		return r.outcome(r.ctrl.RegenerateTurn(ctx, len(r.ctrl.History())-1, r.stream()))
	case "fork":
		idx, _, err := turnArg(rest)
		if err != nil {
			return err
		}
		id, err := r.ctrl.ForkAt(idx)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "forked %s\n", id)
	case "branches":
		r.printBranches()
	case "switch":
		return r.ctrl.SwitchBranch(rest)
	case "history":
		for i, t := range r.ctrl.History() {
			fmt.Fprintf(r.out, "[%d] %s: %s\n", i, t.Role, t.Content)
		}
	case "status":
		r.printStatus()
	case "logs":
		fmt.Fprintln(r.out, r.ctrl.ExportLogs())
	case "memory":
		fmt.Fprintln(r.out, r.ctrl.ExportMemory())
	case "agents":
		for _, a := range r.ctrl.Agents() {
			fmt.Fprintf(r.out, "%s\t%s\t%s\n", a.ID, a.Name, a.Model)
		}
	case "cancel":
		r.ctrl.Cancel()
		r.pending = nil
	default:
		return errors.Errorf("unknown command /%s, try /help", cmd)
	}
	return nil
}

func turnArg(s string) (int, string, error) {
	head, tail, _ := strings.Cut(s, " ")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, "", errors.Wrap(err, "turn index")
	}
	return n, strings.TrimSpace(tail), nil
}

func (r *repl) stream() llm.StreamFunc {
	return func(delta, _ string) {
		fmt.Fprint(r.out, delta)
	}
}

func (r *repl) send(ctx context.Context, msg string, override bool) error {
	out, err := r.ctrl.SendTurn(ctx, msg, r.pending, override, r.stream())
	if err == nil && out.Blocked == nil {
		r.pending = nil
	}
	return r.outcome(out, err)
}

func (r *repl) outcome(out *pipeline.TurnOutcome, err error) error {
	if err != nil {
		var ce *llm.CallError
		if errors.As(err, &ce) {
			return errors.Errorf("%v\n%s", err, ce.Suggestion())
		}
		return err
	}
	if v := out.Blocked; v != nil {
		fmt.Fprintf(r.out, "blocked by guardrail %q (%s, %s): %s\n", v.Category, v.Tier, v.Severity, v.Reason)
		if v.CanOverride {
			fmt.Fprintln(r.out, "use /override to send it anyway")
		}
		return nil
	}
	fmt.Fprintln(r.out)
	return nil
}

func (r *repl) printBranches() {
	branches, current := r.ctrl.Branches()
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tPARENT\tAT\tTURNS")
	for _, b := range branches {
		mark := ""
		if b.ID == current {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", mark, b.ID, b.Parent, b.At, b.Turns)
	}
	tw.Flush()
}

func (r *repl) printStatus() {
	v := r.ctrl.View()
	fmt.Fprintf(r.out, "run:      %s (%s)\n", v.RunID, v.Mode)
	fmt.Fprintf(r.out, "state:    %s\n", v.State)
	if v.ActiveStep != pipeline.NoActiveStep {
		fmt.Fprintf(r.out, "step:     %d\n", v.ActiveStep+1)
	}
	fmt.Fprintf(r.out, "finalized %d, memory %d, turns %d, branch %s\n", len(v.Logs), len(v.Memory), len(v.History), v.Branch)
	if len(v.Comparison) > 0 {
		fmt.Fprintf(r.out, "comparison pending: %d results\n", len(v.Comparison))
	}
}

func printComparison(w io.Writer, results []pipeline.ComparisonResult) {
	for _, res := range results {
		fmt.Fprintf(w, "== %s [%s] ==\n", res.Model, res.Status)
		if res.Status == pipeline.ComparisonError {
			fmt.Fprintf(w, "%s\n\n", res.Error)
			continue
		}
		fmt.Fprintf(w, "%s\n\n", res.Output)
	}
}
