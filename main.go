// Copyright 2025 CloudWeGo Authors
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

/**
 * Copyright 2024 ByteDance Inc.
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
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cloudwego/agentrelay/internal/artifact"
	"github.com/cloudwego/agentrelay/internal/config"
	"github.com/cloudwego/agentrelay/internal/guardrail"
	"github.com/cloudwego/agentrelay/internal/log"
	"github.com/cloudwego/agentrelay/internal/pipeline"
	"github.com/cloudwego/agentrelay/internal/store"
	"github.com/cloudwego/agentrelay/internal/telemetry"
	"github.com/cloudwego/agentrelay/llm"
	"github.com/cloudwego/agentrelay/llm/mcp"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const Version = "0.1.0"

const Usage = `agentrelay drives a sequence of AI agents, one step at a time.

Each step is a conversation with one agent. When its output is good enough the
step is finalized and the output becomes the input of the next step. Every
outbound message passes the guardrails first, and every turn is recorded in a
global memory that later agents read as context.

Configuration is read from agentrelay.yaml in ., ./config or ~/.agentrelay,
and AGENTRELAY_* environment variables. Provider keys are also read from
OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY and friends.`

type rootOptions struct {
	config  string
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error("%v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "agentrelay",
		Short:         "Run multi-step AI agent pipelines",
		Long:          Usage,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.config, "config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose mode.")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newCompareCmd(opts),
		newGuardrailCmd(opts),
		newRunsCmd(opts),
		newAgentCmd(opts),
		newMCPCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// app holds everything a command needs, built from the loaded config.
type app struct {
	cfg     *config.Config
	ctrl    *pipeline.Controller
	gate    *guardrail.Gate
	reader  artifact.Reader
	closers []func(context.Context) error
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		log.SetLogLevel(log.DebugLevel)
	} else {
		log.SetLogLevel(log.ParseLevel(cfg.Log.Level))
	}
	if f := cfg.File(); f != "" {
		log.Debug("using config %s", f)
	}

	a := &app{cfg: cfg, gate: guardrail.Default()}
	shutdown, err := telemetry.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	metrics := telemetry.NewMetrics()
	if cfg.Metrics.Addr != "" {
		a.serveMetrics(metrics, cfg.Metrics.Addr)
	}

	agents, err := cfg.BuildAgents(a.reader)
	if err != nil {
		a.Close()
		return nil, err
	}
	workflow, err := cfg.BuildWorkflow(a.reader)
	if err != nil {
		a.Close()
		return nil, err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ctrl = pipeline.NewController(pipeline.Options{
		Gateway:       llm.NewEinoGateway(cfg.Credentials()),
		Gate:          a.gate,
		Store:         st,
		Metrics:       metrics,
		Agents:        agents,
		Workflow:      workflow,
		Guardrails:    cfg.Guardrails,
		DisableMemory: !cfg.Memory.Enabled,
	})
	// agents listed in the config file win over the saved catalog
	if len(cfg.Agents) == 0 {
		if err := a.ctrl.RestoreCatalog(ctx); err != nil {
			log.Warn("restore catalog: %v", err)
		}
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (pipeline.Persistence, error) {
	switch a.cfg.Store.Kind {
	case config.StoreFile:
		return store.NewFile(a.cfg.Store.Dir)
	case config.StorePostgres:
		pg, err := store.OpenPostgres(ctx, a.cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			pg.Close()
			return nil
		})
		return pg, nil
	default:
		return store.NewMemory(), nil
	}
}

func (a *app) serveMetrics(m *telemetry.Metrics, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server: %v", err)
		}
	}()
	a.closers = append(a.closers, srv.Shutdown)
}

// watchKnowledge reloads an agent's knowledge when a file in one of its
// directories changes. It is a no-op unless watch is set in the config.
func (a *app) watchKnowledge(ctx context.Context) error {
	dirs := a.cfg.KnowledgeDirs()
	if !a.cfg.Watch || len(dirs) == 0 {
		return nil
	}
	w, err := artifact.NewWatcher(a.reader, func(dir string, _ []artifact.Artifact) {
		for _, id := range dirs[dir] {
			a.reloadKnowledge(ctx, id)
		}
	})
	if err != nil {
		return err
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return err
		}
	}
	go w.Run(ctx)
	a.closers = append(a.closers, func(context.Context) error { return w.Close() })
	return nil
}

func (a *app) reloadKnowledge(ctx context.Context, agentID string) {
	var paths []string
	for _, ac := range a.cfg.Agents {
		if ac.ID == agentID {
			paths = ac.Knowledge
		}
	}
	kb, err := a.reader.ReadPaths(paths...)
	if err != nil {
		log.Error("reload knowledge of %s: %v", agentID, err)
		return
	}
	for _, ag := range a.ctrl.Agents() {
		if ag.ID != agentID {
			continue
		}
		ag.Knowledge = kb
		if _, err := a.ctrl.UpsertAgent(ctx, ag); err != nil {
			log.Error("update agent %s: %v", agentID, err)
		}
		return
	}
}

// Close runs the registered closers in reverse order.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Warn("shutdown: %v", err)
		}
	}
}

func withApp(opts *rootOptions, fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, args)
	}
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		mode   string
		resume string
		last   bool
	)
	cmd := &cobra.Command{
		Use:   "run [input]",
		Short: "Start an interactive pipeline session",
		Long: `Start an interactive pipeline session on stdin.

With an input argument the run starts right away; otherwise the first line
read is the seed. Type /help inside the session for the commands.`,
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			if err := a.watchKnowledge(ctx); err != nil {
				return err
			}
			m := a.cfg.PipelineMode()
			if mode != "" {
				var err error
				if m, err = pipeline.ParseMode(mode); err != nil {
					return err
				}
			}
			r := newREPL(a.ctrl, a.reader, os.Stdin, os.Stdout)
			switch {
			case resume != "" || last:
				rec, err := findRun(ctx, a.ctrl, resume)
				if err != nil {
					return err
				}
				if err := a.ctrl.Resume(ctx, rec); err != nil {
					return errors.Wrapf(err, "resume %s", rec.ID)
				}
				fmt.Fprintf(os.Stdout, "resumed %s\n", rec.Name)
			case len(args) > 0:
				if err := a.ctrl.Start(ctx, strings.Join(args, " "), m); err != nil {
					return err
				}
			}
			return r.Run(ctx, m)
		}),
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Pipeline mode: linear or interactive (default from config)")
	cmd.Flags().StringVar(&resume, "resume", "", "Resume the saved run with this id")
	cmd.Flags().BoolVar(&last, "last", false, "Resume the most recent saved run")
	return cmd
}

// findRun returns the saved run with id, or the newest one when id is empty.
func findRun(ctx context.Context, ctrl *pipeline.Controller, id string) (pipeline.RunRecord, error) {
	runs, err := ctrl.ListRuns(ctx)
	if err != nil {
		return pipeline.RunRecord{}, err
	}
	if id == "" {
		if len(runs) == 0 {
			return pipeline.RunRecord{}, errors.New("no saved runs")
		}
		return runs[0], nil
	}
	for _, r := range runs {
		if r.ID == id {
			return r, nil
		}
	}
	return pipeline.RunRecord{}, errors.Wrapf(store.ErrNotFound, "run %s", id)
}

func newCompareCmd(opts *rootOptions) *cobra.Command {
	var models []string
	cmd := &cobra.Command{
		Use:   "compare <message>",
		Short: "Send one message to several models side by side",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			msg := strings.Join(args, " ")
			if err := a.ctrl.Start(ctx, msg, pipeline.ModeLinear); err != nil {
				return err
			}
			results, err := a.ctrl.CompareModels(ctx, models, "", func(model string, p pipeline.Progress, _ int) {
				log.Info("%s: %s", model, p)
			})
			if err != nil {
				return err
			}
			printComparison(os.Stdout, results)
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&models, "model", nil, "Model id to compare (repeatable, at least two)")
	return cmd
}

func newGuardrailCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guardrail",
		Short: "Inspect the guardrail rules",
	}
	var override bool
	check := &cobra.Command{
		Use:   "check <text>",
		Short: "Evaluate text against the guardrails without calling a model",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(_ context.Context, a *app, args []string) error {
			settings := a.ctrl.Guardrails()
			if !settings.Enabled {
				fmt.Fprintln(os.Stdout, "guardrails are disabled")
				return nil
			}
			v := a.gate.Check(strings.Join(args, " "), settings, override)
			if !v.Blocked {
				fmt.Fprintln(os.Stdout, "ok")
				return nil
			}
			return yaml.NewEncoder(os.Stdout).Encode(v)
		}),
	}
	check.Flags().BoolVar(&override, "override", false, "Skip overridable categories")
	list := &cobra.Command{
		Use:   "list",
		Short: "List the guardrail categories",
		RunE: withApp(opts, func(_ context.Context, a *app, _ []string) error {
			settings := a.ctrl.Guardrails()
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIER\tSEVERITY\tOVERRIDE\tENABLED")
			for _, c := range a.gate.Categories() {
				on := !c.CanDisable || settings.IsEnabled(c.ID)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", c.ID, c.Tier, c.Severity, c.CanOverride, on)
			}
			return tw.Flush()
		}),
	}
	cmd.AddCommand(check, list)
	return cmd
}

func newRunsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage saved runs",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			runs, err := a.ctrl.ListRuns(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tMODE\tSTEPS\tNAME")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Timestamp.Format(time.DateTime), r.Mode, len(r.Logs), r.Name)
			}
			return tw.Flush()
		}),
	}
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the step outputs of a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			rec, err := findRun(ctx, a.ctrl, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, pipeline.RenderLogs(rec.Logs))
			return nil
		}),
	}
	summarize := &cobra.Command{
		Use:   "summarize <id>",
		Short: "Ask the first agent's model for a report of a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			rec, err := findRun(ctx, a.ctrl, args[0])
			if err != nil {
				return err
			}
			text, err := a.ctrl.Summarize(ctx, rec)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, text)
			return nil
		}),
	}
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			return a.ctrl.DeleteRun(ctx, args[0])
		}),
	}
	var yes bool
	wipe := &cobra.Command{
		Use:   "wipe",
		Short: "Delete every saved run and the saved agent catalog",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			if !yes {
				return errors.New("refusing to wipe without --yes")
			}
			return a.ctrl.Wipe(ctx)
		}),
	}
	wipe.Flags().BoolVar(&yes, "yes", false, "Confirm the wipe")
	cmd.AddCommand(list, show, summarize, del, wipe)
	return cmd
}

func newAgentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the configured agents",
		RunE: withApp(opts, func(_ context.Context, a *app, _ []string) error {
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMODEL\tKNOWLEDGE")
			for _, ag := range a.ctrl.Agents() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", ag.ID, ag.Name, ag.Model, len(ag.Knowledge))
			}
			return tw.Flush()
		}),
	}
	var out string
	generate := &cobra.Command{
		Use:   "generate <description>",
		Short: "Draft a new agent from a description and save it",
		Long: `Draft a new agent from a description and save it to the catalog.

With --out (or agents_dir in the config) the agent is also written as a
markdown agent file that later runs load.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			ag, err := a.ctrl.GenerateAgent(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			ac := config.AgentConfig{ID: ag.ID, Name: ag.Name, Model: ag.Model, Prompt: ag.Prompt}
			dir := out
			if dir == "" {
				dir = a.cfg.AgentsDir
			}
			if dir == "" {
				return yaml.NewEncoder(os.Stdout).Encode(ac)
			}
			path, err := config.WriteAgentFile(dir, ac)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "wrote %s\n", path)
			return nil
		}),
	}
	generate.Flags().StringVarP(&out, "out", "o", "", "Directory to write the agent file to")
	cmd.AddCommand(list, generate)
	return cmd
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipeline tools over MCP on stdio",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			if err := a.watchKnowledge(ctx); err != nil {
				return err
			}
			svr := mcp.NewServer(mcp.ServerOptions{
				ServerName:    "agentrelay",
				ServerVersion: Version,
				Verbose:       opts.verbose,
				Controller:    a.ctrl,
				Gate:          a.gate,
			})
			if err := svr.ServeStdio(); err != nil {
				return errors.Wrap(err, "run MCP server")
			}
			return nil
		}),
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of agentrelay",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
