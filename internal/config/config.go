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

// Package config loads agentrelay.yaml and its environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/agentrelay/internal/artifact"
	"github.com/cloudwego/agentrelay/internal/guardrail"
	"github.com/cloudwego/agentrelay/internal/log"
	"github.com/cloudwego/agentrelay/internal/pipeline"
	"github.com/cloudwego/agentrelay/internal/telemetry"
	"github.com/cloudwego/agentrelay/llm"
	"github.com/cloudwego/agentrelay/llm/prompt"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	FileName  = "agentrelay"
	EnvPrefix = "AGENTRELAY"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// ProviderEnv maps each provider to the conventional variable holding its key.
var ProviderEnv = map[llm.ModelType]string{
	llm.ModelTypeOpenAI:    "OPENAI_API_KEY",
	llm.ModelTypeClaude:    "ANTHROPIC_API_KEY",
	llm.ModelTypeGemini:    "GEMINI_API_KEY",
	llm.ModelTypeXAI:       "XAI_API_KEY",
	llm.ModelTypeDeepSeek:  "DEEPSEEK_API_KEY",
	llm.ModelTypeDashScope: "DASHSCOPE_API_KEY",
	llm.ModelTypeARK:       "ARK_API_KEY",
}

type AgentConfig struct {
	ID     string `mapstructure:"id" yaml:"id"`
	Name   string `mapstructure:"name" yaml:"name"`
	Model  string `mapstructure:"model" yaml:"model"`
	Prompt string `mapstructure:"prompt" yaml:"prompt"`
	// PromptFile replaces Prompt with a file, optionally rendered as a Go template.
	PromptFile *prompt.FilePrompt `mapstructure:"prompt_file" yaml:"prompt_file,omitempty"`
	// Knowledge lists files or directories loaded as the agent's knowledge base.
	Knowledge []string `mapstructure:"knowledge" yaml:"knowledge,omitempty"`
}

type StepConfig struct {
	ID      string   `mapstructure:"id" yaml:"id"`
	AgentID string   `mapstructure:"agent_id" yaml:"agent_id"`
	Task    string   `mapstructure:"task" yaml:"task,omitempty"`
	Files   []string `mapstructure:"files" yaml:"files,omitempty"`
}

type StoreConfig struct {
	Kind string `mapstructure:"kind" yaml:"kind"`
	Dir  string `mapstructure:"dir" yaml:"dir"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

type Config struct {
	Providers  map[string]llm.ProviderConfig `mapstructure:"providers"`
	Agents     []AgentConfig                 `mapstructure:"agents"`
	// AgentsDir holds one markdown agent file per agent, added after Agents.
	AgentsDir  string                        `mapstructure:"agents_dir"`
	Workflow   []StepConfig                  `mapstructure:"workflow"`
	Mode       string                        `mapstructure:"mode"`
	Guardrails guardrail.Settings            `mapstructure:"guardrails"`
	Memory     struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"memory"`
	Store StoreConfig `mapstructure:"store"`
	Log   struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
	Tracing telemetry.TracingConfig `mapstructure:"tracing"`
	// Watch reloads agent knowledge when files under its directories change.
	Watch bool `mapstructure:"watch"`

	file string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(pipeline.ModeLinear))
	v.SetDefault("agents_dir", "")
	v.SetDefault("guardrails.enabled", true)
	v.SetDefault("memory.enabled", true)
	v.SetDefault("store.kind", StoreMemory)
	v.SetDefault("store.dir", ".agentrelay")
	v.SetDefault("log.level", "info")
	v.SetDefault("tracing.service_name", "agentrelay")
}

// Load reads path, or agentrelay.yaml from the search paths when path is
// empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".agentrelay"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.file = v.ConfigFileUsed()
	if cfg.AgentsDir != "" {
		more, err := LoadAgentDir(cfg.AgentsDir)
		if err != nil {
			return nil, err
		}
		cfg.Agents = append(cfg.Agents, more...)
	}
	cfg.applyProviderEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// File is the config file that was read, or "".
func (c *Config) File() string {
	return c.file
}

// applyProviderEnv renames provider aliases to their canonical names and
// fills missing keys from the conventional variables.
func (c *Config) applyProviderEnv() {
	providers := make(map[string]llm.ProviderConfig, len(c.Providers))
	for name, pc := range c.Providers {
		if t := llm.NewModelType(name); t != llm.ModelTypeUnknown {
			name = string(t)
		}
		providers[name] = pc
	}
	c.Providers = providers
	for p, env := range ProviderEnv {
		key := os.Getenv(env)
		if key == "" {
			continue
		}
		pc := c.Providers[string(p)]
		if pc.APIKey == "" {
			pc.APIKey = key
			c.Providers[string(p)] = pc
		}
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		pc := c.Providers[string(llm.ModelTypeOllama)]
		if pc.BaseURL == "" {
			pc.BaseURL = host
		}
		c.Providers[string(llm.ModelTypeOllama)] = pc
	}
}

// Validate checks ids, references and enumerations.
func (c *Config) Validate() error {
	if _, err := pipeline.ParseMode(c.Mode); err != nil {
		return err
	}
	switch c.Store.Kind {
	case StoreMemory, StoreFile:
	case StorePostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres store")
		}
	default:
		return errors.Errorf("unknown store kind %q", c.Store.Kind)
	}
	agents := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" || a.Name == "" || a.Model == "" {
			return errors.Errorf("agent %d: id, name and model are required", i+1)
		}
		if agents[a.ID] {
			return errors.Errorf("duplicate agent id %q", a.ID)
		}
		agents[a.ID] = true
	}
	steps := make(map[string]bool, len(c.Workflow))
	for i, s := range c.Workflow {
		if !agents[s.AgentID] {
			return errors.Errorf("workflow step %d references unknown agent %q", i+1, s.AgentID)
		}
		if s.ID == "" {
			continue
		}
		if steps[s.ID] {
			return errors.Errorf("duplicate workflow step id %q", s.ID)
		}
		steps[s.ID] = true
	}
	for name := range c.Providers {
		if llm.NewModelType(name) == llm.ModelTypeUnknown {
			return errors.Errorf("unknown provider %q", name)
		}
	}
	return nil
}

// Credentials converts the providers section.
func (c *Config) Credentials() llm.Credentials {
	creds := make(llm.Credentials, len(c.Providers))
	for name, pc := range c.Providers {
		creds[llm.NewModelType(name)] = pc
	}
	return creds
}

// BuildAgents loads every agent with its knowledge files.
func (c *Config) BuildAgents(r artifact.Reader) ([]pipeline.Agent, error) {
	out := make([]pipeline.Agent, 0, len(c.Agents))
	for _, a := range c.Agents {
		kb, err := r.ReadPaths(a.Knowledge...)
		if err != nil {
			return nil, errors.Wrapf(err, "knowledge of agent %s", a.ID)
		}
		system := a.Prompt
		if a.PromptFile != nil {
			p, err := prompt.NewFilePrompt(a.PromptFile)
			if err != nil {
				return nil, errors.Wrapf(err, "prompt of agent %s", a.ID)
			}
			system = p.String()
		}
		out = append(out, pipeline.Agent{ID: a.ID, Name: a.Name, Model: a.Model, Prompt: system, Knowledge: kb})
	}
	log.Debug("loaded %d agents", len(out))
	return out, nil
}

// BuildWorkflow loads every step with its files.
func (c *Config) BuildWorkflow(r artifact.Reader) ([]pipeline.WorkflowStep, error) {
	out := make([]pipeline.WorkflowStep, 0, len(c.Workflow))
	for i, s := range c.Workflow {
		files, err := r.ReadPaths(s.Files...)
		if err != nil {
			return nil, errors.Wrapf(err, "files of step %d", i+1)
		}
		out = append(out, pipeline.WorkflowStep{ID: s.ID, AgentID: s.AgentID, Task: s.Task, Files: files})
	}
	return out, nil
}

// KnowledgeDirs maps each directory named in an agent's knowledge list to the agent id.
func (c *Config) KnowledgeDirs() map[string][]string {
	dirs := make(map[string][]string)
	for _, a := range c.Agents {
		for _, p := range a.Knowledge {
			if fi, err := os.Stat(p); err == nil && fi.IsDir() {
				abs, err := filepath.Abs(p)
				if err != nil {
					continue
				}
				dirs[abs] = append(dirs[abs], a.ID)
			}
		}
	}
	return dirs
}

// PipelineMode is the validated run mode.
func (c *Config) PipelineMode() pipeline.Mode {
	m, _ := pipeline.ParseMode(c.Mode)
	return m
}
