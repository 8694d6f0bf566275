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

package llm

import (
	"context"

	"github.com/cloudwego/agentrelay/internal/log"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"
)

/*
	type Handler interface {
		OnStart(ctx context.Context, info *RunInfo, input CallbackInput) context.Context
		OnEnd(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context

		OnError(ctx context.Context, info *RunInfo, err error) context.Context

		OnStartWithStreamInput(ctx context.Context, info *RunInfo,
			input *schema.StreamReader[CallbackInput]) context.Context
		OnEndWithStreamOutput(ctx context.Context, info *RunInfo,
			output *schema.StreamReader[CallbackOutput]) context.Context
	}
*/

// CallbackHandler logs chat model activity at debug level.
type CallbackHandler struct{}

var _ callbacks.Handler = (*CallbackHandler)(nil)

func (h CallbackHandler) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	log.Debug("<OnStart> %s/%s", info.Type, info.Name)
	return ctx
}

func (h CallbackHandler) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	log.Debug("<OnEnd> %s/%s", info.Type, info.Name)
	return ctx
}

func (h CallbackHandler) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	log.Error("<OnError> %s/%s: %v", info.Type, info.Name, err)
	return ctx
}

func (h CallbackHandler) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}

func (h CallbackHandler) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	log.Debug("<OnEndWithStreamOutput> %s/%s", info.Type, info.Name)
	output.Close()
	return ctx
}
