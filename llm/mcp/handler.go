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

package mcp

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool is an MCP tool with its handler.
type Tool struct {
	mcp.Tool
	Handler server.ToolHandlerFunc
}

// GetJSONSchema reflects the input schema of a request struct.
func GetJSONSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(v)
	s.Version = ""
	s.ID = ""
	js, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return js
}

// NewTool binds the call arguments to R and returns the handler's result as JSON text.
// Handler errors become tool errors, not protocol errors.
func NewTool[R any, T any](name string, desc string, schema json.RawMessage, handler func(ctx context.Context, req R) (*T, error)) Tool {
	return Tool{
		Tool: mcp.NewToolWithRawSchema(name, desc, schema),
		Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var req R
			if err := request.BindArguments(&req); err != nil {
				return nil, err
			}
			var final string
			var isError bool
			if resp, err := handler(ctx, req); err != nil {
				isError = true
				final = err.Error()
			} else if js, err := json.Marshal(resp); err != nil {
				isError = true
				final = err.Error()
			} else {
				final = string(js)
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(final),
				},
				IsError: isError,
			}, nil
		},
	}
}

func handlePipelinePrompt(
	ctx context.Context,
	request mcp.GetPromptRequest,
) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "A prompt for driving an agent pipeline",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: PromptDrivePipeline,
				},
			},
		},
	}, nil
}

const PromptDrivePipeline = `You are operating a multi-agent pipeline.
1. Call pipeline_start with the user's request.
2. Call pipeline_send to run the active agent; repeat with follow-up messages until the output is good.
3. Call pipeline_finalize to pass the output to the next agent.
4. Use pipeline_compare to try the same message on several models, then pipeline_select to keep one.
5. Use pipeline_rollback to reopen an earlier step, and pipeline_status to inspect progress.
In interactive mode there are no configured steps: call pipeline_next with an agent id to open each step, and pipeline_finish when done.
If a message is blocked by a guardrail, explain the category to the user; only resend with override when the category can be overridden and the user agrees.`
