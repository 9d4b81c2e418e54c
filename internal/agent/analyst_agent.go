package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/dataanalyst/dataanalyst/internal/tools"
	"github.com/rs/zerolog/log"
)

const (
	maxIterations = 10
	// forceAnswerAfter is the iteration after which the model must answer without tools.
	forceAnswerAfter = 7
	defaultMaxTokens = 4096
)

// ToolCall represents a tool invocation request from the LLM
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// ToolOutput records one executed tool call.
type ToolOutput struct {
	Name   string
	Input  map[string]interface{}
	Output string
	Err    error
}

// RunResult is what one agent run produced.
type RunResult struct {
	Text        string
	ToolsUsed   []string
	ToolOutputs []ToolOutput
	Iterations  int
}

// LastOutput returns the most recent successful output of the named tool.
func (r *RunResult) LastOutput(name string) (ToolOutput, bool) {
	for i := len(r.ToolOutputs) - 1; i >= 0; i-- {
		if o := r.ToolOutputs[i]; o.Name == name && o.Err == nil {
			return o, true
		}
	}
	return ToolOutput{}, false
}

// AnalystAgent wraps the Anthropic SDK for a multi-turn tool-calling loop.
type AnalystAgent struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnalystAgent creates an agent backed by Anthropic Claude or a compatible provider.
func NewAnalystAgent(apiKey, model, baseURL string) *AnalystAgent {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnalystAgent{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

// Model returns the model name the agent talks to.
func (a *AnalystAgent) Model() string { return a.model }

// Run executes the agent loop: the LLM calls tools until it stops asking for them.
// A Genie failure inside a tool, other than rejected input, halts the run and is returned.
func (a *AnalystAgent) Run(ctx context.Context, systemPrompt, userPrompt string, agentTools []tools.Tool) (*RunResult, error) {
	toolParams := make([]anthropic.ToolUnionUnionParam, len(agentTools))
	for i, t := range agentTools {
		schema := map[string]interface{}{
			"type":       "object",
			"properties": t.InputSchema["properties"],
		}
		if required, ok := t.InputSchema["required"]; ok {
			schema["required"] = required
		}
		toolParams[i] = anthropic.ToolParam{
			Name:        anthropic.String(t.Name),
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.F[interface{}](schema),
		}
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
	}
	res := &RunResult{}

	for iter := 0; iter < maxIterations; iter++ {
		res.Iterations = iter + 1
		params := a.params(systemPrompt, messages)
		params.Tools = anthropic.F(toolParams)

		resp, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return res, fmt.Errorf("LLM call failed: %w", err)
		}

		var text string
		var pending []ToolCall
		for _, block := range resp.Content {
			switch b := block.AsUnion().(type) {
			case anthropic.TextBlock:
				text += b.Text
			case anthropic.ToolUseBlock:
				var input map[string]interface{}
				if err := json.Unmarshal(b.Input, &input); err != nil {
					log.Warn().Err(err).Str("tool", b.Name).Msg("failed to parse tool input")
					input = map[string]interface{}{}
				}
				pending = append(pending, ToolCall{ID: b.ID, Name: b.Name, Input: input})
			}
		}

		log.Debug().
			Int("iter", iter).
			Str("stop_reason", string(resp.StopReason)).
			Str("text_preview", truncate(text, 80)).
			Int("tool_calls", len(pending)).
			Msg("agent iteration")

		done := resp.StopReason == "end_turn" ||
			resp.StopReason == "stop" ||
			resp.StopReason == "stop_sequence" ||
			resp.StopReason == "max_tokens" ||
			len(pending) == 0
		if done {
			res.Text = text
			return res, nil
		}

		messages = append(messages, resp.ToParam())

		if iter >= forceAnswerAfter {
			// The pending tool calls still need results before the model can answer.
			var skipped []anthropic.ContentBlockParamUnion
			for _, tc := range pending {
				skipped = append(skipped, anthropic.NewToolResultBlock(tc.ID, "skipped: tool budget exhausted", true))
			}
			skipped = append(skipped, anthropic.NewTextBlock("You have enough data. Please provide your final answer now without calling any more tools."))
			messages = append(messages, anthropic.NewUserMessage(skipped...))

			final, err := a.client.Messages.New(ctx, a.params(systemPrompt, messages))
			if err != nil {
				res.Text = text
				return res, fmt.Errorf("final answer call failed: %w", err)
			}
			res.Iterations++
			res.Text = text
			for _, block := range final.Content {
				if b, ok := block.AsUnion().(anthropic.TextBlock); ok {
					res.Text += b.Text
				}
			}
			return res, nil
		}

		var results []anthropic.ContentBlockParamUnion
		for _, tc := range pending {
			res.ToolsUsed = append(res.ToolsUsed, tc.Name)
			out, execErr := executeTool(ctx, tc, agentTools)
			res.ToolOutputs = append(res.ToolOutputs, ToolOutput{Name: tc.Name, Input: tc.Input, Output: out, Err: execErr})
			if execErr != nil {
				// The model can rephrase rejected input; any other Genie failure ends the run.
				var ge *genie.Error
				if errors.As(execErr, &ge) && ge.Kind != genie.KindInvalidInput {
					log.Warn().
						Str("tool", tc.Name).
						Str("kind", string(ge.Kind)).
						Msg("genie failure, halting agent run")
					return res, execErr
				}
				log.Warn().Err(execErr).Str("tool", tc.Name).Msg("tool execution error")
				out = fmt.Sprintf("error: %v", execErr)
			}
			results = append(results, anthropic.NewToolResultBlock(tc.ID, out, execErr != nil))
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}

	return res, fmt.Errorf("agent loop exceeded max iterations (%d)", maxIterations)
}

func (a *AnalystAgent) params(systemPrompt string, messages []anthropic.MessageParam) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(a.model)),
		MaxTokens: anthropic.F(int64(a.maxTokens)),
		Messages:  anthropic.F(messages),
	}
	if systemPrompt != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{
			anthropic.NewTextBlock(systemPrompt),
		})
	}
	return params
}

func executeTool(ctx context.Context, tc ToolCall, agentTools []tools.Tool) (string, error) {
	for _, t := range agentTools {
		if t.Name == tc.Name {
			return t.Execute(ctx, tc.Input)
		}
	}
	return "", fmt.Errorf("unknown tool: %s", tc.Name)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
