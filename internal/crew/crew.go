package crew

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/agent"
	"github.com/dataanalyst/dataanalyst/internal/tools"
	"github.com/rs/zerolog/log"
)

// Runner is the agent loop a crew drives. *agent.AnalystAgent implements it.
type Runner interface {
	Run(ctx context.Context, systemPrompt, userPrompt string, agentTools []tools.Tool) (*agent.RunResult, error)
}

// TaskOutput is the result of one task.
type TaskOutput struct {
	Task       string
	Agent      string
	Raw        string
	ToolsUsed  []string
	OutputFile string
	Duration   time.Duration
}

// Crew runs the roster's tasks sequentially, each seeing the previous task's output.
type Crew struct {
	roster *Roster
	runner Runner
	tools  []tools.Tool
	// baseDir resolves relative output files; empty means the working directory.
	baseDir string
}

func New(roster *Roster, runner Runner, agentTools []tools.Tool, baseDir string) *Crew {
	return &Crew{roster: roster, runner: runner, tools: agentTools, baseDir: baseDir}
}

// Inputs builds the standard placeholder values for a question.
func Inputs(query string, fetchResults bool, now time.Time) map[string]string {
	return map[string]string{
		"query":              query,
		"fetch_results_flag": strconv.FormatBool(fetchResults),
		"date":               now.Format("2006-01-02"),
	}
}

// Kickoff runs every task in order and writes each task's output file.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]string) ([]TaskOutput, error) {
	var outputs []TaskOutput
	var previous string

	for _, task := range c.roster.Tasks {
		spec := c.roster.Agents[task.Agent]
		start := time.Now()
		log.Info().Str("task", task.Name).Str("agent", task.Agent).Msg("task started")

		run, err := c.runner.Run(ctx, systemPrompt(spec, inputs), userPrompt(task, inputs, previous), c.tools)
		if err != nil {
			return outputs, fmt.Errorf("task %s: %w", task.Name, err)
		}

		out := TaskOutput{
			Task:      task.Name,
			Agent:     task.Agent,
			Raw:       strings.TrimSpace(run.Text),
			ToolsUsed: run.ToolsUsed,
			Duration:  time.Since(start),
		}
		if task.OutputFile != "" {
			path, err := c.write(Interpolate(task.OutputFile, inputs), out.Raw)
			if err != nil {
				return outputs, fmt.Errorf("task %s: %w", task.Name, err)
			}
			out.OutputFile = path
		}

		log.Info().
			Str("task", task.Name).
			Strs("tools_used", out.ToolsUsed).
			Str("output_file", out.OutputFile).
			Dur("duration", out.Duration).
			Msg("task completed")

		outputs = append(outputs, out)
		previous = out.Raw
	}
	return outputs, nil
}

func (c *Crew) write(name, content string) (string, error) {
	path := name
	if !filepath.IsAbs(path) && c.baseDir != "" {
		path = filepath.Join(c.baseDir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0644); err != nil {
		return "", fmt.Errorf("writing output: %w", err)
	}
	return path, nil
}

func systemPrompt(spec AgentSpec, inputs map[string]string) string {
	var sb strings.Builder
	sb.WriteString(agent.SystemPrompt)
	fmt.Fprintf(&sb, "\n\nYour role: %s\n", strings.TrimSpace(Interpolate(spec.Role, inputs)))
	fmt.Fprintf(&sb, "Your goal: %s\n", strings.TrimSpace(Interpolate(spec.Goal, inputs)))
	if spec.Backstory != "" {
		fmt.Fprintf(&sb, "\n%s\n", strings.TrimSpace(Interpolate(spec.Backstory, inputs)))
	}
	return sb.String()
}

func userPrompt(task TaskSpec, inputs map[string]string, previous string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(Interpolate(task.Description, inputs)))
	if task.ExpectedOutput != "" {
		fmt.Fprintf(&sb, "\n\nExpected output:\n%s", strings.TrimSpace(Interpolate(task.ExpectedOutput, inputs)))
	}
	if task.Markdown {
		sb.WriteString("\n\nFormat your final answer as Markdown.")
	}
	if previous != "" {
		fmt.Fprintf(&sb, "\n\nContext from the previous task:\n%s", previous)
	}
	return sb.String()
}
