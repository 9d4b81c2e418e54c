package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/agent"
	"github.com/dataanalyst/dataanalyst/internal/crew"
	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/dataanalyst/dataanalyst/internal/tools"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newRunCommand(a *app) *cobra.Command {
	var fetchResults bool
	cmd := &cobra.Command{
		Use:   "run [question]",
		Short: "Run the analyst crew: an LLM agent that asks Genie and writes the report",
		Long: `Run kicks off the tasks defined in the agents and tasks YAML files. The default crew has one
analyst agent that uses the Genie tool to answer the question and writes its Markdown answer
to output/databricks_query_output.md.

Requires ANTHROPIC_API_KEY in addition to the Databricks settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cfg.AnthropicAPIKey == "" {
				return genie.ConfigError("ANTHROPIC_API_KEY is not set")
			}
			roster, err := crew.LoadRoster(cfg.AgentsFile, cfg.TasksFile)
			if err != nil {
				return err
			}
			question, err := readQuestion(cmd, args)
			if err != nil {
				return err
			}
			svc, _, err := newGenieService(cfg)
			if err != nil {
				return err
			}

			fetch := cfg.FetchResults
			if cmd.Flags().Changed("fetch-results") {
				fetch = fetchResults
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.AgentTimeout)*time.Second)
			defer cancel()

			analyst := agent.NewAnalystAgent(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AnthropicBaseURL)
			c := crew.New(roster, analyst, tools.ForAnalyst(svc, ""), "")

			spinner, _ := pterm.DefaultSpinner.WithWriter(cmd.ErrOrStderr()).Start("Running the analyst crew...")
			outputs, err := c.Kickoff(ctx, crew.Inputs(question, fetch, time.Now()))
			if err != nil {
				spinner.Fail("Crew run failed")
				return fmt.Errorf("crew run: %w", err)
			}
			spinner.Success("Crew run finished")

			out := cmd.OutOrStdout()
			for _, o := range outputs {
				if o.OutputFile != "" {
					pterm.Success.WithWriter(out).Printfln("%s: report written to %s", o.Task, o.OutputFile)
				}
			}
			if n := len(outputs); n > 0 {
				fmt.Fprintln(out, outputs[n-1].Raw)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fetchResults, "fetch-results", true, "Ask the agent to fetch result rows")
	return cmd
}
