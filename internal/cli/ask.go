package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/config"
	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/dataanalyst/dataanalyst/internal/report"
	"github.com/dataanalyst/dataanalyst/internal/service"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type askOptions struct {
	conversationID string
	fetchResults   bool
	pollInterval   time.Duration
	timeout        time.Duration
	output         string
	print          bool
	quiet          bool
}

func newAskCommand(a *app) *cobra.Command {
	o := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask Genie a question and write a Markdown report",
		Long: `Ask sends the question to the configured Genie space, polls until Genie has answered,
optionally fetches the result rows and writes everything to a Markdown report.

Without an argument the question is read from standard input.

Examples:
  data-analyst ask "What were total sales by region last quarter?"
  data-analyst ask --conversation-id 01ef... "And by month?"
  data-analyst ask --fetch-results=false --print "Which table holds refunds?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := readQuestion(cmd, args)
			if err != nil {
				return err
			}
			return runAsk(cmd, a.cfg, o, question)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.conversationID, "conversation-id", "", "Continue an existing Genie conversation")
	f.BoolVar(&o.fetchResults, "fetch-results", true, "Fetch the rows of the generated SQL")
	f.DurationVar(&o.pollInterval, "poll-interval", 0, "Status poll interval (default from config, 5s)")
	f.DurationVar(&o.timeout, "timeout", 0, "Give up waiting for Genie after this long (default from config, 10m)")
	f.StringVarP(&o.output, "output", "o", "", "Report path (default output/databricks_query_output.md)")
	f.BoolVar(&o.print, "print", false, "Also render the report in the terminal")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "No spinner or status lines")
	return cmd
}

// readQuestion joins the arguments, or prompts for a line when there are none.
func readQuestion(cmd *cobra.Command, args []string) (string, error) {
	if q := strings.TrimSpace(strings.Join(args, " ")); q != "" {
		return q, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "Enter your query: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading query: %w", err)
	}
	q := strings.TrimSpace(line)
	if q == "" {
		return "", &genie.Error{Kind: genie.KindInvalidInput, Op: "read query", Message: "question is empty"}
	}
	return q, nil
}

func newGenieService(cfg *config.Config) (*service.GenieService, service.Guards, error) {
	settings, err := cfg.GenieSettings()
	if err != nil {
		return nil, service.Guards{}, err
	}
	settings.UserAgent = userAgent()
	client, err := genie.NewFromSettings(settings)
	if err != nil {
		return nil, service.Guards{}, err
	}
	guards := service.NewGuards(cfg)
	return service.NewGenieService(client, guards), guards, nil
}

func runAsk(cmd *cobra.Command, cfg *config.Config, o *askOptions, question string) error {
	svc, _, err := newGenieService(cfg)
	if err != nil {
		return err
	}

	fetch := cfg.FetchResults
	if cmd.Flags().Changed("fetch-results") {
		fetch = o.fetchResults
	}

	out := cmd.OutOrStdout()
	var spinner *pterm.SpinnerPrinter
	if !o.quiet {
		spinner, _ = pterm.DefaultSpinner.WithWriter(cmd.ErrOrStderr()).Start("Waiting for Genie to answer...")
	}

	res, err := svc.Ask(cmd.Context(), service.AskRequest{
		Question:       question,
		ConversationID: o.conversationID,
		FetchResults:   &fetch,
		PollInterval:   o.pollInterval,
		Timeout:        o.timeout,
	})
	if err != nil {
		if spinner != nil {
			spinner.Fail("Genie did not answer")
		}
		return err
	}
	if spinner != nil {
		spinner.Success(fmt.Sprintf("Genie answered in %s", res.Duration.Round(100*time.Millisecond)))
	}

	rep := report.FromAnswer(res.Answer)
	rep.Icon = cfg.ReportIcon
	rep.MaxRows = cfg.ReportMaxRows

	path := o.output
	if path == "" {
		path = cfg.OutputPath()
	}
	written, err := report.Write(filepath.Dir(path), filepath.Base(path), rep)
	if err != nil {
		return err
	}

	if res.SQLWarning != "" {
		pterm.Warning.WithWriter(out).Println(res.SQLWarning)
	}
	if !o.quiet {
		pterm.Success.WithWriter(out).Printfln("Report written to %s", written)
		pterm.Info.WithWriter(out).Printfln("Conversation %s (continue with --conversation-id)", res.Answer.Handle.ConversationID)
	}

	if o.print {
		rendered, err := report.RenderTerminal(report.Render(rep), pterm.GetTerminalWidth())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, rendered)
	}
	return nil
}
