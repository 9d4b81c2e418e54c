package cli

import (
	"github.com/dataanalyst/dataanalyst/internal/handler"
	"github.com/dataanalyst/dataanalyst/internal/server"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the ask API over HTTP",
		Long: `Serve starts the HTTP API:

  GET  /health                                      Genie space reachability
  GET  /metrics                                     Prometheus metrics
  POST {prefix}/ask                                 ask a question
  POST {prefix}/conversations/{id}/messages         follow-up question
  POST {prefix}/query-agent                         LLM agent (needs ANTHROPIC_API_KEY)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			handler.Version = Version
			srv, err := server.New(a.cfg)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}
