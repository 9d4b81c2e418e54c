// Command data-analyst asks a Databricks Genie space questions and writes Markdown reports.
package main

import "github.com/dataanalyst/dataanalyst/internal/cli"

func main() {
	cli.Execute()
}
