package service

import "strings"

// ResultMode says whether a question wants result rows or only Genie's explanation.
type ResultMode string

const (
	ResultModeRows    ResultMode = "rows"
	ResultModeExplain ResultMode = "explain"
)

var explainKeywords = []string{
	"explain", "describe", "definition", "define", "meaning", "what does",
	"what is the difference", "how is", "how are", "calculated", "computed",
	"why", "which tables", "what tables", "which columns", "schema",
	"sql for", "the query for", "write a query",
}

var rowsKeywords = []string{
	"show", "list", "table", "rows", "top", "bottom", "rank",
	"how many", "how much", "count", "sum", "total", "average", "avg",
	"min", "max", "per ", " by ", "breakdown", "distribution",
	"trend", "compare", "monthly", "weekly", "daily", "yearly",
	"revenue", "sales", "orders", "customers", "export",
}

// RoutingResult contains result mode routing info
type RoutingResult struct {
	Mode         ResultMode
	FetchResults bool
	Confidence   float64
	RowsScore    int
	ExplainScore int
	Reasoning    string
}

// IntentRouter decides whether to fetch result rows when the caller did not say.
type IntentRouter struct{}

func NewIntentRouter() *IntentRouter {
	return &IntentRouter{}
}

// Route scores the question against both keyword sets. Ties and questions with no
// keywords fetch rows.
func (r *IntentRouter) Route(question string) RoutingResult {
	lower := " " + strings.ToLower(question) + " "

	rows, explain := 0, 0
	for _, kw := range rowsKeywords {
		if strings.Contains(lower, kw) {
			rows++
		}
	}
	for _, kw := range explainKeywords {
		if strings.Contains(lower, kw) {
			explain++
		}
	}

	total := rows + explain
	switch {
	case total == 0:
		return RoutingResult{
			Mode:         ResultModeRows,
			FetchResults: true,
			Confidence:   0.5,
			Reasoning:    "no strong keywords, fetching rows",
		}
	case explain > rows:
		return RoutingResult{
			Mode:         ResultModeExplain,
			FetchResults: false,
			Confidence:   float64(explain) / float64(total),
			RowsScore:    rows,
			ExplainScore: explain,
			Reasoning:    "question asks for an explanation, not data",
		}
	}
	return RoutingResult{
		Mode:         ResultModeRows,
		FetchResults: true,
		Confidence:   float64(rows) / float64(total),
		RowsScore:    rows,
		ExplainScore: explain,
		Reasoning:    "question asks for data",
	}
}
