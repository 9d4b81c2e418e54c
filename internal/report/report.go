// Package report renders Genie answers as Markdown files.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/genie"
)

const (
	DefaultTitle   = "Databricks Query Report"
	DefaultIcon    = "📊"
	DefaultMaxRows = 100
)

// Report is everything that ends up in one Markdown file.
type Report struct {
	Title    string
	Icon     string
	Date     time.Time
	Question string
	Response string
	SQL      string

	Columns   []string
	Rows      [][]any
	TotalRows int64
	Truncated bool
	// Fetched is false when results were not requested; the table section then says so.
	Fetched bool
	MaxRows int

	ConversationID string
	MessageID      string
}

// FromAnswer builds a Report from a completed Genie turn.
func FromAnswer(ans *genie.Answer) *Report {
	r := &Report{
		Date:           time.Now(),
		Question:       ans.Question,
		Response:       ans.Text,
		SQL:            ans.SQL,
		ConversationID: ans.Handle.ConversationID,
		MessageID:      ans.Handle.MessageID,
	}
	if ans.Result != nil {
		r.Fetched = true
		r.Columns = ans.Result.ColumnNames()
		r.Rows = ans.Result.Rows
		r.TotalRows = ans.Result.RowCount
		r.Truncated = ans.Result.Truncated
	}
	return r
}

// Render produces the Markdown document.
func Render(r *Report) string {
	var b strings.Builder

	title := r.Title
	if title == "" {
		title = DefaultTitle
	}
	icon := r.Icon
	if icon == "" {
		icon = DefaultIcon
	}
	date := r.Date
	if date.IsZero() {
		date = time.Now()
	}

	fmt.Fprintf(&b, "# %s %s\n\n", icon, title)
	fmt.Fprintf(&b, "_Generated %s_\n\n", date.Format("2006-01-02"))

	b.WriteString("## Question\n\n")
	for _, line := range strings.Split(strings.TrimSpace(r.Question), "\n") {
		fmt.Fprintf(&b, "> %s\n", line)
	}
	b.WriteString("\n")

	if r.Response != "" {
		b.WriteString("## Genie Response\n\n")
		b.WriteString(strings.TrimSpace(r.Response))
		b.WriteString("\n\n")
	}

	if sql := strings.TrimSpace(r.SQL); sql != "" {
		fence := codeFence(sql)
		fmt.Fprintf(&b, "## Generated SQL\n\n%ssql\n%s\n%s\n\n", fence, sql, fence)
	}

	b.WriteString("## Results\n\n")
	writeResults(&b, r)

	if r.ConversationID != "" || r.MessageID != "" {
		b.WriteString("---\n\n")
		fmt.Fprintf(&b, "Conversation `%s` · Message `%s`\n", r.ConversationID, r.MessageID)
	}

	return b.String()
}

// codeFence returns a backtick fence longer than any backtick run in s.
func codeFence(s string) string {
	longest, run := 0, 0
	for _, c := range s {
		if c != '`' {
			run = 0
			continue
		}
		run++
		longest = max(longest, run)
	}
	return strings.Repeat("`", max(3, longest+1))
}

func writeResults(b *strings.Builder, r *Report) {
	switch {
	case !r.Fetched:
		b.WriteString("_Results not fetched._\n\n")
		return
	case len(r.Columns) == 0:
		b.WriteString("_The query returned no columns._\n\n")
		return
	}

	b.WriteString("|")
	for _, c := range r.Columns {
		fmt.Fprintf(b, " %s |", escapeCell(c))
	}
	b.WriteString("\n|")
	for range r.Columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")

	limit := r.MaxRows
	if limit <= 0 {
		limit = DefaultMaxRows
	}
	shown := r.Rows
	if len(shown) > limit {
		shown = shown[:limit]
	}
	for _, row := range shown {
		b.WriteString("|")
		for i := range r.Columns {
			var v any
			if i < len(row) {
				v = row[i]
			}
			fmt.Fprintf(b, " %s |", escapeCell(formatCell(v)))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	total := r.TotalRows
	if total < int64(len(r.Rows)) {
		total = int64(len(r.Rows))
	}
	switch {
	case len(r.Rows) == 0:
		b.WriteString("_No rows returned._\n\n")
	case int64(len(shown)) < total:
		fmt.Fprintf(b, "_Showing first %d of %d rows._\n\n", len(shown), total)
	}
	if r.Truncated {
		b.WriteString("_Databricks truncated this result._\n\n")
	}
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", "<br>", "\n", "<br>", "\r", "<br>")

func escapeCell(s string) string {
	return cellEscaper.Replace(s)
}

// Write renders r into dir/name, creating dir when needed, and returns the file path.
func Write(dir, name string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(Render(r)), 0o644); err != nil {
		return "", fmt.Errorf("writing report file: %w", err)
	}
	return path, nil
}
