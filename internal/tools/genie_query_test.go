package tools_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/dataanalyst/dataanalyst/internal/service"
	"github.com/dataanalyst/dataanalyst/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAsker struct {
	got    genie.AskOptions
	answer *genie.Answer
	err    error
}

func (s *stubAsker) Ask(_ context.Context, q string, opts genie.AskOptions) (*genie.Answer, error) {
	s.got = opts
	if s.err != nil {
		return nil, s.err
	}
	s.answer.Question = q
	return s.answer, nil
}

func (s *stubAsker) GetSpace(context.Context) (*genie.Space, error) {
	return &genie.Space{SpaceID: "space-1", Title: "Sales"}, nil
}

func TestGenieQueryTool_Execute(t *testing.T) {
	stub := &stubAsker{answer: &genie.Answer{
		Handle: genie.Handle{ConversationID: "conv-1", MessageID: "msg-1"},
		SQL:    "SELECT region, count(*) FROM orders GROUP BY region",
		Text:   "Orders per region",
		Result: &genie.QueryResult{
			Columns:  []genie.Column{{Name: "region"}, {Name: "n"}},
			Rows:     [][]any{{"EMEA", int64(3)}},
			RowCount: 1,
		},
	}}
	tool := tools.GenieQueryTool(service.NewGenieService(stub, service.Guards{}), "key")
	assert.Equal(t, "databricks_genie_query", tool.Name)

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"natural_language_query":   "orders per region",
		"conversation_id":          "conv-1",
		"fetch_query_results":      true,
		"polling_interval_seconds": float64(2),
		"polling_timeout_seconds":  "30",
	})
	require.NoError(t, err)

	assert.Equal(t, genie.AskOptions{
		ConversationID: "conv-1",
		FetchResults:   true,
		PollInterval:   2 * time.Second,
		Timeout:        30 * time.Second,
	}, stub.got)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "conv-1", got["conversation_id"])
	assert.Equal(t, "Orders per region", got["response"])
	results, ok := got["results"].(map[string]any)
	require.True(t, ok, "results should be an object: %v", got["results"])
	assert.Equal(t, []any{"region", "n"}, results["columns"])
	assert.Equal(t, float64(1), results["row_count"])
}

func TestGenieQueryTool_NoSQL(t *testing.T) {
	stub := &stubAsker{answer: &genie.Answer{Text: "I can only answer questions about sales."}}
	tool := tools.GenieQueryTool(service.NewGenieService(stub, service.Guards{}), "")

	out, err := tool.Execute(context.Background(), map[string]interface{}{"natural_language_query": "hi"})
	require.NoError(t, err)
	assert.Contains(t, out, "no SQL query was generated")
	assert.Contains(t, out, `"sql":"Not available"`)
}

func TestGenieQueryTool_Errors(t *testing.T) {
	tool := tools.GenieQueryTool(service.NewGenieService(&stubAsker{}, service.Guards{}), "")
	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	assert.Error(t, err)

	stub := &stubAsker{err: &genie.Error{Kind: genie.KindAuth, StatusCode: 403}}
	tool = tools.GenieQueryTool(service.NewGenieService(stub, service.Guards{}), "")
	_, err = tool.Execute(context.Background(), map[string]interface{}{"natural_language_query": "show sales"})
	assert.ErrorIs(t, err, genie.ErrAuth)
}

func TestForAnalyst(t *testing.T) {
	set := tools.ForAnalyst(service.NewGenieService(&stubAsker{}, service.Guards{}), "")
	require.Len(t, set, 2)

	out, err := set[1].Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Sales")
}
