package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, line string) StreamEvent {
	t.Helper()
	event, ok, err := DecodeEvent([]byte(line))
	require.NoError(t, err)
	require.True(t, ok)
	return event
}

func TestAggregatorFoldsEventsInOrder(t *testing.T) {
	agg := &Aggregator{}
	for _, line := range []string{
		`{"type":"thread.started","thread_id":"th_9"}`,
		`{"type":"turn.started"}`,
		`{"type":"text.delta","text":"a"}`,
		`{"type":"item.started","item":{"id":"x","type":"reasoning"}}`,
		`{"type":"text.delta","text":"b"}`,
		`{"type":"item.completed","item":{"id":"x","type":"reasoning","text":"thinking"}}`,
		`{"type":"turn.completed","usage":{"input_tokens":3,"output_tokens":2}}`,
	} {
		agg.Add(mustDecode(t, line))
	}

	result := agg.Result()
	assert.Equal(t, "ab", result.Response)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "x", result.Items[0].ID)
	require.NotNil(t, result.Usage)
	assert.Equal(t, int64(5), result.Usage.Total())
	assert.Equal(t, "th_9", result.ThreadID)
	assert.Empty(t, agg.Failure())
}

func TestAggregatorFallsBackToAgentMessage(t *testing.T) {
	agg := &Aggregator{}
	agg.Add(mustDecode(t, `{"type":"item.completed","item":{"id":"m1","type":"agent_message","text":"draft"}}`))
	agg.Add(mustDecode(t, `{"type":"item.completed","item":{"id":"m2","type":"agent_message","text":"final answer"}}`))

	result := agg.Result()
	assert.Equal(t, "final answer", result.Response)
	assert.Len(t, result.Items, 2)
}

func TestAggregatorCollectsEvidence(t *testing.T) {
	agg := &Aggregator{}
	agg.Add(mustDecode(t, `{"type":"item.completed","item":{"id":"t1","type":"mcp_tool_call","tool":"create_evidence","status":"completed","result":{"structured_content":{"id":"ev-7"}}}}`))
	agg.Add(mustDecode(t, `{"type":"item.completed","item":{"id":"t2","type":"mcp_tool_call","tool":"get_control","status":"completed"}}`))

	assert.Equal(t, []string{"ev-7"}, agg.Result().EvidenceCreated)
}

func TestAggregatorRecordsFailure(t *testing.T) {
	agg := &Aggregator{}
	agg.Add(mustDecode(t, `{"type":"text.delta","text":"partial"}`))
	agg.Add(mustDecode(t, `{"type":"turn.failed","error":{"message":"context window exceeded"}}`))

	assert.Equal(t, "context window exceeded", agg.Failure())
	assert.Equal(t, "partial", agg.Result().Response)
	assert.Nil(t, agg.Result().Usage)
}

func TestAggregatorSnapshotsAreIndependent(t *testing.T) {
	agg := &Aggregator{}
	agg.Add(mustDecode(t, `{"type":"item.completed","item":{"id":"a","type":"reasoning"}}`))
	first := agg.Result()

	agg.Add(mustDecode(t, `{"type":"item.completed","item":{"id":"b","type":"reasoning"}}`))
	first.Items[0].ID = "mutated"

	second := agg.Result()
	require.Len(t, first.Items, 1)
	require.Len(t, second.Items, 2)
	assert.Equal(t, "a", second.Items[0].ID)
}
