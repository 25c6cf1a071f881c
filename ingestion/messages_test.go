package ingestion

import (
	"testing"

	"github.com/poiesic/podhub/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStartMessage_RoundTrip(t *testing.T) {
	payload, err := JobStartMessage{JobID: "j", PodID: "p", TraceID: "t"}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobId":"j","podId":"p","traceId":"t"}`, string(payload))

	m, err := ParseJobStartMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, "j", m.JobID)
	assert.Equal(t, "p", m.PodID)
	assert.Equal(t, "t", m.TraceID)
}

func TestItemMessage_WireFormat(t *testing.T) {
	payload, err := ItemMessage{PodID: "p", DataItemID: "i", Content: "hello", ModelVersion: "v1"}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"podId":"p","dataItemId":"i","content":"hello","modelVersion":"v1"}`, string(payload))
}

func TestParseMessages_Malformed(t *testing.T) {
	jobCases := map[string]string{
		"not json":       `{{{`,
		"missing job id": `{"podId":"p"}`,
		"missing pod id": `{"jobId":"j"}`,
		"wrong type":     `{"jobId":1,"podId":"p"}`,
	}
	for name, payload := range jobCases {
		t.Run("job "+name, func(t *testing.T) {
			_, err := ParseJobStartMessage([]byte(payload))
			assert.ErrorIs(t, err, core.ErrMalformedMessage)
		})
	}

	itemCases := map[string]string{
		"not json":        `nope`,
		"missing item id": `{"podId":"p","content":"x"}`,
		"empty content":   `{"podId":"p","dataItemId":"i","content":""}`,
	}
	for name, payload := range itemCases {
		t.Run("item "+name, func(t *testing.T) {
			_, err := ParseItemMessage([]byte(payload))
			assert.ErrorIs(t, err, core.ErrMalformedMessage)
		})
	}
}
