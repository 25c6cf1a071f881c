package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/poiesic/podhub/core"
)

// JobStartMessage asks the fan-out processor to index a pod.
type JobStartMessage struct {
	JobID   string `json:"jobId"`
	PodID   string `json:"podId"`
	TraceID string `json:"traceId"`
}

// ItemMessage asks the item processor to embed one data item.
type ItemMessage struct {
	PodID        string `json:"podId"`
	DataItemID   string `json:"dataItemId"`
	Content      string `json:"content"`
	ModelVersion string `json:"modelVersion"`
}

// Encode returns the JSON form of m.
func (m JobStartMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Encode returns the JSON form of m.
func (m ItemMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// ParseJobStartMessage decodes a job-start payload. Invalid JSON and missing
// identifiers are reported as core.ErrMalformedMessage.
func ParseJobStartMessage(data []byte) (*JobStartMessage, error) {
	var m JobStartMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedMessage, err)
	}
	if m.JobID == "" || m.PodID == "" {
		return nil, fmt.Errorf("%w: jobId and podId are required", core.ErrMalformedMessage)
	}
	return &m, nil
}

// ParseItemMessage decodes an item payload. Empty content is malformed: there
// is nothing to embed.
func ParseItemMessage(data []byte) (*ItemMessage, error) {
	var m ItemMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedMessage, err)
	}
	switch {
	case m.PodID == "" || m.DataItemID == "":
		return nil, fmt.Errorf("%w: podId and dataItemId are required", core.ErrMalformedMessage)
	case m.Content == "":
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedMessage, core.ErrEmptyContent)
	}
	return &m, nil
}
