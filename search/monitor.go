package search

import "github.com/poiesic/podhub/core"

// Monitor provides hooks to observe a retrieval.
// Implement this interface to trace the intermediate steps of a search.
type Monitor interface {
	Start(podID, question string)
	AfterEmbedding(dimensions int)
	AfterSimilaritySearch(hits []*core.SimilarChunk)
	KeywordHit(chunk *core.VectorChunk)
	Fallback(reason error)
	Finish(retrieval *Retrieval)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_, _ string)                            {}
func (n *noopMonitor) AfterEmbedding(_ int)                         {}
func (n *noopMonitor) AfterSimilaritySearch(_ []*core.SimilarChunk) {}
func (n *noopMonitor) KeywordHit(_ *core.VectorChunk)               {}
func (n *noopMonitor) Fallback(_ error)                             {}
func (n *noopMonitor) Finish(_ *Retrieval)                          {}
