package main

import (
	"fmt"
	"io"

	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/search"
)

// printMonitor traces a retrieval to w.
type printMonitor struct {
	w io.Writer
}

var _ search.Monitor = (*printMonitor)(nil)

// orNil keeps a nil *printMonitor from becoming a non-nil interface.
func (m *printMonitor) orNil() search.Monitor {
	if m == nil {
		return nil
	}
	return m
}

func (m *printMonitor) Start(podID, question string) {
	fmt.Fprintf(m.w, "searching pod %s for %q\n", podID, question)
}

func (m *printMonitor) AfterEmbedding(dimensions int) {
	fmt.Fprintf(m.w, "  embedded question (%d dimensions)\n", dimensions)
}

func (m *printMonitor) AfterSimilaritySearch(hits []*core.SimilarChunk) {
	fmt.Fprintf(m.w, "  %d similar chunks\n", len(hits))
}

func (m *printMonitor) KeywordHit(chunk *core.VectorChunk) {
	fmt.Fprintf(m.w, "  keyword match: %s\n", chunk.ID)
}

func (m *printMonitor) Fallback(reason error) {
	fmt.Fprintf(m.w, "  falling back to pod index: %v\n", reason)
}

func (m *printMonitor) Finish(r *search.Retrieval) {
	fmt.Fprintf(m.w, "  done: %d sources\n", len(r.UsedIDs))
}
