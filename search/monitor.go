package search

import "github.com/noctiluca/reverie/core"

// RetrievalMonitor provides hooks to observe the retrieval process.
// Implement this interface to track intermediate steps during scoring.
type RetrievalMonitor interface {
	Start(query *Query)
	AfterCandidateGeneration(ids []uint64)
	ComponentScores(fragmentID uint64, semantic, sparse, lexical float32)
	BoostApplied(fragmentID uint64, bonus float32)
	Finish(results []*core.RankedFragment)
}

// noopMonitor is a no-op implementation of RetrievalMonitor
type noopMonitor struct{}

var _ RetrievalMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ *Query)                            {}
func (n *noopMonitor) AfterCandidateGeneration(_ []uint64)       {}
func (n *noopMonitor) ComponentScores(_ uint64, _, _, _ float32) {}
func (n *noopMonitor) BoostApplied(_ uint64, _ float32)          {}
func (n *noopMonitor) Finish(_ []*core.RankedFragment)           {}
