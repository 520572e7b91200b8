package search

import "github.com/poiesic/chunkstream/core"

// SearchMonitor observes the stages of a search. Calls for different jobs
// may arrive from different goroutines.
type SearchMonitor interface {
	Start(query string, jobIDs []string)
	AfterJobSearch(jobID string, hits int)
	VerbatimHit(result *core.SearchResult)
	Finish(results []*core.SearchResult)
}

type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ []string)       {}
func (n *noopMonitor) AfterJobSearch(_ string, _ int)   {}
func (n *noopMonitor) VerbatimHit(_ *core.SearchResult) {}
func (n *noopMonitor) Finish(_ []*core.SearchResult)    {}
