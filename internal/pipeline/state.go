package pipeline

import "github.com/JakeFAU/site-summarizer/internal/scrape"

// StageID names a node of the pipeline state machine.
type StageID string

// Pipeline stages. Done and Aborted are terminal.
const (
	StageInitialize   StageID = "initialize"
	StageDiscover     StageID = "discover"
	StageFetchBatch   StageID = "fetch_batch"
	StageSummarize    StageID = "summarize"
	StagePersist      StageID = "persist"
	StageErrorHandler StageID = "error_handler"
	StageDone         StageID = "done"
	StageAborted      StageID = "aborted"
)

// Terminal reports whether the machine stops at s.
func (s StageID) Terminal() bool {
	return s == StageDone || s == StageAborted
}

// State is the mutable record threaded through one pipeline run. It is owned
// by a single run and never shared.
type State struct {
	SeedURL      string
	URLBatches   [][]string
	FetchedPages []scrape.Page
	Summaries    []scrape.Summary
	Result       *scrape.Result

	LastError   string
	FailedStage StageID
	RetryCount  int

	lastErr error
}

// NewState returns the initial state for seedURL.
func NewState(seedURL string) *State {
	return &State{SeedURL: seedURL}
}

func (s *State) fail(stage StageID, err error) {
	s.lastErr = err
	s.LastError = err.Error()
	s.FailedStage = stage
}

func (s *State) clearFault() {
	s.lastErr = nil
	s.LastError = ""
	s.FailedStage = ""
	s.RetryCount = 0
}

func (s *State) hasBatches() bool {
	return len(s.URLBatches) > 0
}
