package models

import "time"

// ExitReason describes why a run stopped.
type ExitReason string

const (
	ExitCompleted   ExitReason = "completed"
	ExitInterrupted ExitReason = "interrupted"
	ExitTerminated  ExitReason = "terminated"
	ExitFatal       ExitReason = "fatal_error"
)

// ExitCode maps a reason to the process status code.
func (r ExitReason) ExitCode() int {
	switch r {
	case ExitCompleted:
		return 0
	case ExitInterrupted:
		return 130
	case ExitTerminated:
		return 143
	default:
		return 1
	}
}

// FailureRecord describes one category that could not be fetched.
type FailureRecord struct {
	SubtreeFile  string    `json:"subtreeFile"`
	SubtreeID    string    `json:"subtreeId"`
	SubtreeName  string    `json:"subtreeName"`
	CategoryID   string    `json:"categoryId"`
	CategoryName string    `json:"categoryName"`
	CategoryPath string    `json:"categoryPath"`
	Status       int       `json:"status"`
	URL          string    `json:"url,omitempty"`
	Body         string    `json:"body,omitempty"`
	Error        string    `json:"error"`
	Timestamp    time.Time `json:"timestamp"`
}

// TierRows counts rows written per output tier.
type TierRows struct {
	Category int64 `json:"category"`
	Subtree  int64 `json:"subtree"`
	Master   int64 `json:"master"`
}

// RunState is the accounting record of one sweep. It is owned by a single
// controller and serialized once as the run log.
type RunState struct {
	RunID          string          `json:"runId"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        time.Time       `json:"endTime"`
	ElapsedSeconds float64         `json:"elapsedSeconds"`
	Elapsed        string          `json:"elapsed"`
	ExitReason     ExitReason      `json:"exitReason"`
	ExitCode       int             `json:"exitCode"`
	FatalError     string          `json:"fatalError,omitempty"`
	Settings       map[string]any  `json:"settings,omitempty"`
	Failures       []FailureRecord `json:"failures"`

	SubtreeFiles                 int      `json:"subtreeFiles"`
	SubtreeFilesSkipped          int      `json:"subtreeFilesSkipped"`
	CategoryRowsAttempted        int      `json:"categoryRowsAttempted"`
	CategoryRowsSucceeded        int      `json:"categoryRowsSucceeded"`
	CategoryRowsFailed           int      `json:"categoryRowsFailed"`
	CategoryRowsSkippedParent    int      `json:"categoryRowsSkippedParent"`
	CategoryRowsSkippedDuplicate int      `json:"categoryRowsSkippedDuplicate"`
	PagesFetched                 int64    `json:"pagesFetched"`
	RequestsIssued               int64    `json:"requestsIssued"`
	Retries                      int64    `json:"retries"`
	ItemsFetched                 int64    `json:"itemsFetched"`
	ItemsDropped                 int64    `json:"itemsDropped"`
	RowsWritten                  TierRows `json:"rowsWritten"`
}
