package types

import "time"

// ItemStatus is the result of processing one work item in a run.
type ItemStatus string

const (
	StatusFixed     ItemStatus = "fixed"
	StatusUnchanged ItemStatus = "unchanged"
	StatusPlanned   ItemStatus = "planned" // dry run with pending changes
	StatusResumed   ItemStatus = "resumed" // done in an earlier run
	StatusMalformed ItemStatus = "malformed"
	StatusFailed    ItemStatus = "failed"
)

// Done reports whether a later resumed run may skip the item.
func (s ItemStatus) Done() bool {
	return s == StatusFixed || s == StatusUnchanged
}

// ItemRecord is one journal line: what happened to a work item in a run.
type ItemRecord struct {
	RunKey     string     `json:"run_key"`
	WorkItemID int        `json:"work_item_id"`
	Status     ItemStatus `json:"status"`
	Added      int        `json:"added"`
	Removed    int        `json:"removed"`
	Unresolved int        `json:"unresolved"`
	Failures   int        `json:"failures"`
	Message    string     `json:"message,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// Run describes one migration run in the journal.
type Run struct {
	ID         int64      `json:"id"`
	RunKey     string     `json:"run_key"`
	Source     string     `json:"source"`
	Target     string     `json:"target"`
	DryRun     bool       `json:"dry_run"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Summary    string     `json:"summary,omitempty"`
}
