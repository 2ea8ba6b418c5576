package domain

import "time"

type AccountStatus string

const (
	AccountSucceeded AccountStatus = "succeeded"
	// some records were skipped but the load went through
	AccountPartial AccountStatus = "partial"
	AccountEmpty   AccountStatus = "empty"
	AccountFailed  AccountStatus = "failed"
)

// AccountResult is the outcome of one ad account within a cycle.
type AccountResult struct {
	AccountID      string        `json:"account_id"`
	Status         AccountStatus `json:"status"`
	RecordsFetched int           `json:"records_fetched"`
	RowsLoaded     int           `json:"rows_loaded"`
	RecordsSkipped int           `json:"records_skipped"`
	Warnings       int           `json:"warnings"`
	Errors         []string      `json:"errors,omitempty"`
	Duration       time.Duration `json:"duration"`
}

type CycleStatus string

const (
	CycleSucceeded CycleStatus = "succeeded"
	CyclePartial   CycleStatus = "partial"
	CycleFailed    CycleStatus = "failed"
)

// CycleSummary is produced at the end of every cycle, successful or not.
type CycleSummary struct {
	CycleID       string          `json:"cycle_id"`
	Status        CycleStatus     `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	DatePreset    string          `json:"date_preset"`
	Accounts      []AccountResult `json:"accounts"`
	RowsProcessed int             `json:"rows_processed"`
	FollowerRows  int             `json:"follower_rows"`
	Errors        []string        `json:"errors,omitempty"`
}

// AddError records a failure in the per-cycle error list.
func (s *CycleSummary) AddError(err error) {
	s.Errors = append(s.Errors, err.Error())
}

// Finish derives the cycle status from the collected results.
func (s *CycleSummary) Finish(at time.Time) {
	s.FinishedAt = at

	failed := 0
	for _, account := range s.Accounts {
		if account.Status == AccountFailed {
			failed++
		}
	}

	switch {
	case len(s.Errors) == 0:
		s.Status = CycleSucceeded
	case failed == len(s.Accounts):
		s.Status = CycleFailed
	default:
		s.Status = CyclePartial
	}
}
