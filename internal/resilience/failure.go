package resilience

import (
	"math"
	"time"
)

// FailureEntry is a company whose discovery run failed and may be retried.
type FailureEntry struct {
	ID           string    `json:"id"`
	CompanyID    string    `json:"company_id"`
	WorkspaceID  string    `json:"workspace_id,omitempty"`
	Employees    *int      `json:"employees,omitempty"`
	FlaggedLarge bool      `json:"flagged_large,omitempty"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// FailureFilter selects ledger entries.
type FailureFilter struct {
	ErrorType string    `json:"error_type,omitempty"`
	DueBefore time.Time `json:"due_before,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// CanRetry reports whether the entry is transient and under its retry cap.
func (e *FailureEntry) CanRetry() bool {
	return e.ErrorType == ClassTransient && e.RetryCount < e.MaxRetries
}

// NextAttempt doubles base for every retry already spent, capped at a day.
func NextAttempt(now time.Time, base time.Duration, retryCount int) time.Time {
	d := float64(base) * math.Pow(2, float64(retryCount))
	d = math.Min(d, float64(24*time.Hour))
	return now.Add(time.Duration(d))
}
