package domain

import "time"

// Counts aggregates per-item fetch outcomes.
type Counts struct {
	Total   int `json:"total_count"`
	Success int `json:"success_count"`
	Failed  int `json:"failed_count"`
	Skipped int `json:"skipped_count"`
}

// Add sums two count sets.
func (c Counts) Add(other Counts) Counts {
	return Counts{
		Total:   c.Total + other.Total,
		Success: c.Success + other.Success,
		Failed:  c.Failed + other.Failed,
		Skipped: c.Skipped + other.Skipped,
	}
}

// RunMode selects which tiers a cycle crawls.
type RunMode string

const (
	ModeHot       RunMode = "hot"
	ModeCold      RunMode = "cold"
	ModeAll       RunMode = "all"
	ModeScheduled RunMode = "scheduled"
)

// TierStatus is the final state of one tier task.
type TierStatus string

const (
	TierStatusSuccess TierStatus = "success"
	TierStatusSkipped TierStatus = "skipped"
	TierStatusFailed  TierStatus = "failed"
)

// ExportStep records the exporter outcome of a tier task.
type ExportStep struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	File    string `json:"file,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FetchStep records the fetcher outcome of a tier task.
type FetchStep struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Counts  Counts `json:"counts"`
	Error   string `json:"error,omitempty"`
}

// ImportStep records the unified import of a cycle.
type ImportStep struct {
	Attempted bool   `json:"attempted"`
	Success   bool   `json:"success"`
	Skipped   bool   `json:"skipped,omitempty"`
	Applied   int    `json:"applied"`
	Error     string `json:"error,omitempty"`
}

// TierOutcome is the typed result of one tier's export+fetch task.
type TierOutcome struct {
	Tier       Tier          `json:"tier"`
	Status     TierStatus    `json:"status"`
	Export     *ExportStep   `json:"export,omitempty"`
	Fetch      *FetchStep    `json:"fetch,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"start_time"`
	FinishedAt time.Time     `json:"end_time"`
	ResultPath string        `json:"-"`
	Duration   time.Duration `json:"-"`
}

// RunReport summarises one scheduler cycle.
type RunReport struct {
	Mode         RunMode       `json:"mode"`
	RunKey       string        `json:"run_key"`
	StartedAt    time.Time     `json:"scheduled_time"`
	FinishedAt   time.Time     `json:"end_time"`
	CurrentHour  int           `json:"current_hour"`
	ColdSelected bool          `json:"cold_selected"`
	NextColdHour int           `json:"next_cold_hour"`
	Tiers        []TierOutcome `json:"tiers"`
	Merged       *Counts       `json:"merged,omitempty"`
	Import       ImportStep    `json:"import"`
	Success      bool          `json:"success"`
}

// Outcome returns the report entry of a tier, if it ran.
func (r RunReport) Outcome(tier Tier) (TierOutcome, bool) {
	for _, o := range r.Tiers {
		if o.Tier == tier {
			return o, true
		}
	}
	return TierOutcome{}, false
}

// AnyFetchSucceeded reports whether at least one tier reached fetch status success.
func (r RunReport) AnyFetchSucceeded() bool {
	for _, o := range r.Tiers {
		if o.Status == TierStatusSuccess {
			return true
		}
	}
	return false
}
