package domain

import "time"

// ProgressStatus labels a progress event
type ProgressStatus string

const (
	ProgressInit       ProgressStatus = "init"
	ProgressProfiles   ProgressStatus = "profiles"
	ProgressEvaluating ProgressStatus = "evaluating"
	ProgressRating     ProgressStatus = "rating"
	ProgressPersisting ProgressStatus = "persisting"
	ProgressNotifying  ProgressStatus = "notifying"
	ProgressComplete   ProgressStatus = "complete"
	ProgressError      ProgressStatus = "error"
)

// Progress milestones
const (
	ProgressPctInit          = 0
	ProgressPctProfilesStart = 10
	ProgressPctProfilesEnd   = 45
	ProgressPctEvaluating    = 50
	ProgressPctEvaluated     = 70
	ProgressPctRating        = 75
	ProgressPctRated         = 85
	ProgressPctPersisted     = 95
	ProgressPctDone          = 100
)

// ProgressEvent is one record of a battle's progress stream
type ProgressEvent struct {
	BattleID  string                 `json:"battle_id"`
	Status    ProgressStatus         `json:"status"`
	Progress  int                    `json:"progress"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Result    *BattleOutcome         `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Terminal reports whether the event ends the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Status == ProgressComplete || e.Status == ProgressError
}
