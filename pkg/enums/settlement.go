package enums

import "fmt"

// SettlementStage is the last completed step of a settlement job.
type SettlementStage int

const (
	StageCreated           SettlementStage = 0
	StageRetrieved         SettlementStage = 1
	StageReferenceAttached SettlementStage = 2
	StageCharged           SettlementStage = 3
)

var settlementStageNames = map[SettlementStage]string{
	StageCreated:           "created",
	StageRetrieved:         "retrieved",
	StageReferenceAttached: "reference_attached",
	StageCharged:           "charged",
}

// String implements fmt.Stringer.
func (s SettlementStage) String() string {
	if name, ok := settlementStageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// IsValid reports whether the stage is within 0..3.
func (s SettlementStage) IsValid() bool {
	_, ok := settlementStageNames[s]
	return ok
}

// IsTerminal reports whether no further work remains.
func (s SettlementStage) IsTerminal() bool {
	return s == StageCharged
}

// SettlementJobStatus tracks the queue state of a settlement_jobs row.
type SettlementJobStatus string

const (
	SettlementJobQueued     SettlementJobStatus = "queued"
	SettlementJobProcessing SettlementJobStatus = "processing"
	SettlementJobSuccess    SettlementJobStatus = "success"
	SettlementJobFailure    SettlementJobStatus = "failure"
)

var validSettlementJobStatuses = []SettlementJobStatus{
	SettlementJobQueued,
	SettlementJobProcessing,
	SettlementJobSuccess,
	SettlementJobFailure,
}

// IsValid reports whether the value is a known SettlementJobStatus.
func (s SettlementJobStatus) IsValid() bool {
	for _, candidate := range validSettlementJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSettlementJobStatus converts raw input into a SettlementJobStatus.
func ParseSettlementJobStatus(value string) (SettlementJobStatus, error) {
	for _, candidate := range validSettlementJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement job status %q", value)
}

// SettlementJobType identifies the handler responsible for a queued job.
type SettlementJobType string

const (
	JobTypeNetsEasySettlement SettlementJobType = "netseasy_payment_settlement"
)
