package council

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SessionPending       = "pending"
	SessionStage1Running = "stage1_running"
	SessionStage2Running = "stage2_running"
	SessionStage3Running = "stage3_running"
	SessionCompleted     = "completed"
	SessionFailed        = "failed"
	SessionCanceled      = "canceled"
)

const (
	StageDeliberation = 1
	StageReview       = 2
	StageSynthesis    = 3
)

func SessionTerminal(status string) bool {
	switch status {
	case SessionCompleted, SessionFailed, SessionCanceled:
		return true
	default:
		return false
	}
}

// StageForStatus maps a running status to its stage number, 0 otherwise.
func StageForStatus(status string) int {
	switch status {
	case SessionStage1Running:
		return StageDeliberation
	case SessionStage2Running:
		return StageReview
	case SessionStage3Running:
		return StageSynthesis
	default:
		return 0
	}
}

// DeliberationSession is one user question moving through the three-stage
// pipeline. Only the orchestrator mutates it after admission; the cancel
// endpoint flips CancelRequested and nothing else.
type DeliberationSession struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Question        string         `gorm:"column:question;not null" json:"question"`
	Preset          string         `gorm:"column:preset;not null" json:"preset"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	AnonymizeReview bool           `gorm:"column:anonymize_review;not null;default:true" json:"anonymize_review"`
	CancelRequested bool           `gorm:"column:cancel_requested;not null;default:false" json:"cancel_requested"`
	StageConfigs    datatypes.JSON `gorm:"column:stage_configs;type:jsonb" json:"stage_configs"`
	FailureStage    int            `gorm:"column:failure_stage;not null;default:0" json:"failure_stage,omitempty"`
	FailureReason   string         `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	FinalAnswer     string         `gorm:"column:final_answer" json:"final_answer,omitempty"`
	FinalOrder      datatypes.JSON `gorm:"column:final_order;type:jsonb" json:"final_order,omitempty"`
	TotalCostCents  int64          `gorm:"column:total_cost_cents;not null;default:0" json:"total_cost_cents"`
	PeriodStart     time.Time      `gorm:"column:period_start;not null" json:"period_start"`
	ClaimedBy       string         `gorm:"column:claimed_by" json:"claimed_by,omitempty"`
	HeartbeatAt     *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (DeliberationSession) TableName() string { return "deliberation_session" }
