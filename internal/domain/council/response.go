package council

import (
	"time"

	"github.com/google/uuid"
)

const (
	OutcomeOK             = "ok"
	OutcomeTimeout        = "timeout"
	OutcomeError          = "error"
	OutcomeChainExhausted = "skipped_fallback_exhausted"
)

// ModelResponse is one backend call attempt, failed fallback attempts
// included. Rows are append-only; nothing updates them after the executor
// writes them.
type ModelResponse struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID    uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	Stage        int       `gorm:"column:stage;not null;index" json:"stage"`
	SeatIndex    int       `gorm:"column:seat_index;not null" json:"seat_index"`
	ModelID      string    `gorm:"column:model_id;not null" json:"model_id"`
	RolePriority int       `gorm:"column:role_priority;not null" json:"role_priority"`
	Content      string    `gorm:"column:content" json:"content,omitempty"`
	TokensIn     int       `gorm:"column:tokens_in;not null;default:0" json:"tokens_in"`
	TokensOut    int       `gorm:"column:tokens_out;not null;default:0" json:"tokens_out"`
	CostCents    int64     `gorm:"column:cost_cents;not null;default:0" json:"cost_cents"`
	LatencyMS    int64     `gorm:"column:latency_ms;not null;default:0" json:"latency_ms"`
	Outcome      string    `gorm:"column:outcome;not null;index" json:"outcome"`
	CreatedAt    time.Time `gorm:"not null;index" json:"created_at"`
}

func (ModelResponse) TableName() string { return "model_response" }
