package council

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RankingVerdict is one Stage-2 reviewer's opinion of the Stage-1 answers.
// Unparseable verdicts persist with ParseOK=false and an empty ranking so the
// quality event stays auditable; the aggregator ignores them entirely.
type RankingVerdict struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	ReviewerSeatIndex int            `gorm:"column:reviewer_seat_index;not null" json:"reviewer_seat_index"`
	ReviewerModelID   string         `gorm:"column:reviewer_model_id;not null" json:"reviewer_model_id"`
	RankedResponseIDs datatypes.JSON `gorm:"column:ranked_response_ids;type:jsonb" json:"ranked_response_ids"`
	RawScoreMap       datatypes.JSON `gorm:"column:raw_score_map;type:jsonb" json:"raw_score_map,omitempty"`
	ParseOK           bool           `gorm:"column:parse_ok;not null;default:false" json:"parse_ok"`
	CreatedAt         time.Time      `gorm:"not null" json:"created_at"`
}

func (RankingVerdict) TableName() string { return "ranking_verdict" }
