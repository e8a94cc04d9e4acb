package models

import "time"

// LogType tags what an audit entry records.
type LogType string

const (
	LogFeed      LogType = "FEED"
	LogMortality LogType = "MORTALITY"
	LogNote      LogType = "NOTE"
	LogStockAdd  LogType = "STOCK_ADD"
)

// CycleLog is an append-only audit entry attached to either a cycle or a
// farmer's stock pool, never both.
type CycleLog struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	UserID        string    `gorm:"index;not null" json:"userId"`
	CycleID       *string   `gorm:"index;size:36" json:"cycleId,omitempty"`
	FarmerID      *string   `gorm:"index;size:36" json:"farmerId,omitempty"`
	Type          LogType   `gorm:"size:16;not null" json:"type"`
	ValueChange   float64   `gorm:"not null;default:0" json:"valueChange"`
	PreviousValue float64   `gorm:"not null;default:0" json:"previousValue"`
	NewValue      float64   `gorm:"not null;default:0" json:"newValue"`
	Note          string    `json:"note"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}
