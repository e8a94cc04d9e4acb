package models

import (
	"time"

	"github.com/mamadbah2/poultrydesk/internal/domain/feed"
)

// CycleStatus is the lifecycle state of a growing run.
type CycleStatus string

const (
	CycleActive   CycleStatus = "active"
	CycleArchived CycleStatus = "archived"
)

// Cycle is one growing run from day-old chicks to harvest.
//
// Age and Intake are owned by the accrual engine: Age is the last cycle day
// accrued and Intake the cumulative feed in bags for that day.
type Cycle struct {
	ID        string      `gorm:"primaryKey;size:36" json:"id"`
	UserID    string      `gorm:"index;not null" json:"userId"`
	FarmerID  *string     `gorm:"index;size:36" json:"farmerId,omitempty"`
	Name      string      `gorm:"index;not null" json:"name"`
	DOC       int         `gorm:"column:doc;not null" json:"doc"`
	Mortality int         `gorm:"not null;default:0" json:"mortality"`
	Age       int         `gorm:"not null;default:0" json:"age"`
	Intake    float64     `gorm:"not null;default:0" json:"intake"`
	InputFeed float64     `gorm:"not null;default:0" json:"inputFeed"`
	Status    CycleStatus `gorm:"index;size:16;not null;default:active" json:"status"`
	StartDate time.Time   `gorm:"not null" json:"startDate"`
	EndDate   *time.Time  `json:"endDate,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// LiveBirds is the current flock size.
func (c Cycle) LiveBirds() int {
	return feed.LiveBirds(c.DOC, c.Mortality)
}

// HasPool reports whether the cycle draws from a farmer's main stock.
func (c Cycle) HasPool() bool {
	return c.FarmerID != nil && *c.FarmerID != ""
}
