package models

import "time"

// Farmer is an operator's feed inventory shared by the cycles linked to it.
type Farmer struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	UserID             string    `gorm:"index;uniqueIndex:idx_farmer_user_name,priority:1;not null" json:"userId"`
	Name               string    `gorm:"uniqueIndex:idx_farmer_user_name,priority:2;not null" json:"name"`
	MainStockInput     float64   `gorm:"not null;default:0" json:"mainStockInput"`
	MainStockRemaining float64   `gorm:"not null;default:0" json:"mainStockRemaining"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Overdrawn reports whether accrued consumption has outrun the stock added.
func (f Farmer) Overdrawn() bool {
	return f.MainStockRemaining < 0
}
