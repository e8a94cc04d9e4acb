package models

import (
	"time"

	"github.com/mamadbah2/poultrydesk/internal/domain/feed"
)

// CycleRecord is either an ActiveCycle or an ArchivedCycle. Callers switch on
// the concrete type or use Project for the shared read model.
type CycleRecord interface {
	Project() CycleView
	isCycleRecord()
}

// ActiveCycle is a running cycle together with its stock pool, if any.
type ActiveCycle struct {
	Cycle  Cycle
	Farmer *Farmer
}

// ArchivedCycle is a cycle that has been ended.
type ArchivedCycle struct {
	Cycle Cycle
}

// CycleView is the read model shared by live and archived cycles.
type CycleView struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	FarmerID     *string     `json:"farmerId,omitempty"`
	FarmerName   string      `json:"farmerName,omitempty"`
	Status       CycleStatus `json:"status"`
	DOC          int         `json:"doc"`
	Mortality    int         `json:"mortality"`
	LiveBirds    int         `json:"liveBirds"`
	Age          int         `json:"age"`
	InputFeed    float64     `json:"inputFeed"`
	Intake       float64     `json:"intake"`
	Remaining    float64     `json:"remaining"`
	FeedPerBird  float64     `json:"feedPerBirdKg"`
	StartDate    time.Time   `json:"startDate"`
	EndDate      *time.Time  `json:"endDate,omitempty"`
	PoolBalance  *float64    `json:"poolBalance,omitempty"`
	PoolOverdraw bool        `json:"poolOverdrawn,omitempty"`
}

func (ActiveCycle) isCycleRecord()   {}
func (ArchivedCycle) isCycleRecord() {}

// Project maps the live cycle to the read model. A pooled cycle reports the
// pool balance as its remaining feed.
func (a ActiveCycle) Project() CycleView {
	view := baseView(a.Cycle)
	if a.Farmer != nil {
		balance := a.Farmer.MainStockRemaining
		view.FarmerName = a.Farmer.Name
		view.PoolBalance = &balance
		view.PoolOverdraw = a.Farmer.Overdrawn()
		view.Remaining = balance
	}
	return view
}

// Project maps the archived cycle to the read model using its final figures.
func (a ArchivedCycle) Project() CycleView {
	return baseView(a.Cycle)
}

func baseView(c Cycle) CycleView {
	view := CycleView{
		ID:        c.ID,
		Name:      c.Name,
		FarmerID:  c.FarmerID,
		Status:    c.Status,
		DOC:       c.DOC,
		Mortality: c.Mortality,
		LiveBirds: c.LiveBirds(),
		Age:       c.Age,
		InputFeed: c.InputFeed,
		Intake:    c.Intake,
		StartDate: c.StartDate,
		EndDate:   c.EndDate,
	}
	if !c.HasPool() {
		view.Remaining = c.InputFeed - c.Intake
	}
	if view.LiveBirds > 0 {
		view.FeedPerBird = c.Intake * feed.GramsPerBag / 1000 / float64(view.LiveBirds)
	}
	return view
}

// NewCycleRecord wraps c in the variant matching its status.
func NewCycleRecord(c Cycle, farmer *Farmer) CycleRecord {
	if c.Status == CycleArchived {
		return ArchivedCycle{Cycle: c}
	}
	return ActiveCycle{Cycle: c, Farmer: farmer}
}
