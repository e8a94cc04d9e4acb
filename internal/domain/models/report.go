package models

import "time"

// SyncScope selects which active cycles a sync run covers. An empty UserID
// means every tenant.
type SyncScope struct {
	UserID string
}

// Global reports whether the scope spans all tenants.
func (s SyncScope) Global() bool {
	return s.UserID == ""
}

// Mode renders the scope the way the sync endpoint reports it.
func (s SyncScope) Mode() string {
	if s.Global() {
		return "Global Server Update"
	}
	return "User Sync (" + s.UserID + ")"
}

// SyncReport is the archived summary of one sync run.
type SyncReport struct {
	RunAt        time.Time         `bson:"run_at" json:"runAt"`
	Mode         string            `bson:"mode" json:"mode"`
	UserID       string            `bson:"user_id,omitempty" json:"userId,omitempty"`
	Scanned      int               `bson:"scanned" json:"scanned"`
	UpdatedCount int               `bson:"updated_count" json:"updatedCount"`
	FailedCount  int               `bson:"failed_count" json:"failedCount"`
	BagsAccrued  float64           `bson:"bags_accrued" json:"bagsAccrued"`
	Updates      []SyncReportEntry `bson:"updates" json:"updates"`
	DurationMS   int64             `bson:"duration_ms" json:"durationMs"`
	CreatedAt    time.Time         `bson:"created_at" json:"createdAt"`
}

// SyncReportEntry is one cycle's line in a SyncReport.
type SyncReportEntry struct {
	CycleID   string  `bson:"cycle_id" json:"cycleId"`
	Name      string  `bson:"name" json:"name"`
	Age       int     `bson:"age" json:"age"`
	AddedBags float64 `bson:"added_bags" json:"addedBags"`
	Error     string  `bson:"error,omitempty" json:"error,omitempty"`
}
