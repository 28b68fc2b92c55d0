package dto

import "time"

// SyncTypeReport summarizes the apply phase for one curriculum entity type.
type SyncTypeReport struct {
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Unchanged   int    `json:"unchanged"`
	Deactivated int    `json:"deactivated"`
	Error       string `json:"error,omitempty"`
}

// Failed reports whether the apply phase for this type did not commit.
func (r SyncTypeReport) Failed() bool {
	return r.Error != ""
}

// SyncReport is the outcome of one snapshot reconciliation run. Entity types
// commit independently, so a failed type leaves the other reports valid;
// re-running the same snapshot is the recovery path.
type SyncReport struct {
	RunID        string         `json:"run_id"`
	Class        string         `json:"class"`
	Force        bool           `json:"force"`
	Success      bool           `json:"success"`
	Modules      SyncTypeReport `json:"modules"`
	Constituents SyncTypeReport `json:"constituents"`
	Items        SyncTypeReport `json:"items"`
	Policies     SyncTypeReport `json:"policies"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// FailedTypes lists the entity types whose apply phase failed.
func (r SyncReport) FailedTypes() []string {
	failed := make([]string, 0, 4)
	if r.Modules.Failed() {
		failed = append(failed, "modules")
	}
	if r.Constituents.Failed() {
		failed = append(failed, "constituents")
	}
	if r.Items.Failed() {
		failed = append(failed, "items")
	}
	if r.Policies.Failed() {
		failed = append(failed, "policies")
	}
	return failed
}
