package dto

import "time"

// ItemGrade is the effective grade for one (student, item) pair.
type ItemGrade struct {
	ItemID              uint       `json:"item_id"`
	ItemKey             string     `json:"item_key"`
	Title               string     `json:"title"`
	ConstituentSlug     string     `json:"constituent_slug"`
	Points              float64    `json:"points"`
	Score               *float64   `json:"score"`
	NormalizedScore     *float64   `json:"normalized_score"`
	Feedback            string     `json:"feedback,omitempty"`
	GraderID            *uint      `json:"grader_id,omitempty"`
	GradedAt            *time.Time `json:"graded_at,omitempty"`
	GradedAttemptNumber *int       `json:"graded_attempt_number,omitempty"`
	LatestAttemptNumber int        `json:"latest_attempt_number"`
	HasNewerVersion     bool       `json:"has_newer_version"`
}

// ConstituentGrade is a raw point total over a constituent's current items.
// No curving applies at this level.
type ConstituentGrade struct {
	Slug         string     `json:"slug"`
	Name         string     `json:"name"`
	ModuleKey    string     `json:"module_key"`
	EarnedPoints float64    `json:"earned_points"`
	MaxPoints    float64    `json:"max_points"`
	ItemCount    int        `json:"item_count"`
	GradedCount  int        `json:"graded_count"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
}

// ModuleGrade is the curved, weighted result for one module.
type ModuleGrade struct {
	ModuleKey    string     `json:"module_key"`
	Name         string     `json:"name"`
	Weight       float64    `json:"weight"`
	FinalScore   float64    `json:"final_score"`
	EarnedWeight float64    `json:"earned_weight"`
	PolicyName   string     `json:"policy_name"`
	ItemCount    int        `json:"item_count"`
	GradedCount  int        `json:"graded_count"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
}

// GradeSummary carries per-request summary statistics; these are derived,
// never stored.
type GradeSummary struct {
	Level       string     `json:"level"`
	TotalCount  int        `json:"total_count"`
	Average     float64    `json:"average"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}
