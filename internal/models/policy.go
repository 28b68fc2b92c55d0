package models

import (
	"time"

	"gorm.io/datatypes"
)

// GradingPolicy is a versioned, scoped curving rule set. An empty ModuleKey
// makes the policy universal for the class; a module-scoped policy outranks
// a universal one during lookup. The empty-string scope (rather than NULL)
// keeps the (class_id, module_key, version) upsert key unique across
// universal policies.
type GradingPolicy struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	ClassID    uint           `gorm:"not null;uniqueIndex:idx_policy_version" json:"class_id"`
	ModuleKey  string         `gorm:"size:128;not null;default:'';uniqueIndex:idx_policy_version" json:"module_key"`
	PolicyName string         `gorm:"size:255;not null" json:"policy_name"`
	Version    string         `gorm:"size:64;not null;uniqueIndex:idx_policy_version" json:"version"`
	Rules      datatypes.JSON `gorm:"type:jsonb" json:"rules"`
	IsActive   bool           `gorm:"not null;default:true" json:"is_active"`
	IsCurrent  bool           `gorm:"not null;index" json:"is_current"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// IsUniversal reports whether the policy applies class-wide.
func (p GradingPolicy) IsUniversal() bool {
	return p.ModuleKey == ""
}
