package models

import "time"

// Module is the top-level weighted unit of the curriculum hierarchy.
// Rows are authored externally and reconciled by the synchronizer; the
// IsCurrent flag marks membership in the live generation. Rows are never
// hard-deleted so submissions keep valid references across syncs.
type Module struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ClassID     uint      `gorm:"not null;uniqueIndex:idx_module_key" json:"class_id"`
	Key         string    `gorm:"size:128;not null;uniqueIndex:idx_module_key" json:"key"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Weight      float64   `gorm:"not null" json:"weight"`
	OrderIndex  int       `gorm:"not null" json:"order_index"`
	Color       string    `gorm:"size:32" json:"color"`
	Icon        string    `gorm:"size:32" json:"icon"`
	IsCurrent   bool      `gorm:"not null;index" json:"is_current"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Constituent groups items inside a module (homework, exams, projects).
type Constituent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ClassID     uint      `gorm:"not null;uniqueIndex:idx_constituent_slug" json:"class_id"`
	Slug        string    `gorm:"size:128;not null;uniqueIndex:idx_constituent_slug" json:"slug"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	ModuleKey   string    `gorm:"size:128;not null;index" json:"module_key"`
	Weight      float64   `gorm:"not null" json:"weight"`
	Type        string    `gorm:"size:64;not null" json:"type"`
	MaxAttempts int       `gorm:"not null;default:3" json:"max_attempts"`
	IsCurrent   bool      `gorm:"not null;index" json:"is_current"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Item is a single gradable unit beneath a constituent.
type Item struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ClassID         uint      `gorm:"not null;uniqueIndex:idx_item_key" json:"class_id"`
	Key             string    `gorm:"size:128;not null;uniqueIndex:idx_item_key" json:"key"`
	ConstituentSlug string    `gorm:"size:128;not null;index" json:"constituent_slug"`
	Title           string    `gorm:"size:255;not null" json:"title"`
	Points          float64   `gorm:"not null" json:"points"`
	DeliveryType    string    `gorm:"size:64;not null" json:"delivery_type"`
	DueDate         time.Time `gorm:"not null" json:"due_date"`
	IsActive        bool      `gorm:"not null;default:true" json:"is_active"`
	IsCurrent       bool      `gorm:"not null;index" json:"is_current"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Gradable reports whether the item may accept submissions.
func (i Item) Gradable() bool {
	return i.IsCurrent && i.IsActive
}
