package models

import "time"

// Class is the tenant boundary. Every curriculum row, submission, and
// enrollment belongs to exactly one class.
type Class struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Slug      string    `gorm:"size:128;uniqueIndex;not null" json:"slug"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	// EnrollmentRoleStudent can submit attempts and read their own grades.
	EnrollmentRoleStudent = "student"
	// EnrollmentRoleGrader can grade submissions within the class.
	EnrollmentRoleGrader = "grader"
)

// Enrollment binds a platform user to a class with a role.
type Enrollment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ClassID   uint      `gorm:"not null;uniqueIndex:idx_enrollment_member" json:"class_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_enrollment_member" json:"user_id"`
	Role      string    `gorm:"size:32;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanGrade reports whether the enrollment carries grading authority.
func (e Enrollment) CanGrade() bool {
	return e.Role == EnrollmentRoleGrader
}
