package models

import "time"

type UserRole string

const (
	RoleLearner    UserRole = "learner"
	RoleInstructor UserRole = "instructor"
	RoleAdmin      UserRole = "admin"
)

// User is a read model synced from the identity service. The assessment
// service never creates or mutates users.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;size:255"`
	Name      string    `json:"name" gorm:"size:200"`
	Email     string    `json:"email" gorm:"size:255;index"`
	Role      UserRole  `json:"role" gorm:"not null;index;size:20"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// IsElevated reports whether the role may see correct answers and other
// learners' attempts.
func (r UserRole) IsElevated() bool {
	return r == RoleInstructor || r == RoleAdmin
}
