package models

import (
	"time"
)

type Role string

const (
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

func (r Role) String() string {
	return string(r)
}

func IsValidRole(role string) bool {
	switch Role(role) {
	case RoleInstructor, RoleStudent:
		return true
	default:
		return false
	}
}

// Course создаётся лениво при первом действии преподавателя и никогда
// не удаляется, только деактивируется.
type Course struct {
	ID        string    `json:"id" db:"id"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Subscription — привязка роли пользователя к курсу. У пользователя не
// бывает двух ролей в одном курсе; отписка деактивирует запись.
type Subscription struct {
	CourseID  string    `json:"course_id" db:"course_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Role      Role      `json:"role" db:"role"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
