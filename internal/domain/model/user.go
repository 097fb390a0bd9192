package model

import (
	"time"
)

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"` // Not exposed
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NormalizeRole maps anything but an explicit teacher request to student.
func NormalizeRole(role string) string {
	if role == RoleTeacher {
		return RoleTeacher
	}
	return RoleStudent
}

// Identity is the authenticated caller carried by a bearer token.
type Identity struct {
	UserID int64  `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (i Identity) IsTeacher() bool {
	return i.Role == RoleTeacher
}

// CanView reports whether the caller may read data owned by ownerID.
func (i Identity) CanView(ownerID int64) bool {
	return i.IsTeacher() || i.UserID == ownerID
}
