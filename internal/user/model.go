package user

import (
	"time"

	"github.com/notepid/portal_inbox/internal/message"
)

// User represents a portal account.
type User struct {
	ID           int64
	Email        string
	Username     string
	Name         string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

// Roles known to the portal.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// Participant returns the public view of u used in message payloads.
func (u *User) Participant() message.Participant {
	name := u.Name
	if name == "" {
		name = u.Username
	}
	return message.Participant{ID: u.ID, Name: name, Email: u.Email, Role: u.Role}
}

// Seed describes an account created on first start when missing.
type Seed struct {
	Email    string
	Username string
	Name     string
	Role     string
	Password string
}
