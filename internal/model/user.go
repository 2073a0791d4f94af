package model

import (
	"time"

	"github.com/google/uuid"
)

// Role distinguishes teacher and student accounts.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// User represents a teacher or student account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LoginRequest is the payload for email+password authentication.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}
