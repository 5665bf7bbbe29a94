package models

import (
	"time"
)

type User struct {
	ID             int64
	Username       string
	Email          string // empty once the account is deactivated
	HashedPassword []byte
	IsActive       bool
	ActivateAt     *time.Time
	DeactivatedAt  *time.Time
}

// UserLookup selects a user by any combination of fields. Zero fields are ignored.
type UserLookup struct {
	ID       int64
	Email    string
	Username string
}

func (l UserLookup) IsEmpty() bool {
	return l.ID == 0 && l.Email == "" && l.Username == ""
}
