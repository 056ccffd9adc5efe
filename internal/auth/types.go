package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is a storefront account as persisted by the directory.
type User struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func validStatus(status string) bool {
	return status == UserStatusActive || status == UserStatusDisabled
}

func (upd UserUpdate) validate() error {
	if upd.Status == nil && upd.PasswordHash == nil {
		return fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if upd.Status != nil && !validStatus(*upd.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *upd.Status)
	}
	if upd.PasswordHash != nil && *upd.PasswordHash == "" {
		return fmt.Errorf("%w: password hash is empty", ErrInvalidInput)
	}
	return nil
}

// Identity builds the authentication view of the user.
func (u *User) Identity(groups, permissions []string) Identity {
	return NewIdentity(u.ID, u.Email, u.OrganizationID, groups, permissions)
}

// UserUpdate carries the optional fields of an account change. Nil fields are left untouched.
type UserUpdate struct {
	Status       *string
	PasswordHash *string
}

// PermissionGroup bundles permissions under a name.
type PermissionGroup struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// Permission is a fine-grained capability.
type Permission struct {
	ID          string
	Key         string
	Description string
	CreatedAt   time.Time
}
