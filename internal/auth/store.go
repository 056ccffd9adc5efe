package auth

import (
	"context"

	"github.com/google/uuid"
)

// Directory is the user-lookup collaborator used by login.
type Directory interface {
	// FindUserByEmail returns ErrNotFound for unknown addresses.
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	// ResolveIdentity loads the user's groups and flattened permissions.
	ResolveIdentity(ctx context.Context, userID uuid.UUID) (Identity, error)
}

// DirectoryAdmin covers the write side used by the administration API, tooling and seeding.
type DirectoryAdmin interface {
	Directory

	CreateUser(ctx context.Context, u *User) error
	// CreateUserWithGroups stores the user together with its memberships.
	// An unknown group fails the whole call and nothing is stored.
	CreateUserWithGroups(ctx context.Context, u *User, groups []string) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, upd UserUpdate) (*User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error

	EnsurePermissions(ctx context.Context, perms []Permission) error
	// EnsureGroup replaces the group's permissions, skipping unknown keys.
	EnsureGroup(ctx context.Context, name string, permissionKeys []string) error
	// SetGroupPermissions creates or replaces a group and rejects unknown keys.
	SetGroupPermissions(ctx context.Context, name string, permissionKeys []string) error
	ListGroups(ctx context.Context) ([]PermissionGroup, error)

	AssignGroup(ctx context.Context, userID uuid.UUID, group string) error
	RemoveGroup(ctx context.Context, userID uuid.UUID, group string) error
}
