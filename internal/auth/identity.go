package auth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Identity is the authenticated principal carried inside a token.
// PermissionGroups and Permissions hold unique values; order carries no meaning.
type Identity struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	OrganizationID   *uuid.UUID `json:"organization_id,omitempty"`
	PermissionGroups []string   `json:"permission_groups"`
	Permissions      []string   `json:"permissions"`
}

// NewIdentity constructs an identity with deduplicated group and permission sets.
func NewIdentity(id uuid.UUID, email string, orgID *uuid.UUID, groups, permissions []string) Identity {
	return Identity{
		ID:               id,
		Email:            strings.TrimSpace(email),
		OrganizationID:   orgID,
		PermissionGroups: dedupe(groups),
		Permissions:      dedupe(permissions),
	}
}

// HasPermission reports whether perm is a member of the permission set.
func (i Identity) HasPermission(perm string) bool {
	for _, p := range i.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// InGroup reports whether the identity belongs to the named permission group.
func (i Identity) InGroup(group string) bool {
	for _, g := range i.PermissionGroups {
		if g == group {
			return true
		}
	}
	return false
}

// Encode serializes the identity into the opaque value stored in the user claim.
func (i Identity) Encode() (string, error) {
	if i.ID == uuid.Nil {
		return "", fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	if i.Permissions == nil {
		i.Permissions = []string{}
	}
	if i.PermissionGroups == nil {
		i.PermissionGroups = []string{}
	}
	data, err := json.Marshal(i)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeIdentity parses a user claim value. A missing or null permission set is
// rejected rather than read as "no permissions".
func DecodeIdentity(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: empty identity", ErrInvalidInput)
	}
	var ident Identity
	if err := json.Unmarshal([]byte(raw), &ident); err != nil {
		return Identity{}, fmt.Errorf("%w: decode identity: %v", ErrInvalidInput, err)
	}
	if ident.ID == uuid.Nil {
		return Identity{}, fmt.Errorf("%w: identity id missing", ErrInvalidInput)
	}
	if ident.Permissions == nil {
		return Identity{}, fmt.Errorf("%w: permission set missing", ErrInvalidInput)
	}
	ident.Permissions = dedupe(ident.Permissions)
	ident.PermissionGroups = dedupe(ident.PermissionGroups)
	return ident, nil
}

// dedupe drops blanks and duplicates, keeping first-seen order. The result is never nil.
func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
