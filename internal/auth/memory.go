package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ DirectoryAdmin = (*MemoryDirectory)(nil)

// MemoryDirectory implements DirectoryAdmin in process memory. It backs tests
// and the API when no database is configured.
type MemoryDirectory struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]*User
	byEmail     map[string]uuid.UUID
	permissions map[string]Permission
	groups      map[string][]string
	membership  map[uuid.UUID][]string
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:       make(map[uuid.UUID]*User),
		byEmail:     make(map[string]uuid.UUID),
		permissions: make(map[string]Permission),
		groups:      make(map[string][]string),
		membership:  make(map[uuid.UUID][]string),
	}
}

func (d *MemoryDirectory) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	u := *d.users[id]
	return &u, nil
}

func (d *MemoryDirectory) ResolveIdentity(ctx context.Context, userID uuid.UUID) (Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return Identity{}, ErrNotFound
	}
	groups := d.membership[userID]
	var perms []string
	for _, g := range groups {
		perms = append(perms, d.groups[g]...)
	}
	return u.Identity(groups, perms), nil
}

func (d *MemoryDirectory) CreateUser(ctx context.Context, u *User) error {
	return d.CreateUserWithGroups(ctx, u, nil)
}

func (d *MemoryDirectory) CreateUserWithGroups(ctx context.Context, u *User, groups []string) error {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if email == "" || u.PasswordHash == "" {
		return fmt.Errorf("%w: email and password hash are required", ErrInvalidInput)
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if !validStatus(u.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, u.Status)
	}
	groups = dedupe(groups)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byEmail[email]; ok {
		return fmt.Errorf("%w: user %s", ErrAlreadyExists, email)
	}
	for _, g := range groups {
		if _, ok := d.groups[g]; !ok {
			return fmt.Errorf("%w: group %s", ErrNotFound, g)
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.Email = email
	u.CreatedAt, u.UpdatedAt = now, now
	stored := *u
	d.users[u.ID] = &stored
	d.byEmail[email] = u.ID
	if len(groups) > 0 {
		d.membership[u.ID] = groups
	}
	return nil
}

func (d *MemoryDirectory) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// ListUsers returns all accounts ordered by e-mail.
func (d *MemoryDirectory) ListUsers(ctx context.Context) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (d *MemoryDirectory) UpdateUser(ctx context.Context, id uuid.UUID, upd UserUpdate) (*User, error) {
	if err := upd.validate(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Status != nil {
		u.Status = *upd.Status
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (d *MemoryDirectory) DeleteUser(ctx context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(d.byEmail, u.Email)
	delete(d.users, id)
	delete(d.membership, id)
	return nil
}

func (d *MemoryDirectory) EnsurePermissions(ctx context.Context, perms []Permission) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range perms {
		if _, ok := d.permissions[p.Key]; !ok {
			d.permissions[p.Key] = p
		}
	}
	return nil
}

func (d *MemoryDirectory) EnsureGroup(ctx context.Context, name string, permissionKeys []string) error {
	return d.putGroup(name, permissionKeys, false)
}

func (d *MemoryDirectory) SetGroupPermissions(ctx context.Context, name string, permissionKeys []string) error {
	return d.putGroup(name, permissionKeys, true)
}

func (d *MemoryDirectory) putGroup(name string, permissionKeys []string, strict bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := []string{}
	for _, k := range dedupe(permissionKeys) {
		if _, ok := d.permissions[k]; ok {
			keys = append(keys, k)
		} else if strict {
			return fmt.Errorf("%w: unknown permission %s", ErrInvalidInput, k)
		}
	}
	d.groups[name] = keys
	return nil
}

// ListGroups returns the groups ordered by name with sorted permission keys.
func (d *MemoryDirectory) ListGroups(ctx context.Context) ([]PermissionGroup, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PermissionGroup, 0, len(d.groups))
	for name, keys := range d.groups {
		perms := append([]string{}, keys...)
		sort.Strings(perms)
		out = append(out, PermissionGroup{Name: name, Permissions: perms})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *MemoryDirectory) AssignGroup(ctx context.Context, userID uuid.UUID, group string) error {
	group = strings.TrimSpace(group)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[userID]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if _, ok := d.groups[group]; !ok {
		return fmt.Errorf("%w: group %s", ErrNotFound, group)
	}
	for _, g := range d.membership[userID] {
		if g == group {
			return nil
		}
	}
	d.membership[userID] = append(d.membership[userID], group)
	return nil
}

func (d *MemoryDirectory) RemoveGroup(ctx context.Context, userID uuid.UUID, group string) error {
	group = strings.TrimSpace(group)
	d.mu.Lock()
	defer d.mu.Unlock()
	groups := d.membership[userID]
	for i, g := range groups {
		if g == group {
			d.membership[userID] = append(groups[:i:i], groups[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: user %s is not in group %s", ErrNotFound, userID, group)
}

// EnsureBuiltins registers the builtin permissions and permission groups.
func EnsureBuiltins(ctx context.Context, dir DirectoryAdmin) error {
	if err := dir.EnsurePermissions(ctx, BuiltinPermissions); err != nil {
		return fmt.Errorf("ensure permissions: %w", err)
	}
	for name, perms := range BuiltinGroups {
		if err := dir.EnsureGroup(ctx, name, perms); err != nil {
			return fmt.Errorf("ensure group %s: %w", name, err)
		}
	}
	return nil
}
