package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"b2bstore.org/internal/ids"
)

var _ DirectoryAdmin = (*PGDirectory)(nil)

// PGDirectory implements DirectoryAdmin using PostgreSQL.
type PGDirectory struct {
	db *sql.DB
}

func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

func (d *PGDirectory) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (d *PGDirectory) findUser(ctx context.Context, id uuid.UUID) (*User, error) {
	row := d.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

const userColumns = `id, organization_id, email, password_hash, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u   User
		org uuid.NullUUID
	)
	if err := row.Scan(&u.ID, &org, &u.Email, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if org.Valid {
		id := org.UUID
		u.OrganizationID = &id
	}
	return &u, nil
}

// ResolveIdentity loads group names and the union of group and direct permissions.
func (d *PGDirectory) ResolveIdentity(ctx context.Context, userID uuid.UUID) (Identity, error) {
	user, err := d.findUser(ctx, userID)
	if err != nil {
		return Identity{}, err
	}
	groups, err := d.queryStrings(ctx,
		`select g.name from permission_groups g
		 join user_permission_groups ug on ug.group_id=g.id
		 where ug.user_id=$1 order by g.name`, userID)
	if err != nil {
		return Identity{}, fmt.Errorf("load groups: %w", err)
	}
	perms, err := d.queryStrings(ctx,
		`select p.key from permissions p
		 join group_permissions gp on gp.permission_id=p.id
		 join user_permission_groups ug on ug.group_id=gp.group_id
		 where ug.user_id=$1
		 union
		 select p.key from permissions p
		 join user_permissions up on up.permission_id=p.id
		 where up.user_id=$1
		 order by 1`, userID)
	if err != nil {
		return Identity{}, fmt.Errorf("load permissions: %w", err)
	}
	return user.Identity(groups, perms), nil
}

func (d *PGDirectory) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (d *PGDirectory) CreateUser(ctx context.Context, u *User) error {
	return insertUser(ctx, d.db, u)
}

// CreateUserWithGroups inserts the user and its memberships in one transaction.
func (d *PGDirectory) CreateUserWithGroups(ctx context.Context, u *User, groups []string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertUser(ctx, tx, u); err != nil {
		return err
	}
	for _, g := range dedupe(groups) {
		res, err := tx.ExecContext(ctx,
			`insert into user_permission_groups(user_id, group_id)
			 select $1, id from permission_groups where name=$2`, u.ID, g,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: group %s", ErrNotFound, g)
		}
	}
	return tx.Commit()
}

func insertUser(ctx context.Context, q queryRower, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" || u.PasswordHash == "" {
		return fmt.Errorf("%w: email and password hash are required", ErrInvalidInput)
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if !validStatus(u.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, u.Status)
	}
	var org uuid.NullUUID
	if u.OrganizationID != nil {
		org = uuid.NullUUID{UUID: *u.OrganizationID, Valid: true}
	}
	err := q.QueryRowContext(ctx,
		`insert into users(id, organization_id, email, password_hash, status)
		 values($1,$2,$3,$4,$5) returning created_at, updated_at`,
		u.ID, org, u.Email, u.PasswordHash, u.Status,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: user %s", ErrAlreadyExists, u.Email)
	}
	return err
}

func (d *PGDirectory) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return d.findUser(ctx, id)
}

func (d *PGDirectory) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := d.db.QueryContext(ctx, `select `+userColumns+` from users order by email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (d *PGDirectory) UpdateUser(ctx context.Context, id uuid.UUID, upd UserUpdate) (*User, error) {
	if err := upd.validate(); err != nil {
		return nil, err
	}
	var status, hash sql.NullString
	if upd.Status != nil {
		status = sql.NullString{String: *upd.Status, Valid: true}
	}
	if upd.PasswordHash != nil {
		hash = sql.NullString{String: *upd.PasswordHash, Valid: true}
	}
	row := d.db.QueryRowContext(ctx,
		`update users
		 set status=coalesce($2, status), password_hash=coalesce($3, password_hash), updated_at=now()
		 where id=$1
		 returning `+userColumns, id, status, hash)
	return scanUser(row)
}

// DeleteUser removes the account; memberships and direct grants cascade.
func (d *PGDirectory) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res, err := d.db.ExecContext(ctx, `delete from users where id=$1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res, fmt.Errorf("%w: user %s", ErrNotFound, id))
}

func (d *PGDirectory) EnsurePermissions(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		_, err := d.db.ExecContext(ctx,
			`insert into permissions(id, key, description) values($1,$2,$3) on conflict (key) do nothing`,
			p.ID, p.Key, p.Description,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// EnsureGroup creates the group if needed and replaces its permission set.
func (d *PGDirectory) EnsureGroup(ctx context.Context, name string, permissionKeys []string) error {
	return d.putGroup(ctx, name, permissionKeys, false)
}

func (d *PGDirectory) SetGroupPermissions(ctx context.Context, name string, permissionKeys []string) error {
	return d.putGroup(ctx, name, permissionKeys, true)
}

func (d *PGDirectory) putGroup(ctx context.Context, name string, permissionKeys []string, strict bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var groupID string
	err = tx.QueryRowContext(ctx,
		`insert into permission_groups(id, name) values($1,$2)
		 on conflict (name) do update set name=excluded.name
		 returning id`, ids.New(), name,
	).Scan(&groupID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from group_permissions where group_id=$1`, groupID); err != nil {
		return err
	}
	for _, key := range dedupe(permissionKeys) {
		res, err := tx.ExecContext(ctx,
			`insert into group_permissions(group_id, permission_id)
			 select $1, id from permissions where key=$2`, groupID, key,
		)
		if err != nil {
			return err
		}
		if !strict {
			continue
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: unknown permission %s", ErrInvalidInput, key)
		}
	}
	return tx.Commit()
}

// ListGroups returns the groups ordered by name with sorted permission keys.
func (d *PGDirectory) ListGroups(ctx context.Context) ([]PermissionGroup, error) {
	rows, err := d.db.QueryContext(ctx, `
		select g.name, g.description, p.key
		from permission_groups g
		left join group_permissions gp on gp.group_id=g.id
		left join permissions p on p.id=gp.permission_id
		order by g.name, p.key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []PermissionGroup{}
	for rows.Next() {
		var (
			name, desc string
			key        sql.NullString
		)
		if err := rows.Scan(&name, &desc, &key); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].Name != name {
			out = append(out, PermissionGroup{Name: name, Description: desc, Permissions: []string{}})
		}
		if key.Valid {
			last := &out[len(out)-1]
			last.Permissions = append(last.Permissions, key.String)
		}
	}
	return out, rows.Err()
}

func (d *PGDirectory) AssignGroup(ctx context.Context, userID uuid.UUID, group string) error {
	res, err := d.db.ExecContext(ctx,
		`insert into user_permission_groups(user_id, group_id)
		 select $1, id from permission_groups where name=$2
		 on conflict do nothing`, userID, strings.TrimSpace(group),
	)
	if pgCode(err) == "23503" {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists bool
		if err := d.db.QueryRowContext(ctx,
			`select exists(select 1 from permission_groups where name=$1)`, strings.TrimSpace(group),
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: group %s", ErrNotFound, group)
		}
	}
	return nil
}

func (d *PGDirectory) RemoveGroup(ctx context.Context, userID uuid.UUID, group string) error {
	res, err := d.db.ExecContext(ctx,
		`delete from user_permission_groups
		 where user_id=$1 and group_id=(select id from permission_groups where name=$2)`,
		userID, strings.TrimSpace(group),
	)
	if err != nil {
		return err
	}
	return expectAffected(res, fmt.Errorf("%w: user %s is not in group %s", ErrNotFound, userID, group))
}

func expectAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
