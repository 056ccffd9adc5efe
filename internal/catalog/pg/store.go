package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"b2bstore.org/internal/catalog"
	"b2bstore.org/internal/ids"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store implements catalog.Service on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ catalog.Service = (*Store)(nil)

// Open connects through the pgx stdlib driver with pooled defaults.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateCategory(ctx context.Context, in catalog.CategoryInput) (catalog.Category, error) {
	in, err := in.Normalize()
	if err != nil {
		return catalog.Category{}, err
	}
	c := catalog.Category{ID: ids.New(), Name: in.Name, Slug: in.Slug}
	err = s.db.QueryRowContext(ctx,
		`insert into categories(id, name, slug) values($1,$2,$3) returning created_at`,
		c.ID, c.Name, c.Slug,
	).Scan(&c.CreatedAt)
	if pgCode(err) == codeUniqueViolation {
		return catalog.Category{}, fmt.Errorf("%w: slug %s already exists", catalog.ErrConflict, c.Slug)
	}
	if err != nil {
		return catalog.Category{}, err
	}
	return c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name, slug, created_at from categories order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []catalog.Category{}
	for rows.Next() {
		var c catalog.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCategory relies on the products foreign key to refuse non-empty categories.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from categories where id=$1`, id)
	if pgCode(err) == codeForeignKeyViolation {
		return fmt.Errorf("%w: category %s still has products", catalog.ErrConflict, id)
	}
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) CreateProduct(ctx context.Context, in catalog.ProductInput) (catalog.Product, error) {
	in, err := in.Normalize()
	if err != nil {
		return catalog.Product{}, err
	}
	p := catalog.Product{
		ID:          ids.New(),
		CategoryID:  in.CategoryID,
		SKU:         in.SKU,
		Name:        in.Name,
		Description: in.Description,
		PriceCents:  in.PriceCents,
		Currency:    in.Currency,
	}
	err = s.db.QueryRowContext(ctx, `
		insert into products(id, category_id, sku, name, description, price_cents, currency)
		values ($1,$2,$3,$4,$5,$6,$7)
		returning created_at, updated_at
	`, p.ID, p.CategoryID, p.SKU, p.Name, p.Description, p.PriceCents, p.Currency,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	switch pgCode(err) {
	case codeUniqueViolation:
		return catalog.Product{}, fmt.Errorf("%w: sku %s already exists", catalog.ErrConflict, p.SKU)
	case codeForeignKeyViolation:
		return catalog.Product{}, fmt.Errorf("%w: unknown category %s", catalog.ErrInvalidInput, p.CategoryID)
	}
	if err != nil {
		return catalog.Product{}, err
	}
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	var p catalog.Product
	err := s.db.QueryRowContext(ctx, `
		select id, category_id, sku, name, description, price_cents, currency, created_at, updated_at
		from products where id=$1
	`, id).Scan(&p.ID, &p.CategoryID, &p.SKU, &p.Name, &p.Description, &p.PriceCents, &p.Currency, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Product{}, err
	}
	return p, nil
}

// ListProducts fetches one extra row to learn whether another page exists.
func (s *Store) ListProducts(ctx context.Context, f catalog.ListFilter) ([]catalog.Product, string, error) {
	f = f.Normalize()
	rows, err := s.db.QueryContext(ctx, `
		select id, category_id, sku, name, description, price_cents, currency, created_at, updated_at
		from products
		where ($1 = '' or category_id = $1)
		  and ($2 = '' or id > $2)
		order by id asc
		limit $3
	`, f.CategoryID, f.AfterID, f.Limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := []catalog.Product{}
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.CategoryID, &p.SKU, &p.Name, &p.Description, &p.PriceCents, &p.Currency, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, "", err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(out) <= f.Limit {
		return out, "", nil
	}
	out = out[:f.Limit]
	return out, out[len(out)-1].ID, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from products where id=$1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
