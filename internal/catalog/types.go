package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"b2bstore.org/internal/ids"
)

// Category groups products for browsing.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// Product is a sellable catalog item. Prices are kept in minor units.
type Product struct {
	ID          string    `json:"id"`
	CategoryID  string    `json:"category_id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CategoryInput carries the client supplied fields of a new category.
type CategoryInput struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ProductInput carries the client supplied fields of a new product.
type ProductInput struct {
	CategoryID  string `json:"category_id"`
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Currency    string `json:"currency"`
}

// ListFilter selects a page of products. IDs are ULIDs, so AfterID works as a keyset cursor.
type ListFilter struct {
	CategoryID string
	Limit      int
	AfterID    string
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var (
	ErrNotFound     = errors.New("catalog: not found")
	ErrInvalidInput = errors.New("catalog: invalid input")
	ErrConflict     = errors.New("catalog: conflict")
)

var (
	slugPattern     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	slugReplacer    = regexp.MustCompile(`[^a-z0-9]+`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

func newID() string {
	return ids.New()
}

// Normalize validates the input and derives a slug from the name when none is given.
func (in CategoryInput) Normalize() (CategoryInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(in.Name) > 200 {
		return in, fmt.Errorf("%w: name must be at most 200 characters", ErrInvalidInput)
	}
	in.Slug = strings.ToLower(strings.TrimSpace(in.Slug))
	if in.Slug == "" {
		in.Slug = strings.Trim(slugReplacer.ReplaceAllString(strings.ToLower(in.Name), "-"), "-")
	}
	if !slugPattern.MatchString(in.Slug) || len(in.Slug) > 200 {
		return in, fmt.Errorf("%w: slug %q is not valid", ErrInvalidInput, in.Slug)
	}
	return in, nil
}

// Normalize validates the input and canonicalizes SKU and currency.
func (in ProductInput) Normalize() (ProductInput, error) {
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	in.SKU = strings.ToUpper(strings.TrimSpace(in.SKU))
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	switch {
	case in.CategoryID == "":
		return in, fmt.Errorf("%w: category_id is required", ErrInvalidInput)
	case in.SKU == "" || len(in.SKU) > 64:
		return in, fmt.Errorf("%w: sku must be 1-64 characters", ErrInvalidInput)
	case in.Name == "" || len(in.Name) > 200:
		return in, fmt.Errorf("%w: name must be 1-200 characters", ErrInvalidInput)
	case len(in.Description) > 4000:
		return in, fmt.Errorf("%w: description must be at most 4000 characters", ErrInvalidInput)
	case in.PriceCents < 0:
		return in, fmt.Errorf("%w: price_cents must be >= 0", ErrInvalidInput)
	case !currencyPattern.MatchString(in.Currency):
		return in, fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidInput)
	}
	return in, nil
}

// Normalize clamps the page size.
func (f ListFilter) Normalize() ListFilter {
	f.CategoryID = strings.TrimSpace(f.CategoryID)
	f.AfterID = strings.TrimSpace(f.AfterID)
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}
