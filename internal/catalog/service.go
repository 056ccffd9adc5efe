package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Service defines catalog operations.
type Service interface {
	CreateCategory(ctx context.Context, in CategoryInput) (Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	DeleteCategory(ctx context.Context, id string) error
	CreateProduct(ctx context.Context, in ProductInput) (Product, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	// ListProducts returns one page ordered by id and the cursor for the next
	// page, which is empty on the last page.
	ListProducts(ctx context.Context, f ListFilter) ([]Product, string, error)
	DeleteProduct(ctx context.Context, id string) error
}

var _ Service = (*InMemory)(nil)

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu         sync.RWMutex
	categories map[string]Category
	slugs      map[string]string
	products   map[string]Product
	skus       map[string]string
}

// NewInMemory creates an empty catalog.
func NewInMemory() *InMemory {
	return &InMemory{
		categories: make(map[string]Category),
		slugs:      make(map[string]string),
		products:   make(map[string]Product),
		skus:       make(map[string]string),
	}
}

func (s *InMemory) CreateCategory(ctx context.Context, in CategoryInput) (Category, error) {
	in, err := in.Normalize()
	if err != nil {
		return Category{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slugs[in.Slug]; ok {
		return Category{}, fmt.Errorf("%w: slug %s already exists", ErrConflict, in.Slug)
	}
	c := Category{
		ID:        newID(),
		Name:      in.Name,
		Slug:      in.Slug,
		CreatedAt: time.Now().UTC(),
	}
	s.categories[c.ID] = c
	s.slugs[c.Slug] = c.ID
	return c, nil
}

func (s *InMemory) ListCategories(ctx context.Context) ([]Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteCategory refuses to drop a category that still has products.
func (s *InMemory) DeleteCategory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return ErrNotFound
	}
	for _, p := range s.products {
		if p.CategoryID == id {
			return fmt.Errorf("%w: category %s still has products", ErrConflict, id)
		}
	}
	delete(s.categories, id)
	delete(s.slugs, c.Slug)
	return nil
}

func (s *InMemory) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	in, err := in.Normalize()
	if err != nil {
		return Product{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[in.CategoryID]; !ok {
		return Product{}, fmt.Errorf("%w: unknown category %s", ErrInvalidInput, in.CategoryID)
	}
	if _, ok := s.skus[in.SKU]; ok {
		return Product{}, fmt.Errorf("%w: sku %s already exists", ErrConflict, in.SKU)
	}
	now := time.Now().UTC()
	p := Product{
		ID:          newID(),
		CategoryID:  in.CategoryID,
		SKU:         in.SKU,
		Name:        in.Name,
		Description: in.Description,
		PriceCents:  in.PriceCents,
		Currency:    in.Currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.products[p.ID] = p
	s.skus[p.SKU] = p.ID
	return p, nil
}

func (s *InMemory) GetProduct(ctx context.Context, id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemory) ListProducts(ctx context.Context, f ListFilter) ([]Product, string, error) {
	f = f.Normalize()
	s.mu.RLock()
	matched := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if f.CategoryID != "" && p.CategoryID != f.CategoryID {
			continue
		}
		if f.AfterID != "" && p.ID <= f.AfterID {
			continue
		}
		matched = append(matched, p)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	if len(matched) <= f.Limit {
		return matched, "", nil
	}
	page := matched[:f.Limit]
	return page, page[len(page)-1].ID, nil
}

func (s *InMemory) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.products, id)
	delete(s.skus, p.SKU)
	return nil
}
