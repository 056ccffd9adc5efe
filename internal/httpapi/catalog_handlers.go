package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"b2bstore.org/internal/auth"
	"b2bstore.org/internal/catalog"
	"b2bstore.org/internal/ids"
)

type listCategoriesResponse struct {
	Items []catalog.Category `json:"items"`
}

type listProductsResponse struct {
	Items     []catalog.Product `json:"items"`
	NextAfter string            `json:"next_after,omitempty"`
}

func (a *API) handleCategoriesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listCategories(w, r)
	case http.MethodPost:
		a.RequirePermission(auth.PermCategoriesCreate, a.createCategory).ServeHTTP(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCategoryResource(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r.URL.Path, "/v1/categories/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodDelete:
		a.RequirePermission(auth.PermCategoriesDelete, func(w http.ResponseWriter, r *http.Request) {
			a.deleteCategory(w, r, id)
		}).ServeHTTP(w, r)
	default:
		methodNotAllowed(w, r, http.MethodDelete)
	}
}

func (a *API) handleProductsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listProducts(w, r)
	case http.MethodPost:
		a.RequirePermission(auth.PermProductsCreate, a.createProduct).ServeHTTP(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleProductResource(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r.URL.Path, "/v1/products/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getProduct(w, r, id)
	case http.MethodDelete:
		a.RequirePermission(auth.PermProductsDelete, func(w http.ResponseWriter, r *http.Request) {
			a.deleteProduct(w, r, id)
		}).ServeHTTP(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) listCategories(w http.ResponseWriter, r *http.Request) {
	items, err := a.catalog.ListCategories(r.Context())
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listCategoriesResponse{Items: items})
}

func (a *API) createCategory(w http.ResponseWriter, r *http.Request) {
	var req catalog.CategoryInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.catalog.CreateCategory(r.Context(), req)
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.category.create", map[string]any{
		"category_id": c.ID,
		"slug":        c.Slug,
	})
	w.Header().Set("Location", "/v1/categories/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) deleteCategory(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.catalog.DeleteCategory(r.Context(), id); err != nil {
		handleCatalogError(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.category.delete", map[string]any{"category_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), catalog.DefaultLimit, 1, catalog.MaxLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if after := q.Get("after"); after != "" && !ids.Valid(after) {
		writeError(w, r, http.StatusBadRequest, "after must be a product id")
		return
	}
	items, next, err := a.catalog.ListProducts(r.Context(), catalog.ListFilter{
		CategoryID: q.Get("category_id"),
		Limit:      limit,
		AfterID:    q.Get("after"),
	})
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listProductsResponse{Items: items, NextAfter: next})
}

func (a *API) createProduct(w http.ResponseWriter, r *http.Request) {
	var req catalog.ProductInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.catalog.CreateProduct(r.Context(), req)
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.product.create", map[string]any{
		"product_id":  p.ID,
		"category_id": p.CategoryID,
		"sku":         p.SKU,
		"price_cents": strconv.FormatInt(p.PriceCents, 10),
		"currency":    p.Currency,
	})
	w.Header().Set("Location", "/v1/products/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getProduct(w http.ResponseWriter, r *http.Request, id string) {
	p, err := a.catalog.GetProduct(r.Context(), id)
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deleteProduct(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.catalog.DeleteProduct(r.Context(), id); err != nil {
		handleCatalogError(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.product.delete", map[string]any{"product_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func resourceID(path, prefix string) (string, bool) {
	id := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if id == "" || strings.Contains(id, "/") || len(id) > 64 {
		return "", false
	}
	return id, true
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
