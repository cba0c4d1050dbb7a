package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// =============================================================================
// Generic PostgREST helpers
// =============================================================================
//
// Service repositories build on these so every table shares the same error
// wrapping. Filter values are always query-escaped.

// Filter is a PostgREST filter set, e.g. Eq("user_id", id).
type Filter url.Values

// Eq returns a filter with a single column=eq.value condition.
func Eq(column, value string) Filter {
	return Filter{column: {"eq." + value}}
}

// And adds column=eq.value to the filter.
func (f Filter) And(column, value string) Filter {
	url.Values(f).Add(column, "eq."+value)
	return f
}

// Encode renders the filter as a query string.
func (f Filter) Encode() string {
	return url.Values(f).Encode()
}

// GenericCreate inserts record and hands the returned representation to onRows.
func GenericCreate[T any](r *Repository, ctx context.Context, table string, record interface{}, onRows func([]T)) error {
	if record == nil {
		return fmt.Errorf("%w: %s record cannot be nil", ErrInvalidInput, table)
	}
	data, err := r.client.request(ctx, http.MethodPost, table, record, "")
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrDatabaseError, table, err)
	}
	return decodeRows(table, data, onRows)
}

// GenericUpsert inserts or merges record on the onConflict columns.
func GenericUpsert[T any](r *Repository, ctx context.Context, table string, record interface{}, onConflict string, onRows func([]T)) error {
	if record == nil {
		return fmt.Errorf("%w: %s record cannot be nil", ErrInvalidInput, table)
	}
	data, err := r.client.upsert(ctx, table, record, onConflict)
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrDatabaseError, table, err)
	}
	return decodeRows(table, data, onRows)
}

// GenericUpdate patches the rows matching filter.
func GenericUpdate(r *Repository, ctx context.Context, table string, filter Filter, update interface{}) error {
	if len(filter) == 0 {
		return fmt.Errorf("%w: update %s without a filter", ErrInvalidInput, table)
	}
	if _, err := r.client.request(ctx, http.MethodPatch, table, update, filter.Encode()); err != nil {
		return fmt.Errorf("%w: update %s: %v", ErrDatabaseError, table, err)
	}
	return nil
}

// GenericGetByField returns the first row where field equals value.
func GenericGetByField[T any](r *Repository, ctx context.Context, table, field, value string) (*T, error) {
	q := url.Values(Eq(field, value))
	q.Set("limit", "1")
	data, err := r.client.request(ctx, http.MethodGet, table, nil, q.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrDatabaseError, table, err)
	}
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %v", ErrDatabaseError, table, err)
	}
	if len(rows) == 0 {
		return nil, NewNotFoundError(table, value)
	}
	return &rows[0], nil
}

// GenericListByField returns the rows matching filter. order uses PostgREST
// syntax, e.g. "created_at.desc"; limit <= 0 means no limit.
func GenericListByField[T any](r *Repository, ctx context.Context, table string, filter Filter, order string, limit int) ([]T, error) {
	q := url.Values{}
	for k, v := range filter {
		q[k] = v
	}
	if order != "" {
		q.Set("order", order)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	data, err := r.client.request(ctx, http.MethodGet, table, nil, q.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrDatabaseError, table, err)
	}
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %v", ErrDatabaseError, table, err)
	}
	return rows, nil
}

// GenericDeleteByField deletes the rows matching filter.
func GenericDeleteByField(r *Repository, ctx context.Context, table string, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("%w: delete %s without a filter", ErrInvalidInput, table)
	}
	if _, err := r.client.request(ctx, http.MethodDelete, table, nil, filter.Encode()); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrDatabaseError, table, err)
	}
	return nil
}

func decodeRows[T any](table string, data []byte, onRows func([]T)) error {
	if onRows == nil || len(data) == 0 {
		return nil
	}
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("%w: unmarshal %s: %v", ErrDatabaseError, table, err)
	}
	onRows(rows)
	return nil
}
