package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// Auth admin (GoTrue) operations
// =============================================================================

// AuthUser is a Supabase Auth user.
type AuthUser struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	Role         string                 `json:"role,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// AuthUserCreate is the admin create payload.
type AuthUserCreate struct {
	Email        string                 `json:"email"`
	Password     string                 `json:"password,omitempty"`
	EmailConfirm bool                   `json:"email_confirm"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
}

// AuthAdmin manages auth users with the service key.
type AuthAdmin interface {
	CreateAuthUser(ctx context.Context, req AuthUserCreate) (*AuthUser, error)
	FindAuthUserByEmail(ctx context.Context, email string) (*AuthUser, error)
}

// CreateAuthUser creates an auth user. A duplicate email returns an error
// matching IsConflict.
func (r *Repository) CreateAuthUser(ctx context.Context, req AuthUserCreate) (*AuthUser, error) {
	req.Email = NormalizeEmail(req.Email)
	if err := ValidateEmail(req.Email); err != nil {
		return nil, err
	}

	data, err := r.client.authRequest(ctx, http.MethodPost, "admin/users", req, "")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
			// GoTrue answers 422 for an already registered email.
			apiErr.StatusCode = http.StatusConflict
		}
		return nil, fmt.Errorf("%w: create auth user: %w", ErrDatabaseError, err)
	}
	var user AuthUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("%w: unmarshal auth user: %v", ErrDatabaseError, err)
	}
	return &user, nil
}

// FindAuthUserByEmail scans the admin user list for email.
func (r *Repository) FindAuthUserByEmail(ctx context.Context, email string) (*AuthUser, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}

	const perPage = 200
	for page := 1; page <= 50; page++ {
		q := url.Values{}
		q.Set("page", fmt.Sprint(page))
		q.Set("per_page", fmt.Sprint(perPage))
		data, err := r.client.authRequest(ctx, http.MethodGet, "admin/users", nil, q.Encode())
		if err != nil {
			return nil, fmt.Errorf("%w: list auth users: %v", ErrDatabaseError, err)
		}
		var resp struct {
			Users []AuthUser `json:"users"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("%w: unmarshal auth users: %v", ErrDatabaseError, err)
		}
		for i := range resp.Users {
			if strings.EqualFold(resp.Users[i].Email, email) {
				return &resp.Users[i], nil
			}
		}
		if len(resp.Users) < perPage {
			break
		}
	}
	return nil, NewNotFoundError("auth_user", email)
}
