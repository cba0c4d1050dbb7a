package database

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Table names owned by the accounts service.
const (
	TableProfiles      = "profiles"
	TableResetRequests = "reset_requests"
)

// Subscription states stored on profiles.
const (
	SubscriptionNone   = "none"
	SubscriptionActive = "active"
)

// Profile is the application side record of an auth user.
type Profile struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	FullName           string    `json:"full_name,omitempty"`
	Role               string    `json:"role,omitempty"`
	SubscriptionStatus string    `json:"subscription_status,omitempty"`
	PaymentReference   string    `json:"payment_reference,omitempty"`
	CreatedAt          time.Time `json:"created_at,omitempty"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
}

// ResetRequest records a password reset notification.
type ResetRequest struct {
	ID          int64     `json:"id,omitempty"`
	Email       string    `json:"email"`
	SourceIP    string    `json:"source_ip,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// RepositoryInterface is the account storage used by the accounts service.
type RepositoryInterface interface {
	UpsertProfile(ctx context.Context, profile *Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*Profile, error)
	CreateResetRequest(ctx context.Context, req *ResetRequest) error
	CountResetRequestsSince(ctx context.Context, email string, since time.Time) (int, error)

	AuthAdmin
}

// Repository provides data access on top of the Supabase client.
type Repository struct {
	client *Client
}

var _ RepositoryInterface = (*Repository)(nil)

// NewRepository creates a new repository.
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

// Client returns the underlying Supabase client.
func (r *Repository) Client() *Client {
	return r.client
}

// Ping checks that the Auth API answers.
func (r *Repository) Ping(ctx context.Context) error {
	if _, err := r.client.authRequest(ctx, http.MethodGet, "health", nil, ""); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrDatabaseError, err)
	}
	return nil
}

// =============================================================================
// Profiles
// =============================================================================

// UpsertProfile inserts or merges a profile keyed on id.
func (r *Repository) UpsertProfile(ctx context.Context, profile *Profile) error {
	if profile == nil {
		return fmt.Errorf("%w: profile cannot be nil", ErrInvalidInput)
	}
	if err := ValidateID(profile.ID); err != nil {
		return err
	}
	profile.Email = NormalizeEmail(profile.Email)
	if err := ValidateEmail(profile.Email); err != nil {
		return err
	}
	profile.UpdatedAt = time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = profile.UpdatedAt
	}

	return GenericUpsert(r, ctx, TableProfiles, profile, "id", func(rows []Profile) {
		if len(rows) > 0 {
			*profile = rows[0]
		}
	})
}

// GetProfile returns a profile by id.
func (r *Repository) GetProfile(ctx context.Context, id string) (*Profile, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	return GenericGetByField[Profile](r, ctx, TableProfiles, "id", id)
}

// GetProfileByEmail returns a profile by email.
func (r *Repository) GetProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	return GenericGetByField[Profile](r, ctx, TableProfiles, "email", email)
}

// =============================================================================
// Reset requests
// =============================================================================

// CreateResetRequest records a reset request.
func (r *Repository) CreateResetRequest(ctx context.Context, req *ResetRequest) error {
	if req == nil {
		return fmt.Errorf("%w: reset request cannot be nil", ErrInvalidInput)
	}
	req.Email = NormalizeEmail(req.Email)
	if err := ValidateEmail(req.Email); err != nil {
		return err
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	return GenericCreate(r, ctx, TableResetRequests, req, func(rows []ResetRequest) {
		if len(rows) > 0 {
			req.ID = rows[0].ID
		}
	})
}

// CountResetRequestsSince counts requests for email at or after since.
func (r *Repository) CountResetRequestsSince(ctx context.Context, email string, since time.Time) (int, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return 0, err
	}
	filter := Eq("email", email)
	filter["requested_at"] = []string{"gte." + since.UTC().Format(time.RFC3339)}
	rows, err := GenericListByField[ResetRequest](r, ctx, TableResetRequests, filter, "requested_at.desc", 0)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
