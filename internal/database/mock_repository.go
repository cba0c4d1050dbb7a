package database

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRepository is an in-memory implementation of RepositoryInterface for testing.
type MockRepository struct {
	mu sync.RWMutex

	profiles      map[string]*Profile
	authUsers     map[string]*AuthUser
	resetRequests []ResetRequest
	nextResetID   int64

	// ErrorOnNextCall is returned (and cleared) by the next call.
	ErrorOnNextCall error
}

var _ RepositoryInterface = (*MockRepository)(nil)

// NewMockRepository creates a new mock repository for testing.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		profiles:  make(map[string]*Profile),
		authUsers: make(map[string]*AuthUser),
	}
}

func (m *MockRepository) checkError() error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	return nil
}

// Reset clears all data in the mock repository.
func (m *MockRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = make(map[string]*Profile)
	m.authUsers = make(map[string]*AuthUser)
	m.resetRequests = nil
	m.ErrorOnNextCall = nil
}

// Profiles returns a snapshot of the stored profiles.
func (m *MockRepository) Profiles() []Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, *p)
	}
	return out
}

// ResetRequests returns the recorded reset requests.
func (m *MockRepository) ResetRequests() []ResetRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ResetRequest(nil), m.resetRequests...)
}

// AddAuthUser seeds an existing auth user.
func (m *MockRepository) AddAuthUser(user AuthUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = NormalizeEmail(user.Email)
	m.authUsers[user.Email] = &user
}

func (m *MockRepository) UpsertProfile(ctx context.Context, profile *Profile) error {
	if err := m.checkError(); err != nil {
		return err
	}
	if profile == nil {
		return fmt.Errorf("%w: profile cannot be nil", ErrInvalidInput)
	}
	profile.Email = NormalizeEmail(profile.Email)
	if err := ValidateEmail(profile.Email); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	profile.UpdatedAt = time.Now().UTC()
	if existing, ok := m.profiles[profile.ID]; ok && profile.CreatedAt.IsZero() {
		profile.CreatedAt = existing.CreatedAt
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = profile.UpdatedAt
	}
	stored := *profile
	m.profiles[profile.ID] = &stored
	return nil
}

func (m *MockRepository) GetProfile(ctx context.Context, id string) (*Profile, error) {
	if err := m.checkError(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, NewNotFoundError(TableProfiles, id)
	}
	out := *p
	return &out, nil
}

func (m *MockRepository) GetProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	if err := m.checkError(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = NormalizeEmail(email)
	for _, p := range m.profiles {
		if p.Email == email {
			out := *p
			return &out, nil
		}
	}
	return nil, NewNotFoundError(TableProfiles, email)
}

func (m *MockRepository) CreateResetRequest(ctx context.Context, req *ResetRequest) error {
	if err := m.checkError(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextResetID++
	req.ID = m.nextResetID
	req.Email = NormalizeEmail(req.Email)
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	m.resetRequests = append(m.resetRequests, *req)
	return nil
}

func (m *MockRepository) CountResetRequestsSince(ctx context.Context, email string, since time.Time) (int, error) {
	if err := m.checkError(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = NormalizeEmail(email)
	n := 0
	for _, r := range m.resetRequests {
		if r.Email == email && !r.RequestedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MockRepository) CreateAuthUser(ctx context.Context, req AuthUserCreate) (*AuthUser, error) {
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if err := ValidateEmail(NormalizeEmail(req.Email)); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	email := NormalizeEmail(req.Email)
	if _, exists := m.authUsers[email]; exists {
		return nil, fmt.Errorf("%w: create auth user: %w", ErrDatabaseError,
			&APIError{StatusCode: http.StatusConflict, Message: "email already registered"})
	}
	user := &AuthUser{
		ID:           uuid.New().String(),
		Email:        email,
		Role:         "authenticated",
		UserMetadata: req.UserMetadata,
		AppMetadata:  req.AppMetadata,
		CreatedAt:    time.Now().UTC(),
	}
	m.authUsers[email] = user
	out := *user
	return &out, nil
}

func (m *MockRepository) FindAuthUserByEmail(ctx context.Context, email string) (*AuthUser, error) {
	if err := m.checkError(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.authUsers[NormalizeEmail(email)]
	if !ok {
		return nil, NewNotFoundError("auth_user", email)
	}
	out := *u
	return &out, nil
}
