package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-labs/service_layer/internal/database"
	"github.com/vitalis-labs/service_layer/internal/logging"
	"github.com/vitalis-labs/service_layer/internal/metrics"
	"github.com/vitalis-labs/service_layer/internal/middleware"
)

const (
	testJWTSecret     = "accounts-test-secret-with-enough-length"
	testWebhookSecret = "whsec_test"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (m *recordingMailer) Send(_ context.Context, email Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *recordingMailer) Sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Email(nil), m.sent...)
}

func newTestService(t *testing.T) (*Service, *database.MockRepository, *recordingMailer) {
	t.Helper()
	repo := database.NewMockRepository()
	mailer := &recordingMailer{}
	svc, err := New(Config{
		Logger:        logging.NewDiscard(),
		Metrics:       metrics.New(nil),
		Repo:          repo,
		Mailer:        mailer,
		JWTSecret:     testJWTSecret,
		WebhookSecret: testWebhookSecret,
		SupportEmail:  "support@example.com",
		ResetRPS:      100,
		ResetBurst:    100,
	})
	require.NoError(t, err)
	return svc, repo, mailer
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	claims := &middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	if role != "" {
		claims.AppMetadata = map[string]interface{}{"role": role}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func serve(svc *Service, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func webhookRequest(t *testing.T, body string, secret string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/success", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+Sign([]byte(secret), []byte(body)))
	return req
}

// =============================================================================
// Admin users
// =============================================================================

func TestCreateUserRequiresAdmin(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := jsonRequest(t, http.MethodPost, "/admin/users", CreateUserInput{Email: "ada@example.com"})
	assert.Equal(t, http.StatusUnauthorized, serve(svc, req).Code)

	req = jsonRequest(t, http.MethodPost, "/admin/users", CreateUserInput{Email: "ada@example.com"})
	req.Header.Set("Authorization", bearer(t, ""))
	assert.Equal(t, http.StatusForbidden, serve(svc, req).Code)
}

func TestCreateUser(t *testing.T) {
	svc, repo, _ := newTestService(t)

	req := jsonRequest(t, http.MethodPost, "/admin/users", CreateUserInput{
		Email:    "Ada@Example.com",
		Password: "correct-horse",
		FullName: "Ada Lovelace",
	})
	req.Header.Set("Authorization", bearer(t, middleware.RoleAdmin))
	rec := serve(svc, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp UserResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Created)
	assert.Equal(t, "ada@example.com", resp.Email)

	profiles := repo.Profiles()
	require.Len(t, profiles, 1)
	assert.Equal(t, resp.UserID, profiles[0].ID)
	assert.Equal(t, "member", profiles[0].Role)
	assert.Equal(t, database.SubscriptionNone, profiles[0].SubscriptionStatus)
}

func TestCreateUserConflict(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.AddAuthUser(database.AuthUser{ID: "existing", Email: "ada@example.com"})

	req := jsonRequest(t, http.MethodPost, "/admin/users", CreateUserInput{Email: "ada@example.com"})
	req.Header.Set("Authorization", bearer(t, middleware.RoleAdmin))
	assert.Equal(t, http.StatusConflict, serve(svc, req).Code)
}

func TestCreateUserValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name  string
		input CreateUserInput
	}{
		{"missing email", CreateUserInput{}},
		{"bad email", CreateUserInput{Email: "not-an-email"}},
		{"short password", CreateUserInput{Email: "ada@example.com", Password: "short"}},
		{"unknown role", CreateUserInput{Email: "ada@example.com", Role: "owner"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := jsonRequest(t, http.MethodPost, "/admin/users", tt.input)
			req.Header.Set("Authorization", bearer(t, middleware.RoleAdmin))
			assert.Equal(t, http.StatusBadRequest, serve(svc, req).Code)
		})
	}
}

// =============================================================================
// Payment webhook
// =============================================================================

const checkoutEvent = `{
  "id": "evt_1",
  "type": "checkout.session.completed",
  "data": {"object": {"id": "cs_123", "customer_details": {"email": "Grace@Example.com", "name": "Grace Hopper"}}}
}`

func TestPaymentSuccessCreatesAccount(t *testing.T) {
	svc, repo, mailer := newTestService(t)

	rec := serve(svc, webhookRequest(t, checkoutEvent, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp UserResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Created)
	require.NotNil(t, resp.EmailSent)
	assert.True(t, *resp.EmailSent)

	profiles := repo.Profiles()
	require.Len(t, profiles, 1)
	assert.Equal(t, "grace@example.com", profiles[0].Email)
	assert.Equal(t, "Grace Hopper", profiles[0].FullName)
	assert.Equal(t, database.SubscriptionActive, profiles[0].SubscriptionStatus)
	assert.Equal(t, "cs_123", profiles[0].PaymentReference)

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, TemplateWelcome, sent[0].Template)
	assert.Equal(t, []string{"grace@example.com"}, sent[0].To)
}

func TestPaymentSuccessReusesExistingUser(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	repo.AddAuthUser(database.AuthUser{ID: "u-42", Email: "grace@example.com"})
	require.NoError(t, repo.UpsertProfile(context.Background(), &database.Profile{
		ID: "u-42", Email: "grace@example.com", Role: "admin", SubscriptionStatus: database.SubscriptionNone,
	}))

	rec := serve(svc, webhookRequest(t, checkoutEvent, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	profile, err := repo.GetProfile(context.Background(), "u-42")
	require.NoError(t, err)
	assert.Equal(t, database.SubscriptionActive, profile.SubscriptionStatus)
	assert.Equal(t, "admin", profile.Role, "existing role is kept")
	assert.Empty(t, mailer.Sent(), "no welcome email for existing users")
}

func TestPaymentSuccessRejectsBadSignature(t *testing.T) {
	svc, repo, _ := newTestService(t)

	rec := serve(svc, webhookRequest(t, checkoutEvent, "wrong-secret"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/payments/success", bytes.NewBufferString(checkoutEvent))
	assert.Equal(t, http.StatusUnauthorized, serve(svc, req).Code, "missing signature")
	assert.Empty(t, repo.Profiles())
}

func TestPaymentSuccessIgnoresOtherEvents(t *testing.T) {
	svc, repo, _ := newTestService(t)

	rec := serve(svc, webhookRequest(t, `{"type":"charge.refunded","email":"a@example.com"}`, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
	assert.Empty(t, repo.Profiles())
}

func TestPaymentSuccessRequiresEmail(t *testing.T) {
	svc, _, _ := newTestService(t)

	rec := serve(svc, webhookRequest(t, `{"type":"invoice.paid","data":{"object":{"id":"in_1"}}}`, testWebhookSecret))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(svc, webhookRequest(t, `{not json`, testWebhookSecret))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentSuccessWelcomeEmailFailureStillActivates(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	mailer.err = errors.New("provider down")

	rec := serve(svc, webhookRequest(t, `{"email":"lin@example.com","name":"Lin"}`, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UserResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.EmailSent)
	assert.False(t, *resp.EmailSent)
	require.Len(t, repo.Profiles(), 1)
	assert.Equal(t, database.SubscriptionActive, repo.Profiles()[0].SubscriptionStatus)
}

func TestPaymentSuccessStorageFailure(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.ErrorOnNextCall = errors.New("supabase unavailable")

	rec := serve(svc, webhookRequest(t, checkoutEvent, testWebhookSecret))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestParsePaymentEvent(t *testing.T) {
	event := parsePaymentEvent([]byte(`{"id":"evt","customer":{"email":"x@example.com","name":"X"},"data":{"object":{"customer_email":"y@example.com"}}}`))
	assert.Equal(t, "y@example.com", event.Email, "object email wins over customer")
	assert.Equal(t, "X", event.Name)
	assert.Equal(t, "evt", event.Reference)
}

// =============================================================================
// Email and reset notices
// =============================================================================

func TestSendEmail(t *testing.T) {
	svc, _, mailer := newTestService(t)

	req := jsonRequest(t, http.MethodPost, "/email/send", SendEmailInput{
		To:      []string{"ada@example.com"},
		Subject: "Hello",
		Text:    "Plain body",
	})
	req.Header.Set("Authorization", bearer(t, middleware.RoleAdmin))
	rec := serve(svc, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, mailer.Sent(), 1)
	assert.Equal(t, "Plain body", mailer.Sent()[0].Text)
}

func TestSendEmailValidation(t *testing.T) {
	svc, _, mailer := newTestService(t)

	for name, input := range map[string]SendEmailInput{
		"no recipients": {Subject: "Hi", Text: "x"},
		"bad recipient": {To: []string{"nope"}, Subject: "Hi", Text: "x"},
		"no body":       {To: []string{"ada@example.com"}, Subject: "Hi"},
		"bad template":  {To: []string{"ada@example.com"}, Subject: "Hi", Template: "promo"},
	} {
		t.Run(name, func(t *testing.T) {
			req := jsonRequest(t, http.MethodPost, "/email/send", input)
			req.Header.Set("Authorization", bearer(t, middleware.RoleAdmin))
			assert.Equal(t, http.StatusBadRequest, serve(svc, req).Code)
		})
	}
	assert.Empty(t, mailer.Sent())
}

func TestSendEmailProviderFailure(t *testing.T) {
	svc, _, mailer := newTestService(t)
	mailer.err = errors.New("provider down")

	req := jsonRequest(t, http.MethodPost, "/email/send", SendEmailInput{To: []string{"ada@example.com"}, Subject: "Hi", Text: "x"})
	req.Header.Set("Authorization", bearer(t, middleware.RoleAdmin))
	assert.Equal(t, http.StatusBadGateway, serve(svc, req).Code)
}

func TestResetNotify(t *testing.T) {
	svc, repo, mailer := newTestService(t)

	req := jsonRequest(t, http.MethodPost, "/password-reset/notify", ResetNotifyInput{Email: "ada@example.com"})
	req.RemoteAddr = "203.0.113.7:5555"
	rec := serve(svc, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	reqs := repo.ResetRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "203.0.113.7", reqs[0].SourceIP)

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"support@example.com"}, sent[0].To)
	assert.Equal(t, TemplateResetNotice, sent[0].Template)
}

func TestResetNotifyThrottlesPerEmail(t *testing.T) {
	svc, repo, mailer := newTestService(t)

	for i := 0; i < MaxResetNoticesPerHour+2; i++ {
		rec := serve(svc, jsonRequest(t, http.MethodPost, "/password-reset/notify", ResetNotifyInput{Email: "ada@example.com"}))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	assert.Len(t, repo.ResetRequests(), MaxResetNoticesPerHour)
	assert.Len(t, mailer.Sent(), MaxResetNoticesPerHour)
}

func TestResetNotifyRateLimitedPerIP(t *testing.T) {
	repo := database.NewMockRepository()
	svc, err := New(Config{
		Logger:     logging.NewDiscard(),
		Repo:       repo,
		Mailer:     &recordingMailer{},
		ResetRPS:   1,
		ResetBurst: 1,
	})
	require.NoError(t, err)

	first := serve(svc, jsonRequest(t, http.MethodPost, "/password-reset/notify", ResetNotifyInput{Email: "a@example.com"}))
	second := serve(svc, jsonRequest(t, http.MethodPost, "/password-reset/notify", ResetNotifyInput{Email: "b@example.com"}))
	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Mailer: &recordingMailer{}})
	assert.Error(t, err)
	_, err = New(Config{Repo: database.NewMockRepository()})
	assert.Error(t, err)
}
