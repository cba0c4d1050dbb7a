package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vitalis-labs/service_layer/internal/database"
	svcerrors "github.com/vitalis-labs/service_layer/internal/errors"
	"github.com/vitalis-labs/service_layer/internal/httputil"
	"github.com/vitalis-labs/service_layer/internal/middleware"
)

const maxWebhookBodyBytes = 1 << 20

// Payment events that activate a subscription. An event without a type is
// treated as a success notification.
var paymentSuccessEvents = map[string]bool{
	"":                           true,
	"checkout.session.completed": true,
	"payment_intent.succeeded":   true,
	"invoice.paid":               true,
}

var (
	emailPaths     = []string{"data.object.customer_details.email", "data.object.customer_email", "data.object.receipt_email", "customer.email", "email"}
	namePaths      = []string{"data.object.customer_details.name", "customer.name", "name"}
	referencePaths = []string{"data.object.id", "id"}
)

// registerRoutes registers public and admin routes.
func (s *Service) registerRoutes() {
	s.RegisterStandardRoutes()
	router := s.Router()

	router.HandleFunc("/payments/success", s.handlePaymentSuccess).Methods(http.MethodPost)
	router.Handle("/password-reset/notify", s.limiter.Handler(http.HandlerFunc(s.handleResetNotify))).Methods(http.MethodPost)

	admin := router.NewRoute().Subrouter()
	admin.Use(s.auth.Handler, middleware.RequireRole(middleware.RoleAdmin))
	admin.HandleFunc("/admin/users", s.handleCreateUser).Methods(http.MethodPost)
	admin.HandleFunc("/email/send", s.handleSendEmail).Methods(http.MethodPost)
}

// =============================================================================
// Admin
// =============================================================================

// handleCreateUser creates an auth user and its profile.
func (s *Service) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var input CreateUserInput
	if !s.decode(w, r, &input) {
		return
	}
	role := input.Role
	if role == "" {
		role = "member"
	}

	user, err := s.repo.CreateAuthUser(r.Context(), database.AuthUserCreate{
		Email:        input.Email,
		Password:     input.Password,
		EmailConfirm: true,
		UserMetadata: map[string]interface{}{"full_name": input.FullName},
		AppMetadata:  map[string]interface{}{"role": role},
	})
	if err != nil {
		s.Metrics().RecordAccountEvent("admin_create_user", err)
		if database.IsConflict(err) {
			httputil.WriteServiceError(w, r, svcerrors.Conflict("A user with this email already exists"))
			return
		}
		httputil.WriteServiceError(w, r, mapError(err))
		return
	}

	profile := &database.Profile{
		ID:                 user.ID,
		Email:              user.Email,
		FullName:           input.FullName,
		Role:               role,
		SubscriptionStatus: database.SubscriptionNone,
	}
	err = s.repo.UpsertProfile(r.Context(), profile)
	s.Metrics().RecordAccountEvent("admin_create_user", err)
	if err != nil {
		s.Logger().WithContext(r.Context()).WithError(err).WithField("auth_user_id", user.ID).Error("profile upsert failed after auth user was created")
		httputil.WriteServiceError(w, r, mapError(err))
		return
	}

	s.Logger().WithContext(r.Context()).WithFields(map[string]interface{}{
		"auth_user_id": user.ID,
		"role":         role,
	}).Info("user provisioned")
	httputil.WriteJSON(w, http.StatusCreated, UserResponse{
		UserID:             user.ID,
		Email:              profile.Email,
		Created:            true,
		SubscriptionStatus: profile.SubscriptionStatus,
	})
}

// handleSendEmail sends an email on behalf of an admin.
func (s *Service) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var input SendEmailInput
	if !s.decode(w, r, &input) {
		return
	}

	err := s.mailer.Send(r.Context(), Email{
		To:       input.To,
		Subject:  input.Subject,
		HTML:     input.HTML,
		Text:     input.Text,
		Template: input.Template,
		Data:     input.Data,
	})
	s.Metrics().RecordEmail(templateLabel(input.Template), err)
	if err != nil {
		httputil.WriteServiceError(w, r, svcerrors.Upstream("Failed to send email", err))
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, StatusResponse{Status: "sent"})
}

// =============================================================================
// Payment webhook
// =============================================================================

// handlePaymentSuccess activates the subscription of the paying customer,
// creating their account on first payment.
func (s *Service) handlePaymentSuccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := httputil.ReadAllStrict(r.Body, maxWebhookBodyBytes)
	if err != nil {
		httputil.WriteServiceError(w, r, svcerrors.BadRequest("Request body too large"))
		return
	}
	if !VerifySignature(s.webhookSecret, body, r.Header.Get(SignatureHeader)) {
		s.Logger().LogSecurityEvent(ctx, "invalid_webhook_signature", map[string]interface{}{
			"remote_ip": middleware.ClientIP(r),
		})
		httputil.WriteServiceError(w, r, svcerrors.Unauthorized("Invalid signature"))
		return
	}
	if !gjson.ValidBytes(body) {
		httputil.WriteServiceError(w, r, svcerrors.BadRequest("Invalid JSON body"))
		return
	}

	event := parsePaymentEvent(body)
	if !paymentSuccessEvents[event.Type] {
		httputil.WriteJSON(w, http.StatusOK, StatusResponse{Status: "ignored"})
		return
	}
	event.Email = database.NormalizeEmail(event.Email)
	if err := database.ValidateEmail(event.Email); err != nil {
		httputil.WriteServiceError(w, r, svcerrors.BadRequest("Customer email missing or invalid"))
		return
	}

	user, created, err := s.ensureAuthUser(ctx, event)
	if err != nil {
		s.Metrics().RecordAccountEvent("payment_success", err)
		httputil.WriteServiceError(w, r, mapError(err))
		return
	}

	profile := &database.Profile{ID: user.ID, Role: "member"}
	if existing, err := s.repo.GetProfile(ctx, user.ID); err == nil {
		profile = existing
	} else if !database.IsNotFound(err) {
		s.Metrics().RecordAccountEvent("payment_success", err)
		httputil.WriteServiceError(w, r, mapError(err))
		return
	}
	profile.Email = user.Email
	if event.Name != "" {
		profile.FullName = event.Name
	}
	profile.SubscriptionStatus = database.SubscriptionActive
	profile.PaymentReference = event.Reference

	err = s.repo.UpsertProfile(ctx, profile)
	s.Metrics().RecordAccountEvent("payment_success", err)
	if err != nil {
		httputil.WriteServiceError(w, r, mapError(err))
		return
	}

	// The subscription is active at this point; a failed welcome email is
	// reported but does not fail the webhook, which would trigger a resend.
	sent := true
	if created {
		err = s.mailer.Send(ctx, Email{
			To:       []string{profile.Email},
			Subject:  "Welcome to your coaching journey",
			Template: TemplateWelcome,
			Data:     map[string]interface{}{"Name": profile.FullName, "Email": profile.Email, "SetPasswordURL": ""},
		})
		s.Metrics().RecordEmail(TemplateWelcome, err)
		if err != nil {
			sent = false
			s.Logger().WithContext(ctx).WithError(err).WithField("auth_user_id", user.ID).Warn("welcome email failed")
		}
	}

	s.Logger().WithContext(ctx).WithFields(map[string]interface{}{
		"auth_user_id": user.ID,
		"created":      created,
		"reference":    event.Reference,
	}).Info("subscription activated")

	resp := UserResponse{
		UserID:             user.ID,
		Email:              profile.Email,
		Created:            created,
		SubscriptionStatus: profile.SubscriptionStatus,
	}
	if created {
		resp.EmailSent = &sent
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ensureAuthUser returns the auth user for the event email, creating it when
// none exists. A concurrent create is resolved by looking the user up again.
func (s *Service) ensureAuthUser(ctx context.Context, event paymentEvent) (*database.AuthUser, bool, error) {
	user, err := s.repo.FindAuthUserByEmail(ctx, event.Email)
	if err == nil {
		return user, false, nil
	}
	if !database.IsNotFound(err) {
		return nil, false, err
	}

	user, err = s.repo.CreateAuthUser(ctx, database.AuthUserCreate{
		Email:        event.Email,
		EmailConfirm: true,
		UserMetadata: map[string]interface{}{"full_name": event.Name},
		AppMetadata:  map[string]interface{}{"role": "member"},
	})
	if err == nil {
		return user, true, nil
	}
	if database.IsConflict(err) {
		user, err = s.repo.FindAuthUserByEmail(ctx, event.Email)
		return user, false, err
	}
	return nil, false, err
}

func parsePaymentEvent(body []byte) paymentEvent {
	return paymentEvent{
		Type:      gjson.GetBytes(body, "type").String(),
		Email:     firstString(body, emailPaths),
		Name:      firstString(body, namePaths),
		Reference: firstString(body, referencePaths),
	}
}

func firstString(body []byte, paths []string) string {
	for _, result := range gjson.GetManyBytes(body, paths...) {
		if v := result.String(); result.Type == gjson.String && v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// Password reset
// =============================================================================

// handleResetNotify records a reset request and tells support. The response
// is the same whether or not the address is known or throttled.
func (s *Service) handleResetNotify(w http.ResponseWriter, r *http.Request) {
	var input ResetNotifyInput
	if !s.decode(w, r, &input) {
		return
	}
	ctx := r.Context()
	now := s.now().UTC()

	recent, err := s.repo.CountResetRequestsSince(ctx, input.Email, now.Add(-time.Hour))
	if err != nil {
		s.Metrics().RecordAccountEvent("reset_notify", err)
		httputil.WriteServiceError(w, r, mapError(err))
		return
	}
	if recent >= MaxResetNoticesPerHour {
		s.Logger().LogSecurityEvent(ctx, "reset_notice_throttled", map[string]interface{}{
			"remote_ip": middleware.ClientIP(r),
			"recent":    recent,
		})
		httputil.WriteJSON(w, http.StatusAccepted, StatusResponse{Status: "accepted"})
		return
	}

	req := &database.ResetRequest{Email: input.Email, SourceIP: middleware.ClientIP(r), RequestedAt: now}
	err = s.repo.CreateResetRequest(ctx, req)
	s.Metrics().RecordAccountEvent("reset_notify", err)
	if err != nil {
		httputil.WriteServiceError(w, r, mapError(err))
		return
	}

	if s.supportEmail != "" {
		err = s.mailer.Send(ctx, Email{
			To:       []string{s.supportEmail},
			Subject:  "Password reset requested",
			Template: TemplateResetNotice,
			Data: map[string]interface{}{
				"Email":       req.Email,
				"SourceIP":    req.SourceIP,
				"RequestedAt": req.RequestedAt.Format(time.RFC3339),
			},
		})
		s.Metrics().RecordEmail(TemplateResetNotice, err)
		if err != nil {
			s.Logger().WithContext(ctx).WithError(err).Warn("reset notice email failed")
		}
	}
	httputil.WriteJSON(w, http.StatusAccepted, StatusResponse{Status: "accepted"})
}

// =============================================================================
// Helpers
// =============================================================================

// decode reads and validates a JSON body, writing the error response itself.
func (s *Service) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := httputil.DecodeJSON(r, v); err != nil {
		httputil.WriteServiceError(w, r, err)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		httputil.WriteServiceError(w, r, svcerrors.Validation(err).WithDetails("error", err.Error()))
		return false
	}
	return true
}

func templateLabel(name string) string {
	if name == "" {
		return "custom"
	}
	return name
}

func mapError(err error) *svcerrors.ServiceError {
	switch {
	case errors.Is(err, database.ErrInvalidInput):
		return svcerrors.BadRequest(err.Error())
	case database.IsNotFound(err):
		return svcerrors.NotFound("user", "")
	case database.IsConflict(err):
		return svcerrors.Conflict("Conflicting account state")
	default:
		return svcerrors.Upstream("Account storage request failed", err)
	}
}
