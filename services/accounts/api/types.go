package api

// CreateUserInput provisions a user from the admin console.
type CreateUserInput struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password,omitempty" validate:"omitempty,min=8,max=72"`
	FullName string `json:"full_name,omitempty" validate:"max=200"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=member admin"`
}

// UserResponse describes a provisioned user.
type UserResponse struct {
	UserID             string `json:"user_id"`
	Email              string `json:"email"`
	Created            bool   `json:"created"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
	EmailSent          *bool  `json:"email_sent,omitempty"`
}

// SendEmailInput sends a transactional email. Either a body or a template is required.
type SendEmailInput struct {
	To       []string               `json:"to" validate:"required,min=1,max=50,dive,email"`
	Subject  string                 `json:"subject" validate:"required,max=200"`
	HTML     string                 `json:"html,omitempty" validate:"required_without_all=Text Template"`
	Text     string                 `json:"text,omitempty"`
	Template string                 `json:"template,omitempty" validate:"omitempty,oneof=welcome reset_notice"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// ResetNotifyInput reports a password reset request.
type ResetNotifyInput struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

// StatusResponse is a minimal acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// paymentEvent is the subset of a payment webhook the handler needs.
type paymentEvent struct {
	Type      string
	Email     string
	Name      string
	Reference string
}
