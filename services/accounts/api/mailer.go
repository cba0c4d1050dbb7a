package api

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"

	"github.com/vitalis-labs/service_layer/internal/httputil"
)

// Email template names.
const (
	TemplateWelcome     = "welcome"
	TemplateResetNotice = "reset_notice"
)

var templates = template.Must(template.New(TemplateWelcome).Parse(`<p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
<p>Thanks for joining. Your account is ready: sign in with {{.Email}} to start your journey.</p>
{{if .SetPasswordURL}}<p><a href="{{.SetPasswordURL}}">Set your password</a></p>{{end}}`))

func init() {
	template.Must(templates.New(TemplateResetNotice).Parse(`<p>A password reset was requested.</p>
<ul><li>Email: {{.Email}}</li><li>Source: {{.SourceIP}}</li><li>At: {{.RequestedAt}}</li></ul>`))
}

// Email is one outgoing message. HTML wins over Template when both are set.
type Email struct {
	To       []string
	Subject  string
	HTML     string
	Text     string
	Template string
	Data     map[string]interface{}
}

// Mailer sends transactional email.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// RenderTemplate renders a named template with data.
func RenderTemplate(name string, data interface{}) (string, error) {
	t := templates.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// ResendMailer sends email through a Resend compatible HTTP API.
type ResendMailer struct {
	client *httputil.APIClient
	from   string
}

// NewResendMailer creates a mailer posting to baseURL/emails.
func NewResendMailer(baseURL, apiKey, from string, httpClient *http.Client) *ResendMailer {
	return &ResendMailer{
		client: httputil.NewAPIClient(httputil.APIClientConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			HTTPClient: httpClient,
		}),
		from: from,
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}

// Send implements Mailer. Sends are never retried.
func (m *ResendMailer) Send(ctx context.Context, email Email) error {
	if len(email.To) == 0 {
		return fmt.Errorf("email has no recipients")
	}
	html := email.HTML
	if html == "" && email.Template != "" {
		rendered, err := RenderTemplate(email.Template, email.Data)
		if err != nil {
			return err
		}
		html = rendered
	}
	if html == "" && email.Text == "" {
		return fmt.Errorf("email has no body")
	}

	resp, err := m.client.Post(ctx, "/emails", resendRequest{
		From:    m.from,
		To:      email.To,
		Subject: email.Subject,
		HTML:    html,
		Text:    email.Text,
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	var out resendResponse
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
