package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResendMailerSend(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	m := NewResendMailer(srv.URL, "re_key", "Coach <coach@example.com>", srv.Client())
	err := m.Send(context.Background(), Email{
		To:       []string{"ada@example.com"},
		Subject:  "Welcome",
		Template: TemplateWelcome,
		Data:     map[string]interface{}{"Name": "Ada", "Email": "ada@example.com", "SetPasswordURL": ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "Coach <coach@example.com>", got.From)
	assert.Contains(t, got.HTML, "Hi Ada")
	assert.Contains(t, got.HTML, "ada@example.com")
}

func TestResendMailerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	m := NewResendMailer(srv.URL, "k", "from@example.com", srv.Client())

	err := m.Send(context.Background(), Email{To: []string{"a@example.com"}, Subject: "s", Text: "t"})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "sends are not retried")

	assert.Error(t, m.Send(context.Background(), Email{Subject: "s", Text: "t"}), "no recipients")
	assert.Error(t, m.Send(context.Background(), Email{To: []string{"a@example.com"}, Subject: "s"}), "no body")
	assert.Error(t, m.Send(context.Background(), Email{To: []string{"a@example.com"}, Template: "missing"}), "unknown template")
}

func TestRenderTemplateEscapes(t *testing.T) {
	html, err := RenderTemplate(TemplateResetNotice, map[string]interface{}{
		"Email": "<script>@example.com", "SourceIP": "10.0.0.1", "RequestedAt": "now",
	})
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "10.0.0.1")
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"ok":true}`)
	sig := Sign(secret, body)

	assert.True(t, VerifySignature(secret, body, sig))
	assert.True(t, VerifySignature(secret, body, "sha256="+sig))
	assert.False(t, VerifySignature(secret, []byte(`{"ok":false}`), sig))
	assert.False(t, VerifySignature(secret, body, "zz"))
	assert.False(t, VerifySignature(nil, body, sig))
}
