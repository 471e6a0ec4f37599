package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/LovationAdmin/memorial-api/utils"
)

// InvitationEmail is everything needed to render one invitation.
type InvitationEmail struct {
	To           string
	InviterName  string
	MemorialName string
	Role         string
	Token        string
	ExpiresAt    time.Time
}

// Mailer delivers invitation links.
type Mailer interface {
	SendInvitation(ctx context.Context, email InvitationEmail) error
}

// LogMailer only logs the invitation. Used when no email provider is set.
type LogMailer struct {
	FrontendURL string
}

func (m LogMailer) SendInvitation(_ context.Context, email InvitationEmail) error {
	log.Info().
		Str("to", utils.MaskEmail(email.To)).
		Str("link", utils.MaskString(invitationLink(m.FrontendURL, email.Token))).
		Msg("[Email] invitation not sent, no provider configured")
	return nil
}

func invitationLink(frontendURL, token string) string {
	return fmt.Sprintf("%s/invitation/accept?token=%s", strings.TrimRight(frontendURL, "/"), url.QueryEscape(token))
}

// ResendMailer sends email through the Resend HTTP API.
type ResendMailer struct {
	apiKey      string
	fromEmail   string
	frontendURL string
	endpoint    string
	httpClient  *http.Client
}

func NewResendMailer(apiKey, fromEmail, frontendURL string) *ResendMailer {
	return &ResendMailer{
		apiKey:      apiKey,
		fromEmail:   fromEmail,
		frontendURL: frontendURL,
		endpoint:    "https://api.resend.com/emails",
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

var invitationTemplate = template.Must(template.New("invitation").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Memorial invitation</title></head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background-color: #f3f4f6;">
  <table role="presentation" style="max-width: 600px; margin: 40px auto; background-color: #ffffff; border-radius: 12px;">
    <tr>
      <td style="padding: 40px;">
        <h2 style="margin: 0 0 20px 0; color: #1f2937;">You are invited to share memories</h2>
        <p style="color: #4b5563; font-size: 16px; line-height: 1.6;">
          <strong>{{.InviterName}}</strong> invited you to join the memorial for <strong>{{.MemorialName}}</strong> as {{.Role}}.
        </p>
        <p><a href="{{.Link}}" style="display: inline-block; padding: 16px 32px; background: #4b5563; color: #ffffff; text-decoration: none; border-radius: 8px;">Accept the invitation</a></p>
        <p style="color: #6b7280; font-size: 14px;">This link expires on {{.Expires}}.</p>
      </td>
    </tr>
  </table>
</body>
</html>`))

func (m *ResendMailer) SendInvitation(ctx context.Context, email InvitationEmail) error {
	if m.apiKey == "" {
		return fmt.Errorf("RESEND_API_KEY not configured")
	}

	var body bytes.Buffer
	err := invitationTemplate.Execute(&body, map[string]string{
		"InviterName":  email.InviterName,
		"MemorialName": email.MemorialName,
		"Role":         email.Role,
		"Link":         invitationLink(m.frontendURL, email.Token),
		"Expires":      email.ExpiresAt.Format("January 2, 2006"),
	})
	if err != nil {
		return fmt.Errorf("render invitation: %w", err)
	}

	payload := resendRequest{
		From:    m.fromEmail,
		To:      []string{email.To},
		Subject: fmt.Sprintf("%s invited you to the memorial for %s", email.InviterName, email.MemorialName),
		HTML:    body.String(),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("failed to send email: status %d", resp.StatusCode)
	}

	log.Info().Str("to", utils.MaskEmail(email.To)).Msg("[Email] invitation sent")
	return nil
}
