// Package email sends transactional mail (verification, password reset,
// organization invitations) over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

const appName = "Inkwell"

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody, textBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	msg := buildMessage(s.fromHeader(), to, subject, htmlBody, textBody)
	if err := s.send(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *Service) fromHeader() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
}

func buildMessage(from string, to []string, subject, htmlBody, textBody string) []byte {
	const boundary = "inkwell-alt-boundary"
	if strings.TrimSpace(textBody) == "" {
		textBody = "Please view this email in an HTML-capable email client."
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, textBody)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

type InvitationData struct {
	AppName          string
	InviterName      string
	OrganizationName string
	Role             string
	AcceptURL        string
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	html, err := render("verification", VerificationData{AppName: appName, UserName: userName, VerificationURL: verificationURL})
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Verify your %s account: %s", appName, verificationURL)
	return s.SendHTMLEmail([]string{to}, "Verify your "+appName+" account", html, text)
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	html, err := render("reset", PasswordResetData{AppName: appName, UserName: userName, ResetURL: resetURL})
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Reset your %s password: %s", appName, resetURL)
	return s.SendHTMLEmail([]string{to}, "Reset your "+appName+" password", html, text)
}

func (s *Service) SendInvitationEmail(to string, data InvitationData) error {
	data.AppName = appName
	html, err := render("invitation", data)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("You have been invited to %s on %s", data.OrganizationName, appName)
	text := fmt.Sprintf("%s invited you to join %s as %s: %s", data.InviterName, data.OrganizationName, data.Role, data.AcceptURL)
	return s.SendHTMLEmail([]string{to}, subject, html, text)
}

var templates = template.Must(template.New("email").Parse(layoutTemplate))

func init() {
	template.Must(templates.New("verification").Parse(verificationBody))
	template.Must(templates.New("reset").Parse(resetBody))
	template.Must(templates.New("invitation").Parse(invitationBody))
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

const layoutTemplate = `{{define "head"}}<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<style>
body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #1f2328; max-width: 560px; margin: 0 auto; padding: 24px; }
.button { display: inline-block; padding: 10px 20px; background: #18181b; color: #fff; text-decoration: none; border-radius: 6px; }
.muted { font-size: 12px; color: #6b7280; }
.link { word-break: break-all; }
</style>
</head>
<body>
<h1>{{.AppName}}</h1>
{{end}}
{{define "foot"}}</body>
</html>{{end}}`

const verificationBody = `{{template "head" .}}
<p>Welcome, {{.UserName}}.</p>
<p>Confirm your email address to finish creating your account.</p>
<p><a href="{{.VerificationURL}}" class="button">Verify email</a></p>
<p class="link">{{.VerificationURL}}</p>
<p class="muted">This link expires in 24 hours. If you did not sign up, ignore this email.</p>
{{template "foot" .}}`

const resetBody = `{{template "head" .}}
<p>Hi {{.UserName}},</p>
<p>Someone asked to reset the password for your account.</p>
<p><a href="{{.ResetURL}}" class="button">Choose a new password</a></p>
<p class="link">{{.ResetURL}}</p>
<p class="muted">This link expires in 1 hour. Your password stays the same unless you use it.</p>
{{template "foot" .}}`

const invitationBody = `{{template "head" .}}
<p>{{.InviterName}} invited you to join <strong>{{.OrganizationName}}</strong> as {{.Role}}.</p>
<p><a href="{{.AcceptURL}}" class="button">Open invitation</a></p>
<p class="link">{{.AcceptURL}}</p>
<p class="muted">The invitation expires in 48 hours.</p>
{{template "foot" .}}`
