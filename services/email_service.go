package services

import (
	"bytes"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/Dosada05/presenza-calcio/config"
)

//go:embed templates/*.html
var emailTemplates embed.FS

// Mailer sends the transactional emails of the privacy flows.
type Mailer interface {
	SendParentalConsentEmail(to, parentName, childName, relationship, confirmationLink string) error
}

type EmailService struct {
	cfg       *config.Config
	templates *template.Template
	timeout   time.Duration
}

func NewEmailService(cfg *config.Config) (*EmailService, error) {
	t, err := template.ParseFS(emailTemplates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	return &EmailService{cfg: cfg, templates: t, timeout: cfg.UpstreamTimeout}, nil
}

// addr is the SMTP dial address; IPv6 hosts are bracketed.
func (s *EmailService) addr() string {
	return net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
}

func (s *EmailService) SendEmail(to []string, subject string, body string) error {
	auth := smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)

	msg := []byte("To: " + to[0] + "\r\n" +
		"From: " + s.cfg.SMTPFrom + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-version: 1.0;\r\nContent-Type: text/html; charset=\"UTF-8\";\r\n" +
		"\r\n" +
		body + "\r\n")

	addr := s.addr()
	tlsconfig := &tls.Config{ServerName: s.cfg.SMTPHost}
	dialer := &net.Dialer{Timeout: s.timeout}

	var client *smtp.Client
	if s.cfg.SMTPPort == 465 {
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsconfig)
		if err != nil {
			return fmt.Errorf("smtp tls dial: %w", err)
		}
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
		client, err = smtp.NewClient(conn, s.cfg.SMTPHost)
		if err != nil {
			conn.Close()
			return fmt.Errorf("smtp client: %w", err)
		}
	} else {
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return fmt.Errorf("smtp dial: %w", err)
		}
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
		client, err = smtp.NewClient(conn, s.cfg.SMTPHost)
		if err != nil {
			conn.Close()
			return fmt.Errorf("smtp client: %w", err)
		}
		if err = client.StartTLS(tlsconfig); err != nil {
			client.Close()
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	defer client.Quit()

	if s.cfg.SMTPUser != "" {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.cfg.SMTPFrom); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("smtp close DATA: %w", err)
	}
	return nil
}

func (s *EmailService) GenerateEmailBody(name string, data any) (string, error) {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, name, data); err != nil {
		return "", fmt.Errorf("failed to render email template %s: %w", name, err)
	}
	return body.String(), nil
}

func (s *EmailService) SendParentalConsentEmail(to, parentName, childName, relationship, confirmationLink string) error {
	subject := "PresenzaCalcio: conferma del consenso genitoriale"
	data := struct {
		ParentName       string
		ChildName        string
		Relationship     string
		ConfirmationLink string
	}{
		ParentName:       parentName,
		ChildName:        childName,
		Relationship:     relationship,
		ConfirmationLink: confirmationLink,
	}
	htmlBody, err := s.GenerateEmailBody("parental_consent.html", data)
	if err != nil {
		return err
	}
	return s.SendEmail([]string{to}, subject, htmlBody)
}
