// Package email delivers lifecycle notifications over SMTP.
package email

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"

	"vetline_backend/platform/config"
)

// Sender delivers the notification emails the request lifecycle produces.
type Sender interface {
	SendRecommendationReady(ctx context.Context, toEmail, summary string, topCount int) error
	SendBookingConfirmed(ctx context.Context, toEmail, scheduled string) error
	SendRequestFailed(ctx context.Context, toEmail, reason string) error
}

// SMTPSender implements Sender with a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates a sender from the email configuration. Returns nil
// when email delivery is disabled, callers treat a nil sender as a no-op.
func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	if !cfg.IsEmailEnabled() || cfg.GetSMTPHost() == "" {
		return nil
	}
	return &SMTPSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
	}
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) SendRecommendationReady(ctx context.Context, toEmail, summary string, topCount int) error {
	if s == nil {
		return nil
	}
	content, err := renderEmailTemplate("recommendation_ready.html", recommendationReadyData{
		baseEmailData: baseEmailData{
			Title:   subjectRecommendationReady,
			Heading: "Your shortlist is ready",
		},
		Summary:  summary,
		TopCount: topCount,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectRecommendationReady, content)
}

func (s *SMTPSender) SendBookingConfirmed(ctx context.Context, toEmail, scheduled string) error {
	if s == nil {
		return nil
	}
	content, err := renderEmailTemplate("booking_confirmed.html", bookingConfirmedData{
		baseEmailData: baseEmailData{
			Title:   subjectBookingConfirmed,
			Heading: "Appointment confirmed",
		},
		Scheduled: scheduled,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectBookingConfirmed, content)
}

func (s *SMTPSender) SendRequestFailed(ctx context.Context, toEmail, reason string) error {
	if s == nil {
		return nil
	}
	content, err := renderEmailTemplate("request_failed.html", requestFailedData{
		baseEmailData: baseEmailData{
			Title:   subjectRequestFailed,
			Heading: "Request not completed",
		},
		Reason: reason,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectRequestFailed, content)
}
