package app

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"email-login/delivery/model"
)

const (
	verifyPath       = "/api/auth/verify"
	magicLinkSubject = "Your login link"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MagicLinkSender mails a signed, short-lived login link.
type MagicLinkSender struct {
	signer   Signer
	verifier *Verifier
	mailer   Mailer
	logger   *zap.Logger
	baseURL  string
	issuer   string
	ttl      time.Duration
	now      func() time.Time
}

func NewMagicLinkSender(signer Signer, verifier *Verifier, mailer Mailer, baseURL, issuer string, ttl time.Duration, logger *zap.Logger) *MagicLinkSender {
	return &MagicLinkSender{
		signer:   signer,
		verifier: verifier,
		mailer:   mailer,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
		issuer:   issuer,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MagicLinkSender) SendLoginEmail(ctx context.Context, email string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   email,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token, err := s.signer.Sign(ctx, claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign login token: %w", err)
	}

	link := s.baseURL + verifyPath + "?token=" + url.QueryEscape(token)
	msg := Message{
		To:      email,
		Subject: magicLinkSubject,
		Body: fmt.Sprintf("Use the link below to log in. It expires in %s.\n\n%s\n",
			s.ttl.Round(time.Minute), link),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to send login email: %w", err)
	}

	s.logger.Info("login link sent", zap.String("jti", claims.ID))
	return model.MessageLoginSent, nil
}

// VerifyLoginToken returns the email a magic-link token was issued for.
func (s *MagicLinkSender) VerifyLoginToken(ctx context.Context, token string) (string, error) {
	claims, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// LogMailer writes messages to the log instead of delivering them.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// SMTPMailer delivers messages through an SMTP relay.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer uses PLAIN auth when username is set.
func NewSMTPMailer(addr, from, username, password string) *SMTPMailer {
	var auth smtp.Auth
	if username != "" {
		host := addr
		if i := strings.LastIndex(addr, ":"); i >= 0 {
			host = addr[:i]
		}
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPMailer{addr: addr, from: from, auth: auth, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return errors.New("invalid header value")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))

	if err := m.send(m.addr, m.auth, m.from, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", m.addr, err)
	}
	return nil
}
