package alert

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig configures an SMTPNotifier.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier emails alerts to a fixed recipient list.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewSMTPNotifier creates an SMTPNotifier. Port 465 uses implicit TLS; other
// ports use STARTTLS when the server offers it.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if len(cfg.Recipients) == 0 {
		return nil, errors.New("at least one alert recipient is required")
	}
	n := &SMTPNotifier{cfg: cfg}
	if cfg.Port == 465 {
		n.send = n.sendImplicitTLS
	} else {
		n.send = smtp.SendMail
	}
	return n, nil
}

// Notify implements Notifier.
func (n *SMTPNotifier) Notify(_ context.Context, a Alert) error {
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.send(addr, auth, n.cfg.From, n.cfg.Recipients, n.message(a)); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

func (n *SMTPNotifier) message(a Alert) []byte {
	raised := a.RaisedAt
	if raised.IsZero() {
		raised = time.Now()
	}
	return []byte(strings.Join([]string{
		"From: " + n.cfg.From,
		"To: " + strings.Join(n.cfg.Recipients, ", "),
		fmt.Sprintf("Subject: [%s] %s", strings.ToUpper(string(a.Severity)), a.Subject),
		"Date: " + raised.UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		a.Body,
	}, "\r\n"))
}

func (n *SMTPNotifier) sendImplicitTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	host, _, _ := net.SplitHostPort(addr)
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("smtp tls dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	return wc.Close()
}
