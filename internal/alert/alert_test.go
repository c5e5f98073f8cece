package alert

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewSMTPNotifier_requiresHostAndRecipients(t *testing.T) {
	if _, err := NewSMTPNotifier(SMTPConfig{Recipients: []string{"ops@example.com"}}); err == nil {
		t.Error("expected an error without a host")
	}
	if _, err := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com"}); err == nil {
		t.Error("expected an error without recipients")
	}
}

func TestSMTPNotifier_Notify(t *testing.T) {
	n, err := NewSMTPNotifier(SMTPConfig{
		Host:       "smtp.example.com",
		Port:       587,
		Username:   "ledger",
		Password:   "pw",
		From:       "ledger@example.com",
		Recipients: []string{"ops@example.com", "audit@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	n.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, auth, to, string(msg)
		return nil
	}

	err = n.Notify(context.Background(), Alert{
		Severity: SeverityCritical,
		Subject:  "chain integrity lost",
		Body:     "block 42: broken_link",
		RaisedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr: got %q", gotAddr)
	}
	if gotAuth == nil {
		t.Error("expected PLAIN auth when a username is set")
	}
	if len(gotTo) != 2 {
		t.Errorf("recipients: got %v", gotTo)
	}
	for _, want := range []string{
		"To: ops@example.com, audit@example.com",
		"Subject: [CRITICAL] chain integrity lost",
		"\r\n\r\nblock 42: broken_link",
	} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestSMTPNotifier_wrapsSendError(t *testing.T) {
	n, _ := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com", Port: 25, Recipients: []string{"ops@example.com"}})
	boom := errors.New("connection refused")
	n.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }

	if err := n.Notify(context.Background(), Alert{Subject: "x"}); !errors.Is(err, boom) {
		t.Errorf("expected the send error to be wrapped, got %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(zap.NewNop())
	if err := n.Notify(context.Background(), Alert{Severity: SeverityInfo, Subject: "chain restored"}); err != nil {
		t.Errorf("LogNotifier should never fail, got %v", err)
	}
}
