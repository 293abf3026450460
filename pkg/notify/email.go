package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/agentmesh/agentmesh/pkg/types"
)

// sendMailFunc matches smtp.SendMail; swapped out in tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSink sends alert mail through a plain SMTP relay.
type EmailSink struct {
	host     string
	port     string
	username string
	password string
	from     string
	send     sendMailFunc
}

// NewEmailSink builds an email sink for the given relay.
func NewEmailSink(host, port, username, password, from string) *EmailSink {
	return &EmailSink{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		send:     smtp.SendMail,
	}
}

func (s *EmailSink) Kind() string { return "email" }

func (s *EmailSink) Deliver(_ context.Context, alert types.Alert, rule types.AlertRule, cfg types.SinkConfig) error {
	to := cfg.Settings["to"]
	if to == "" {
		return fmt.Errorf("email sink requires a to setting")
	}
	recipients := strings.Split(to, ",")

	subject := fmt.Sprintf("[%s] alert: %s", strings.ToUpper(string(rule.Severity)), rule.Name)
	body := fmt.Sprintf(
		"Alert %s is %s.\r\nRule: %s\r\nMetric: %s %s %.4g\r\nObserved value: %.4g\r\nTriggered: %s\r\n",
		alert.ID, alert.State, rule.Name, rule.MetricName, rule.Operator, rule.Threshold,
		alert.Value, alert.TriggeredAt.Format("2006-01-02 15:04:05 MST"))

	var msg strings.Builder
	msg.WriteString("From: " + s.from + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	addr := s.host + ":" + s.port
	if err := s.send(addr, auth, s.from, recipients, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}
