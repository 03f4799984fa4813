package pio

// This file defines pluggable alert handlers for when a worker fails.

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// Fault describes a worker that stopped on an error.
type Fault struct {
	Worker string
	Err    error
	At     time.Time
}

// AlertHandler represents a mechanism that can send an alert when a worker
// fails.  Implementations may deliver notifications via email, SMS or other
// channels.  The Send method receives the fault and a logger to record any
// diagnostics.  If an error is returned, the caller should log it but
// continue operation.
type AlertHandler interface {
	Name() string
	Send(f Fault, logger *EventLogger) error
}

// LogAlert logs a simple message to the event logger when a worker fails.
// This is the default alert handler if no other alerts are configured.
type LogAlert struct{}

// Name returns the type name of the alert handler.
func (LogAlert) Name() string { return "log" }

// Send writes an alert to the event log.
func (LogAlert) Send(f Fault, logger *EventLogger) error {
	logger.Log("alert: worker %s failed: %v", f.Worker, f.Err)
	return nil
}

// EmailAlert sends an email via an SMTP server when a worker fails.  All
// configuration values are supplied via the corresponding AlertConfig in
// the config file.  The subject defaults to "pio alert" if empty.
type EmailAlert struct {
	SMTPServer string
	SMTPPort   int
	Username   string
	Password   string
	From       string
	To         string
	Subject    string
}

// Name returns the type name of the alert handler.
func (EmailAlert) Name() string { return "email" }

// Send dispatches an email.  It composes a minimal plaintext message with a
// subject and body describing the fault.  Errors from smtp.SendMail are
// returned directly so the caller can log them.
func (e EmailAlert) Send(f Fault, logger *EventLogger) error {
	addr := fmt.Sprintf("%s:%d", e.SMTPServer, e.SMTPPort)
	auth := smtp.PlainAuth("", e.Username, e.Password, e.SMTPServer)
	return smtp.SendMail(addr, auth, e.From, []string{e.To}, e.message(f))
}

// message composes headers and body.  RFC 5322 requires CRLF line endings.
func (e EmailAlert) message(f Fault) []byte {
	subject := e.Subject
	if subject == "" {
		subject = "pio alert"
	}
	body := fmt.Sprintf("Worker %s stopped at %s: %v", f.Worker, f.At.Format(time.RFC3339), f.Err)
	return []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", e.To, subject, body))
}

// NewAlertHandlers builds handlers from configuration.  Unknown types are
// skipped; with nothing usable configured a LogAlert is returned.
func NewAlertHandlers(cfgs []AlertConfig) []AlertHandler {
	var handlers []AlertHandler
	for _, ac := range cfgs {
		switch strings.ToLower(ac.Type) {
		case "log":
			handlers = append(handlers, LogAlert{})
		case "email":
			handlers = append(handlers, EmailAlert{
				SMTPServer: ac.SMTPServer,
				SMTPPort:   ac.SMTPPort,
				Username:   ac.Username,
				Password:   ac.Password,
				From:       ac.From,
				To:         ac.To,
				Subject:    ac.Subject,
			})
		}
	}
	if len(handlers) == 0 {
		handlers = append(handlers, LogAlert{})
	}
	return handlers
}
