package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPSettings configures the email channel.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
}

// EmailChannel sends plain-text mail; the contact address is the recipient.
type EmailChannel struct {
	settings SMTPSettings
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time
}

func NewEmailChannel(settings SMTPSettings) *EmailChannel {
	if settings.Port == 0 {
		settings.Port = 25
	}
	return &EmailChannel{settings: settings, sendMail: smtp.SendMail, now: time.Now}
}

func (e *EmailChannel) Type() string { return "email" }

func (e *EmailChannel) Send(ctx context.Context, address string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.Contains(address, "@") {
		return fmt.Errorf("invalid email address %q", address)
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		e.settings.Sender,
		address,
		msg.Subject(),
		e.now().UTC().Format(time.RFC1123Z),
		strings.ReplaceAll(msg.Text(), "\n", "\r\n"),
	)

	var auth smtp.Auth
	if e.settings.Username != "" {
		auth = smtp.PlainAuth("", e.settings.Username, e.settings.Password, e.settings.Host)
	}
	addr := net.JoinHostPort(e.settings.Host, strconv.Itoa(e.settings.Port))
	return e.sendMail(addr, auth, e.settings.Sender, []string{address}, []byte(body))
}
