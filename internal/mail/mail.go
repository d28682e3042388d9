package mail

import (
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

// Address names one mailbox.
type Address struct {
	Name  string
	Email string
}

// Service sends plain-text mail over SMTP.
type Service struct {
	dialer *gomail.Dialer
}

// New creates a mail service bound to the given SMTP server.
func New(host string, port int, user, password string) *Service {
	return &Service{
		dialer: gomail.NewDialer(host, port, user, password),
	}
}

// Send delivers one message and returns the transport error, if any.
func (s *Service) Send(from, to Address, subject, body string) error {
	if s.dialer == nil {
		return fmt.Errorf("mail service not initialised")
	}
	if strings.TrimSpace(to.Email) == "" {
		return fmt.Errorf("recipient email missing")
	}

	message := gomail.NewMessage()
	message.SetAddressHeader("From", from.Email, from.Name)
	message.SetAddressHeader("To", to.Email, to.Name)
	message.SetHeader("Subject", subject)
	message.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(message); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to.Email, err)
	}
	return nil
}
