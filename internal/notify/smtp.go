package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// smtpDeliverer connects, STARTTLS if configured, AUTHs if credentials are
// present, and sends DATA to each recipient (spec §4.8 Email channel).
type smtpDeliverer struct{}

func (smtpDeliverer) Deliver(ctx context.Context, ch Channel, rendered Message) error {
	if ch.SMTPHost == "" || len(ch.To) == 0 {
		return fmt.Errorf("email channel %q: smtp_host and to are required", ch.Name)
	}

	addr := fmt.Sprintf("%s:%d", ch.SMTPHost, ch.SMTPPort)
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("email channel %q: dial %s: %w", ch.Name, addr, err)}
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, ch.SMTPHost)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("email channel %q: smtp handshake: %w", ch.Name, err)}
	}
	defer client.Close()

	if ch.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: ch.SMTPHost}); err != nil {
				return &TransientError{Err: fmt.Errorf("email channel %q: starttls: %w", ch.Name, err)}
			}
		}
	}

	if ch.Username != "" {
		auth := smtp.PlainAuth("", ch.Username, ch.Password, ch.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("email channel %q: auth: %w", ch.Name, err)
		}
	}

	if err := client.Mail(ch.From); err != nil {
		return &TransientError{Err: fmt.Errorf("email channel %q: MAIL FROM: %w", ch.Name, err)}
	}
	for _, rcpt := range ch.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("email channel %q: RCPT TO %s: %w", ch.Name, rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return &TransientError{Err: fmt.Errorf("email channel %q: DATA: %w", ch.Name, err)}
	}
	msg := buildMessage(ch, rendered)
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("email channel %q: write body: %w", ch.Name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email channel %q: close data: %w", ch.Name, err)
	}
	return client.Quit()
}

func buildMessage(ch Channel, rendered Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", ch.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(ch.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", rendered.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("\r\n")
	b.WriteString(rendered.Body)
	return b.String()
}
