// Package notify implements the notification dispatcher (C8): channel
// registry, templated rendering, cooldown gating, and retry/backoff
// delivery over webhook and SMTP transports. Grounded on the teacher's
// progress-reporting style (output.Progress, generalized into a leveled
// Logger per SPEC_FULL.md) for structured logging of delivery attempts,
// and on the remote-write retry shape in other_examples
// (1cb0b3ac_grafana-k6 prometheusrw/remotewrite.go) for the
// retry/backoff state machine.
package notify

import (
	"context"
	"fmt"
)

// ChannelKind enumerates the transports spec §3 NotificationChannel supports.
type ChannelKind string

const (
	ChannelTeams    ChannelKind = "teams"
	ChannelSlack    ChannelKind = "slack"
	ChannelDiscord  ChannelKind = "discord"
	ChannelEmail    ChannelKind = "email"
	ChannelWebhook  ChannelKind = "webhook"
)

// Channel is one configured notification destination (spec §3).
type Channel struct {
	Name    string
	Kind    ChannelKind
	Enabled bool

	// Webhook-family (teams/slack/discord/webhook) fields.
	URL     string
	Headers map[string]string

	// Email fields.
	SMTPHost string
	SMTPPort int
	From     string
	To       []string
	Username string
	Password string
	UseTLS   bool

	// Template is the message body template; empty uses the channel
	// kind's default template (spec §4.8).
	Template string
}

// Deliverer sends a rendered message to one channel. Implemented by
// webhookDeliverer and smtpDeliverer.
type Deliverer interface {
	Deliver(ctx context.Context, ch Channel, rendered Message) error
}

// Message is a rendered notification ready for delivery.
type Message struct {
	Subject string
	Body    string
}

// delivererForVar is a package-level indirection over delivererFor so
// tests can substitute a fake transport without touching the network.
var delivererForVar = delivererFor

func delivererFor(kind ChannelKind) (Deliverer, error) {
	switch kind {
	case ChannelTeams, ChannelSlack, ChannelDiscord, ChannelWebhook:
		return webhookDeliverer{}, nil
	case ChannelEmail:
		return smtpDeliverer{}, nil
	default:
		return nil, fmt.Errorf("unknown channel kind %q", kind)
	}
}
