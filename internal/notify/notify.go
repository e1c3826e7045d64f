// Package notify implements lifecycle.Notifier (§3, §7): an email send over
// SMTP for the tenant-facing message, plus a best-effort post to an internal
// Slack channel so the ops team sees dunning escalations as they happen.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/slack-go/slack"

	"github.com/hostfleet/controlplane/internal/db"
	"github.com/hostfleet/controlplane/pkg/lifecycle"
)

// subjects maps each NotificationKind onto the tenant-facing email subject
// line (§7's three dunning-triggered notifications).
var subjects = map[lifecycle.NotificationKind]string{
	lifecycle.NotifyPaymentReminder: "Action required: your subscription payment is overdue",
	lifecycle.NotifyFinalWarning:    "Final warning: your site will be deleted soon",
	lifecycle.NotifyReactivation:    "Your site is active again",
}

// TenantLookup resolves the address to notify for a tenant. Kept narrow and
// separate from internal/db.Queries so notify never depends on the
// persistence package directly.
type TenantLookup interface {
	NotificationAddress(ctx context.Context, tenantID string) (string, error)
}

// DBLookup adapts internal/db.Queries to TenantLookup. Owner-account
// management (and therefore a real owner-email directory) is out of scope
// for this control plane; OwnerID is the opaque external identity reference
// the provisioning request carried in, and doubles as the delivery address
// until an identity service is wired in front of it.
type DBLookup struct {
	Queries *db.Queries
}

func (l *DBLookup) NotificationAddress(ctx context.Context, tenantID string) (string, error) {
	row, err := l.Queries.GetTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return row.OwnerID, nil
}

// Notifier sends dunning-triggered notifications over SMTP and mirrors them
// to an internal Slack channel.
type Notifier struct {
	SMTPAddr    string
	FromAddress string
	Lookup      TenantLookup
	Slack       *slack.Client
	SlackChannel string
	Logger      *slog.Logger
}

// New builds a Notifier. slackClient and slackChannel may be empty/nil to
// disable the secondary channel (e.g. in local development).
func New(smtpAddr, fromAddress string, lookup TenantLookup, slackClient *slack.Client, slackChannel string, logger *slog.Logger) *Notifier {
	return &Notifier{
		SMTPAddr:     smtpAddr,
		FromAddress:  fromAddress,
		Lookup:       lookup,
		Slack:        slackClient,
		SlackChannel: slackChannel,
		Logger:       logger,
	}
}

// Notify implements lifecycle.Notifier. A failed Slack post is logged but
// never fails the call — the email send is the notification of record.
func (n *Notifier) Notify(ctx context.Context, tenantID string, kind lifecycle.NotificationKind) error {
	addr, err := n.Lookup.NotificationAddress(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("resolving notification address for %s: %w", tenantID, err)
	}

	subject := subjects[kind]
	if subject == "" {
		subject = string(kind)
	}

	if err := n.sendEmail(addr, subject, bodyFor(kind, tenantID)); err != nil {
		return fmt.Errorf("sending %s email to tenant %s: %w", kind, tenantID, err)
	}

	n.postSlack(tenantID, kind)
	return nil
}

func (n *Notifier) sendEmail(to, subject, body string) error {
	if n.SMTPAddr == "" {
		n.Logger.Info("smtp not configured, skipping email", "to", to, "subject", subject)
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", n.FromAddress, to, subject, body)
	return smtp.SendMail(n.SMTPAddr, nil, n.FromAddress, []string{to}, []byte(msg))
}

func (n *Notifier) postSlack(tenantID string, kind lifecycle.NotificationKind) {
	if n.Slack == nil || n.SlackChannel == "" {
		return
	}
	text := fmt.Sprintf("tenant `%s`: %s", tenantID, kind)
	if _, _, err := n.Slack.PostMessage(n.SlackChannel, slack.MsgOptionText(text, false)); err != nil {
		n.Logger.Warn("posting dunning notification to slack failed", "tenant_id", tenantID, "error", err)
	}
}

func bodyFor(kind lifecycle.NotificationKind, tenantID string) string {
	switch kind {
	case lifecycle.NotifyPaymentReminder:
		return "Your subscription payment is overdue. Please update your billing details to avoid service interruption."
	case lifecycle.NotifyFinalWarning:
		return "Your account remains overdue. Your site and all its data will be permanently deleted if payment is not received."
	case lifecycle.NotifyReactivation:
		return "Payment received — your site has been reactivated."
	default:
		return "Notification: " + string(kind)
	}
}
