package lifecycle

import "context"

// Notifier is the opaque outbound notification collaborator (§3, §7):
// email/SMTP today, optionally a secondary out-of-band channel. The
// lifecycle machine only knows it can send a named notification kind to a
// tenant — it never knows delivery mechanics.
type Notifier interface {
	Notify(ctx context.Context, tenantID string, kind NotificationKind) error
}

// NotificationKind enumerates the lifecycle-triggered notifications.
type NotificationKind string

const (
	NotifyPaymentReminder   NotificationKind = "payment_reminder"
	NotifyFinalWarning      NotificationKind = "final_warning"
	NotifyReactivation      NotificationKind = "reactivation"
)
