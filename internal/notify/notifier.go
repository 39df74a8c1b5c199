// Package notify fans in-app notifications out to family members when admin-claim
// activity happens. Delivery is strictly best-effort: a failed insert is logged and
// counted, never surfaced to the operation that triggered it.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heirloom-app/heirloom/internal/db/models"
	"github.com/heirloom-app/heirloom/internal/telemetry"
)

// NotificationStore is the slice of the notification repository the notifier needs
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

// Notifier writes one notification row per recipient
type Notifier struct {
	store NotificationStore
}

// New creates a notifier
func New(store NotificationStore) *Notifier {
	return &Notifier{store: store}
}

// ClaimCreated notifies recipients that a new admin claim was opened on their family
func (n *Notifier) ClaimCreated(claim *models.AdminClaim, familyName string, recipients []string) {
	title := "Admin claim opened"
	message := fmt.Sprintf("A member has claimed admin rights for %s. You can support or oppose the claim.", familyName)
	if claim.ClaimType == models.ClaimTypeEmailChallenge {
		message = fmt.Sprintf("A member has claimed admin rights for %s via an email challenge to the original owner.", familyName)
	}
	n.deliver(claim, models.NotificationClaimCreated, title, message, recipients)
}

// ClaimTransition notifies recipients that a claim changed status
func (n *Notifier) ClaimTransition(claim *models.AdminClaim, previous, familyName string, recipients []string) {
	notificationType, title, message := transitionContent(claim, familyName)
	if notificationType == "" {
		return
	}
	n.deliver(claim, notificationType, title, message, recipients)
}

func transitionContent(claim *models.AdminClaim, familyName string) (notificationType, title, message string) {
	switch claim.Status {
	case models.ClaimStatusApproved:
		deadline := ""
		if claim.CoolingOffUntil != nil {
			deadline = claim.CoolingOffUntil.Format("January 2, 2006")
		}
		return models.NotificationClaimApproved, "Admin claim approved",
			fmt.Sprintf("The admin claim for %s was approved. Rights transfer after the cooling-off period ends on %s.", familyName, deadline)
	case models.ClaimStatusDenied:
		return models.NotificationClaimDenied, "Admin claim denied",
			fmt.Sprintf("The admin claim for %s was denied by a majority of family members.", familyName)
	case models.ClaimStatusExpired:
		return models.NotificationClaimExpired, "Admin claim expired",
			fmt.Sprintf("The admin claim for %s expired before it could be verified.", familyName)
	case models.ClaimStatusGranted:
		return models.NotificationClaimGranted, "Admin rights transferred",
			fmt.Sprintf("The cooling-off period ended and admin rights for %s have been transferred.", familyName)
	}
	return "", "", ""
}

func (n *Notifier) deliver(claim *models.AdminClaim, notificationType, title, message string, recipients []string) {
	for _, recipient := range recipients {
		notification := &models.Notification{
			RecipientID:      recipient,
			ClaimID:          &claim.ID,
			NotificationType: notificationType,
			Title:            title,
			Message:          message,
		}
		if err := n.store.Create(context.Background(), notification); err != nil {
			telemetry.NotificationFailuresTotal.Inc()
			slog.Error("failed to insert notification",
				"recipient_id", recipient, "claim_id", claim.ID, "type", notificationType, "error", err)
			continue
		}
		telemetry.NotificationsSentTotal.Inc()
	}
}
