package activitypub

import (
	"github.com/deemkeen/fedigraph/domain"
)

// fanOutToFollowers enqueues one delivery per unique inbox among actor's
// accepted followers, preferring each follower's shared inbox over its
// personal one so a single POST reaches every local recipient on a
// federated host.
func fanOutToFollowers(db Database, activityId, actorId int64) (error, int) {
	err, followers := db.ReadFollowers(actorId, 10000, 0)
	if err != nil {
		return err, 0
	}
	return enqueueUniqueInboxes(db, activityId, followers)
}

// enqueueUniqueInboxes inserts one Delivery row per distinct inbox found
// across recipients, deduplicating shared inboxes so a host with many
// local followers gets a single POST.
func enqueueUniqueInboxes(db Database, activityId int64, recipients []domain.Actor) (error, int) {
	seen := make(map[string]bool)
	count := 0
	for _, r := range recipients {
		inbox := r.SharedInboxURI
		if inbox == "" {
			inbox = r.InboxURI
		}
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		if err, _ := db.EnqueueDelivery(activityId, inbox); err != nil {
			return err, count
		}
		count++
	}
	return nil, count
}

// enqueueSingleRecipient enqueues one delivery to a single actor's inbox,
// used for Accept/Reject/Undo responses that have exactly one counterparty.
func enqueueSingleRecipient(db Database, activityId int64, recipient *domain.Actor) error {
	inbox := recipient.SharedInboxURI
	if inbox == "" {
		inbox = recipient.InboxURI
	}
	if inbox == "" {
		return nil
	}
	err, _ := db.EnqueueDelivery(activityId, inbox)
	return err
}

// GetPendingDeliveries claims up to batch deliveries ready for another
// attempt, returning what the external worker needs to sign and POST
// each one without a second round trip.
func GetPendingDeliveries(db Database, batch int) (error, []domain.DeliveryJob) {
	return db.ClaimPendingDeliveries(batch)
}

// DeliverySuccess records a successful outbound POST.
func DeliverySuccess(db Database, deliveryId int64, statusCode int) error {
	return db.MarkDeliverySuccess(deliveryId, statusCode)
}

// DeliveryFailure records a failed outbound POST, expiring the delivery
// once conf.MaxDeliveryAttempts have been made.
func DeliveryFailure(db Database, deliveryId int64, errMsg string, statusCode int, maxAttempts int) error {
	return db.MarkDeliveryFailure(deliveryId, errMsg, statusCode, maxAttempts)
}

// DeliveryStatsSnapshot returns a status -> count map.
func DeliveryStatsSnapshot(db Database) (error, map[string]int64) {
	return db.DeliveryStats()
}
