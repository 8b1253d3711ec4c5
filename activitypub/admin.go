package activitypub

import (
	"time"

	"github.com/deemkeen/fedigraph/domain"
)

// BlockDomain adds an instance-wide moderation entry. Existing content
// from the domain is left in place; only future inbound activity and
// outbound delivery are affected.
func BlockDomain(db Database, domainName string) error {
	return db.BlockDomain(domainName)
}

// UnblockDomain removes a moderation entry.
func UnblockDomain(db Database, domainName string) error {
	return db.UnblockDomain(domainName)
}

// BlockedDomains lists every domain currently blocked.
func BlockedDomains(db Database) (error, []string) {
	return db.ListBlockedDomains()
}

// IsDomainBlocked reports whether domainName is on the block list, honoring
// the same subdomain-matching rule the inbox dispatcher applies.
func IsDomainBlocked(db Database, domainName string, matchSubdomains bool) (bool, error) {
	return db.IsDomainBlocked(domainName, matchSubdomains)
}

// SearchObjects runs a content search over local and cached remote
// objects, most recent first.
func SearchObjects(db Database, query string, limit int) (error, []domain.Object) {
	if limit <= 0 || limit > PageSize {
		limit = PageSize
	}
	return db.SearchObjects(query, limit)
}

// HomeTimeline returns the most recent public and unlisted top-level
// objects of local actors, the aggregate feed a proxy's home view renders.
// It is not scoped to one actor's follows and takes no cursor.
func HomeTimeline(db Database, limit int) (error, []domain.Object) {
	if limit <= 0 || limit > PageSize {
		limit = PageSize
	}
	return db.ReadHomeTimeline(limit)
}

// CleanupExpiredDeliveries deletes terminal delivery rows older than
// olderThan, the periodic housekeeping the external worker or a cron
// invocation runs.
func CleanupExpiredDeliveries(db Database, olderThan time.Duration) (error, int64) {
	return db.CleanupExpiredDeliveries(olderThan)
}

// RefreshActorStats recomputes an actor's denormalized counters from
// first principles.
func RefreshActorStats(db Database, actorId int64) error {
	return db.RefreshActorStats(actorId)
}
