package activitypub

import (
	"time"

	"github.com/deemkeen/fedigraph/domain"
)

// Database is the storage surface the protocol core calls through. Its
// shape mirrors db.DB's method set exactly so the production *db.DB
// satisfies it with no adapter code, while still letting tests substitute
// a lightweight in-memory fake.
type Database interface {
	CreateLocalActor(a *domain.Actor) (error, *domain.Actor)
	UpsertRemoteActor(a *domain.Actor) (error, *domain.Actor)
	ReadActorByURI(uri string) (error, *domain.Actor)
	ReadActorById(id int64) (error, *domain.Actor)
	ReadLocalActorByUsername(username string) (error, *domain.Actor)

	CreateKeyPair(k *domain.KeyPair) error
	ReadKeyByActorId(actorId int64) (error, *domain.KeyPair)

	CreateObject(o *domain.Object) (error, *domain.Object)
	ReadObjectByURI(uri string) (error, *domain.Object)
	UpdateObject(uri, content, summary string) error
	SoftDeleteObject(uri string) error
	ReadOutbox(actorId int64, limit int) (error, []domain.Object)
	ReadHomeTimeline(limit int) (error, []domain.Object)
	SearchObjects(query string, limit int) (error, []domain.Object)

	CreateActivity(act *domain.Activity) (error, *domain.Activity)
	MarkActivityProcessed(id int64) error
	ReadActivityByURI(uri string) (error, *domain.Activity)

	CreateFollow(f *domain.Follow) (error, *domain.Follow)
	AcceptFollowByURI(uri string) error
	ReadFollowByPair(followerId, followingId int64) (error, *domain.Follow)
	DeleteFollowByURI(uri string) error
	ReadFollowers(actorId int64, limit, offset int) (error, []domain.Actor)
	ReadFollowing(actorId int64, limit, offset int) (error, []domain.Actor)

	CreateLike(l *domain.Like) (error, *domain.Like)
	DeleteLikeByURI(uri string) error
	CreateAnnounce(an *domain.Announce) (error, *domain.Announce)
	DeleteAnnounceByURI(uri string) error

	BlockDomain(domainName string) error
	UnblockDomain(domainName string) error
	IsDomainBlocked(domainName string, matchSubdomains bool) (bool, error)
	ListBlockedDomains() (error, []string)

	EnqueueDelivery(activityId int64, inboxURI string) (error, *domain.Delivery)
	ClaimPendingDeliveries(limit int) (error, []domain.DeliveryJob)
	MarkDeliverySuccess(deliveryId int64, statusCode int) error
	MarkDeliveryFailure(deliveryId int64, errMsg string, statusCode int, maxAttempts int) error
	CleanupExpiredDeliveries(olderThan time.Duration) (error, int64)
	DeliveryStats() (error, map[string]int64)

	ReadActorStats(actorId int64) (error, *domain.ActorStats)
	RefreshActorStats(actorId int64) error

	InstanceStats() (error, *domain.InstanceStats)
}
