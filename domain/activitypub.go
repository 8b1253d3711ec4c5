// Package domain holds the entity types shared by the storage layer and
// the protocol core: actors, keys, objects, activities, the follow graph,
// and the delivery queue.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActorType enumerates the ActivityStreams actor types this instance
// understands.
type ActorType string

const (
	ActorPerson       ActorType = "Person"
	ActorService      ActorType = "Service"
	ActorApplication  ActorType = "Application"
	ActorGroup        ActorType = "Group"
	ActorOrganization ActorType = "Organization"
)

// ObjectType enumerates the ActivityStreams object types this instance
// stores.
type ObjectType string

const (
	ObjectNote     ObjectType = "Note"
	ObjectArticle  ObjectType = "Article"
	ObjectImage    ObjectType = "Image"
	ObjectVideo    ObjectType = "Video"
	ObjectAudio    ObjectType = "Audio"
	ObjectDocument ObjectType = "Document"
	ObjectPage     ObjectType = "Page"
	ObjectEvent    ObjectType = "Event"
)

// Visibility controls where a serialized object is addressed.
type Visibility string

const (
	VisibilityPublic    Visibility = "Public"
	VisibilityUnlisted  Visibility = "Unlisted"
	VisibilityFollowers Visibility = "Followers"
	VisibilityDirect    Visibility = "Direct"
)

// ActivityType enumerates the ActivityStreams verbs the inbox dispatcher
// and outbox understand.
type ActivityType string

const (
	ActivityCreate   ActivityType = "Create"
	ActivityUpdate   ActivityType = "Update"
	ActivityDelete   ActivityType = "Delete"
	ActivityFollow   ActivityType = "Follow"
	ActivityAccept   ActivityType = "Accept"
	ActivityReject   ActivityType = "Reject"
	ActivityUndo     ActivityType = "Undo"
	ActivityLike     ActivityType = "Like"
	ActivityAnnounce ActivityType = "Announce"
	ActivityBlock    ActivityType = "Block"
)

// DeliveryStatus is the lifecycle state of an outbound Delivery row.
type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "Queued"
	DeliveryInFlight  DeliveryStatus = "InFlight"
	DeliveryDelivered DeliveryStatus = "Delivered"
	DeliveryFailed    DeliveryStatus = "Failed"
	DeliveryExpired   DeliveryStatus = "Expired"
)

// Actor is both a local and a remote federation participant. Domain is
// empty for local actors and required for remote ones.
type Actor struct {
	Id                        int64
	URI                       string
	Type                      ActorType
	Username                  string
	Domain                    string
	DisplayName               string
	Summary                   string
	InboxURI                  string
	OutboxURI                 string
	SharedInboxURI            string
	FollowersURI              string
	FollowingURI              string
	FeaturedURI               string
	AvatarURL                 string
	HeaderURL                 string
	ManuallyApprovesFollowers bool
	Discoverable              bool
	RawJSON                   string
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
	LastFetchedAt             *time.Time
}

// IsLocal reports whether the actor was created on this instance.
func (a *Actor) IsLocal() bool {
	return a.Domain == ""
}

// KeyPair holds the RSA key material for an actor. PrivateKeyPEM is empty
// for remote actors.
type KeyPair struct {
	ActorId       int64
	KeyID         string
	PublicKeyPEM  string
	PrivateKeyPEM string
	CreatedAt     time.Time
}

// Object is a content item: a Note, Article, or other ActivityStreams
// object type owned by an actor.
type Object struct {
	Id              int64
	URI             string
	Type            ObjectType
	ActorId         int64
	InReplyToURI    string
	ConversationURI string
	ContentHTML     string
	ContentText     string
	Summary         string
	URL             string
	Visibility      Visibility
	Sensitive       bool
	Language        string
	PublishedAt     *time.Time
	UpdatedAt       *time.Time
	DeletedAt       *time.Time
	RawJSON         string
	CreatedAt       time.Time
}

// Activity is a single federation event: something received from a
// remote actor or produced locally. Rows are append-only. ActorId is set
// for locally-produced activities, since the delivery worker needs it to
// find the signing key; ActorURI is always set and is what remote
// activities carry natively.
type Activity struct {
	Id          int64
	URI         string
	Type        ActivityType
	ActorId     int64
	ActorURI    string
	ObjectURI   string
	TargetURI   string
	RawJSON     string
	Local       bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// Follow is one edge of the social graph.
type Follow struct {
	Id          int64
	FollowerId  int64
	FollowingId int64
	URI         string
	Accepted    bool
	CreatedAt   time.Time
}

// Like records that an actor liked an object.
type Like struct {
	Id        int64
	ActorId   int64
	ObjectId  int64
	URI       string
	CreatedAt time.Time
}

// Announce records that an actor boosted/shared an object.
type Announce struct {
	Id        int64
	ActorId   int64
	ObjectId  int64
	URI       string
	CreatedAt time.Time
}

// DomainBlock is an instance-wide moderation entry.
type DomainBlock struct {
	Id        int64
	Domain    string
	CreatedAt time.Time
}

// Delivery is a single queued outbound POST of an activity to one inbox.
type Delivery struct {
	Id             int64
	ActivityId     int64
	InboxURI       string
	Status         DeliveryStatus
	Attempts       int
	LastAttemptAt  *time.Time
	NextRetryAt    time.Time
	LastError      string
	LastStatusCode int
	CreatedAt      time.Time
}

// DeliveryJob is what a claimed delivery hands the external worker: enough
// to build and sign the outbound request without a second round trip.
type DeliveryJob struct {
	DeliveryId    int64
	InboxURI      string
	ActivityJSON  string
	ActorURI      string
	KeyID         string
	PrivateKeyPEM string
}

// ActorStats holds denormalized counters for an actor.
type ActorStats struct {
	ActorId        int64
	StatusesCount  int64
	FollowersCount int64
	FollowingCount int64
	LastStatusAt   *time.Time
}

// InstanceStats is the usage summary a NodeInfo document reports.
type InstanceStats struct {
	TotalUsers      int64
	ActiveMonth     int64
	ActiveHalfyear  int64
	LocalPosts      int64
}

// NewActivityID generates a locally-produced activity's path segment. The
// caller composes it with the instance base URL.
func NewActivityID() string {
	return uuid.NewString()
}
