package activitypub

import (
	"encoding/json"
	"fmt"

	"github.com/deemkeen/fedigraph/apperr"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/pubsub"
	"github.com/deemkeen/fedigraph/util"
)

// ProcessInboxActivity is the seven-step dispatcher every signed inbound
// POST to an actor's inbox (or the shared inbox) runs through: extract the
// envelope, reject blocked domains, dedupe, ensure the sender is known,
// persist the raw activity, dispatch on type, then mark it processed.
//
// Every per-type handler is tolerant of malformed follow-on data — a bad
// nested object or missing field degrades to a no-op rather than an error.
// Only a blocked domain or a storage failure is returned to the caller.
func ProcessInboxActivity(db Database, bus *pubsub.Bus, conf *util.AppConfig, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.WrapInternal("panic processing inbox activity", fmt.Errorf("%v", r))
		}
	}()

	var doc map[string]any
	if unmarshalErr := json.Unmarshal(raw, &doc); unmarshalErr != nil {
		return apperr.NewMalformedInput("inbox activity is not valid JSON")
	}

	activityType, ok := stringField(doc, "type")
	if !ok {
		return apperr.NewMalformedInput("inbox activity missing type")
	}
	activityURI, ok := stringField(doc, "id")
	if !ok {
		return apperr.NewMalformedInput("inbox activity missing id")
	}
	actorURI, ok := actorField(doc)
	if !ok {
		return apperr.NewMalformedInput("inbox activity missing actor")
	}

	senderDomain := domainOf(actorURI)
	if senderDomain == "" {
		return apperr.NewMalformedInput("inbox activity actor is not a valid URI")
	}
	matchSubdomains := conf != nil && conf.BlockSubdomains
	blocked, blockErr := db.IsDomainBlocked(senderDomain, matchSubdomains)
	if blockErr != nil {
		return blockErr
	}
	if blocked {
		return apperr.NewDomainBlocked(fmt.Sprintf("domain %s is blocked", senderDomain))
	}

	if existingErr, existing := db.ReadActivityByURI(activityURI); existingErr == nil && existing != nil {
		return nil
	}

	actorErr, actor := EnsureRemoteActorStub(db, actorURI)
	if actorErr != nil {
		return actorErr
	}

	objectURI, _ := objectField(doc)
	createErr, act := db.CreateActivity(&domain.Activity{
		URI:       activityURI,
		Type:      domain.ActivityType(activityType),
		ActorId:   actor.Id,
		ActorURI:  actor.URI,
		ObjectURI: objectURI,
		RawJSON:   string(raw),
		Local:     false,
	})
	if createErr != nil {
		return createErr
	}

	switch domain.ActivityType(activityType) {
	case domain.ActivityFollow:
		dispatchFollow(db, conf, actor, doc)
	case domain.ActivityAccept:
		dispatchAccept(db, doc)
	case domain.ActivityReject:
		dispatchReject(db, doc)
	case domain.ActivityUndo:
		dispatchUndo(db, actor, doc)
	case domain.ActivityLike:
		dispatchLike(db, actor, doc)
	case domain.ActivityAnnounce:
		dispatchAnnounce(db, actor, doc)
	case domain.ActivityCreate:
		dispatchCreate(db, actor, doc)
	case domain.ActivityUpdate:
		dispatchUpdate(db, doc)
	case domain.ActivityDelete:
		dispatchDelete(db, doc)
	case domain.ActivityBlock:
		// no local effect: remote actors blocking us doesn't change our state.
	default:
		// unknown activity type: recorded above, nothing further to do.
	}

	if markErr := db.MarkActivityProcessed(act.Id); markErr != nil {
		return markErr
	}

	if bus != nil {
		bus.Publish(pubsub.ActivityReceived, act.Id)
	}
	return nil
}

// dispatchFollow inserts the pending Follow row and, when auto_accept_follows
// is on, immediately reciprocates: synthesizes a local Accept activity
// referencing the original Follow, persists it, and enqueues the single
// delivery back to the follower's inbox.
func dispatchFollow(db Database, conf *util.AppConfig, remoteActor *domain.Actor, doc map[string]any) {
	followingURI, ok := objectField(doc)
	if !ok {
		return
	}
	followErr, followedActor := db.ReadActorByURI(followingURI)
	if followErr != nil || followedActor == nil || !followedActor.IsLocal() {
		return
	}
	followURI, _ := stringField(doc, "id")
	autoAccept := conf != nil && conf.AutoAcceptFollows
	followCreateErr, _ := db.CreateFollow(&domain.Follow{
		FollowerId:  remoteActor.Id,
		FollowingId: followedActor.Id,
		URI:         followURI,
		Accepted:    autoAccept,
	})
	if followCreateErr != nil || !autoAccept {
		return
	}

	acceptDoc := SerializeActivity("Accept", followedActor.URI, map[string]any{
		"id":     followURI,
		"type":   "Follow",
		"actor":  remoteActor.URI,
		"object": followedActor.URI,
	}, conf)
	acceptURI, _ := acceptDoc["id"].(string)
	rawJSON, err := json.Marshal(acceptDoc)
	if err != nil {
		return
	}

	acceptErr, acceptAct := db.CreateActivity(&domain.Activity{
		URI:       acceptURI,
		Type:      domain.ActivityAccept,
		ActorId:   followedActor.Id,
		ActorURI:  followedActor.URI,
		ObjectURI: followURI,
		RawJSON:   string(rawJSON),
		Local:     true,
	})
	if acceptErr != nil {
		return
	}

	_ = enqueueSingleRecipient(db, acceptAct.Id, remoteActor)
}

func dispatchAccept(db Database, doc map[string]any) {
	inner, ok := embeddedObject(doc)
	if !ok {
		return
	}
	if t, _ := stringField(inner, "type"); t != string(domain.ActivityFollow) {
		return
	}
	followURI, ok := stringField(inner, "id")
	if !ok {
		return
	}
	_ = db.AcceptFollowByURI(followURI)
}

func dispatchReject(db Database, doc map[string]any) {
	inner, ok := embeddedObject(doc)
	if !ok {
		return
	}
	if t, _ := stringField(inner, "type"); t != string(domain.ActivityFollow) {
		return
	}
	followURI, ok := stringField(inner, "id")
	if !ok {
		return
	}
	_ = db.DeleteFollowByURI(followURI)
}

func dispatchUndo(db Database, remoteActor *domain.Actor, doc map[string]any) {
	inner, ok := embeddedObject(doc)
	if !ok {
		return
	}
	innerType, _ := stringField(inner, "type")
	innerURI, ok := stringField(inner, "id")
	if !ok {
		return
	}
	switch domain.ActivityType(innerType) {
	case domain.ActivityFollow:
		// Match the sender/target pair first, so the Undo finds the row
		// even when it was stored under a different Follow URI.
		if targetURI, ok := objectField(inner); ok {
			if targetErr, target := db.ReadActorByURI(targetURI); targetErr == nil && target != nil {
				if pairErr, follow := db.ReadFollowByPair(remoteActor.Id, target.Id); pairErr == nil && follow != nil && follow.URI != "" {
					_ = db.DeleteFollowByURI(follow.URI)
					return
				}
			}
		}
		_ = db.DeleteFollowByURI(innerURI)
	case domain.ActivityLike:
		_ = db.DeleteLikeByURI(innerURI)
	case domain.ActivityAnnounce:
		_ = db.DeleteAnnounceByURI(innerURI)
	}
}

func dispatchLike(db Database, remoteActor *domain.Actor, doc map[string]any) {
	objectURI, ok := objectField(doc)
	if !ok {
		return
	}
	objErr, obj := db.ReadObjectByURI(objectURI)
	if objErr != nil || obj == nil {
		return
	}
	if ownerErr, owner := db.ReadActorById(obj.ActorId); ownerErr != nil || owner == nil || !owner.IsLocal() {
		return
	}
	likeURI, _ := stringField(doc, "id")
	_, _ = db.CreateLike(&domain.Like{
		ActorId:  remoteActor.Id,
		ObjectId: obj.Id,
		URI:      likeURI,
	})
}

func dispatchAnnounce(db Database, remoteActor *domain.Actor, doc map[string]any) {
	objectURI, ok := objectField(doc)
	if !ok {
		return
	}
	objErr, obj := db.ReadObjectByURI(objectURI)
	if objErr != nil || obj == nil {
		return
	}
	if ownerErr, owner := db.ReadActorById(obj.ActorId); ownerErr != nil || owner == nil || !owner.IsLocal() {
		return
	}
	announceURI, _ := stringField(doc, "id")
	_, _ = db.CreateAnnounce(&domain.Announce{
		ActorId:  remoteActor.Id,
		ObjectId: obj.Id,
		URI:      announceURI,
	})
}

func dispatchCreate(db Database, remoteActor *domain.Actor, doc map[string]any) {
	inner, ok := embeddedObject(doc)
	if !ok {
		return
	}
	objectURI, ok := stringField(inner, "id")
	if !ok {
		return
	}
	if attributedTo, ok := stringField(inner, "attributedTo"); ok && attributedTo != remoteActor.URI {
		return
	}
	objectType, _ := stringField(inner, "type")
	content, _ := stringField(inner, "content")
	summary, _ := stringField(inner, "summary")
	inReplyTo, _ := stringField(inner, "inReplyTo")

	if objectType == "" {
		objectType = string(domain.ObjectNote)
	}
	obj := &domain.Object{
		URI:          objectURI,
		Type:         domain.ObjectType(objectType),
		ActorId:      remoteActor.Id,
		ContentHTML:  content,
		Summary:      summary,
		InReplyToURI: inReplyTo,
		Visibility:   domain.Visibility(inferVisibility(inner, remoteActor.FollowersURI)),
	}
	_, _ = db.CreateObject(obj)
}

func dispatchUpdate(db Database, doc map[string]any) {
	inner, ok := embeddedObject(doc)
	if !ok {
		return
	}
	objectType, _ := stringField(inner, "type")
	switch domain.ActorType(objectType) {
	case domain.ActorPerson, domain.ActorService, domain.ActorApplication, domain.ActorGroup, domain.ActorOrganization:
		if raw, err := json.Marshal(inner); err == nil {
			_, _ = UpsertRemoteActor(db, raw)
		}
		return
	}

	objectURI, ok := stringField(inner, "id")
	if !ok {
		return
	}
	content, _ := stringField(inner, "content")
	summary, _ := stringField(inner, "summary")
	_ = db.UpdateObject(objectURI, content, summary)
}

func dispatchDelete(db Database, doc map[string]any) {
	targetURI, ok := objectField(doc)
	if !ok {
		return
	}
	_ = db.SoftDeleteObject(targetURI)
}
