package activitypub

import (
	"encoding/json"
	"fmt"

	"github.com/deemkeen/fedigraph/apperr"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/util"
)

// PageSize bounds ordered-collection pages, matching the small constant
// the original serializer always used.
const PageSize = 20

// CreateNote publishes a new Note for a local actor: persists the object,
// wraps it in a local Create activity, and fans it out to the author's
// accepted followers.
func CreateNote(db Database, conf *util.AppConfig, username, contentHTML, summary, inReplyTo string) (error, *domain.Object) {
	err, actor := db.ReadLocalActorByUsername(username)
	if err != nil {
		return apperr.NewNotFound(fmt.Sprintf("no such local actor %s", username)), nil
	}

	visibility := domain.VisibilityPublic
	if inReplyTo != "" {
		if parentErr, parent := db.ReadObjectByURI(inReplyTo); parentErr == nil && parent != nil {
			visibility = parent.Visibility
		}
	}

	obj := &domain.Object{
		URI:          fmt.Sprintf("%s/objects/%s", actor.URI, domain.NewActivityID()),
		Type:         domain.ObjectNote,
		ActorId:      actor.Id,
		ContentHTML:  contentHTML,
		ContentText:  util.StripHTML(contentHTML),
		Summary:      summary,
		InReplyToURI: inReplyTo,
		Visibility:   visibility,
	}

	createErr, created := db.CreateObject(obj)
	if createErr != nil {
		return createErr, nil
	}

	activityDoc := SerializeActivity("Create", actor.URI, SerializeObject(created, actor), conf)
	rawJSON, _ := json.Marshal(activityDoc)
	activityURI, _ := activityDoc["id"].(string)

	actErr, act := db.CreateActivity(&domain.Activity{
		URI:       activityURI,
		Type:      domain.ActivityCreate,
		ActorId:   actor.Id,
		ActorURI:  actor.URI,
		ObjectURI: created.URI,
		RawJSON:   string(rawJSON),
		Local:     true,
	})
	if actErr != nil {
		return actErr, nil
	}

	if err, _ := fanOutToFollowers(db, act.Id, actor.Id); err != nil {
		return err, nil
	}

	return nil, created
}

// SerializeObject renders an object as an ActivityStreams Note (or other
// object type) document.
func SerializeObject(o *domain.Object, actor *domain.Actor) map[string]any {
	doc := map[string]any{
		"id":        o.URI,
		"type":      string(o.Type),
		"attributedTo": actor.URI,
		"content":   o.ContentHTML,
		"published": o.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		"to":        []string{publicAddressURI},
		"cc":        []string{actor.FollowersURI},
	}
	if o.PublishedAt != nil {
		doc["published"] = o.PublishedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if o.Summary != "" {
		doc["summary"] = o.Summary
	}
	if o.InReplyToURI != "" {
		doc["inReplyTo"] = o.InReplyToURI
	}
	if o.URL != "" {
		doc["url"] = o.URL
	}
	if o.Sensitive {
		doc["sensitive"] = true
	}
	if o.DeletedAt != nil {
		doc["type"] = "Tombstone"
		delete(doc, "content")
	}
	return doc
}

// SerializeActivity wraps a verb and its object into an ActivityStreams
// activity document. object may be a full embedded document (Create) or
// a bare URI string reference (Like/Announce/Undo) — callers pass either.
// A Create activity additionally carries §4.4's activity-level addressing
// (to = Public, cc = the actor's followers collection), matching the
// embedded object's own addressing rather than leaving the activity
// envelope unaddressed.
func SerializeActivity(activityType, actorURI string, object any, conf *util.AppConfig) map[string]any {
	id := fmt.Sprintf("%s/activities/%s", conf.BaseURL(), domain.NewActivityID())
	doc := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       id,
		"type":     activityType,
		"actor":    actorURI,
		"object":   object,
	}
	if activityType == "Create" {
		doc["to"] = []string{publicAddressURI}
		doc["cc"] = []string{actorURI + "/followers"}
	}
	return doc
}

// OrderedCollection builds the top-level collection document (no page
// query param): summary counts plus first/last page links.
func OrderedCollection(collectionURI string, totalItems int) map[string]any {
	return map[string]any{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         collectionURI,
		"type":       "OrderedCollection",
		"totalItems": totalItems,
		"first":      collectionURI + "?page=1",
		"last":       fmt.Sprintf("%s?page=%d", collectionURI, lastPage(totalItems)),
	}
}

// OrderedCollectionPage builds a single page of an ordered collection,
// including next/prev links when further pages exist in that direction.
func OrderedCollectionPage(collectionURI string, page int, items []any, totalItems int) map[string]any {
	doc := map[string]any{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           fmt.Sprintf("%s?page=%d", collectionURI, page),
		"type":         "OrderedCollectionPage",
		"partOf":       collectionURI,
		"orderedItems": items,
	}
	if page < lastPage(totalItems) {
		doc["next"] = fmt.Sprintf("%s?page=%d", collectionURI, page+1)
	}
	if page > 1 {
		doc["prev"] = fmt.Sprintf("%s?page=%d", collectionURI, page-1)
	}
	return doc
}

func lastPage(totalItems int) int {
	if totalItems == 0 {
		return 1
	}
	pages := totalItems / PageSize
	if totalItems%PageSize != 0 {
		pages++
	}
	if pages == 0 {
		pages = 1
	}
	return pages
}
