package activitypub

import (
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/util"
)

// SerializeOutbox renders an actor's public outbox as an OrderedCollection,
// or a single page of it when page is positive. Paging is derived from
// ActorStats.StatusesCount rather than a separate count query.
func SerializeOutbox(db Database, actor *domain.Actor, conf *util.AppConfig, page int) (error, map[string]any) {
	statsErr, stats := db.ReadActorStats(actor.Id)
	if statsErr != nil {
		return statsErr, nil
	}
	total := int(stats.StatusesCount)

	if page <= 0 {
		return nil, OrderedCollection(actor.OutboxURI, total)
	}

	err, objs := db.ReadOutbox(actor.Id, page*PageSize)
	if err != nil {
		return err, nil
	}

	start := (page - 1) * PageSize
	if start > len(objs) {
		start = len(objs)
	}
	end := start + PageSize
	if end > len(objs) {
		end = len(objs)
	}

	items := make([]any, 0, end-start)
	for _, o := range objs[start:end] {
		obj := o
		items = append(items, SerializeActivity("Create", actor.URI, SerializeObject(&obj, actor), conf))
	}
	return nil, OrderedCollectionPage(actor.OutboxURI, page, items, total)
}

// SerializeFollowers renders an actor's followers collection, or a page of
// bare follower URIs.
func SerializeFollowers(db Database, actor *domain.Actor, page int) (error, map[string]any) {
	statsErr, stats := db.ReadActorStats(actor.Id)
	if statsErr != nil {
		return statsErr, nil
	}
	total := int(stats.FollowersCount)

	if page <= 0 {
		return nil, OrderedCollection(actor.FollowersURI, total)
	}

	err, followers := db.ReadFollowers(actor.Id, PageSize, (page-1)*PageSize)
	if err != nil {
		return err, nil
	}
	items := make([]any, 0, len(followers))
	for _, f := range followers {
		items = append(items, f.URI)
	}
	return nil, OrderedCollectionPage(actor.FollowersURI, page, items, total)
}

// SerializeFollowing renders an actor's following collection, or a page of
// bare followee URIs.
func SerializeFollowing(db Database, actor *domain.Actor, page int) (error, map[string]any) {
	statsErr, stats := db.ReadActorStats(actor.Id)
	if statsErr != nil {
		return statsErr, nil
	}
	total := int(stats.FollowingCount)

	if page <= 0 {
		return nil, OrderedCollection(actor.FollowingURI, total)
	}

	err, following := db.ReadFollowing(actor.Id, PageSize, (page-1)*PageSize)
	if err != nil {
		return err, nil
	}
	items := make([]any, 0, len(following))
	for _, f := range following {
		items = append(items, f.URI)
	}
	return nil, OrderedCollectionPage(actor.FollowingURI, page, items, total)
}

// SerializeFeatured renders an actor's pinned-post collection. Pinning is
// out of scope, so this is always empty, returned unpaged since an empty
// collection never needs a page link.
func SerializeFeatured(actor *domain.Actor) map[string]any {
	return map[string]any{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           actor.FeaturedURI,
		"type":         "OrderedCollection",
		"totalItems":   0,
		"orderedItems": []any{},
	}
}
