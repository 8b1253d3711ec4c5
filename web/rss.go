package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/fedigraph/activitypub"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/util"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

// GetActorFeed renders an actor's public, non-deleted, top-level objects
// as an Atom feed, for aggregators that do not speak ActivityPub.
func GetActorFeed(database activitypub.Database, conf *util.AppConfig, username string) (string, error) {
	err, actor := database.ReadLocalActorByUsername(username)
	if err != nil {
		return "", errors.New("actor not found")
	}

	outboxErr, objects := database.ReadOutbox(actor.Id, activitypub.PageSize)
	if outboxErr != nil {
		return "", errors.New("failed to read outbox")
	}

	title := actor.DisplayName
	if title == "" {
		title = actor.Username
	}

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s (@%s@%s)", title, actor.Username, conf.Domain),
		Link:        &feeds.Link{Href: actor.URI},
		Description: actor.Summary,
		Author:      &feeds.Author{Name: actor.Username},
		Created:     time.Now(),
	}

	var items []*feeds.Item
	for _, obj := range objects {
		if obj.InReplyToURI != "" {
			continue
		}
		created := obj.CreatedAt
		if obj.PublishedAt != nil {
			created = *obj.PublishedAt
		}
		items = append(items, &feeds.Item{
			Id:      obj.URI,
			Title:   created.Format(time.RFC1123),
			Link:    &feeds.Link{Href: obj.URI},
			Content: renderFeedContent(&obj),
			Author:  &feeds.Author{Name: actor.Username},
			Created: created,
		})
	}
	feed.Items = items

	return feed.ToAtom()
}

func renderFeedContent(o *domain.Object) string {
	if o.DeletedAt != nil {
		return ""
	}
	return o.ContentHTML
}

func handleActorFeed(database activitypub.Database, conf *util.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		atom, err := GetActorFeed(database, conf, c.Param("actor"))
		if err != nil {
			c.String(http.StatusNotFound, "")
			return
		}
		c.Header("Content-Type", "application/atom+xml; charset=utf-8")
		c.String(http.StatusOK, atom)
	}
}
