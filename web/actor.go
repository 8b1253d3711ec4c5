package web

import (
	"net/http"
	"strconv"

	"github.com/deemkeen/fedigraph/activitypub"
	"github.com/deemkeen/fedigraph/apperr"
	"github.com/deemkeen/fedigraph/util"
	"github.com/gin-gonic/gin"
)

const activityJSONContentType = "application/activity+json; charset=utf-8"

// parsePage parses a "page" query parameter, returning 0 (the collection
// root, no page) when absent or invalid.
func parsePage(raw string) int {
	if raw == "" {
		return 0
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0
	}
	return page
}

func statusForError(err error) int {
	switch {
	case apperr.Is(err, apperr.NotFound):
		return http.StatusNotFound
	case apperr.Is(err, apperr.MalformedInput):
		return http.StatusBadRequest
	case apperr.Is(err, apperr.DuplicateActor), apperr.Is(err, apperr.DuplicateObject):
		return http.StatusConflict
	case apperr.Is(err, apperr.DomainBlocked):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func handleGetActor(database activitypub.Database, conf *util.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		err, actor := database.ReadLocalActorByUsername(c.Param("actor"))
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		keyErr, key := database.ReadKeyByActorId(actor.Id)
		if keyErr != nil {
			c.JSON(statusForError(keyErr), gin.H{"error": keyErr.Error()})
			return
		}
		c.Header("Content-Type", activityJSONContentType)
		c.JSON(http.StatusOK, activitypub.SerializeActor(actor, key.PublicKeyPEM, conf))
	}
}

func handleGetOutbox(database activitypub.Database, conf *util.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		err, actor := database.ReadLocalActorByUsername(c.Param("actor"))
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		page := parsePage(c.Query("page"))
		serErr, doc := activitypub.SerializeOutbox(database, actor, conf, page)
		if serErr != nil {
			c.JSON(statusForError(serErr), gin.H{"error": serErr.Error()})
			return
		}
		c.Header("Content-Type", activityJSONContentType)
		c.JSON(http.StatusOK, doc)
	}
}

func handleGetFollowers(database activitypub.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		err, actor := database.ReadLocalActorByUsername(c.Param("actor"))
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		page := parsePage(c.Query("page"))
		serErr, doc := activitypub.SerializeFollowers(database, actor, page)
		if serErr != nil {
			c.JSON(statusForError(serErr), gin.H{"error": serErr.Error()})
			return
		}
		c.Header("Content-Type", activityJSONContentType)
		c.JSON(http.StatusOK, doc)
	}
}

func handleGetFollowing(database activitypub.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		err, actor := database.ReadLocalActorByUsername(c.Param("actor"))
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		page := parsePage(c.Query("page"))
		serErr, doc := activitypub.SerializeFollowing(database, actor, page)
		if serErr != nil {
			c.JSON(statusForError(serErr), gin.H{"error": serErr.Error()})
			return
		}
		c.Header("Content-Type", activityJSONContentType)
		c.JSON(http.StatusOK, doc)
	}
}

func handleGetFeatured(database activitypub.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		err, actor := database.ReadLocalActorByUsername(c.Param("actor"))
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Type", activityJSONContentType)
		c.JSON(http.StatusOK, activitypub.SerializeFeatured(actor))
	}
}
