package web

import (
	"net/http"

	"github.com/deemkeen/fedigraph/activitypub"
	"github.com/deemkeen/fedigraph/util"
	"github.com/gin-gonic/gin"
)

func handleWebFinger(database activitypub.Database, conf *util.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		resource := c.Query("resource")
		if resource == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing resource parameter"})
			return
		}
		err, doc := activitypub.WebFinger(database, conf, resource)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Type", "application/jrd+json; charset=utf-8")
		c.JSON(http.StatusOK, doc)
	}
}

func handleHostMeta(conf *util.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "application/xrd+xml; charset=utf-8")
		c.String(http.StatusOK, activitypub.HostMeta(conf))
	}
}

func handleNodeInfoDiscovery(conf *util.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, activitypub.NodeInfoDiscovery(conf))
	}
}

func handleNodeInfo(database activitypub.Database, conf *util.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		err, doc := activitypub.NodeInfo(database, conf)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Type", "application/json; charset=utf-8")
		c.JSON(http.StatusOK, doc)
	}
}
