package web

import (
	"fmt"
	"net/http"

	"github.com/deemkeen/fedigraph/activitypub"
	"github.com/deemkeen/fedigraph/pubsub"
	"github.com/deemkeen/fedigraph/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// maxInboxBodyBytes bounds the size of an incoming activity, matching the
// teacher's inbox body cap.
const maxInboxBodyBytes = 1 * 1024 * 1024

// Router builds the stateless HTTP front door: every route is a thin
// translation from an HTTP request to a federation core operation. It
// returns a handler rather than blocking, so the caller owns the
// http.Server and its shutdown lifecycle.
func Router(conf *util.AppConfig, database activitypub.Database, bus *pubsub.Bus) (http.Handler, error) {
	gin.DefaultWriter = util.GetLogWriter()
	gin.DefaultErrorWriter = util.GetLogWriter()

	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// A generous default limiter for read-only discovery/collection routes.
	generalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(generalLimiter))

	// A stricter limiter on the routes that accept untrusted,
	// federation-facing writes, plus a request body size cap.
	inboxLimiter := NewRateLimiter(rate.Limit(5), 10)
	inboxMiddleware := RateLimitMiddleware(inboxLimiter)
	bodyCapMiddleware := MaxBytesMiddleware(maxInboxBodyBytes)

	g.GET("/users/:actor", handleGetActor(database, conf))
	g.GET("/users/:actor/outbox", handleGetOutbox(database, conf))
	g.GET("/users/:actor/followers", handleGetFollowers(database))
	g.GET("/users/:actor/following", handleGetFollowing(database))
	g.GET("/users/:actor/featured", handleGetFeatured(database))
	g.GET("/users/:actor/feed.atom", handleActorFeed(database, conf))

	g.POST("/users/:actor/inbox", inboxMiddleware, bodyCapMiddleware, func(c *gin.Context) {
		handleInbox(database, bus, conf, c.Writer, c.Request)
	})
	g.POST("/inbox", inboxMiddleware, bodyCapMiddleware, func(c *gin.Context) {
		handleInbox(database, bus, conf, c.Writer, c.Request)
	})

	g.GET("/.well-known/webfinger", handleWebFinger(database, conf))
	g.GET("/.well-known/host-meta", handleHostMeta(conf))
	g.GET("/.well-known/nodeinfo", handleNodeInfoDiscovery(conf))
	g.GET("/nodeinfo/2.0", handleNodeInfo(database, conf))

	g.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, fmt.Sprintf("%s ok", util.GetNameAndVersion()))
	})

	return g, nil
}
