package activitypub

import (
	"fmt"
	"strings"

	"github.com/deemkeen/fedigraph/apperr"
	"github.com/deemkeen/fedigraph/util"
)

// WebFinger resolves an acct: resource string to a JRD document per RFC
// 7033. The resource's host must equal the configured domain; any other
// host is not something this instance can answer for.
func WebFinger(db Database, conf *util.AppConfig, resource string) (error, map[string]any) {
	if !strings.HasPrefix(resource, "acct:") {
		return apperr.NewMalformedInput("resource must be of the form acct:user@host"), nil
	}
	rest := strings.TrimPrefix(resource, "acct:")
	at := strings.LastIndex(rest, "@")
	if at == -1 {
		return apperr.NewMalformedInput("resource must be of the form acct:user@host"), nil
	}
	username, host := rest[:at], rest[at+1:]
	if host != conf.Domain {
		return apperr.NewNotFound(fmt.Sprintf("this instance does not serve %s", host)), nil
	}
	if valid, reason := util.IsValidWebFingerUsername(username); !valid {
		return apperr.NewMalformedInput(reason), nil
	}

	err, actor := db.ReadLocalActorByUsername(username)
	if err != nil {
		return err, nil
	}

	doc := map[string]any{
		"subject": resource,
		"aliases": []string{actor.URI},
		"links": []map[string]any{
			{"rel": "self", "type": "application/activity+json", "href": actor.URI},
			{"rel": "http://webfinger.net/rel/profile-page", "type": "text/html", "href": actor.URI},
		},
	}
	return nil, doc
}

// HostMeta returns the static XRD document pointing crawlers at the
// WebFinger endpoint's URI template.
func HostMeta(conf *util.AppConfig) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
  <Link rel="lrdd" template="%s/.well-known/webfinger?resource={uri}"/>
</XRD>`, conf.BaseURL())
}

// NodeInfoDiscovery is the document served at /.well-known/nodeinfo,
// pointing crawlers at the versioned NodeInfo document.
func NodeInfoDiscovery(conf *util.AppConfig) map[string]any {
	return map[string]any{
		"links": []map[string]any{
			{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				"href": conf.BaseURL() + "/nodeinfo/2.0",
			},
		},
	}
}

// NodeInfo builds the NodeInfo 2.0 document served at /nodeinfo/2.0.
func NodeInfo(db Database, conf *util.AppConfig) (error, map[string]any) {
	err, stats := db.InstanceStats()
	if err != nil {
		return err, nil
	}

	return nil, map[string]any{
		"version": "2.0",
		"software": map[string]any{
			"name":    util.Name,
			"version": util.GetVersion(),
		},
		"protocols": []string{"activitypub"},
		"services": map[string]any{
			"inbound":  []string{},
			"outbound": []string{},
		},
		"openRegistrations": conf.OpenRegistrations,
		"usage": map[string]any{
			"users": map[string]any{
				"total":         stats.TotalUsers,
				"activeMonth":   stats.ActiveMonth,
				"activeHalfyear": stats.ActiveHalfyear,
			},
			"localPosts": stats.LocalPosts,
		},
		"metadata": map[string]any{
			"nodeName":        conf.NodeName,
			"nodeDescription": conf.NodeDescription,
		},
	}
}
