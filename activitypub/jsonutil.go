package activitypub

import (
	"net/url"
	"strings"
)

// stringField pulls a string value out of a decoded JSON-LD document at a
// top-level key, tolerating absence, null, or a wrong type — every inbox
// handler is expected to skip rather than fail on a missing field.
func stringField(doc map[string]any, key string) (string, bool) {
	v, ok := doc[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// nestedStringField pulls a string out of a nested object field, e.g.
// icon.url or publicKey.publicKeyPem.
func nestedStringField(doc map[string]any, objectKey, fieldKey string) (string, bool) {
	nested, ok := doc[objectKey].(map[string]any)
	if !ok {
		return "", false
	}
	return stringField(nested, fieldKey)
}

// actorField extracts the actor identifier from an activity document,
// which may be a bare string or an embedded object carrying "id".
func actorField(doc map[string]any) (string, bool) {
	switch v := doc["actor"].(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case map[string]any:
		return stringField(v, "id")
	default:
		return "", false
	}
}

// objectField extracts the referenced object's URI from an activity
// document, which may be a bare string or an embedded object.
func objectField(doc map[string]any) (string, bool) {
	switch v := doc["object"].(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case map[string]any:
		return stringField(v, "id")
	default:
		return "", false
	}
}

// embeddedObject returns the "object" field as a document when it is
// embedded inline (Create/Update carry the full object, not just its URI).
func embeddedObject(doc map[string]any) (map[string]any, bool) {
	obj, ok := doc["object"].(map[string]any)
	return obj, ok
}

// domainOf extracts the host component from a URI, the way remote actor
// and activity domains are derived throughout the dispatcher.
func domainOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Host
}

// hasAddressee reports whether target appears in either the "to" or "cc"
// addressing list of an activity/object document.
func hasAddressee(doc map[string]any, target string) bool {
	for _, key := range []string{"to", "cc"} {
		switch v := doc[key].(type) {
		case string:
			if v == target {
				return true
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s == target {
					return true
				}
			}
		}
	}
	return false
}

const publicAddressURI = "https://www.w3.org/ns/activitystreams#Public"

// inferVisibility derives an object's visibility from its to/cc addressing:
// Public if the public collection is addressed, Followers if the sender's
// followers collection is, Direct if a "to" field is present without
// either, and Unlisted when there is no "to" field at all.
func inferVisibility(doc map[string]any, followersURI string) string {
	if hasAddressee(doc, publicAddressURI) {
		return "Public"
	}
	if followersURI != "" && hasAddressee(doc, followersURI) {
		return "Followers"
	}
	if _, hasTo := doc["to"]; hasTo {
		return "Direct"
	}
	return "Unlisted"
}

// usernameFromActorURI takes the last path segment of an actor URI as a
// best-effort username for a stub actor record.
func usernameFromActorURI(uri string) string {
	trimmed := strings.TrimRight(uri, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx == -1 || idx == len(trimmed)-1 {
		return "unknown"
	}
	return trimmed[idx+1:]
}
