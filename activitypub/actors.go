package activitypub

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/deemkeen/fedigraph/apperr"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/util"
)

// localUsernameRegex is the strict username pattern local actor creation
// enforces, narrower than the WebFinger resource grammar util.validation.go
// checks against acct: lookups.
var localUsernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// CreateLocalActor provisions a new local actor: validates the username,
// generates its RSA keypair, and derives every collection URI from the
// instance's base URL.
func CreateLocalActor(db Database, conf *util.AppConfig, username, displayName, summary string) (error, *domain.Actor) {
	if !localUsernameRegex.MatchString(username) {
		return apperr.NewMalformedInput(fmt.Sprintf("invalid username %q", username)), nil
	}

	if err, existing := db.ReadLocalActorByUsername(username); err == nil && existing != nil {
		return apperr.NewDuplicateActor(fmt.Sprintf("local actor %s already exists", username)), nil
	}

	base := conf.BaseURL()
	actorURI := fmt.Sprintf("%s/users/%s", base, username)

	actor := &domain.Actor{
		URI:            actorURI,
		Type:           domain.ActorPerson,
		Username:       username,
		DisplayName:    displayName,
		Summary:        summary,
		InboxURI:       actorURI + "/inbox",
		OutboxURI:      actorURI + "/outbox",
		FollowersURI:   actorURI + "/followers",
		FollowingURI:   actorURI + "/following",
		FeaturedURI:    actorURI + "/featured",
		SharedInboxURI: base + "/inbox",
		Discoverable:   true,
	}

	keypair, err := GenerateKeyPair()
	if err != nil {
		return apperr.NewCryptoFailure(fmt.Sprintf("failed to generate keypair: %v", err)), nil
	}

	createErr, created := db.CreateLocalActor(actor)
	if createErr != nil {
		return createErr, nil
	}

	keyRow := &domain.KeyPair{
		ActorId:       created.Id,
		KeyID:         created.URI + "#main-key",
		PublicKeyPEM:  keypair.Public,
		PrivateKeyPEM: keypair.Private,
	}
	if err := db.CreateKeyPair(keyRow); err != nil {
		return err, nil
	}

	return nil, created
}

// UpsertRemoteActor records or refreshes a remote actor from its
// ActivityStreams JSON document. Required fields: id, type,
// preferredUsername, inbox.
func UpsertRemoteActor(db Database, raw []byte) (error, *domain.Actor) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return apperr.NewMalformedInput("invalid actor JSON"), nil
	}

	id, ok := stringField(doc, "id")
	if !ok {
		return apperr.NewMalformedInput("actor document missing id"), nil
	}
	actorType, ok := stringField(doc, "type")
	if !ok {
		return apperr.NewMalformedInput("actor document missing type"), nil
	}
	username, ok := stringField(doc, "preferredUsername")
	if !ok {
		return apperr.NewMalformedInput("actor document missing preferredUsername"), nil
	}
	inbox, ok := stringField(doc, "inbox")
	if !ok {
		return apperr.NewMalformedInput("actor document missing inbox"), nil
	}

	actorDomain := domainOf(id)
	if actorDomain == "" {
		return apperr.NewMalformedInput("actor id is not a valid URI"), nil
	}
	// Exact-domain check; subdomain matching is applied by the inbox gate.
	if blocked, blockErr := db.IsDomainBlocked(actorDomain, false); blockErr != nil {
		return blockErr, nil
	} else if blocked {
		return apperr.NewDomainBlocked(fmt.Sprintf("domain %s is blocked", actorDomain)), nil
	}

	actor := &domain.Actor{
		URI:      id,
		Type:     domain.ActorType(actorType),
		Username: username,
		Domain:   actorDomain,
		InboxURI: inbox,
		RawJSON:  string(raw),
	}

	if v, ok := stringField(doc, "outbox"); ok {
		actor.OutboxURI = v
	}
	if v, ok := stringField(doc, "name"); ok {
		actor.DisplayName = v
	}
	if v, ok := stringField(doc, "summary"); ok {
		actor.Summary = v
	}
	if v, ok := stringField(doc, "followers"); ok {
		actor.FollowersURI = v
	}
	if v, ok := stringField(doc, "following"); ok {
		actor.FollowingURI = v
	}
	if v, ok := nestedStringField(doc, "icon", "url"); ok && util.IsURL(v) {
		actor.AvatarURL = v
	}
	if v, ok := nestedStringField(doc, "endpoints", "sharedInbox"); ok {
		actor.SharedInboxURI = v
	}

	upsertErr, upserted := db.UpsertRemoteActor(actor)
	if upsertErr != nil {
		return upsertErr, nil
	}

	if pubKeyPEM, ok := nestedStringField(doc, "publicKey", "publicKeyPem"); ok {
		keyId := upserted.URI + "#main-key"
		if id, ok := nestedStringField(doc, "publicKey", "id"); ok {
			keyId = id
		}
		// Older instances still publish PKCS#1 keys; normalize to PKIX at
		// rest so every stored key uses one encoding regardless of source.
		if normalized, convErr := util.ConvertPublicKeyToPKIX(pubKeyPEM); convErr == nil {
			pubKeyPEM = normalized
		}
		_ = db.CreateKeyPair(&domain.KeyPair{
			ActorId:      upserted.Id,
			KeyID:        keyId,
			PublicKeyPEM: pubKeyPEM,
		})
	}

	return nil, upserted
}

// EnsureRemoteActorStub records a minimal remote actor from just a URI,
// for when an inbound activity references an actor the instance has not
// seen before and there is no time to fetch its full profile.
func EnsureRemoteActorStub(db Database, actorURI string) (error, *domain.Actor) {
	if err, existing := db.ReadActorByURI(actorURI); err == nil {
		return nil, existing
	}

	actorDomain := domainOf(actorURI)
	if actorDomain == "" {
		return apperr.NewMalformedInput("actor uri is not a valid URI"), nil
	}

	stub := &domain.Actor{
		URI:      actorURI,
		Type:     domain.ActorPerson,
		Username: usernameFromActorURI(actorURI),
		Domain:   actorDomain,
		InboxURI: actorURI + "/inbox",
	}
	return db.UpsertRemoteActor(stub)
}

// SerializeActor renders a local or remote actor as an ActivityStreams
// Person document. publicKeyPEM is the actor's public key PEM.
func SerializeActor(a *domain.Actor, publicKeyPEM string, conf *util.AppConfig) map[string]any {
	doc := map[string]any{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                a.URI,
		"type":              string(a.Type),
		"preferredUsername": a.Username,
		"inbox":             a.InboxURI,
		"outbox":            a.OutboxURI,
		"followers":         a.FollowersURI,
		"following":         a.FollowingURI,
		"publicKey": map[string]any{
			"id":           a.URI + "#main-key",
			"owner":        a.URI,
			"publicKeyPem": publicKeyPEM,
		},
	}
	if a.DisplayName != "" {
		doc["name"] = a.DisplayName
	}
	if a.Summary != "" {
		doc["summary"] = a.Summary
	}
	if a.FeaturedURI != "" {
		doc["featured"] = a.FeaturedURI
	}
	if a.AvatarURL != "" {
		doc["icon"] = map[string]any{"type": "Image", "url": a.AvatarURL}
	}
	if a.SharedInboxURI != "" {
		doc["endpoints"] = map[string]any{"sharedInbox": a.SharedInboxURI}
	}
	return doc
}
