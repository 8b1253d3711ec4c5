package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/fedigraph/activitypub"
	"github.com/deemkeen/fedigraph/apperr"
	"github.com/deemkeen/fedigraph/pubsub"
	"github.com/deemkeen/fedigraph/util"
)

const actorFetchTimeout = 10 * time.Second

// fetchRemoteActorDocument retrieves a remote actor's ActivityStreams
// document. This is the one piece of outbound HTTP the proxy performs
// itself: synchronous key resolution needed to verify an inbound
// signature, distinct from the delivery worker's job of POSTing queued
// deliveries to already-known inboxes.
func fetchRemoteActorDocument(conf *util.AppConfig, actorURI string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build actor fetch request: %w", err)
	}
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", conf.UserAgent)

	client := &http.Client{Timeout: actorFetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch actor %s: %w", actorURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch for %s returned status %d", actorURI, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// resolveActorPublicKey returns the PEM-encoded public key of actorURI,
// using the locally cached copy when present and otherwise fetching and
// upserting the actor document.
func resolveActorPublicKey(database activitypub.Database, conf *util.AppConfig, actorURI string) (string, error) {
	if err, actor := database.ReadActorByURI(actorURI); err == nil {
		if keyErr, key := database.ReadKeyByActorId(actor.Id); keyErr == nil && key.PublicKeyPEM != "" {
			return key.PublicKeyPEM, nil
		}
	}

	doc, err := fetchRemoteActorDocument(conf, actorURI)
	if err != nil {
		return "", apperr.NewCryptoFailure(fmt.Sprintf("failed to resolve signer %s: %v", actorURI, err))
	}
	upsertErr, upserted := activitypub.UpsertRemoteActor(database, doc)
	if upsertErr != nil {
		return "", upsertErr
	}
	keyErr, key := database.ReadKeyByActorId(upserted.Id)
	if keyErr != nil || key.PublicKeyPEM == "" {
		return "", apperr.NewCryptoFailure(fmt.Sprintf("actor %s published no usable public key", actorURI))
	}
	return key.PublicKeyPEM, nil
}

// dateWithinSkew reports whether the Signature-covered Date header is
// within conf.SignatureClockSkewSeconds of local time, the §4.2 replay
// protection: a signature carrying a stale or future-dated Date header is
// rejected before its cryptography is even checked.
func dateWithinSkew(dateHeader string, skewSeconds int) bool {
	if dateHeader == "" {
		return false
	}
	sent, err := http.ParseTime(dateHeader)
	if err != nil {
		return false
	}
	drift := time.Since(sent)
	if drift < 0 {
		drift = -drift
	}
	return drift <= time.Duration(skewSeconds)*time.Second
}

// handleInbox verifies the HTTP Signature on an inbound activity and, if
// valid, hands the raw body to the dispatcher. It is shared by the
// per-actor inbox and the shared inbox: the dispatcher determines the
// affected local actors from the activity itself, so no route-level
// addressee resolution is needed.
func handleInbox(database activitypub.Database, bus *pubsub.Bus, conf *util.AppConfig, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		http.Error(w, "invalid activity JSON", http.StatusBadRequest)
		return
	}
	actorURI, _ := doc["actor"].(string)
	if actorURI == "" {
		http.Error(w, "activity missing actor", http.StatusBadRequest)
		return
	}

	if r.Header.Get("Signature") == "" {
		http.Error(w, "missing HTTP signature", http.StatusUnauthorized)
		return
	}

	if !dateWithinSkew(r.Header.Get("Date"), conf.SignatureClockSkewSeconds) {
		http.Error(w, "request date outside allowed clock skew", http.StatusUnauthorized)
		return
	}

	pubKeyPEM, err := resolveActorPublicKey(database, conf, actorURI)
	if err != nil {
		http.Error(w, "failed to resolve signer key", http.StatusBadRequest)
		return
	}

	if _, err := activitypub.VerifyRequest(r, pubKeyPEM); err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if err := activitypub.ProcessInboxActivity(database, bus, conf, body); err != nil {
		if apperr.Is(err, apperr.DomainBlocked) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if apperr.Is(err, apperr.MalformedInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to process activity", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
