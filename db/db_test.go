package db

import (
	"os"
	"testing"

	"github.com/deemkeen/fedigraph/apperr"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/pubsub"
)

// newTestDB opens a fresh on-disk SQLite database for a single test. The
// singleton in GetDB is bypassed so tests don't share state.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fedigraph-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	sqlDB, err := openSQLite(f.Name())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	d := &DB{db: sqlDB, bus: pubsub.NewBus()}
	if err := d.CreateDB(); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return d
}

func TestCreateAndReadLocalActor(t *testing.T) {
	d := newTestDB(t)

	actor := &domain.Actor{
		URI:      "https://example.social/users/alice",
		Type:     domain.ActorPerson,
		Username: "alice",
		InboxURI: "https://example.social/users/alice/inbox",
	}

	err, created := d.CreateLocalActor(actor)
	if err != nil {
		t.Fatalf("CreateLocalActor failed: %v", err)
	}
	if created.Id == 0 {
		t.Fatal("expected a non-zero assigned id")
	}
	if !created.IsLocal() {
		t.Fatal("expected a local actor")
	}

	err, fetched := d.ReadActorByURI(actor.URI)
	if err != nil {
		t.Fatalf("ReadActorByURI failed: %v", err)
	}
	if fetched.Username != "alice" {
		t.Errorf("expected username alice, got %s", fetched.Username)
	}

	statsErr, stats := d.ReadActorStats(created.Id)
	if statsErr != nil {
		t.Fatalf("ReadActorStats failed: %v", statsErr)
	}
	if stats.StatusesCount != 0 || stats.FollowersCount != 0 {
		t.Errorf("expected zeroed stats row on actor creation, got %+v", stats)
	}
}

func TestCreateLocalActorDuplicate(t *testing.T) {
	d := newTestDB(t)

	actor := &domain.Actor{
		URI:      "https://example.social/users/alice",
		Type:     domain.ActorPerson,
		Username: "alice",
		InboxURI: "https://example.social/users/alice/inbox",
	}
	if err, _ := d.CreateLocalActor(actor); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	dup := &domain.Actor{
		URI:      "https://example.social/users/alice",
		Type:     domain.ActorPerson,
		Username: "alice",
		InboxURI: "https://example.social/users/alice/inbox",
	}
	err, _ := d.CreateLocalActor(dup)
	if err == nil {
		t.Fatal("expected duplicate actor creation to fail")
	}
	if !apperr.Is(err, apperr.DuplicateActor) {
		t.Errorf("expected DuplicateActor, got %v", err)
	}
}

func TestUpsertRemoteActorInsertsThenUpdates(t *testing.T) {
	d := newTestDB(t)

	remote := &domain.Actor{
		URI:      "https://remote.example/users/bob",
		Type:     domain.ActorPerson,
		Username: "bob",
		Domain:   "remote.example",
		InboxURI: "https://remote.example/users/bob/inbox",
	}

	err, created := d.UpsertRemoteActor(remote)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	firstId := created.Id

	remote.DisplayName = "Bob Updated"
	err, updated := d.UpsertRemoteActor(remote)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if updated.Id != firstId {
		t.Errorf("expected same actor id across upserts, got %d then %d", firstId, updated.Id)
	}

	err, fetched := d.ReadActorByURI(remote.URI)
	if err != nil {
		t.Fatalf("ReadActorByURI failed: %v", err)
	}
	if fetched.DisplayName != "Bob Updated" {
		t.Errorf("expected updated display name, got %q", fetched.DisplayName)
	}
}

func TestCreateObjectAndOutbox(t *testing.T) {
	d := newTestDB(t)

	actor := &domain.Actor{URI: "https://example.social/users/alice", Type: domain.ActorPerson, Username: "alice", InboxURI: "x"}
	_, actor = d.CreateLocalActor(actor)

	obj := &domain.Object{
		URI:        "https://example.social/objects/1",
		Type:       domain.ObjectNote,
		ActorId:    actor.Id,
		ContentHTML: "<p>hello</p>",
		Visibility: domain.VisibilityPublic,
	}

	err, created := d.CreateObject(obj)
	if err != nil {
		t.Fatalf("CreateObject failed: %v", err)
	}
	if created.Id == 0 {
		t.Fatal("expected a non-zero object id")
	}

	err, outbox := d.ReadOutbox(actor.Id, 10)
	if err != nil {
		t.Fatalf("ReadOutbox failed: %v", err)
	}
	if len(outbox) != 1 {
		t.Fatalf("expected 1 object in outbox, got %d", len(outbox))
	}

	statsErr, stats := d.ReadActorStats(actor.Id)
	if statsErr != nil {
		t.Fatalf("ReadActorStats failed: %v", statsErr)
	}
	if stats.StatusesCount != 1 {
		t.Errorf("expected statuses_count 1, got %d", stats.StatusesCount)
	}
}

func TestSoftDeleteObjectTombstones(t *testing.T) {
	d := newTestDB(t)

	actor := &domain.Actor{URI: "https://example.social/users/alice", Type: domain.ActorPerson, Username: "alice", InboxURI: "x"}
	_, actor = d.CreateLocalActor(actor)

	obj := &domain.Object{URI: "https://example.social/objects/1", Type: domain.ObjectNote, ActorId: actor.Id, Visibility: domain.VisibilityPublic}
	_, obj = d.CreateObject(obj)

	if err := d.SoftDeleteObject(obj.URI); err != nil {
		t.Fatalf("SoftDeleteObject failed: %v", err)
	}

	err, fetched := d.ReadObjectByURI(obj.URI)
	if err != nil {
		t.Fatalf("ReadObjectByURI failed: %v", err)
	}
	if fetched.DeletedAt == nil {
		t.Error("expected DeletedAt to be set after soft delete")
	}

	if err := d.SoftDeleteObject(obj.URI); err == nil {
		t.Error("expected re-deleting an already-deleted object to fail")
	}
}

func TestUpdateObjectPatchesContentAndSummary(t *testing.T) {
	d := newTestDB(t)

	actor := &domain.Actor{URI: "https://example.social/users/alice", Type: domain.ActorPerson, Username: "alice", InboxURI: "x"}
	_, actor = d.CreateLocalActor(actor)

	obj := &domain.Object{URI: "https://example.social/objects/1", Type: domain.ObjectNote, ActorId: actor.Id, ContentHTML: "original", Visibility: domain.VisibilityPublic}
	_, obj = d.CreateObject(obj)

	if err := d.UpdateObject(obj.URI, "edited", "cw"); err != nil {
		t.Fatalf("UpdateObject failed: %v", err)
	}

	err, fetched := d.ReadObjectByURI(obj.URI)
	if err != nil {
		t.Fatalf("ReadObjectByURI failed: %v", err)
	}
	if fetched.ContentHTML != "edited" {
		t.Errorf("expected content to be patched, got %q", fetched.ContentHTML)
	}
	if fetched.Summary != "cw" {
		t.Errorf("expected summary to be patched, got %q", fetched.Summary)
	}

	if err := d.SoftDeleteObject(obj.URI); err != nil {
		t.Fatalf("SoftDeleteObject failed: %v", err)
	}
	if err := d.UpdateObject(obj.URI, "should not apply", ""); err == nil {
		t.Error("expected updating a deleted object to fail")
	}
}

func TestFollowLifecycleUpdatesCounts(t *testing.T) {
	d := newTestDB(t)

	_, alice := d.CreateLocalActor(&domain.Actor{URI: "https://a/users/alice", Type: domain.ActorPerson, Username: "alice", InboxURI: "x"})
	_, bob := d.CreateLocalActor(&domain.Actor{URI: "https://a/users/bob", Type: domain.ActorPerson, Username: "bob", InboxURI: "y"})

	follow := &domain.Follow{FollowerId: alice.Id, FollowingId: bob.Id, URI: "https://a/follows/1", Accepted: true}
	if err, _ := d.CreateFollow(follow); err != nil {
		t.Fatalf("CreateFollow failed: %v", err)
	}

	_, aliceStats := d.ReadActorStats(alice.Id)
	_, bobStats := d.ReadActorStats(bob.Id)
	if aliceStats.FollowingCount != 1 {
		t.Errorf("expected alice following_count 1, got %d", aliceStats.FollowingCount)
	}
	if bobStats.FollowersCount != 1 {
		t.Errorf("expected bob followers_count 1, got %d", bobStats.FollowersCount)
	}

	if err := d.DeleteFollowByURI(follow.URI); err != nil {
		t.Fatalf("DeleteFollowByURI failed: %v", err)
	}

	_, aliceStats = d.ReadActorStats(alice.Id)
	if aliceStats.FollowingCount != 0 {
		t.Errorf("expected following_count back to 0, got %d", aliceStats.FollowingCount)
	}
}

func TestFollowDuplicatePairRejected(t *testing.T) {
	d := newTestDB(t)

	_, alice := d.CreateLocalActor(&domain.Actor{URI: "https://a/users/alice", Type: domain.ActorPerson, Username: "alice", InboxURI: "x"})
	_, bob := d.CreateLocalActor(&domain.Actor{URI: "https://a/users/bob", Type: domain.ActorPerson, Username: "bob", InboxURI: "y"})

	f1 := &domain.Follow{FollowerId: alice.Id, FollowingId: bob.Id, URI: "https://a/follows/1"}
	if err, _ := d.CreateFollow(f1); err != nil {
		t.Fatalf("first follow failed: %v", err)
	}

	f2 := &domain.Follow{FollowerId: alice.Id, FollowingId: bob.Id, URI: "https://a/follows/2"}
	if err, _ := d.CreateFollow(f2); err == nil {
		t.Error("expected duplicate follow pair to be rejected")
	}
}

func TestDeliveryRetryScheduleAndExpiry(t *testing.T) {
	d := newTestDB(t)

	_, actor := d.CreateLocalActor(&domain.Actor{URI: "https://a/users/alice", Type: domain.ActorPerson, Username: "alice", InboxURI: "x"})
	_, act := d.CreateActivity(&domain.Activity{Type: domain.ActivityCreate, ActorId: actor.Id, ActorURI: actor.URI, Local: true, RawJSON: "{}"})

	err, delivery := d.EnqueueDelivery(act.Id, "https://remote.example/inbox")
	if err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	maxAttempts := 3
	for i := 0; i < maxAttempts-1; i++ {
		if err := d.MarkDeliveryFailure(delivery.Id, "connection refused", 0, maxAttempts); err != nil {
			t.Fatalf("MarkDeliveryFailure failed: %v", err)
		}
	}

	stats, statErr := statusOf(d, delivery.Id)
	if statErr != nil {
		t.Fatalf("failed to read delivery status: %v", statErr)
	}
	if stats != string(domain.DeliveryFailed) {
		t.Errorf("expected status Failed before hitting max attempts, got %s", stats)
	}

	if err := d.MarkDeliveryFailure(delivery.Id, "connection refused", 0, maxAttempts); err != nil {
		t.Fatalf("final MarkDeliveryFailure failed: %v", err)
	}
	stats, statErr = statusOf(d, delivery.Id)
	if statErr != nil {
		t.Fatalf("failed to read delivery status: %v", statErr)
	}
	if stats != string(domain.DeliveryExpired) {
		t.Errorf("expected status Expired after max attempts, got %s", stats)
	}
}

func statusOf(d *DB, deliveryId int64) (string, error) {
	var status string
	err := d.db.QueryRow(`SELECT status FROM ap_deliveries WHERE id = ?`, deliveryId).Scan(&status)
	return status, err
}

func TestDomainBlockExactAndSubdomain(t *testing.T) {
	d := newTestDB(t)

	if err := d.BlockDomain("bad.example"); err != nil {
		t.Fatalf("BlockDomain failed: %v", err)
	}

	blocked, err := d.IsDomainBlocked("bad.example", false)
	if err != nil {
		t.Fatalf("IsDomainBlocked failed: %v", err)
	}
	if !blocked {
		t.Error("expected exact domain match to be blocked")
	}

	blocked, err = d.IsDomainBlocked("sub.bad.example", false)
	if err != nil {
		t.Fatalf("IsDomainBlocked failed: %v", err)
	}
	if blocked {
		t.Error("expected subdomain not to be blocked when matching is off")
	}

	blocked, err = d.IsDomainBlocked("sub.bad.example", true)
	if err != nil {
		t.Fatalf("IsDomainBlocked failed: %v", err)
	}
	if !blocked {
		t.Error("expected subdomain to be blocked when subdomain matching is on")
	}

	if err := d.UnblockDomain("bad.example"); err != nil {
		t.Fatalf("UnblockDomain failed: %v", err)
	}
	blocked, _ = d.IsDomainBlocked("bad.example", false)
	if blocked {
		t.Error("expected domain to be unblocked")
	}
}
