package activitypub

import (
	"testing"

	"github.com/deemkeen/fedigraph/domain"
)

func TestFanOutDedupesSharedInboxes(t *testing.T) {
	d, conf := newTestEnv(t)
	_, alice := CreateLocalActor(d, conf, "alice", "Alice", "")

	_, bob := d.UpsertRemoteActor(&domain.Actor{
		URI: "https://remote.example/users/bob", Type: domain.ActorPerson, Username: "bob",
		Domain: "remote.example", InboxURI: "https://remote.example/users/bob/inbox",
		SharedInboxURI: "https://remote.example/inbox",
	})
	_, carol := d.UpsertRemoteActor(&domain.Actor{
		URI: "https://remote.example/users/carol", Type: domain.ActorPerson, Username: "carol",
		Domain: "remote.example", InboxURI: "https://remote.example/users/carol/inbox",
		SharedInboxURI: "https://remote.example/inbox",
	})

	d.CreateFollow(&domain.Follow{FollowerId: bob.Id, FollowingId: alice.Id, URI: "https://remote.example/follows/1", Accepted: true})
	d.CreateFollow(&domain.Follow{FollowerId: carol.Id, FollowingId: alice.Id, URI: "https://remote.example/follows/2", Accepted: true})

	_, act := d.CreateActivity(&domain.Activity{Type: domain.ActivityCreate, ActorId: alice.Id, ActorURI: alice.URI, Local: true, RawJSON: "{}"})

	err, count := fanOutToFollowers(d, act.Id, alice.Id)
	if err != nil {
		t.Fatalf("fanOutToFollowers failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 unique inbox delivery for two followers sharing an inbox, got %d", count)
	}

	err, jobs := GetPendingDeliveries(d, 10)
	if err != nil {
		t.Fatalf("GetPendingDeliveries failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 pending delivery, got %d", len(jobs))
	}
	if jobs[0].InboxURI != "https://remote.example/inbox" {
		t.Errorf("expected the shared inbox to be used, got %s", jobs[0].InboxURI)
	}
}

func TestDeliverySuccessAndFailureUpdateStatus(t *testing.T) {
	d, conf := newTestEnv(t)
	_, alice := CreateLocalActor(d, conf, "alice", "Alice", "")
	_, act := d.CreateActivity(&domain.Activity{Type: domain.ActivityCreate, ActorId: alice.Id, ActorURI: alice.URI, Local: true, RawJSON: "{}"})

	err, delivery := d.EnqueueDelivery(act.Id, "https://remote.example/inbox")
	if err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	if err := DeliverySuccess(d, delivery.Id, 202); err != nil {
		t.Fatalf("DeliverySuccess failed: %v", err)
	}

	err, stats := DeliveryStatsSnapshot(d)
	if err != nil {
		t.Fatalf("DeliveryStatsSnapshot failed: %v", err)
	}
	if stats[string(domain.DeliveryDelivered)] != 1 {
		t.Errorf("expected 1 delivered delivery, got %v", stats)
	}
}

func TestFanOutWithNoFollowersEnqueuesNothing(t *testing.T) {
	d, conf := newTestEnv(t)
	_, alice := CreateLocalActor(d, conf, "alice", "Alice", "")
	_, act := d.CreateActivity(&domain.Activity{Type: domain.ActivityCreate, ActorId: alice.Id, ActorURI: alice.URI, Local: true, RawJSON: "{}"})

	err, count := fanOutToFollowers(d, act.Id, alice.Id)
	if err != nil {
		t.Fatalf("fanOutToFollowers failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 deliveries with no followers, got %d", count)
	}
}
