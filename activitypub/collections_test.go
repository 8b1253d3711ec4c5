package activitypub

import (
	"testing"

	"github.com/deemkeen/fedigraph/domain"
)

func TestSerializeOutboxPagesByPageSize(t *testing.T) {
	d, conf := newTestEnv(t)
	_, alice := CreateLocalActor(d, conf, "alice", "Alice", "")
	for i := 0; i < 25; i++ {
		CreateNote(d, conf, "alice", "post", "", "")
	}

	err, root := SerializeOutbox(d, alice, conf, 0)
	if err != nil {
		t.Fatalf("SerializeOutbox failed: %v", err)
	}
	if root["totalItems"] != 25 {
		t.Errorf("expected totalItems 25, got %v", root["totalItems"])
	}

	err, page1 := SerializeOutbox(d, alice, conf, 1)
	if err != nil {
		t.Fatalf("SerializeOutbox page 1 failed: %v", err)
	}
	items, ok := page1["orderedItems"].([]any)
	if !ok || len(items) != PageSize {
		t.Fatalf("expected a full page of %d items, got %v", PageSize, page1["orderedItems"])
	}

	err, page2 := SerializeOutbox(d, alice, conf, 2)
	if err != nil {
		t.Fatalf("SerializeOutbox page 2 failed: %v", err)
	}
	items2, ok := page2["orderedItems"].([]any)
	if !ok || len(items2) != 5 {
		t.Fatalf("expected the remaining 5 items on page 2, got %v", page2["orderedItems"])
	}
}

func TestSerializeFollowersPagesByOffset(t *testing.T) {
	d, conf := newTestEnv(t)
	_, alice := CreateLocalActor(d, conf, "alice", "Alice", "")

	for i := 0; i < 3; i++ {
		_, remote := d.UpsertRemoteActor(&domain.Actor{
			URI: "https://remote.example/users/f" + string(rune('a'+i)), Type: domain.ActorPerson,
			Username: "f" + string(rune('a'+i)), Domain: "remote.example", InboxURI: "https://remote.example/inbox",
		})
		d.CreateFollow(&domain.Follow{FollowerId: remote.Id, FollowingId: alice.Id, URI: remote.URI + "/follows/1", Accepted: true})
	}

	err, root := SerializeFollowers(d, alice, 0)
	if err != nil {
		t.Fatalf("SerializeFollowers failed: %v", err)
	}
	if root["totalItems"] != 3 {
		t.Errorf("expected 3 followers, got %v", root["totalItems"])
	}

	err, page := SerializeFollowers(d, alice, 1)
	if err != nil {
		t.Fatalf("SerializeFollowers page failed: %v", err)
	}
	items, ok := page["orderedItems"].([]any)
	if !ok || len(items) != 3 {
		t.Fatalf("expected 3 items on the single page, got %v", page["orderedItems"])
	}
}

func TestSerializeFeaturedIsAlwaysEmpty(t *testing.T) {
	d, conf := newTestEnv(t)
	_, alice := CreateLocalActor(d, conf, "alice", "Alice", "")

	doc := SerializeFeatured(alice)
	if doc["totalItems"] != 0 {
		t.Errorf("expected an empty featured collection, got %v", doc["totalItems"])
	}
	items, ok := doc["orderedItems"].([]any)
	if !ok || len(items) != 0 {
		t.Errorf("expected an empty orderedItems slice, got %v", doc["orderedItems"])
	}
}
