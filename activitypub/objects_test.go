package activitypub

import (
	"testing"

	"github.com/deemkeen/fedigraph/domain"
)

func TestCreateNotePersistsObjectAndCountsStatus(t *testing.T) {
	d, conf := newTestEnv(t)
	_, actor := CreateLocalActor(d, conf, "alice", "Alice", "")

	err, obj := CreateNote(d, conf, "alice", "<p>hello <b>world</b></p>", "", "")
	if err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}
	if obj.ContentText != "hello world" {
		t.Errorf("expected stripped content text, got %q", obj.ContentText)
	}
	if obj.ActorId != actor.Id {
		t.Errorf("expected object attributed to actor %d, got %d", actor.Id, obj.ActorId)
	}

	statsErr, stats := d.ReadActorStats(actor.Id)
	if statsErr != nil {
		t.Fatalf("ReadActorStats failed: %v", statsErr)
	}
	if stats.StatusesCount != 1 {
		t.Errorf("expected statuses_count 1, got %d", stats.StatusesCount)
	}
}

func TestCreateNoteInheritsParentVisibility(t *testing.T) {
	d, conf := newTestEnv(t)
	_, actor := CreateLocalActor(d, conf, "alice", "Alice", "")

	directErr, direct := d.CreateObject(&domain.Object{
		URI:        "https://test.example/users/alice/objects/direct-1",
		Type:       domain.ObjectNote,
		ActorId:    actor.Id,
		Visibility: domain.VisibilityDirect,
	})
	if directErr != nil {
		t.Fatalf("failed to seed direct parent object: %v", directErr)
	}

	err, reply := CreateNote(d, conf, "alice", "a reply", "", direct.URI)
	if err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}
	if reply.Visibility != domain.VisibilityDirect {
		t.Errorf("expected reply to inherit Direct visibility, got %s", reply.Visibility)
	}
}

func TestCreateNoteUnknownActorFails(t *testing.T) {
	d, conf := newTestEnv(t)

	err, _ := CreateNote(d, conf, "ghost", "hi", "", "")
	if err == nil {
		t.Fatal("expected CreateNote for an unknown local actor to fail")
	}
}

func TestSerializeObjectTombstonesDeleted(t *testing.T) {
	d, conf := newTestEnv(t)
	_, actor := CreateLocalActor(d, conf, "alice", "Alice", "")
	_, obj := CreateNote(d, conf, "alice", "hello", "", "")

	if err := d.SoftDeleteObject(obj.URI); err != nil {
		t.Fatalf("SoftDeleteObject failed: %v", err)
	}
	_, deleted := d.ReadObjectByURI(obj.URI)

	doc := SerializeObject(deleted, actor)
	if doc["type"] != "Tombstone" {
		t.Errorf("expected Tombstone type after soft delete, got %v", doc["type"])
	}
	if _, hasContent := doc["content"]; hasContent {
		t.Error("expected content to be omitted from a tombstoned object")
	}
}

func TestOrderedCollectionPaging(t *testing.T) {
	coll := OrderedCollection("https://test.example/users/alice/outbox", 45)
	if coll["totalItems"] != 45 {
		t.Errorf("expected totalItems 45, got %v", coll["totalItems"])
	}
	if coll["last"] != "https://test.example/users/alice/outbox?page=3" {
		t.Errorf("expected last page 3, got %v", coll["last"])
	}

	page := OrderedCollectionPage("https://test.example/users/alice/outbox", 2, []any{"a", "b"}, 45)
	if page["next"] != "https://test.example/users/alice/outbox?page=3" {
		t.Errorf("expected next page 3, got %v", page["next"])
	}
	if page["prev"] != "https://test.example/users/alice/outbox?page=1" {
		t.Errorf("expected prev page 1, got %v", page["prev"])
	}

	lastPageDoc := OrderedCollectionPage("https://test.example/users/alice/outbox", 3, []any{"c"}, 45)
	if _, hasNext := lastPageDoc["next"]; hasNext {
		t.Error("expected the last page to have no next link")
	}
}

func TestSerializeActivityKeepsBareObjectReference(t *testing.T) {
	_, conf := newTestEnv(t)

	activity := SerializeActivity("Like", "https://test.example/users/alice", "https://remote.example/objects/1", conf)
	if activity["type"] != "Like" {
		t.Errorf("expected type Like, got %v", activity["type"])
	}
	if activity["object"] != "https://remote.example/objects/1" {
		t.Errorf("expected bare object reference, got %v", activity["object"])
	}
}
