package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/deemkeen/fedigraph/activitypub"
	"github.com/deemkeen/fedigraph/db"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/pubsub"
	"github.com/deemkeen/fedigraph/util"
)

func newTestEnv(t *testing.T) (*db.DB, *util.AppConfig) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fediworker-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	d, err := db.Open(f.Name(), pubsub.NewBus())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	conf := util.DefaultConfig()
	conf.Domain = "test.example"
	conf.Https = true
	return d, &conf
}

// seedDelivery creates a local author, a remote follower whose inbox
// points at inboxURI, and publishes a note so fan-out queues exactly one
// delivery, returning it claimed and ready to hand to deliverOne.
func seedDelivery(t *testing.T, d *db.DB, conf *util.AppConfig, inboxURI string) domain.DeliveryJob {
	t.Helper()

	err, alice := activitypub.CreateLocalActor(d, conf, "alice", "Alice", "")
	if err != nil {
		t.Fatalf("CreateLocalActor failed: %v", err)
	}

	remoteDoc := []byte(`{"id":"https://remote.example/users/bob","type":"Person","preferredUsername":"bob","inbox":"` + inboxURI + `"}`)
	err, bob := activitypub.UpsertRemoteActor(d, remoteDoc)
	if err != nil {
		t.Fatalf("UpsertRemoteActor failed: %v", err)
	}

	if err, _ := d.CreateFollow(&domain.Follow{
		FollowerId:  bob.Id,
		FollowingId: alice.Id,
		URI:         "https://remote.example/follows/1",
		Accepted:    true,
	}); err != nil {
		t.Fatalf("CreateFollow failed: %v", err)
	}

	if err, _ := activitypub.CreateNote(d, conf, "alice", "hello federation", "", ""); err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}

	err, jobs := activitypub.GetPendingDeliveries(d, 10)
	if err != nil {
		t.Fatalf("GetPendingDeliveries failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected exactly 1 pending delivery, got %d", len(jobs))
	}
	return jobs[0]
}

func TestDeliverOneRecordsSuccess(t *testing.T) {
	var gotSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("Signature")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d, conf := newTestEnv(t)
	job := seedDelivery(t, d, conf, server.URL+"/inbox")

	client := &http.Client{Timeout: 5 * time.Second}
	deliverOne(d, client, conf, job)

	if gotSignature == "" {
		t.Error("expected remote inbox to receive a Signature header")
	}

	statsErr, stats := activitypub.DeliveryStatsSnapshot(d)
	if statsErr != nil {
		t.Fatalf("DeliveryStatsSnapshot failed: %v", statsErr)
	}
	if stats["Delivered"] != 1 {
		t.Errorf("expected 1 delivered delivery, got stats=%v", stats)
	}
}

func TestDeliverOneRecordsFailureOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, conf := newTestEnv(t)
	job := seedDelivery(t, d, conf, server.URL+"/inbox")

	client := &http.Client{Timeout: 5 * time.Second}
	deliverOne(d, client, conf, job)

	statsErr, stats := activitypub.DeliveryStatsSnapshot(d)
	if statsErr != nil {
		t.Fatalf("DeliveryStatsSnapshot failed: %v", statsErr)
	}
	if stats["Failed"] != 1 && stats["Expired"] != 1 {
		t.Errorf("expected the delivery to be recorded as Failed or Expired, got stats=%v", stats)
	}
}

func TestDeliverOneRecordsFailureOnUnreachableHost(t *testing.T) {
	d, conf := newTestEnv(t)
	job := seedDelivery(t, d, conf, "http://127.0.0.1:1/inbox")

	client := &http.Client{Timeout: 2 * time.Second}
	deliverOne(d, client, conf, job)

	statsErr, stats := activitypub.DeliveryStatsSnapshot(d)
	if statsErr != nil {
		t.Fatalf("DeliveryStatsSnapshot failed: %v", statsErr)
	}
	if stats["Failed"] != 1 && stats["Expired"] != 1 {
		t.Errorf("expected the delivery to be recorded as Failed or Expired, got stats=%v", stats)
	}
}
