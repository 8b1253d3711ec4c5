package activitypub

import (
	"os"
	"testing"

	"github.com/deemkeen/fedigraph/db"
	"github.com/deemkeen/fedigraph/pubsub"
	"github.com/deemkeen/fedigraph/util"
)

// newTestEnv opens an isolated database and a matching config for a
// single test, the way db/db_test.go opens its own temp-file databases.
func newTestEnv(t *testing.T) (*db.DB, *util.AppConfig) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fedigraph-*.db")
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
