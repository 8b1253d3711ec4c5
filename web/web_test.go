package web

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/deemkeen/fedigraph/db"
	"github.com/deemkeen/fedigraph/pubsub"
	"github.com/deemkeen/fedigraph/util"
)

func newTestServer(t *testing.T) (*db.DB, *util.AppConfig, http.Handler) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fedigraph-web-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	bus := pubsub.NewBus()
	d, err := db.Open(f.Name(), bus)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	conf := util.DefaultConfig()
	conf.Domain = "test.example"
	conf.Https = true

	handler, err := Router(&conf, d, bus)
	if err != nil {
		t.Fatalf("Router failed: %v", err)
	}
	return d, &conf, handler
}

func doRequest(handler http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}
