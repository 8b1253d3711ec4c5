// Command fediworker is the external delivery worker: it polls for queued
// ActivityPub deliveries, signs and POSTs each one to its destination
// inbox, and reports the outcome back to the database. It never touches
// the inbound path; that is the HTTP proxy's job (see web.Router).
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/fedigraph/activitypub"
	"github.com/deemkeen/fedigraph/db"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/pubsub"
	"github.com/deemkeen/fedigraph/util"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	conf, err := util.ReadConf(*configPath)
	if err != nil {
		log.Fatalln(err)
	}
	util.SetupLogging(conf.WithJournald)

	log.Printf("%s delivery worker starting", util.GetNameAndVersion())

	// A dedicated connection: the worker is a separate process from the
	// proxy, so it cannot share the proxy's pubsub.Bus (in-process only,
	// see pubsub.Bus's own doc comment) or its singleton *db.DB. Polling
	// on a fixed interval is the only scheduling signal available across
	// process boundaries.
	bus := pubsub.NewBus()
	database, err := db.Open(conf.DbPath, bus)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	client := &http.Client{Timeout: time.Duration(conf.DeliveryTimeoutSeconds) * time.Second}

	interval := time.Duration(conf.WorkerPollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("polling every %s, batch size %d", interval, conf.WorkerBatchSize)

	runOnce(database, client, conf)
	for range ticker.C {
		runOnce(database, client, conf)
	}
}

// runOnce claims and delivers one batch of pending deliveries.
func runOnce(database *db.DB, client *http.Client, conf *util.AppConfig) {
	err, jobs := activitypub.GetPendingDeliveries(database, conf.WorkerBatchSize)
	if err != nil {
		log.Printf("failed to claim deliveries: %v", err)
		return
	}
	if len(jobs) == 0 {
		return
	}
	log.Printf("claimed %d deliveries", len(jobs))
	for _, job := range jobs {
		deliverOne(database, client, conf, job)
	}
}

// deliverOne signs and POSTs a single claimed delivery, then reports the
// outcome back through DeliverySuccess/DeliveryFailure.
func deliverOne(database *db.DB, client *http.Client, conf *util.AppConfig, job domain.DeliveryJob) {
	privateKey, err := activitypub.ParsePrivateKey(job.PrivateKeyPEM)
	if err != nil {
		reportFailure(database, conf, job, 0, fmt.Sprintf("bad private key: %v", err))
		return
	}

	body := []byte(job.ActivityJSON)
	req, err := http.NewRequest(http.MethodPost, job.InboxURI, bytes.NewReader(body))
	if err != nil {
		reportFailure(database, conf, job, 0, fmt.Sprintf("failed to build request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("User-Agent", conf.UserAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Digest", activitypub.Digest(body))

	if err := activitypub.SignRequest(req, privateKey, job.KeyID); err != nil {
		reportFailure(database, conf, job, 0, fmt.Sprintf("failed to sign request: %v", err))
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		reportFailure(database, conf, job, 0, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := activitypub.DeliverySuccess(database, job.DeliveryId, resp.StatusCode); err != nil {
			log.Printf("failed to record delivery %d success: %v", job.DeliveryId, err)
		}
		return
	}
	reportFailure(database, conf, job, resp.StatusCode, fmt.Sprintf("remote returned status %d", resp.StatusCode))
}

func reportFailure(database *db.DB, conf *util.AppConfig, job domain.DeliveryJob, statusCode int, errMsg string) {
	log.Printf("delivery %d to %s failed: %s", job.DeliveryId, job.InboxURI, errMsg)
	if err := activitypub.DeliveryFailure(database, job.DeliveryId, errMsg, statusCode, conf.MaxDeliveryAttempts); err != nil {
		log.Printf("failed to record delivery %d failure: %v", job.DeliveryId, err)
	}
}
