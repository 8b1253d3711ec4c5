package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/deemkeen/fedigraph/apperr"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/pubsub"
	"github.com/deemkeen/fedigraph/util"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection and the in-process notification bus fed
// from the insert paths that stand in for the original NOTIFY triggers.
type DB struct {
	db  *sql.DB
	bus *pubsub.Bus
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

// GetDB opens (or returns the already-open) singleton database connection.
// The first caller's dbPath and bus win; later calls just return the
// existing instance, matching the teacher's sync.Once singleton shape.
func GetDB(dbPath string, bus *pubsub.Bus) *DB {
	dbOnce.Do(func() {
		log.Printf("Using database at: %s", dbPath)

		sqlDB, err := openSQLite(dbPath)
		if err != nil {
			panic(err)
		}

		log.Printf("Database initialized with connection pooling (max 25 connections)")

		dbInstance = &DB{db: sqlDB, bus: bus}

		if err := dbInstance.CreateDB(); err != nil {
			panic(err)
		}
	})

	return dbInstance
}

// Open opens an independent, non-singleton database connection against
// dbPath, applying the schema before returning. Used by the delivery
// worker and by tests that need isolated databases instead of the
// process-wide GetDB singleton.
func Open(dbPath string, bus *pubsub.Bus) (*DB, error) {
	sqlDB, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	d := &DB{db: sqlDB, bus: bus}
	if err := d.CreateDB(); err != nil {
		return nil, err
	}
	return d, nil
}

// openSQLite opens a connection pool against dbPath and applies the pragma
// settings the federation core relies on: WAL for concurrent readers during
// worker polling, foreign keys on, and a busy timeout so writers waiting on
// SQLite's single-writer lock don't fail outright under load.
func openSQLite(dbPath string) (*sql.DB, error) {
	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	err = sqlDB.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
	if err != nil || journalMode == "delete" {
		err = sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
		if err != nil {
			log.Printf("Warning: Failed to enable WAL mode: %v", err)
		} else {
			log.Printf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
		}
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")
	sqlDB.Exec("PRAGMA auto_vacuum = INCREMENTAL")

	return sqlDB, nil
}

// CreateDB creates every table and index the federation core needs, if
// they don't already exist.
func (d *DB) CreateDB() error {
	return d.wrapTransaction(func(tx *sql.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.Exec(stmt.ddl); err != nil {
				log.Printf("Error creating table %s: %v", stmt.name, err)
				return err
			}
		}
		for _, idx := range schemaIndices {
			if _, err := tx.Exec(idx); err != nil {
				log.Printf("Warning: failed to create indices: %v", err)
			}
		}
		return nil
	})
}

// wrapTransaction runs f inside a transaction, committing on success and
// rolling back on error or panic.
func (d *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("error rolling back transaction: %s", rbErr)
		}
		return err
	}

	return tx.Commit()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// -----------------------------------------------------------------------
// Actors
// -----------------------------------------------------------------------

const (
	sqlInsertActor = `INSERT INTO ap_actors (
		uri, actor_type, username, domain, display_name, summary,
		inbox_uri, outbox_uri, shared_inbox_uri, followers_uri, following_uri,
		featured_uri, avatar_url, header_url, manually_approves_followers,
		discoverable, raw_json, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectActorColumns = `id, uri, actor_type, username, domain, display_name, summary,
		inbox_uri, outbox_uri, shared_inbox_uri, followers_uri, following_uri,
		featured_uri, avatar_url, header_url, manually_approves_followers,
		discoverable, raw_json, created_at, updated_at, last_fetched_at
		FROM ap_actors`

	sqlSelectActorByURI      = `SELECT ` + sqlSelectActorColumns + ` WHERE uri = ?`
	sqlSelectActorById       = `SELECT ` + sqlSelectActorColumns + ` WHERE id = ?`
	sqlSelectActorByUsername = `SELECT ` + sqlSelectActorColumns + ` WHERE username = ? AND domain IS ?`

	sqlUpdateRemoteActor = `UPDATE ap_actors SET
		display_name = ?, summary = ?, inbox_uri = ?, outbox_uri = ?,
		shared_inbox_uri = ?, followers_uri = ?, following_uri = ?, featured_uri = ?,
		avatar_url = ?, header_url = ?, manually_approves_followers = ?,
		discoverable = ?, raw_json = ?, updated_at = ?, last_fetched_at = ?
		WHERE uri = ?`
)

func scanActor(row interface{ Scan(...any) error }) (*domain.Actor, error) {
	var a domain.Actor
	var domainVal, displayName, summary, outboxURI, sharedInboxURI, followersURI,
		followingURI, featuredURI, avatarURL, headerURL, rawJSON sql.NullString
	var manuallyApproves, discoverable int
	var createdAt, updatedAt string
	var lastFetchedAt sql.NullString

	err := row.Scan(&a.Id, &a.URI, &a.Type, &a.Username, &domainVal, &displayName, &summary,
		&a.InboxURI, &outboxURI, &sharedInboxURI, &followersURI, &followingURI,
		&featuredURI, &avatarURL, &headerURL, &manuallyApproves,
		&discoverable, &rawJSON, &createdAt, &updatedAt, &lastFetchedAt)
	if err != nil {
		return nil, err
	}

	a.Domain = domainVal.String
	a.DisplayName = displayName.String
	a.Summary = summary.String
	a.OutboxURI = outboxURI.String
	a.SharedInboxURI = sharedInboxURI.String
	a.FollowersURI = followersURI.String
	a.FollowingURI = followingURI.String
	a.FeaturedURI = featuredURI.String
	a.AvatarURL = avatarURL.String
	a.HeaderURL = headerURL.String
	a.ManuallyApprovesFollowers = manuallyApproves != 0
	a.Discoverable = discoverable != 0
	a.RawJSON = rawJSON.String
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	a.LastFetchedAt = parseNullableTime(lastFetchedAt)

	return &a, nil
}

// CreateLocalActor inserts a new local actor (domain = "") and returns it
// with its assigned id.
func (d *DB) CreateLocalActor(a *domain.Actor) (error, *domain.Actor) {
	ts := now()
	a.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	a.UpdatedAt = a.CreatedAt

	var res sql.Result
	err := d.wrapTransaction(func(tx *sql.Tx) error {
		var err error
		res, err = tx.Exec(sqlInsertActor,
			a.URI, a.Type, a.Username, nil, a.DisplayName, a.Summary,
			a.InboxURI, a.OutboxURI, a.SharedInboxURI, a.FollowersURI, a.FollowingURI,
			a.FeaturedURI, a.AvatarURL, a.HeaderURL, boolToInt(a.ManuallyApprovesFollowers),
			boolToInt(a.Discoverable), a.RawJSON, ts, ts)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		a.Id = id
		_, err = tx.Exec(`INSERT INTO ap_actor_stats (actor_id) VALUES (?)`, id)
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return apperr.NewDuplicateActor(fmt.Sprintf("actor %s already exists", a.URI)), nil
		}
		return apperr.WrapInternal("failed to create local actor", err), nil
	}
	return nil, a
}

// UpsertRemoteActor inserts a newly-discovered remote actor or refreshes
// the cached copy of one already known, keyed by uri.
func (d *DB) UpsertRemoteActor(a *domain.Actor) (error, *domain.Actor) {
	ts := now()

	existingErr, existing := d.ReadActorByURI(a.URI)
	if existingErr == nil && existing != nil {
		a.Id = existing.Id
		a.CreatedAt = existing.CreatedAt
		a.UpdatedAt, _ = time.Parse(time.RFC3339, ts)

		_, err := d.db.Exec(sqlUpdateRemoteActor,
			a.DisplayName, a.Summary, a.InboxURI, a.OutboxURI, a.SharedInboxURI,
			a.FollowersURI, a.FollowingURI, a.FeaturedURI, a.AvatarURL, a.HeaderURL,
			boolToInt(a.ManuallyApprovesFollowers), boolToInt(a.Discoverable), a.RawJSON,
			ts, ts, a.URI)
		if err != nil {
			return apperr.WrapInternal("failed to update remote actor", err), nil
		}
		return nil, a
	}

	a.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	a.UpdatedAt = a.CreatedAt

	var res sql.Result
	err := d.wrapTransaction(func(tx *sql.Tx) error {
		var err error
		res, err = tx.Exec(sqlInsertActor,
			a.URI, a.Type, a.Username, a.Domain, a.DisplayName, a.Summary,
			a.InboxURI, a.OutboxURI, a.SharedInboxURI, a.FollowersURI, a.FollowingURI,
			a.FeaturedURI, a.AvatarURL, a.HeaderURL, boolToInt(a.ManuallyApprovesFollowers),
			boolToInt(a.Discoverable), a.RawJSON, ts, ts)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		a.Id = id
		_, err = tx.Exec(`INSERT INTO ap_actor_stats (actor_id) VALUES (?)`, id)
		return err
	})
	if err != nil {
		return apperr.WrapInternal("failed to create remote actor", err), nil
	}
	return nil, a
}

func (d *DB) ReadActorByURI(uri string) (error, *domain.Actor) {
	a, err := scanActor(d.db.QueryRow(sqlSelectActorByURI, uri))
	if err == sql.ErrNoRows {
		return apperr.NewNotFound(fmt.Sprintf("actor %s not found", uri)), nil
	}
	if err != nil {
		return apperr.WrapInternal("failed to read actor", err), nil
	}
	return nil, a
}

func (d *DB) ReadActorById(id int64) (error, *domain.Actor) {
	a, err := scanActor(d.db.QueryRow(sqlSelectActorById, id))
	if err == sql.ErrNoRows {
		return apperr.NewNotFound(fmt.Sprintf("actor %d not found", id)), nil
	}
	if err != nil {
		return apperr.WrapInternal("failed to read actor", err), nil
	}
	return nil, a
}

// ReadLocalActorByUsername looks up a local actor (domain IS NULL).
func (d *DB) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	a, err := scanActor(d.db.QueryRow(sqlSelectActorByUsername, username, nil))
	if err == sql.ErrNoRows {
		return apperr.NewNotFound(fmt.Sprintf("local actor %s not found", username)), nil
	}
	if err != nil {
		return apperr.WrapInternal("failed to read actor", err), nil
	}
	return nil, a
}

// -----------------------------------------------------------------------
// Keys
// -----------------------------------------------------------------------

func (d *DB) CreateKeyPair(k *domain.KeyPair) error {
	k.CreatedAt, _ = time.Parse(time.RFC3339, now())
	_, err := d.db.Exec(
		`INSERT INTO ap_keys (actor_id, key_id, public_key_pem, private_key_pem, created_at) VALUES (?, ?, ?, ?, ?)`,
		k.ActorId, k.KeyID, k.PublicKeyPEM, k.PrivateKeyPEM, k.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return apperr.WrapInternal("failed to store keypair", err)
	}
	return nil
}

func (d *DB) ReadKeyByActorId(actorId int64) (error, *domain.KeyPair) {
	var k domain.KeyPair
	var privatePEM sql.NullString
	var createdAt string
	err := d.db.QueryRow(
		`SELECT actor_id, key_id, public_key_pem, private_key_pem, created_at FROM ap_keys WHERE actor_id = ?`,
		actorId,
	).Scan(&k.ActorId, &k.KeyID, &k.PublicKeyPEM, &privatePEM, &createdAt)
	if err == sql.ErrNoRows {
		return apperr.NewNotFound(fmt.Sprintf("no keypair for actor %d", actorId)), nil
	}
	if err != nil {
		return apperr.WrapInternal("failed to read keypair", err), nil
	}
	k.PrivateKeyPEM = privatePEM.String
	k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return nil, &k
}

// -----------------------------------------------------------------------
// Objects
// -----------------------------------------------------------------------

func scanObject(row interface{ Scan(...any) error }) (*domain.Object, error) {
	var o domain.Object
	var actorId sql.NullInt64
	var inReplyTo, conversation, content, contentText, summary, url, language, rawJSON sql.NullString
	var publishedAt, editedAt, deletedAt sql.NullString
	var createdAt, updatedAt string
	var sensitive int

	err := row.Scan(&o.Id, &o.URI, &o.Type, &actorId, &inReplyTo, &conversation,
		&content, &contentText, &summary, &url, &o.Visibility, &sensitive, &language,
		&publishedAt, &editedAt, &deletedAt, &rawJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	o.ActorId = actorId.Int64
	o.InReplyToURI = inReplyTo.String
	o.ConversationURI = conversation.String
	o.ContentHTML = content.String
	o.ContentText = contentText.String
	o.Summary = summary.String
	o.URL = url.String
	o.Sensitive = sensitive != 0
	o.Language = language.String
	o.PublishedAt = parseNullableTime(publishedAt)
	o.UpdatedAt = parseNullableTime(sql.NullString{String: updatedAt, Valid: true})
	o.DeletedAt = parseNullableTime(deletedAt)
	o.RawJSON = rawJSON.String
	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	_ = editedAt

	return &o, nil
}

const sqlObjectColumns = `id, uri, object_type, actor_id, in_reply_to_uri, conversation_uri,
	content, content_text, summary, url, visibility, sensitive, language,
	published_at, edited_at, deleted_at, raw_json, created_at, updated_at
	FROM ap_objects`

func (d *DB) CreateObject(o *domain.Object) (error, *domain.Object) {
	ts := now()
	o.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	if o.PublishedAt == nil {
		o.PublishedAt = &o.CreatedAt
	}

	var res sql.Result
	err := d.wrapTransaction(func(tx *sql.Tx) error {
		var err error
		res, err = tx.Exec(`INSERT INTO ap_objects (
			uri, object_type, actor_id, in_reply_to_uri, conversation_uri,
			content, content_text, summary, url, visibility, sensitive, language,
			published_at, raw_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.URI, o.Type, o.ActorId, o.InReplyToURI, o.ConversationURI,
			o.ContentHTML, o.ContentText, o.Summary, o.URL, o.Visibility, boolToInt(o.Sensitive), o.Language,
			o.PublishedAt.UTC().Format(time.RFC3339), o.RawJSON, ts, ts)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		o.Id = id

		if o.ActorId != 0 {
			if _, err := tx.Exec(`UPDATE ap_actor_stats SET statuses_count = statuses_count + 1, last_status_at = ? WHERE actor_id = ?`, ts, o.ActorId); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return apperr.NewDuplicateObject(fmt.Sprintf("object %s already exists", o.URI)), nil
		}
		return apperr.WrapInternal("failed to create object", err), nil
	}

	d.bus.Publish(pubsub.ObjectCreated, o.Id)
	return nil, o
}

func (d *DB) ReadObjectByURI(uri string) (error, *domain.Object) {
	o, err := scanObject(d.db.QueryRow(`SELECT `+sqlObjectColumns+` WHERE uri = ?`, uri))
	if err == sql.ErrNoRows {
		return apperr.NewNotFound(fmt.Sprintf("object %s not found", uri)), nil
	}
	if err != nil {
		return apperr.WrapInternal("failed to read object", err), nil
	}
	return nil, o
}

// SoftDeleteObject tombstones an object in place: the row survives with
// deleted_at set so federated Delete/Undo activities still have something
// to reference.
func (d *DB) SoftDeleteObject(uri string) error {
	ts := now()
	res, err := d.db.Exec(`UPDATE ap_objects SET deleted_at = ?, updated_at = ? WHERE uri = ? AND deleted_at IS NULL`, ts, ts, uri)
	if err != nil {
		return apperr.WrapInternal("failed to delete object", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NewNotFound(fmt.Sprintf("object %s not found or already deleted", uri))
	}
	return nil
}

// UpdateObject patches the mutable fields of an object (content, summary)
// in place and stamps updated_at, the effect of a federated Update
// activity over a Note/Article/etc.
func (d *DB) UpdateObject(uri, content, summary string) error {
	ts := now()
	res, err := d.db.Exec(`UPDATE ap_objects SET content = ?, content_text = ?, summary = ?, updated_at = ?
		WHERE uri = ? AND deleted_at IS NULL`,
		content, util.StripHTML(content), summary, ts, uri)
	if err != nil {
		return apperr.WrapInternal("failed to update object", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NewNotFound(fmt.Sprintf("object %s not found or deleted", uri))
	}
	return nil
}

// ReadOutbox returns an actor's public, non-deleted objects, replies
// included, newest first, limited to size.
func (d *DB) ReadOutbox(actorId int64, limit int) (error, []domain.Object) {
	rows, err := d.db.Query(`SELECT `+sqlObjectColumns+`
		WHERE actor_id = ? AND visibility = 'Public' AND deleted_at IS NULL
		ORDER BY published_at DESC LIMIT ?`, actorId, limit)
	if err != nil {
		return apperr.WrapInternal("failed to read outbox", err), nil
	}
	defer rows.Close()

	var out []domain.Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return apperr.WrapInternal("failed to scan object", err), nil
		}
		out = append(out, *o)
	}
	return nil, out
}

// ReadHomeTimeline returns public and unlisted top-level objects from
// local actors, newest first.
func (d *DB) ReadHomeTimeline(limit int) (error, []domain.Object) {
	rows, err := d.db.Query(`SELECT `+sqlObjectColumns+`
		WHERE deleted_at IS NULL AND (in_reply_to_uri IS NULL OR in_reply_to_uri = '') AND visibility IN ('Public', 'Unlisted')
		AND actor_id IN (SELECT id FROM ap_actors WHERE domain IS NULL)
		ORDER BY published_at DESC LIMIT ?`, limit)
	if err != nil {
		return apperr.WrapInternal("failed to read home timeline", err), nil
	}
	defer rows.Close()

	var out []domain.Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return apperr.WrapInternal("failed to scan object", err), nil
		}
		out = append(out, *o)
	}
	return nil, out
}

// SearchObjects does a best-effort substring search over content_text.
// There is no full-text index behind it; it is meant for small instances,
// not scale.
func (d *DB) SearchObjects(query string, limit int) (error, []domain.Object) {
	rows, err := d.db.Query(`SELECT `+sqlObjectColumns+`
		WHERE deleted_at IS NULL AND visibility = 'Public' AND content_text LIKE ?
		ORDER BY published_at DESC LIMIT ?`, "%"+query+"%", limit)
	if err != nil {
		return apperr.WrapInternal("failed to search objects", err), nil
	}
	defer rows.Close()

	var out []domain.Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return apperr.WrapInternal("failed to scan object", err), nil
		}
		out = append(out, *o)
	}
	return nil, out
}

// -----------------------------------------------------------------------
// Activities
// -----------------------------------------------------------------------

func (d *DB) CreateActivity(act *domain.Activity) (error, *domain.Activity) {
	ts := now()
	act.CreatedAt, _ = time.Parse(time.RFC3339, ts)

	var uriArg any
	if act.URI != "" {
		uriArg = act.URI
	}
	var actorIdArg any
	if act.ActorId != 0 {
		actorIdArg = act.ActorId
	}

	var res sql.Result
	err := d.wrapTransaction(func(tx *sql.Tx) error {
		var err error
		res, err = tx.Exec(`INSERT INTO ap_activities (
			uri, activity_type, actor_id, actor_uri, object_uri, target_uri,
			raw_json, local, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uriArg, act.Type, actorIdArg, act.ActorURI, act.ObjectURI, act.TargetURI,
			act.RawJSON, boolToInt(act.Local), ts)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		act.Id = id
		return nil
	})
	if err != nil {
		return apperr.WrapInternal("failed to record activity", err), nil
	}

	if !act.Local {
		d.bus.Publish(pubsub.ActivityReceived, act.Id)
	}
	return nil, act
}

func (d *DB) MarkActivityProcessed(id int64) error {
	_, err := d.db.Exec(`UPDATE ap_activities SET processed_at = ? WHERE id = ?`, now(), id)
	if err != nil {
		return apperr.WrapInternal("failed to mark activity processed", err)
	}
	return nil
}

func (d *DB) ReadActivityByURI(uri string) (error, *domain.Activity) {
	var act domain.Activity
	var actorId sql.NullInt64
	var objectURI, targetURI, rawJSON sql.NullString
	var processedAt sql.NullString
	var createdAt string
	var local int

	err := d.db.QueryRow(
		`SELECT id, uri, activity_type, actor_id, actor_uri, object_uri, target_uri, raw_json, local, processed_at, created_at
		 FROM ap_activities WHERE uri = ?`, uri,
	).Scan(&act.Id, &act.URI, &act.Type, &actorId, &act.ActorURI, &objectURI, &targetURI, &rawJSON, &local, &processedAt, &createdAt)
	if err == sql.ErrNoRows {
		return apperr.NewNotFound(fmt.Sprintf("activity %s not found", uri)), nil
	}
	if err != nil {
		return apperr.WrapInternal("failed to read activity", err), nil
	}

	act.ActorId = actorId.Int64
	act.ObjectURI = objectURI.String
	act.TargetURI = targetURI.String
	act.RawJSON = rawJSON.String
	act.Local = local != 0
	act.ProcessedAt = parseNullableTime(processedAt)
	act.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return nil, &act
}

// -----------------------------------------------------------------------
// Follows
// -----------------------------------------------------------------------

func (d *DB) CreateFollow(f *domain.Follow) (error, *domain.Follow) {
	f.CreatedAt, _ = time.Parse(time.RFC3339, now())

	var res sql.Result
	err := d.wrapTransaction(func(tx *sql.Tx) error {
		var err error
		res, err = tx.Exec(`INSERT INTO ap_follows (follower_id, following_id, uri, accepted, created_at) VALUES (?, ?, ?, ?, ?)`,
			f.FollowerId, f.FollowingId, f.URI, boolToInt(f.Accepted), f.CreatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		f.Id = id
		if f.Accepted {
			if err := d.bumpFollowCounts(tx, f.FollowerId, f.FollowingId, 1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return apperr.NewDuplicateActor("follow relationship already exists"), nil
		}
		return apperr.WrapInternal("failed to create follow", err), nil
	}
	return nil, f
}

func (d *DB) bumpFollowCounts(tx *sql.Tx, followerId, followingId int64, delta int) error {
	if _, err := tx.Exec(`UPDATE ap_actor_stats SET following_count = following_count + ? WHERE actor_id = ?`, delta, followerId); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE ap_actor_stats SET followers_count = followers_count + ? WHERE actor_id = ?`, delta, followingId); err != nil {
		return err
	}
	return nil
}

func (d *DB) AcceptFollowByURI(uri string) error {
	var followerId, followingId int64
	var accepted int
	err := d.db.QueryRow(`SELECT follower_id, following_id, accepted FROM ap_follows WHERE uri = ?`, uri).
		Scan(&followerId, &followingId, &accepted)
	if err == sql.ErrNoRows {
		return apperr.NewNotFound(fmt.Sprintf("follow %s not found", uri))
	}
	if err != nil {
		return apperr.WrapInternal("failed to read follow", err)
	}
	if accepted != 0 {
		return nil
	}

	return d.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE ap_follows SET accepted = 1 WHERE uri = ?`, uri); err != nil {
			return err
		}
		return d.bumpFollowCounts(tx, followerId, followingId, 1)
	})
}

func (d *DB) ReadFollowByPair(followerId, followingId int64) (error, *domain.Follow) {
	var f domain.Follow
	var accepted int
	var createdAt string
	err := d.db.QueryRow(`SELECT id, follower_id, following_id, uri, accepted, created_at FROM ap_follows WHERE follower_id = ? AND following_id = ?`,
		followerId, followingId).Scan(&f.Id, &f.FollowerId, &f.FollowingId, &f.URI, &accepted, &createdAt)
	if err == sql.ErrNoRows {
		return apperr.NewNotFound("follow not found"), nil
	}
	if err != nil {
		return apperr.WrapInternal("failed to read follow", err), nil
	}
	f.Accepted = accepted != 0
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return nil, &f
}

func (d *DB) DeleteFollowByURI(uri string) error {
	var followerId, followingId int64
	var accepted int
	err := d.db.QueryRow(`SELECT follower_id, following_id, accepted FROM ap_follows WHERE uri = ?`, uri).
		Scan(&followerId, &followingId, &accepted)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return apperr.WrapInternal("failed to read follow", err)
	}

	return d.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM ap_follows WHERE uri = ?`, uri); err != nil {
			return err
		}
		if accepted != 0 {
			return d.bumpFollowCounts(tx, followerId, followingId, -1)
		}
		return nil
	})
}

func (d *DB) ReadFollowers(actorId int64, limit, offset int) (error, []domain.Actor) {
	rows, err := d.db.Query(`SELECT `+sqlSelectActorColumns+`
		WHERE ap_actors.id IN (SELECT follower_id FROM ap_follows WHERE following_id = ? AND accepted = 1)
		ORDER BY id LIMIT ? OFFSET ?`, actorId, limit, offset)
	if err != nil {
		return apperr.WrapInternal("failed to read followers", err), nil
	}
	defer rows.Close()
	return scanActors(rows)
}

func (d *DB) ReadFollowing(actorId int64, limit, offset int) (error, []domain.Actor) {
	rows, err := d.db.Query(`SELECT `+sqlSelectActorColumns+`
		WHERE ap_actors.id IN (SELECT following_id FROM ap_follows WHERE follower_id = ? AND accepted = 1)
		ORDER BY id LIMIT ? OFFSET ?`, actorId, limit, offset)
	if err != nil {
		return apperr.WrapInternal("failed to read following", err), nil
	}
	defer rows.Close()
	return scanActors(rows)
}

func scanActors(rows *sql.Rows) (error, []domain.Actor) {
	var out []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return apperr.WrapInternal("failed to scan actor", err), nil
		}
		out = append(out, *a)
	}
	return nil, out
}

// -----------------------------------------------------------------------
// Likes and announces
// -----------------------------------------------------------------------

func (d *DB) CreateLike(l *domain.Like) (error, *domain.Like) {
	l.CreatedAt, _ = time.Parse(time.RFC3339, now())
	res, err := d.db.Exec(`INSERT INTO ap_likes (actor_id, object_id, uri, created_at) VALUES (?, ?, ?, ?)`,
		l.ActorId, l.ObjectId, l.URI, l.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return apperr.NewDuplicateObject("like already exists"), nil
		}
		return apperr.WrapInternal("failed to create like", err), nil
	}
	l.Id, _ = res.LastInsertId()
	return nil, l
}

func (d *DB) DeleteLikeByURI(uri string) error {
	_, err := d.db.Exec(`DELETE FROM ap_likes WHERE uri = ?`, uri)
	if err != nil {
		return apperr.WrapInternal("failed to delete like", err)
	}
	return nil
}

func (d *DB) CreateAnnounce(an *domain.Announce) (error, *domain.Announce) {
	an.CreatedAt, _ = time.Parse(time.RFC3339, now())
	res, err := d.db.Exec(`INSERT INTO ap_announces (actor_id, object_id, uri, created_at) VALUES (?, ?, ?, ?)`,
		an.ActorId, an.ObjectId, an.URI, an.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return apperr.NewDuplicateObject("announce already exists"), nil
		}
		return apperr.WrapInternal("failed to create announce", err), nil
	}
	an.Id, _ = res.LastInsertId()
	return nil, an
}

func (d *DB) DeleteAnnounceByURI(uri string) error {
	_, err := d.db.Exec(`DELETE FROM ap_announces WHERE uri = ?`, uri)
	if err != nil {
		return apperr.WrapInternal("failed to delete announce", err)
	}
	return nil
}

// -----------------------------------------------------------------------
// Blocks
// -----------------------------------------------------------------------

func (d *DB) BlockDomain(domainName string) error {
	_, err := d.db.Exec(`INSERT INTO ap_blocks (blocked_domain, created_at) VALUES (?, ?)`, domainName, now())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil
		}
		return apperr.WrapInternal("failed to block domain", err)
	}
	return nil
}

func (d *DB) UnblockDomain(domainName string) error {
	_, err := d.db.Exec(`DELETE FROM ap_blocks WHERE blocked_domain = ?`, domainName)
	if err != nil {
		return apperr.WrapInternal("failed to unblock domain", err)
	}
	return nil
}

func (d *DB) IsDomainBlocked(domainName string, matchSubdomains bool) (bool, error) {
	if matchSubdomains {
		rows, err := d.db.Query(`SELECT blocked_domain FROM ap_blocks WHERE blocked_domain IS NOT NULL`)
		if err != nil {
			return false, apperr.WrapInternal("failed to check domain block", err)
		}
		defer rows.Close()
		for rows.Next() {
			var blocked string
			if err := rows.Scan(&blocked); err != nil {
				return false, apperr.WrapInternal("failed to scan blocked domain", err)
			}
			if domainName == blocked || strings.HasSuffix(domainName, "."+blocked) {
				return true, nil
			}
		}
		return false, nil
	}

	var count int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM ap_blocks WHERE blocked_domain = ?`, domainName).Scan(&count)
	if err != nil {
		return false, apperr.WrapInternal("failed to check domain block", err)
	}
	return count > 0, nil
}

func (d *DB) ListBlockedDomains() (error, []string) {
	rows, err := d.db.Query(`SELECT blocked_domain FROM ap_blocks WHERE blocked_domain IS NOT NULL ORDER BY blocked_domain`)
	if err != nil {
		return apperr.WrapInternal("failed to list blocked domains", err), nil
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var domainName string
		if err := rows.Scan(&domainName); err != nil {
			return apperr.WrapInternal("failed to scan blocked domain", err), nil
		}
		out = append(out, domainName)
	}
	return nil, out
}

// -----------------------------------------------------------------------
// Deliveries
// -----------------------------------------------------------------------

// retryIntervals mirrors the exponential backoff schedule the delivery
// queue always used: 1m, 5m, 30m, 2h, 12h, 24h, 3d, 7d.
var retryIntervals = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	1800 * time.Second,
	7200 * time.Second,
	43200 * time.Second,
	86400 * time.Second,
	259200 * time.Second,
	604800 * time.Second,
}

func (d *DB) EnqueueDelivery(activityId int64, inboxURI string) (error, *domain.Delivery) {
	del := &domain.Delivery{
		ActivityId:  activityId,
		InboxURI:    inboxURI,
		Status:      domain.DeliveryQueued,
		NextRetryAt: time.Now().UTC(),
	}
	del.CreatedAt, _ = time.Parse(time.RFC3339, now())

	res, err := d.db.Exec(`INSERT INTO ap_deliveries (activity_id, inbox_uri, status, attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, 0, ?, ?)`,
		del.ActivityId, del.InboxURI, del.Status, del.NextRetryAt.Format(time.RFC3339), del.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return apperr.WrapInternal("failed to enqueue delivery", err), nil
	}
	del.Id, _ = res.LastInsertId()

	d.bus.Publish(pubsub.DeliveryQueued, del.Id)
	return nil, del
}

// ClaimPendingDeliveries atomically claims up to limit deliveries that are
// due for an attempt, marking them InFlight so a second worker polling at
// the same moment does not also pick them up.
func (d *DB) ClaimPendingDeliveries(limit int) (error, []domain.DeliveryJob) {
	var jobs []domain.DeliveryJob

	err := d.wrapTransaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT d.id, d.inbox_uri, act.raw_json, a.uri, k.key_id, k.private_key_pem
			FROM ap_deliveries d
			JOIN ap_activities act ON act.id = d.activity_id
			JOIN ap_actors a ON a.id = act.actor_id
			JOIN ap_keys k ON k.actor_id = a.id
			WHERE (d.status = 'Queued' OR d.status = 'Failed')
			AND d.next_retry_at <= ?
			AND k.private_key_pem IS NOT NULL
			ORDER BY d.next_retry_at
			LIMIT ?`, now(), limit)
		if err != nil {
			return err
		}

		var ids []int64
		for rows.Next() {
			var job domain.DeliveryJob
			if err := rows.Scan(&job.DeliveryId, &job.InboxURI, &job.ActivityJSON, &job.ActorURI, &job.KeyID, &job.PrivateKeyPEM); err != nil {
				rows.Close()
				return err
			}
			jobs = append(jobs, job)
			ids = append(ids, job.DeliveryId)
		}
		rows.Close()

		claimedAt := now()
		for _, id := range ids {
			if _, err := tx.Exec(`UPDATE ap_deliveries SET status = 'InFlight', last_attempt_at = ? WHERE id = ?`, claimedAt, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.WrapInternal("failed to claim deliveries", err), nil
	}
	return nil, jobs
}

func (d *DB) MarkDeliverySuccess(deliveryId int64, statusCode int) error {
	_, err := d.db.Exec(`UPDATE ap_deliveries SET status = 'Delivered', attempts = attempts + 1,
		last_attempt_at = ?, last_status_code = ? WHERE id = ?`, now(), statusCode, deliveryId)
	if err != nil {
		return apperr.WrapInternal("failed to record delivery success", err)
	}
	return nil
}

// MarkDeliveryFailure records a failed attempt, expiring the delivery
// once maxAttempts have been made and otherwise scheduling the next
// attempt using the exponential backoff schedule.
func (d *DB) MarkDeliveryFailure(deliveryId int64, errMsg string, statusCode int, maxAttempts int) error {
	var attempts int
	err := d.db.QueryRow(`SELECT attempts FROM ap_deliveries WHERE id = ?`, deliveryId).Scan(&attempts)
	if err == sql.ErrNoRows {
		return apperr.NewDeliveryUnknown(fmt.Sprintf("delivery %d not found", deliveryId))
	}
	if err != nil {
		return apperr.WrapInternal("failed to read delivery", err)
	}

	newAttempts := attempts + 1
	if newAttempts >= maxAttempts {
		_, err := d.db.Exec(`UPDATE ap_deliveries SET status = 'Expired', attempts = ?, last_attempt_at = ?,
			last_error = ?, last_status_code = ? WHERE id = ?`, newAttempts, now(), errMsg, statusCode, deliveryId)
		if err != nil {
			return apperr.WrapInternal("failed to expire delivery", err)
		}
		return nil
	}

	idx := newAttempts - 1
	if idx >= len(retryIntervals) {
		idx = len(retryIntervals) - 1
	}
	nextRetry := time.Now().UTC().Add(retryIntervals[idx])

	_, err = d.db.Exec(`UPDATE ap_deliveries SET status = 'Failed', attempts = ?, last_attempt_at = ?,
		last_error = ?, last_status_code = ?, next_retry_at = ? WHERE id = ?`,
		newAttempts, now(), errMsg, statusCode, nextRetry.Format(time.RFC3339), deliveryId)
	if err != nil {
		return apperr.WrapInternal("failed to reschedule delivery", err)
	}
	return nil
}

// CleanupExpiredDeliveries deletes terminal (Delivered or Expired)
// delivery rows older than olderThan, returning how many were removed.
func (d *DB) CleanupExpiredDeliveries(olderThan time.Duration) (error, int64) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	res, err := d.db.Exec(`DELETE FROM ap_deliveries WHERE status IN ('Delivered', 'Expired') AND created_at < ?`, cutoff)
	if err != nil {
		return apperr.WrapInternal("failed to clean up deliveries", err), 0
	}
	n, _ := res.RowsAffected()
	return nil, n
}

// DeliveryStats returns a status -> count map, as the original
// grouped-by-status query did.
func (d *DB) DeliveryStats() (error, map[string]int64) {
	rows, err := d.db.Query(`SELECT status, COUNT(*) FROM ap_deliveries GROUP BY status`)
	if err != nil {
		return apperr.WrapInternal("failed to read delivery stats", err), nil
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return apperr.WrapInternal("failed to scan delivery stats", err), nil
		}
		stats[status] = count
	}
	return nil, stats
}

// InstanceStats reports the usage summary a NodeInfo document publishes:
// total local users, local users who posted within the last month/half
// year, and the total count of local posts.
func (d *DB) InstanceStats() (error, *domain.InstanceStats) {
	var s domain.InstanceStats
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM ap_actors WHERE domain IS NULL`).Scan(&s.TotalUsers); err != nil {
		return apperr.WrapInternal("failed to count local users", err), nil
	}

	monthAgo := time.Now().UTC().AddDate(0, -1, 0).Format(time.RFC3339)
	halfYearAgo := time.Now().UTC().AddDate(0, -6, 0).Format(time.RFC3339)

	err := d.db.QueryRow(`SELECT COUNT(DISTINCT a.id) FROM ap_actors a
		JOIN ap_objects o ON o.actor_id = a.id
		WHERE a.domain IS NULL AND o.created_at >= ?`, monthAgo).Scan(&s.ActiveMonth)
	if err != nil {
		return apperr.WrapInternal("failed to count monthly active users", err), nil
	}

	err = d.db.QueryRow(`SELECT COUNT(DISTINCT a.id) FROM ap_actors a
		JOIN ap_objects o ON o.actor_id = a.id
		WHERE a.domain IS NULL AND o.created_at >= ?`, halfYearAgo).Scan(&s.ActiveHalfyear)
	if err != nil {
		return apperr.WrapInternal("failed to count half-year active users", err), nil
	}

	err = d.db.QueryRow(`SELECT COUNT(*) FROM ap_objects o
		JOIN ap_actors a ON a.id = o.actor_id
		WHERE a.domain IS NULL AND o.deleted_at IS NULL`).Scan(&s.LocalPosts)
	if err != nil {
		return apperr.WrapInternal("failed to count local posts", err), nil
	}

	return nil, &s
}

// -----------------------------------------------------------------------
// Actor stats
// -----------------------------------------------------------------------

func (d *DB) ReadActorStats(actorId int64) (error, *domain.ActorStats) {
	var s domain.ActorStats
	var lastStatusAt sql.NullString
	err := d.db.QueryRow(`SELECT actor_id, statuses_count, followers_count, following_count, last_status_at
		FROM ap_actor_stats WHERE actor_id = ?`, actorId).
		Scan(&s.ActorId, &s.StatusesCount, &s.FollowersCount, &s.FollowingCount, &lastStatusAt)
	if err == sql.ErrNoRows {
		return apperr.NewNotFound(fmt.Sprintf("no stats for actor %d", actorId)), nil
	}
	if err != nil {
		return apperr.WrapInternal("failed to read actor stats", err), nil
	}
	s.LastStatusAt = parseNullableTime(lastStatusAt)
	return nil, &s
}

// RefreshActorStats recomputes followers_count, following_count and
// statuses_count from first principles, correcting any drift from the
// incremental counters.
func (d *DB) RefreshActorStats(actorId int64) error {
	return d.wrapTransaction(func(tx *sql.Tx) error {
		var followers, following, statuses int64
		if err := tx.QueryRow(`SELECT COUNT(*) FROM ap_follows WHERE following_id = ? AND accepted = 1`, actorId).Scan(&followers); err != nil {
			return err
		}
		if err := tx.QueryRow(`SELECT COUNT(*) FROM ap_follows WHERE follower_id = ? AND accepted = 1`, actorId).Scan(&following); err != nil {
			return err
		}
		if err := tx.QueryRow(`SELECT COUNT(*) FROM ap_objects WHERE actor_id = ? AND deleted_at IS NULL`, actorId).Scan(&statuses); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE ap_actor_stats SET followers_count = ?, following_count = ?, statuses_count = ? WHERE actor_id = ?`,
			followers, following, statuses, actorId)
		return err
	})
}
