package db

// SQL DDL for the federation core's relational schema. SQLite stands in
// for the original Postgres store: BIGSERIAL becomes INTEGER PRIMARY KEY
// AUTOINCREMENT, TIMESTAMPTZ becomes a TEXT column holding RFC3339, and
// the TEXT[] recipient lists become JSON-encoded TEXT since SQLite has no
// array type. There is no GIN full-text index; search falls back to LIKE
// over content_text (db.SearchObjects).
const (
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS ap_actors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uri TEXT UNIQUE NOT NULL,
		actor_type TEXT NOT NULL,
		username TEXT NOT NULL,
		domain TEXT,
		display_name TEXT,
		summary TEXT,
		inbox_uri TEXT NOT NULL,
		outbox_uri TEXT,
		shared_inbox_uri TEXT,
		followers_uri TEXT,
		following_uri TEXT,
		featured_uri TEXT,
		avatar_url TEXT,
		header_url TEXT,
		manually_approves_followers INTEGER NOT NULL DEFAULT 0,
		discoverable INTEGER NOT NULL DEFAULT 1,
		raw_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_fetched_at TEXT,
		UNIQUE(username, domain)
	)`

	sqlCreateActorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_actors_domain ON ap_actors(domain);
		CREATE INDEX IF NOT EXISTS idx_actors_username_lower ON ap_actors(username COLLATE NOCASE);
		CREATE INDEX IF NOT EXISTS idx_actors_local ON ap_actors(domain) WHERE domain IS NULL;
		CREATE INDEX IF NOT EXISTS idx_actors_updated_at ON ap_actors(updated_at);
	`

	sqlCreateKeysTable = `CREATE TABLE IF NOT EXISTS ap_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id INTEGER NOT NULL REFERENCES ap_actors(id) ON DELETE CASCADE,
		key_id TEXT UNIQUE NOT NULL,
		public_key_pem TEXT NOT NULL,
		private_key_pem TEXT,
		created_at TEXT NOT NULL
	)`

	sqlCreateKeysIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_keys_actor_id ON ap_keys(actor_id);
	`

	sqlCreateObjectsTable = `CREATE TABLE IF NOT EXISTS ap_objects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uri TEXT UNIQUE NOT NULL,
		object_type TEXT NOT NULL,
		actor_id INTEGER REFERENCES ap_actors(id) ON DELETE SET NULL,
		in_reply_to_uri TEXT,
		conversation_uri TEXT,
		content TEXT,
		content_text TEXT,
		summary TEXT,
		url TEXT,
		visibility TEXT NOT NULL DEFAULT 'Public',
		sensitive INTEGER NOT NULL DEFAULT 0,
		language TEXT,
		published_at TEXT,
		edited_at TEXT,
		deleted_at TEXT,
		raw_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`

	sqlCreateObjectsIndices = `
		CREATE INDEX IF NOT EXISTS idx_objects_actor_id ON ap_objects(actor_id);
		CREATE INDEX IF NOT EXISTS idx_objects_in_reply_to ON ap_objects(in_reply_to_uri);
		CREATE INDEX IF NOT EXISTS idx_objects_conversation ON ap_objects(conversation_uri);
		CREATE INDEX IF NOT EXISTS idx_objects_visibility ON ap_objects(visibility);
		CREATE INDEX IF NOT EXISTS idx_objects_published_at ON ap_objects(published_at DESC);
		CREATE INDEX IF NOT EXISTS idx_objects_not_deleted ON ap_objects(deleted_at) WHERE deleted_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_objects_content_text ON ap_objects(content_text);
	`

	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS ap_activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uri TEXT UNIQUE,
		activity_type TEXT NOT NULL,
		actor_id INTEGER REFERENCES ap_actors(id) ON DELETE SET NULL,
		actor_uri TEXT,
		object_uri TEXT,
		target_uri TEXT,
		to_uris TEXT,
		cc_uris TEXT,
		raw_json TEXT,
		local INTEGER NOT NULL DEFAULT 0,
		processed_at TEXT,
		created_at TEXT NOT NULL
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_actor_id ON ap_activities(actor_id);
		CREATE INDEX IF NOT EXISTS idx_activities_object_uri ON ap_activities(object_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_type ON ap_activities(activity_type);
		CREATE INDEX IF NOT EXISTS idx_activities_local ON ap_activities(local);
		CREATE INDEX IF NOT EXISTS idx_activities_unprocessed ON ap_activities(processed_at) WHERE processed_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON ap_activities(created_at DESC);
	`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS ap_follows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		follower_id INTEGER NOT NULL REFERENCES ap_actors(id) ON DELETE CASCADE,
		following_id INTEGER NOT NULL REFERENCES ap_actors(id) ON DELETE CASCADE,
		uri TEXT UNIQUE NOT NULL,
		accepted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		UNIQUE(follower_id, following_id)
	)`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS ap_likes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id INTEGER NOT NULL REFERENCES ap_actors(id) ON DELETE CASCADE,
		object_id INTEGER NOT NULL REFERENCES ap_objects(id) ON DELETE CASCADE,
		uri TEXT UNIQUE NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(actor_id, object_id)
	)`

	sqlCreateAnnouncesTable = `CREATE TABLE IF NOT EXISTS ap_announces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id INTEGER NOT NULL REFERENCES ap_actors(id) ON DELETE CASCADE,
		object_id INTEGER NOT NULL REFERENCES ap_objects(id) ON DELETE CASCADE,
		uri TEXT UNIQUE NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(actor_id, object_id)
	)`

	sqlCreateBlocksTable = `CREATE TABLE IF NOT EXISTS ap_blocks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id INTEGER REFERENCES ap_actors(id) ON DELETE CASCADE,
		blocked_actor_id INTEGER REFERENCES ap_actors(id) ON DELETE CASCADE,
		blocked_domain TEXT,
		uri TEXT UNIQUE,
		created_at TEXT NOT NULL,
		CHECK ((blocked_actor_id IS NOT NULL) != (blocked_domain IS NOT NULL))
	)`

	sqlCreateBlocksIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_blocks_domain ON ap_blocks(blocked_domain) WHERE blocked_domain IS NOT NULL;
	`

	sqlCreateDeliveriesTable = `CREATE TABLE IF NOT EXISTS ap_deliveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		activity_id INTEGER NOT NULL REFERENCES ap_activities(id) ON DELETE CASCADE,
		inbox_uri TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Queued',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt_at TEXT,
		next_retry_at TEXT NOT NULL,
		last_error TEXT,
		last_status_code INTEGER,
		created_at TEXT NOT NULL
	)`

	sqlCreateDeliveriesIndices = `
		CREATE INDEX IF NOT EXISTS idx_deliveries_pending ON ap_deliveries(next_retry_at) WHERE status IN ('Queued', 'Failed');
		CREATE INDEX IF NOT EXISTS idx_deliveries_activity_id ON ap_deliveries(activity_id);
		CREATE INDEX IF NOT EXISTS idx_deliveries_status ON ap_deliveries(status);
	`

	sqlCreateActorStatsTable = `CREATE TABLE IF NOT EXISTS ap_actor_stats (
		actor_id INTEGER PRIMARY KEY REFERENCES ap_actors(id) ON DELETE CASCADE,
		statuses_count INTEGER NOT NULL DEFAULT 0,
		followers_count INTEGER NOT NULL DEFAULT 0,
		following_count INTEGER NOT NULL DEFAULT 0,
		last_status_at TEXT
	)`
)

// schemaStatements lists the tables in dependency order (leaves first is
// not required for SQLite CREATE TABLE with IF NOT EXISTS, but keeping
// referenced tables ahead of their referencing tables makes the file
// readable top to bottom).
var schemaStatements = []struct {
	name string
	ddl  string
}{
	{"ap_actors", sqlCreateActorsTable},
	{"ap_keys", sqlCreateKeysTable},
	{"ap_objects", sqlCreateObjectsTable},
	{"ap_activities", sqlCreateActivitiesTable},
	{"ap_follows", sqlCreateFollowsTable},
	{"ap_likes", sqlCreateLikesTable},
	{"ap_announces", sqlCreateAnnouncesTable},
	{"ap_blocks", sqlCreateBlocksTable},
	{"ap_deliveries", sqlCreateDeliveriesTable},
	{"ap_actor_stats", sqlCreateActorStatsTable},
}

var schemaIndices = []string{
	sqlCreateActorsIndices,
	sqlCreateKeysIndices,
	sqlCreateObjectsIndices,
	sqlCreateActivitiesIndices,
	sqlCreateBlocksIndices,
	sqlCreateDeliveriesIndices,
}
