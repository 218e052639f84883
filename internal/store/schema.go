package store

// schemaSQL defines the rebuildable secondary index (spec.md §4.1). It is a
// single wide table rather than one table per collection: every collection
// shares the same handful of indexed columns (kind, status, parent_id,
// target_loop, acknowledged_at, loop_id, tool_name, lane, event_type), so one
// table scoped by "collection" keeps Query implementation and rebuild logic
// uniform across Loop/Signal/ToolJob/Event/MergeRecord instead of five
// near-identical tables. Columns that don't apply to a given collection are
// simply left NULL.
//
// The table is fully rebuildable from the append-only logs (store.go), so
// losing or corrupting index.db is not data loss — it is a VerifyIndex /
// RebuildIndex away from consistency again, following a schema-version-gated,
// idempotent table creation pattern.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	collection      TEXT    NOT NULL,
	id              TEXT    NOT NULL,
	kind            TEXT,
	status          TEXT,
	parent_id       TEXT,
	target_loop     TEXT,
	acknowledged_at INTEGER,
	loop_id         TEXT,
	tool_name       TEXT,
	lane            TEXT,
	event_type      TEXT,
	updated_at      INTEGER NOT NULL DEFAULT 0,
	data            TEXT    NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_records_kind        ON records(collection, kind);
CREATE INDEX IF NOT EXISTS idx_records_status      ON records(collection, status);
CREATE INDEX IF NOT EXISTS idx_records_parent      ON records(collection, parent_id);
CREATE INDEX IF NOT EXISTS idx_records_target_loop ON records(collection, target_loop);
CREATE INDEX IF NOT EXISTS idx_records_ack         ON records(collection, acknowledged_at);
CREATE INDEX IF NOT EXISTS idx_records_loop_id     ON records(collection, loop_id);
CREATE INDEX IF NOT EXISTS idx_records_tool_name   ON records(collection, tool_name);
CREATE INDEX IF NOT EXISTS idx_records_lane        ON records(collection, lane);
CREATE INDEX IF NOT EXISTS idx_records_event_type  ON records(collection, event_type);

CREATE TABLE IF NOT EXISTS schema_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// schemaVersion is bumped whenever the records table's column set changes in
// a way that requires a full rebuild of index.db from the logs.
const schemaVersion = "1"
