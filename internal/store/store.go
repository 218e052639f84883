// Package store implements the engine's durable record store (spec.md §4.1,
// C1): an append-only JSONL log per collection as the source of truth, plus
// a mattn/go-sqlite3-backed secondary index that can always be rebuilt from
// the logs. Shaped after a database/sql + mattn/go-sqlite3 embedded-schema
// cache with schema-version bookkeeping, plus a flock-guarded
// append/atomic-write file layer, adapted from a single-purpose
// learning-history cache into a general collection store over
// Loop/Signal/ToolJob/Event/MergeRecord.
package store

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scottidler/loopr/internal/engineerr"
	"github.com/scottidler/loopr/internal/filelock"
)

// indexRow is what Query/Get returns before the caller unmarshals Data into
// a concrete model type.
type indexRow struct {
	ID   string
	Data json.RawMessage
}

// Store is the engine's single durable record store. One Store instance is
// shared by every collection (loops, signals, tool_jobs, events, merges);
// each collection gets its own append-only log file under dir but shares the
// one index.db.
type Store struct {
	dir string
	db  *sql.DB

	mu        sync.Mutex
	logLocks  map[string]*filelock.FileLock
}

// Open opens (creating if necessary) the store rooted at dir, verifying the
// secondary index and rebuilding it from the logs if it is missing or
// inconsistent (spec.md §4.1 "the index can always be rebuilt from the
// log... on startup the engine verifies the index against the log").
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "index.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index.db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		dir:      dir,
		db:       db,
		logLocks: make(map[string]*filelock.FileLock),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.VerifyIndex(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying sqlite connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	var version string
	row := s.db.QueryRow(`SELECT value FROM schema_meta WHERE key = 'version'`)
	if err := row.Scan(&version); err == sql.ErrNoRows {
		_, err := s.db.Exec(`INSERT INTO schema_meta(key, value) VALUES ('version', ?)`, schemaVersion)
		if err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version != schemaVersion {
		if _, err := s.db.Exec(`DELETE FROM records`); err != nil {
			return fmt.Errorf("clear stale records for schema migration: %w", err)
		}
		if _, err := s.db.Exec(`UPDATE schema_meta SET value = ? WHERE key = 'version'`, schemaVersion); err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
	}
	return nil
}

func (s *Store) logPath(collection string) string {
	return filepath.Join(s.dir, collection+".log")
}

func (s *Store) logLock(collection string) *filelock.FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logLocks[collection]; ok {
		return l
	}
	l := filelock.New(s.logPath(collection) + ".lock")
	s.logLocks[collection] = l
	return l
}

// logLine is the on-disk envelope appended to a collection's log. Tombstone
// marks a Delete; otherwise Data carries the full record.
type logLine struct {
	ID        string          `json:"id"`
	Tombstone bool            `json:"tombstone,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Create appends record to collection's log and upserts the index, failing
// with *engineerr.AlreadyExistsError if id is already present.
func (s *Store) Create(collection, id string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s record %s: %w", collection, id, err)
	}

	lock := s.logLock(collection)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	existing, found, err := s.getLocked(collection, id)
	if err != nil {
		return err
	}
	if found {
		_ = existing
		return &engineerr.AlreadyExistsError{Collection: collection, ID: id}
	}

	if err := s.appendLocked(collection, logLine{ID: id, Data: data}); err != nil {
		return err
	}
	return s.upsertIndexLocked(collection, id, data)
}

// Get fetches the current record for id from the index (fast path; avoids
// replaying the log).
func (s *Store) Get(collection, id string) (json.RawMessage, bool, error) {
	return s.getLocked(collection, id)
}

func (s *Store) getLocked(collection, id string) (json.RawMessage, bool, error) {
	var data string
	row := s.db.QueryRow(`SELECT data FROM records WHERE collection = ? AND id = ?`, collection, id)
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return json.RawMessage(data), true, nil
}

// Update appends the new version of record to the log and refreshes the
// index, failing with *engineerr.NotFoundError if id does not yet exist.
func (s *Store) Update(collection, id string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s record %s: %w", collection, id, err)
	}

	lock := s.logLock(collection)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	_, found, err := s.getLocked(collection, id)
	if err != nil {
		return err
	}
	if !found {
		return &engineerr.NotFoundError{Collection: collection, ID: id}
	}

	if err := s.appendLocked(collection, logLine{ID: id, Data: data}); err != nil {
		return err
	}
	return s.upsertIndexLocked(collection, id, data)
}

// Delete appends a tombstone for id and removes it from the index. The
// record remains recoverable by replaying the log up to the tombstone, since
// the log itself is never truncated.
func (s *Store) Delete(collection, id string) error {
	lock := s.logLock(collection)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	_, found, err := s.getLocked(collection, id)
	if err != nil {
		return err
	}
	if !found {
		return &engineerr.NotFoundError{Collection: collection, ID: id}
	}

	if err := s.appendLocked(collection, logLine{ID: id, Tombstone: true}); err != nil {
		return err
	}
	_, err = s.db.Exec(`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s from index: %w", collection, id, err)
	}
	return nil
}

// Query returns every record in collection whose indexed columns satisfy
// all filters.
func (s *Store) Query(collection string, filters ...Filter) ([]json.RawMessage, error) {
	var sb strings.Builder
	sb.WriteString("SELECT data FROM records WHERE collection = ?")
	args := []any{collection}

	for _, f := range filters {
		if !indexedColumns[f.Field] {
			return nil, fmt.Errorf("query %s: field %q is not indexed", collection, f.Field)
		}
		switch f.Op {
		case OpEq:
			sb.WriteString(fmt.Sprintf(" AND %s = ?", f.Field))
			args = append(args, f.Value)
		case OpNotNull:
			sb.WriteString(fmt.Sprintf(" AND %s IS NOT NULL", f.Field))
		case OpAbsent:
			sb.WriteString(fmt.Sprintf(" AND %s IS NULL", f.Field))
		case OpLessThan:
			sb.WriteString(fmt.Sprintf(" AND %s < ?", f.Field))
			args = append(args, f.Value)
		default:
			return nil, fmt.Errorf("query %s: unknown filter op on field %q", collection, f.Field)
		}
	}

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", collection, err)
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}

func (s *Store) appendLocked(collection string, line logLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal log line: %w", err)
	}
	return appendLineNoLock(s.logPath(collection), data)
}

// appendLineNoLock writes directly, bypassing filelock.AppendLine's own
// internal locking, since the caller already holds this collection's lock
// (avoids re-entrant self-deadlock on the same lock file).
func appendLineNoLock(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return f.Sync()
}

// indexFields extracts the subset of a JSON record's top-level fields that
// correspond to indexed columns. Field names are shared verbatim with the
// JSON tags of models.Loop/Signal/ToolJob/Event (kind, status, parent_id,
// target_loop, acknowledged_at, loop_id, tool_name, lane, event_type,
// updated_at), so one generic decode-to-map works across every collection.
func indexFields(data []byte) (map[string]any, error) {
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("decode record for indexing: %w", err)
	}
	out := make(map[string]any, len(indexedColumns))
	for col := range indexedColumns {
		if v, ok := generic[col]; ok {
			out[col] = v
		}
	}
	return out, nil
}

func (s *Store) upsertIndexLocked(collection, id string, data []byte) error {
	fields, err := indexFields(data)
	if err != nil {
		return err
	}

	updatedAt, _ := fields["updated_at"].(float64)

	_, err = s.db.Exec(`
		INSERT INTO records(collection, id, kind, status, parent_id, target_loop,
			acknowledged_at, loop_id, tool_name, lane, event_type, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			kind = excluded.kind,
			status = excluded.status,
			parent_id = excluded.parent_id,
			target_loop = excluded.target_loop,
			acknowledged_at = excluded.acknowledged_at,
			loop_id = excluded.loop_id,
			tool_name = excluded.tool_name,
			lane = excluded.lane,
			event_type = excluded.event_type,
			updated_at = excluded.updated_at,
			data = excluded.data
	`,
		collection, id,
		asString(fields["kind"]), asString(fields["status"]), asString(fields["parent_id"]),
		asString(fields["target_loop"]), asNullableInt(fields["acknowledged_at"]),
		asString(fields["loop_id"]), asString(fields["tool_name"]), asString(fields["lane"]),
		asString(fields["event_type"]), int64(updatedAt), string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert index %s/%s: %w", collection, id, err)
	}
	return nil
}

func asString(v any) any {
	if v == nil {
		return nil
	}
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	return s
}

func asNullableInt(v any) any {
	if v == nil {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return int64(f)
}

// VerifyIndex checks that every collection log file is fully reflected in
// the index and rebuilds any collection where it is not (missing index.db,
// a log that cannot be read, or a row-count mismatch count as inconsistent;
// log lines that fail to decode are skipped, not counted).
func (s *Store) VerifyIndex() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("list store directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".log") {
			continue
		}
		collection := strings.TrimSuffix(name, ".log")
		consistent, err := s.indexConsistent(collection)
		if err != nil || !consistent {
			if err := s.RebuildIndex(collection); err != nil {
				return fmt.Errorf("rebuild index for %s: %w", collection, err)
			}
		}
	}
	return nil
}

func (s *Store) indexConsistent(collection string) (bool, error) {
	logIDs, err := s.liveIDsFromLog(collection)
	if err != nil {
		return false, err
	}

	var indexCount int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM records WHERE collection = ?`, collection)
	if err := row.Scan(&indexCount); err != nil {
		return false, err
	}
	return indexCount == len(logIDs), nil
}

// liveIDsFromLog replays a collection's log and returns the set of ids that
// are live (last line for that id was not a tombstone), along with their
// final data bytes.
func (s *Store) liveIDsFromLog(collection string) (map[string][]byte, error) {
	path := s.logPath(collection)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	live := make(map[string][]byte)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var ll logLine
		if err := json.Unmarshal(line, &ll); err != nil {
			// A partially-written final line from a crash mid-append is
			// skipped rather than failing the whole replay; the append
			// itself is fsync'd before the lock is released, so a torn
			// line can only be the very last one.
			continue
		}
		if ll.Tombstone {
			delete(live, ll.ID)
			continue
		}
		live[ll.ID] = []byte(ll.Data)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return live, nil
}

// RebuildIndex truncates and repopulates collection's index rows from its
// log, the recovery path spec.md §4.1 requires when the index is missing or
// inconsistent.
func (s *Store) RebuildIndex(collection string) error {
	live, err := s.liveIDsFromLog(collection)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rebuild tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("clear %s records: %w", collection, err)
	}

	for id, data := range live {
		fields, err := indexFields(data)
		if err != nil {
			return err
		}
		updatedAt, _ := fields["updated_at"].(float64)
		_, err = tx.Exec(`
			INSERT INTO records(collection, id, kind, status, parent_id, target_loop,
				acknowledged_at, loop_id, tool_name, lane, event_type, updated_at, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			collection, id,
			asString(fields["kind"]), asString(fields["status"]), asString(fields["parent_id"]),
			asString(fields["target_loop"]), asNullableInt(fields["acknowledged_at"]),
			asString(fields["loop_id"]), asString(fields["tool_name"]), asString(fields["lane"]),
			asString(fields["event_type"]), int64(updatedAt), string(data),
		)
		if err != nil {
			return fmt.Errorf("reinsert %s/%s: %w", collection, id, err)
		}
	}

	return tx.Commit()
}
