package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/irisetthq/irisett/pkg/types"
)

// dialect captures the differences between the database/sql backends.
type dialect struct {
	driver string
	schema []string
	// upsertTail renders the conflict clause updating cols from the inserted row.
	upsertTail func(key string, cols []string) string
}

var sqliteDialect = dialect{
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS monitors (
		id             TEXT PRIMARY KEY,
		check_type     TEXT NOT NULL,
		params         TEXT NOT NULL DEFAULT '{}',
		interval_ms    INTEGER NOT NULL DEFAULT 0,
		down_threshold INTEGER NOT NULL DEFAULT 0,
		contacts       TEXT NOT NULL DEFAULT '[]',
		contact_groups TEXT NOT NULL DEFAULT '[]',
		enabled        INTEGER NOT NULL DEFAULT 1,
		description    TEXT NOT NULL DEFAULT ''
	)`,
		`CREATE TABLE IF NOT EXISTS monitor_results (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		monitor_id  TEXT NOT NULL,
		ts          INTEGER NOT NULL,
		pass        INTEGER NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0
	)`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_results_monitor_ts ON monitor_results(monitor_id, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_results_ts ON monitor_results(ts)`,
		`CREATE TABLE IF NOT EXISTS alert_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		monitor_id  TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		prev_status TEXT NOT NULL,
		new_status  TEXT NOT NULL,
		ts          INTEGER NOT NULL,
		message     TEXT NOT NULL DEFAULT ''
	)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_history_monitor_ts ON alert_history(monitor_id, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS contacts (
		id        TEXT PRIMARY KEY,
		name      TEXT NOT NULL DEFAULT '',
		active    INTEGER NOT NULL DEFAULT 1,
		addresses TEXT NOT NULL DEFAULT '{}'
	)`,
		`CREATE TABLE IF NOT EXISTS contact_groups (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		active      INTEGER NOT NULL DEFAULT 1,
		contact_ids TEXT NOT NULL DEFAULT '[]'
	)`,
		`CREATE TABLE IF NOT EXISTS monitor_groups (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		monitor_ids TEXT NOT NULL DEFAULT '[]'
	)`,
	},
	upsertTail: func(key string, cols []string) string {
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
		return fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", key, strings.Join(sets, ", "))
	},
}

var mysqlDialect = dialect{
	driver: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS monitors (
		id             VARCHAR(191) NOT NULL PRIMARY KEY,
		check_type     VARCHAR(64) NOT NULL,
		params         TEXT NOT NULL,
		interval_ms    BIGINT NOT NULL DEFAULT 0,
		down_threshold INT NOT NULL DEFAULT 0,
		contacts       TEXT NOT NULL,
		contact_groups TEXT NOT NULL,
		enabled        BOOLEAN NOT NULL DEFAULT TRUE,
		description    TEXT NOT NULL
	) CHARACTER SET utf8mb4`,
		`CREATE TABLE IF NOT EXISTS monitor_results (
		id          BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		monitor_id  VARCHAR(191) NOT NULL,
		ts          BIGINT NOT NULL,
		pass        BOOLEAN NOT NULL,
		message     TEXT NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		INDEX idx_monitor_results_monitor_ts (monitor_id, ts),
		INDEX idx_monitor_results_ts (ts)
	) CHARACTER SET utf8mb4`,
		`CREATE TABLE IF NOT EXISTS alert_history (
		id          BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		monitor_id  VARCHAR(191) NOT NULL,
		description TEXT NOT NULL,
		prev_status VARCHAR(16) NOT NULL,
		new_status  VARCHAR(16) NOT NULL,
		ts          BIGINT NOT NULL,
		message     TEXT NOT NULL,
		INDEX idx_alert_history_monitor_ts (monitor_id, ts)
	) CHARACTER SET utf8mb4`,
		`CREATE TABLE IF NOT EXISTS contacts (
		id        VARCHAR(191) NOT NULL PRIMARY KEY,
		name      VARCHAR(255) NOT NULL DEFAULT '',
		active    BOOLEAN NOT NULL DEFAULT TRUE,
		addresses TEXT NOT NULL
	) CHARACTER SET utf8mb4`,
		`CREATE TABLE IF NOT EXISTS contact_groups (
		id          VARCHAR(191) NOT NULL PRIMARY KEY,
		name        VARCHAR(255) NOT NULL DEFAULT '',
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		contact_ids TEXT NOT NULL
	) CHARACTER SET utf8mb4`,
		`CREATE TABLE IF NOT EXISTS monitor_groups (
		id          VARCHAR(191) NOT NULL PRIMARY KEY,
		name        VARCHAR(255) NOT NULL DEFAULT '',
		monitor_ids TEXT NOT NULL
	) CHARACTER SET utf8mb4`,
	},
	upsertTail: func(_ string, cols []string) string {
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	},
}

// SQLStore implements Store on database/sql for MySQL and SQLite. Timestamps
// are stored as Unix nanoseconds so both backends order them identically.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLiteStore opens (or creates) a SQLite database file. The pragmas go in
// the DSN so every pooled connection gets them, and the pool is capped at one
// connection because SQLite serialises writers anyway.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return newSQLStore(ctx, db, sqliteDialect)
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// NewMySQLStore connects to MySQL with a go-sql-driver DSN.
func NewMySQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(20)
	return newSQLStore(ctx, db, mysqlDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.driver, err)
	}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: d}, nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const definitionColumns = "id, check_type, params, interval_ms, down_threshold, contacts, contact_groups, enabled, description"

func scanDefinition(scan func(...any) error) (types.MonitorDefinition, error) {
	var r definitionRow
	var params, contacts, groups string
	if err := scan(&r.ID, &r.CheckType, &params, &r.IntervalMS, &r.DownThreshold, &contacts, &groups, &r.Enabled, &r.Description); err != nil {
		return types.MonitorDefinition{}, err
	}
	r.Params, r.Contacts, r.ContactGroups = []byte(params), []byte(contacts), []byte(groups)
	return r.decode()
}

func (s *SQLStore) LoadAllDefinitions(ctx context.Context) ([]types.MonitorDefinition, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+definitionColumns+" FROM monitors ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []types.MonitorDefinition
	for rows.Next() {
		def, err := scanDefinition(rows.Scan)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *SQLStore) SaveDefinition(ctx context.Context, def types.MonitorDefinition) error {
	r, err := encodeDefinition(def)
	if err != nil {
		return err
	}
	query := "INSERT INTO monitors (" + definitionColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)" +
		s.dialect.upsertTail("id", []string{"check_type", "params", "interval_ms", "down_threshold", "contacts", "contact_groups", "enabled", "description"})
	_, err = s.db.ExecContext(ctx, query, r.ID, r.CheckType, string(r.Params), r.IntervalMS, r.DownThreshold,
		string(r.Contacts), string(r.ContactGroups), r.Enabled, r.Description)
	return err
}

func (s *SQLStore) DeleteDefinition(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "monitors", id)
}

func (s *SQLStore) deleteByID(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) InsertResult(ctx context.Context, rec types.ResultRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO monitor_results (monitor_id, ts, pass, message, duration_ms) VALUES (?, ?, ?, ?, ?)",
		rec.MonitorID, rec.Timestamp.UnixNano(), rec.Pass, rec.Message, rec.Duration.Milliseconds())
	return err
}

func (s *SQLStore) ListResults(ctx context.Context, monitorID string, limit int) ([]types.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT monitor_id, ts, pass, message, duration_ms FROM monitor_results WHERE monitor_id = ? ORDER BY ts DESC, id DESC LIMIT ?",
		monitorID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ResultRecord
	for rows.Next() {
		var rec types.ResultRecord
		var ts, durationMS int64
		if err := rows.Scan(&rec.MonitorID, &ts, &rec.Pass, &rec.Message, &durationMS); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		rec.Duration = msDuration(durationMS)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) PruneResultsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM monitor_results WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) PruneResultsBeyondCount(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	// The ranked derived table is materialised, which MySQL requires when
	// deleting from the table referenced in the subquery.
	const prune = `DELETE FROM monitor_results WHERE id IN (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (PARTITION BY monitor_id ORDER BY ts DESC, id DESC) AS rn
			  FROM monitor_results
		) ranked WHERE rn > ?
	)`
	res, err := s.db.ExecContext(ctx, prune, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) InsertAlertHistory(ctx context.Context, ev types.TransitionEvent) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO alert_history (monitor_id, description, prev_status, new_status, ts, message) VALUES (?, ?, ?, ?, ?, ?)",
		ev.MonitorID, ev.Description, string(ev.Previous), string(ev.Current), ev.Timestamp.UnixNano(), ev.Message)
	return err
}

func (s *SQLStore) ListAlertHistory(ctx context.Context, monitorID string, limit int) ([]types.TransitionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT monitor_id, description, prev_status, new_status, ts, message FROM alert_history WHERE ? = '' OR monitor_id = ? ORDER BY ts DESC, id DESC LIMIT ?",
		monitorID, monitorID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.TransitionEvent
	for rows.Next() {
		var ev types.TransitionEvent
		var previous, current string
		var ts int64
		if err := rows.Scan(&ev.MonitorID, &ev.Description, &previous, &current, &ts, &ev.Message); err != nil {
			return nil, err
		}
		ev.Previous, ev.Current = types.Status(previous), types.Status(current)
		ev.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListContactsForMonitor(ctx context.Context, monitorID string) ([]types.Contact, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+definitionColumns+" FROM monitors WHERE id = ?", monitorID)
	def, err := scanDefinition(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.ResolveContacts(ctx, def)
}

func (s *SQLStore) ResolveContacts(ctx context.Context, def types.MonitorDefinition) ([]types.Contact, error) {
	contacts, err := s.ListContacts(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.ListContactGroups(ctx)
	if err != nil {
		return nil, err
	}
	return resolveContacts(def, indexContacts(contacts), indexGroups(groups)), nil
}

func (s *SQLStore) SaveContact(ctx context.Context, c types.Contact) error {
	addrs, err := marshalJSON(c.Addresses, "{}")
	if err != nil {
		return err
	}
	query := "INSERT INTO contacts (id, name, active, addresses) VALUES (?, ?, ?, ?)" +
		s.dialect.upsertTail("id", []string{"name", "active", "addresses"})
	_, err = s.db.ExecContext(ctx, query, c.ID, c.Name, c.Active, string(addrs))
	return err
}

func (s *SQLStore) DeleteContact(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "contacts", id)
}

func (s *SQLStore) ListContacts(ctx context.Context) ([]types.Contact, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, active, addresses FROM contacts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Contact
	for rows.Next() {
		var c types.Contact
		var addrs string
		if err := rows.Scan(&c.ID, &c.Name, &c.Active, &addrs); err != nil {
			return nil, err
		}
		if err := unmarshalJSON([]byte(addrs), &c.Addresses); err != nil {
			return nil, fmt.Errorf("decode addresses for %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveContactGroup(ctx context.Context, g types.ContactGroup) error {
	ids, err := marshalJSON(g.ContactIDs, "[]")
	if err != nil {
		return err
	}
	query := "INSERT INTO contact_groups (id, name, active, contact_ids) VALUES (?, ?, ?, ?)" +
		s.dialect.upsertTail("id", []string{"name", "active", "contact_ids"})
	_, err = s.db.ExecContext(ctx, query, g.ID, g.Name, g.Active, string(ids))
	return err
}

func (s *SQLStore) DeleteContactGroup(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "contact_groups", id)
}

func (s *SQLStore) ListContactGroups(ctx context.Context) ([]types.ContactGroup, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, active, contact_ids FROM contact_groups ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ContactGroup
	for rows.Next() {
		var g types.ContactGroup
		var ids string
		if err := rows.Scan(&g.ID, &g.Name, &g.Active, &ids); err != nil {
			return nil, err
		}
		if err := unmarshalJSON([]byte(ids), &g.ContactIDs); err != nil {
			return nil, fmt.Errorf("decode members for %s: %w", g.ID, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveMonitorGroup(ctx context.Context, g types.MonitorGroup) error {
	ids, err := marshalJSON(g.MonitorIDs, "[]")
	if err != nil {
		return err
	}
	query := "INSERT INTO monitor_groups (id, name, monitor_ids) VALUES (?, ?, ?)" +
		s.dialect.upsertTail("id", []string{"name", "monitor_ids"})
	_, err = s.db.ExecContext(ctx, query, g.ID, g.Name, string(ids))
	return err
}

func (s *SQLStore) DeleteMonitorGroup(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "monitor_groups", id)
}

func (s *SQLStore) ListMonitorGroups(ctx context.Context) ([]types.MonitorGroup, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, monitor_ids FROM monitor_groups ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.MonitorGroup
	for rows.Next() {
		var g types.MonitorGroup
		var ids string
		if err := rows.Scan(&g.ID, &g.Name, &ids); err != nil {
			return nil, err
		}
		if err := unmarshalJSON([]byte(ids), &g.MonitorIDs); err != nil {
			return nil, fmt.Errorf("decode monitors for %s: %w", g.ID, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
