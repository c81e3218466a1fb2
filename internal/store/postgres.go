package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irisetthq/irisett/pkg/types"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS monitors (
    id             TEXT PRIMARY KEY,
    check_type     TEXT NOT NULL,
    params         JSONB NOT NULL DEFAULT '{}',
    interval_ms    BIGINT NOT NULL DEFAULT 0,
    down_threshold INTEGER NOT NULL DEFAULT 0,
    contacts       JSONB NOT NULL DEFAULT '[]',
    contact_groups JSONB NOT NULL DEFAULT '[]',
    enabled        BOOLEAN NOT NULL DEFAULT TRUE,
    description    TEXT NOT NULL DEFAULT '',
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS monitor_results (
    id          BIGSERIAL PRIMARY KEY,
    monitor_id  TEXT NOT NULL,
    ts          TIMESTAMPTZ NOT NULL,
    pass        BOOLEAN NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_results_monitor_ts ON monitor_results (monitor_id, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_results_ts ON monitor_results (ts)`,
	`CREATE TABLE IF NOT EXISTS alert_history (
    id          BIGSERIAL PRIMARY KEY,
    monitor_id  TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    prev_status TEXT NOT NULL,
    new_status  TEXT NOT NULL,
    ts          TIMESTAMPTZ NOT NULL,
    message     TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_history_monitor_ts ON alert_history (monitor_id, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS contacts (
    id        TEXT PRIMARY KEY,
    name      TEXT NOT NULL DEFAULT '',
    active    BOOLEAN NOT NULL DEFAULT TRUE,
    addresses JSONB NOT NULL DEFAULT '{}'
)`,
	`CREATE TABLE IF NOT EXISTS contact_groups (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    contact_ids JSONB NOT NULL DEFAULT '[]'
)`,
	`CREATE TABLE IF NOT EXISTS monitor_groups (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    monitor_ids JSONB NOT NULL DEFAULT '[]'
)`,
}

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects using the supplied connection string and creates
// the schema when it is missing.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresStore) LoadAllDefinitions(ctx context.Context) ([]types.MonitorDefinition, error) {
	const query = `
SELECT id, check_type, params, interval_ms, down_threshold, contacts, contact_groups, enabled, description
  FROM monitors
 ORDER BY id;
`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []types.MonitorDefinition
	for rows.Next() {
		var r definitionRow
		if err := rows.Scan(&r.ID, &r.CheckType, &r.Params, &r.IntervalMS, &r.DownThreshold,
			&r.Contacts, &r.ContactGroups, &r.Enabled, &r.Description); err != nil {
			return nil, err
		}
		def, err := r.decode()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (p *PostgresStore) loadDefinition(ctx context.Context, id string) (types.MonitorDefinition, error) {
	const query = `
SELECT id, check_type, params, interval_ms, down_threshold, contacts, contact_groups, enabled, description
  FROM monitors
 WHERE id = $1;
`
	var r definitionRow
	err := p.pool.QueryRow(ctx, query, id).Scan(&r.ID, &r.CheckType, &r.Params, &r.IntervalMS, &r.DownThreshold,
		&r.Contacts, &r.ContactGroups, &r.Enabled, &r.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.MonitorDefinition{}, ErrNotFound
		}
		return types.MonitorDefinition{}, err
	}
	return r.decode()
}

func (p *PostgresStore) SaveDefinition(ctx context.Context, def types.MonitorDefinition) error {
	r, err := encodeDefinition(def)
	if err != nil {
		return err
	}
	const upsert = `
INSERT INTO monitors (
    id, check_type, params, interval_ms, down_threshold, contacts, contact_groups, enabled, description, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (id) DO UPDATE SET
    check_type = EXCLUDED.check_type,
    params = EXCLUDED.params,
    interval_ms = EXCLUDED.interval_ms,
    down_threshold = EXCLUDED.down_threshold,
    contacts = EXCLUDED.contacts,
    contact_groups = EXCLUDED.contact_groups,
    enabled = EXCLUDED.enabled,
    description = EXCLUDED.description,
    updated_at = NOW();
`
	_, err = p.pool.Exec(ctx, upsert, r.ID, r.CheckType, string(r.Params), r.IntervalMS, r.DownThreshold,
		string(r.Contacts), string(r.ContactGroups), r.Enabled, r.Description)
	return err
}

func (p *PostgresStore) DeleteDefinition(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM monitors WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) InsertResult(ctx context.Context, rec types.ResultRecord) error {
	const insert = `
INSERT INTO monitor_results (monitor_id, ts, pass, message, duration_ms)
VALUES ($1,$2,$3,$4,$5);
`
	_, err := p.pool.Exec(ctx, insert, rec.MonitorID, rec.Timestamp.UTC(), rec.Pass, rec.Message, rec.Duration.Milliseconds())
	return err
}

func (p *PostgresStore) ListResults(ctx context.Context, monitorID string, limit int) ([]types.ResultRecord, error) {
	const query = `
SELECT monitor_id, ts, pass, message, duration_ms
  FROM monitor_results
 WHERE monitor_id = $1
 ORDER BY ts DESC, id DESC
 LIMIT $2;
`
	rows, err := p.pool.Query(ctx, query, monitorID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ResultRecord
	for rows.Next() {
		var rec types.ResultRecord
		var durationMS int64
		if err := rows.Scan(&rec.MonitorID, &rec.Timestamp, &rec.Pass, &rec.Message, &durationMS); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		rec.Duration = msDuration(durationMS)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) PruneResultsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM monitor_results WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) PruneResultsBeyondCount(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	const prune = `
DELETE FROM monitor_results r
 USING (
    SELECT id, ROW_NUMBER() OVER (PARTITION BY monitor_id ORDER BY ts DESC, id DESC) AS rn
      FROM monitor_results
 ) ranked
 WHERE r.id = ranked.id AND ranked.rn > $1;
`
	tag, err := p.pool.Exec(ctx, prune, keep)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) InsertAlertHistory(ctx context.Context, ev types.TransitionEvent) error {
	const insert = `
INSERT INTO alert_history (monitor_id, description, prev_status, new_status, ts, message)
VALUES ($1,$2,$3,$4,$5,$6);
`
	_, err := p.pool.Exec(ctx, insert, ev.MonitorID, ev.Description, string(ev.Previous), string(ev.Current),
		ev.Timestamp.UTC(), ev.Message)
	return err
}

func (p *PostgresStore) ListAlertHistory(ctx context.Context, monitorID string, limit int) ([]types.TransitionEvent, error) {
	const query = `
SELECT monitor_id, description, prev_status, new_status, ts, message
  FROM alert_history
 WHERE $1 = '' OR monitor_id = $1
 ORDER BY ts DESC, id DESC
 LIMIT $2;
`
	rows, err := p.pool.Query(ctx, query, monitorID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.TransitionEvent
	for rows.Next() {
		var ev types.TransitionEvent
		var previous, current string
		if err := rows.Scan(&ev.MonitorID, &ev.Description, &previous, &current, &ev.Timestamp, &ev.Message); err != nil {
			return nil, err
		}
		ev.Previous, ev.Current = types.Status(previous), types.Status(current)
		ev.Timestamp = ev.Timestamp.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListContactsForMonitor(ctx context.Context, monitorID string) ([]types.Contact, error) {
	def, err := p.loadDefinition(ctx, monitorID)
	if err != nil {
		return nil, err
	}
	return p.ResolveContacts(ctx, def)
}

func (p *PostgresStore) ResolveContacts(ctx context.Context, def types.MonitorDefinition) ([]types.Contact, error) {
	contacts, err := p.ListContacts(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := p.ListContactGroups(ctx)
	if err != nil {
		return nil, err
	}
	return resolveContacts(def, indexContacts(contacts), indexGroups(groups)), nil
}

func (p *PostgresStore) SaveContact(ctx context.Context, c types.Contact) error {
	addrs, err := marshalJSON(c.Addresses, "{}")
	if err != nil {
		return err
	}
	const upsert = `
INSERT INTO contacts (id, name, active, addresses) VALUES ($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    active = EXCLUDED.active,
    addresses = EXCLUDED.addresses;
`
	_, err = p.pool.Exec(ctx, upsert, c.ID, c.Name, c.Active, string(addrs))
	return err
}

func (p *PostgresStore) DeleteContact(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListContacts(ctx context.Context) ([]types.Contact, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, active, addresses FROM contacts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Contact
	for rows.Next() {
		var c types.Contact
		var addrs []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.Active, &addrs); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(addrs, &c.Addresses); err != nil {
			return nil, fmt.Errorf("decode addresses for %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveContactGroup(ctx context.Context, g types.ContactGroup) error {
	ids, err := marshalJSON(g.ContactIDs, "[]")
	if err != nil {
		return err
	}
	const upsert = `
INSERT INTO contact_groups (id, name, active, contact_ids) VALUES ($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    active = EXCLUDED.active,
    contact_ids = EXCLUDED.contact_ids;
`
	_, err = p.pool.Exec(ctx, upsert, g.ID, g.Name, g.Active, string(ids))
	return err
}

func (p *PostgresStore) DeleteContactGroup(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM contact_groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListContactGroups(ctx context.Context) ([]types.ContactGroup, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, active, contact_ids FROM contact_groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ContactGroup
	for rows.Next() {
		var g types.ContactGroup
		var ids []byte
		if err := rows.Scan(&g.ID, &g.Name, &g.Active, &ids); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(ids, &g.ContactIDs); err != nil {
			return nil, fmt.Errorf("decode members for %s: %w", g.ID, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveMonitorGroup(ctx context.Context, g types.MonitorGroup) error {
	ids, err := marshalJSON(g.MonitorIDs, "[]")
	if err != nil {
		return err
	}
	const upsert = `
INSERT INTO monitor_groups (id, name, monitor_ids) VALUES ($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    monitor_ids = EXCLUDED.monitor_ids;
`
	_, err = p.pool.Exec(ctx, upsert, g.ID, g.Name, string(ids))
	return err
}

func (p *PostgresStore) DeleteMonitorGroup(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM monitor_groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListMonitorGroups(ctx context.Context) ([]types.MonitorGroup, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, monitor_ids FROM monitor_groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.MonitorGroup
	for rows.Next() {
		var g types.MonitorGroup
		var ids []byte
		if err := rows.Scan(&g.ID, &g.Name, &ids); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(ids, &g.MonitorIDs); err != nil {
			return nil, fmt.Errorf("decode monitors for %s: %w", g.ID, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func indexContacts(contacts []types.Contact) map[string]types.Contact {
	out := make(map[string]types.Contact, len(contacts))
	for _, c := range contacts {
		out[c.ID] = c
	}
	return out
}

func indexGroups(groups []types.ContactGroup) map[string]types.ContactGroup {
	out := make(map[string]types.ContactGroup, len(groups))
	for _, g := range groups {
		out[g.ID] = g
	}
	return out
}
