package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/kcmetrolive/metro-agent/internal/db"
	"github.com/kcmetrolive/metro-agent/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres opens a pool and returns a PostgresStore.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Open(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool for subsystems that share the database
// (the analytics sink).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	fields     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS record_relations (
	relation   TEXT NOT NULL,
	parent_id  TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	child_id   TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (relation, parent_id, child_id)
);

CREATE TABLE IF NOT EXISTS budget_tracking (
	date                 TEXT PRIMARY KEY,
	total_cost_usd       DOUBLE PRECISION NOT NULL DEFAULT 0,
	api_calls            INTEGER NOT NULL DEFAULT 0,
	tokens_used          INTEGER NOT NULL DEFAULT 0,
	images_generated     INTEGER NOT NULL DEFAULT 0,
	events_processed     INTEGER NOT NULL DEFAULT 0,
	venues_processed     INTEGER NOT NULL DEFAULT 0,
	performers_processed INTEGER NOT NULL DEFAULT 0,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS agent_state (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_records_type ON records(type);
CREATE INDEX IF NOT EXISTS idx_record_relations_parent ON record_relations(relation, parent_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_event_identity
	ON records ((fields->>'name'), (COALESCE(fields->>'start_date', '')))
	WHERE type = 'event';
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Records ---

func (s *PostgresStore) Create(ctx context.Context, kind model.Kind, fields map[string]any) (string, error) {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal fields")
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (id, type, fields, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(kind), fieldsJSON, now, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert %s", kind)
	}
	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Record, error) {
	rec, err := scanPgRecord(s.pool.QueryRow(ctx,
		`SELECT id, type, fields, created_at, updated_at FROM records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) FindOne(ctx context.Context, kind model.Kind, filters map[string]any) (*model.Record, error) {
	query := `SELECT id, type, fields, created_at, updated_at FROM records WHERE type = $1`
	args := []any{string(kind)}
	for _, k := range sortedKeys(filters) {
		args = append(args, k, filterText(filters[k], "true", "false"))
		query += fmt.Sprintf(` AND COALESCE(fields->>$%d, '') = $%d`, len(args)-1, len(args))
	}
	query += ` ORDER BY created_at LIMIT 1`

	rec, err := scanPgRecord(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find %s", kind)
	}
	return rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET fields = fields || $1::jsonb, updated_at = $2 WHERE id = $3`,
		patch, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update record %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("record not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete record %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("record not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) Link(ctx context.Context, relation, parentID, childID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO record_relations (relation, parent_id, child_id) VALUES ($1, $2, $3)
		 ON CONFLICT (relation, parent_id, child_id) DO NOTHING`,
		relation, parentID, childID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: link %s %s -> %s", relation, parentID, childID)
	}
	return nil
}

func (s *PostgresStore) GetRelated(ctx context.Context, relation, parentID string) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.type, r.fields, r.created_at, r.updated_at
		 FROM record_relations rr JOIN records r ON r.id = rr.child_id
		 WHERE rr.relation = $1 AND rr.parent_id = $2
		 ORDER BY rr.created_at, r.id`,
		relation, parentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get related %s", relation)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan related")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate related")
}

// --- Ledger ---

func (s *PostgresStore) AddSpend(ctx context.Context, delta model.BudgetRecord) (*model.BudgetRecord, error) {
	query, err := budgetUpsert(db.Dollar, true)
	if err != nil {
		return nil, err
	}
	rec, err := scanBudget(s.pool.QueryRow(ctx, query, budgetArgs(delta, time.Now().UTC())...))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: add spend %s", delta.Date)
	}
	return rec, nil
}

func (s *PostgresStore) GetDay(ctx context.Context, date string) (*model.BudgetRecord, error) {
	rec, err := scanBudget(s.pool.QueryRow(ctx,
		`SELECT `+strings.Join(budgetColumns, ", ")+` FROM budget_tracking WHERE date = $1`, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get day %s", date)
	}
	return rec, nil
}

func (s *PostgresStore) ListDays(ctx context.Context, from, to string) ([]model.BudgetRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(budgetColumns, ", ")+` FROM budget_tracking
		 WHERE date >= $1 AND date <= $2 ORDER BY date`, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list days")
	}
	defer rows.Close()

	var out []model.BudgetRecord
	for rows.Next() {
		rec, err := scanBudget(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan day")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate days")
}

func (s *PostgresStore) DeleteDay(ctx context.Context, date string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM budget_tracking WHERE date = $1`, date)
	return eris.Wrapf(err, "postgres: delete day %s", date)
}

// --- State ---

func (s *PostgresStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM agent_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: load state %s", key)
	}
	return value, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_state (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: save state %s", key)
}

func (s *PostgresStore) SaveIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO agent_state (key, value, updated_at) VALUES ($1, $2, now()) ON CONFLICT (key) DO NOTHING`,
		key, value,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: save state %s", key)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Remove(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agent_state WHERE key = $1`, key)
	return eris.Wrapf(err, "postgres: remove state %s", key)
}

func scanPgRecord(row scannable) (*model.Record, error) {
	var rec model.Record
	var kind string
	var fieldsJSON []byte
	if err := row.Scan(&rec.ID, &kind, &fieldsJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Type = model.Kind(kind)
	if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return nil, eris.Wrap(err, "unmarshal fields")
	}
	return &rec, nil
}
