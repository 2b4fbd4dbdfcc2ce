package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/kcmetrolive/metro-agent/internal/db"
	"github.com/kcmetrolive/metro-agent/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer connection serializes read-modify-write statements.
	sdb.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	fields     TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS record_relations (
	relation   TEXT NOT NULL,
	parent_id  TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	child_id   TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (relation, parent_id, child_id)
);

CREATE TABLE IF NOT EXISTS budget_tracking (
	date                 TEXT PRIMARY KEY,
	total_cost_usd       REAL NOT NULL DEFAULT 0,
	api_calls            INTEGER NOT NULL DEFAULT 0,
	tokens_used          INTEGER NOT NULL DEFAULT 0,
	images_generated     INTEGER NOT NULL DEFAULT 0,
	events_processed     INTEGER NOT NULL DEFAULT 0,
	venues_processed     INTEGER NOT NULL DEFAULT 0,
	performers_processed INTEGER NOT NULL DEFAULT 0,
	updated_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_type ON records(type);
CREATE INDEX IF NOT EXISTS idx_record_relations_parent ON record_relations(relation, parent_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_event_identity
	ON records(json_extract(fields, '$.name'), json_extract(fields, '$.start_date'))
	WHERE type = 'event';
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Records ---

func (s *SQLiteStore) Create(ctx context.Context, kind model.Kind, fields map[string]any) (string, error) {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal fields")
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, type, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(kind), string(fieldsJSON), now, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert %s", kind)
	}
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, fields, created_at, updated_at FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) FindOne(ctx context.Context, kind model.Kind, filters map[string]any) (*model.Record, error) {
	query := `SELECT id, type, fields, created_at, updated_at FROM records WHERE type = ?`
	args := []any{string(kind)}
	for _, k := range sortedKeys(filters) {
		query += ` AND COALESCE(CAST(json_extract(fields, ?) AS TEXT), '') = ?`
		args = append(args, jsonPath(k), filterText(filters[k], "1", "0"))
	}
	query += ` ORDER BY created_at LIMIT 1`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find %s", kind)
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET fields = json_patch(fields, ?), updated_at = ? WHERE id = ?`,
		string(patch), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update record %s", id)
	}
	return checkRowsAffected(res, "record", id)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete record %s", id)
	}
	return checkRowsAffected(res, "record", id)
}

func (s *SQLiteStore) Link(ctx context.Context, relation, parentID, childID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO record_relations (relation, parent_id, child_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (relation, parent_id, child_id) DO NOTHING`,
		relation, parentID, childID, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: link %s %s -> %s", relation, parentID, childID)
	}
	return nil
}

func (s *SQLiteStore) GetRelated(ctx context.Context, relation, parentID string) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.type, r.fields, r.created_at, r.updated_at
		 FROM record_relations rr JOIN records r ON r.id = rr.child_id
		 WHERE rr.relation = ? AND rr.parent_id = ?
		 ORDER BY rr.created_at, r.id`,
		relation, parentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get related %s", relation)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan related")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate related")
}

// --- Ledger ---

var budgetColumns = []string{
	"date", "total_cost_usd", "api_calls", "tokens_used", "images_generated",
	"events_processed", "venues_processed", "performers_processed", "updated_at",
}

// budgetUpsert is the shared additive upsert for the per-day aggregate.
func budgetUpsert(ph db.Placeholder, returning bool) (string, error) {
	cfg := db.UpsertConfig{
		Table:        "budget_tracking",
		Columns:      budgetColumns,
		ConflictKeys: []string{"date"},
		AddCols: []string{
			"total_cost_usd", "api_calls", "tokens_used", "images_generated",
			"events_processed", "venues_processed", "performers_processed",
		},
		SetCols: []string{"updated_at"},
	}
	if returning {
		cfg.Returning = budgetColumns
	}
	return db.UpsertSQL(cfg, ph)
}

func budgetArgs(d model.BudgetRecord, now time.Time) []any {
	return []any{
		d.Date, d.TotalCostUSD, d.APICalls, d.TokensUsed, d.ImagesGenerated,
		d.EventsProcessed, d.VenuesProcessed, d.PerformersProcessed, now,
	}
}

func (s *SQLiteStore) AddSpend(ctx context.Context, delta model.BudgetRecord) (*model.BudgetRecord, error) {
	query, err := budgetUpsert(db.Question, false)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin add spend")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, query, budgetArgs(delta, time.Now().UTC())...); err != nil {
		return nil, eris.Wrapf(err, "sqlite: add spend %s", delta.Date)
	}
	rec, err := scanBudget(tx.QueryRowContext(ctx,
		`SELECT `+strings.Join(budgetColumns, ", ")+` FROM budget_tracking WHERE date = ?`, delta.Date))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read day %s", delta.Date)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit add spend")
	}
	return rec, nil
}

func (s *SQLiteStore) GetDay(ctx context.Context, date string) (*model.BudgetRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+strings.Join(budgetColumns, ", ")+` FROM budget_tracking WHERE date = ?`, date)
	rec, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get day %s", date)
	}
	return rec, nil
}

func (s *SQLiteStore) ListDays(ctx context.Context, from, to string) ([]model.BudgetRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(budgetColumns, ", ")+` FROM budget_tracking
		 WHERE date >= ? AND date <= ? ORDER BY date`, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list days")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.BudgetRecord
	for rows.Next() {
		rec, err := scanBudget(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan day")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate days")
}

func (s *SQLiteStore) DeleteDay(ctx context.Context, date string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM budget_tracking WHERE date = ?`, date)
	return eris.Wrapf(err, "sqlite: delete day %s", date)
}

// --- State ---

func (s *SQLiteStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM agent_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: load state %s", key)
	}
	return []byte(value), true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save state %s", key)
}

func (s *SQLiteStore) SaveIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_state (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT (key) DO NOTHING`,
		key, string(value), time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: save state %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_state WHERE key = ?`, key)
	return eris.Wrapf(err, "sqlite: remove state %s", key)
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func jsonPath(field string) string {
	return fmt.Sprintf(`$."%s"`, strings.ReplaceAll(field, `"`, ``))
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.Record, error) {
	var rec model.Record
	var kind, fieldsJSON string
	if err := row.Scan(&rec.ID, &kind, &fieldsJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Type = model.Kind(kind)
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, eris.Wrap(err, "unmarshal fields")
	}
	return &rec, nil
}

func scanBudget(row scannable) (*model.BudgetRecord, error) {
	var r model.BudgetRecord
	err := row.Scan(&r.Date, &r.TotalCostUSD, &r.APICalls, &r.TokensUsed, &r.ImagesGenerated,
		&r.EventsProcessed, &r.VenuesProcessed, &r.PerformersProcessed, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
