package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/kcmetrolive/metro-agent/internal/db"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analytics_rows (
	id         TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analytics_rows_table ON analytics_rows(table_name, created_at);
`

// PostgresSink stores every analytics table as JSONB rows in one table.
type PostgresSink struct {
	pool db.Pool
}

// NewPostgresSink wraps a pool. The caller owns its lifecycle.
func NewPostgresSink(pool db.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Migrate creates the analytics table.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "analytics: migrate")
	}
	return nil
}

func (s *PostgresSink) Insert(ctx context.Context, table string, row Row) (string, error) {
	id, _ := row["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	data, err := json.Marshal(row)
	if err != nil {
		return "", eris.Wrapf(err, "analytics: encode %s row", table)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analytics_rows (id, table_name, data) VALUES ($1, $2, $3)`,
		id, table, data)
	if err != nil {
		return "", eris.Wrapf(err, "analytics: insert %s", table)
	}
	return id, nil
}

func (s *PostgresSink) Update(ctx context.Context, table, id string, patch Row) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return eris.Wrapf(err, "analytics: encode %s patch", table)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE analytics_rows SET data = data || $3::jsonb WHERE table_name = $1 AND id = $2`,
		table, id, data)
	if err != nil {
		return eris.Wrapf(err, "analytics: update %s", table)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("analytics: %s row %s not found", table, id)
	}
	return nil
}

func (s *PostgresSink) Select(ctx context.Context, table string, match map[string]string, limit int) ([]Row, error) {
	where, args := matchClause(table, match)
	q := `SELECT id, data FROM analytics_rows WHERE ` + where + ` ORDER BY created_at, id`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "analytics: select %s", table)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, eris.Wrapf(err, "analytics: scan %s", table)
		}
		r := Row{}
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, eris.Wrapf(err, "analytics: decode %s row", table)
		}
		r["id"] = id
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "analytics: iterate %s", table)
}

func (s *PostgresSink) Delete(ctx context.Context, table string, match map[string]string) error {
	where, args := matchClause(table, match)
	if _, err := s.pool.Exec(ctx, `DELETE FROM analytics_rows WHERE `+where, args...); err != nil {
		return eris.Wrapf(err, "analytics: delete %s", table)
	}
	return nil
}

func (s *PostgresSink) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "analytics: ping")
}

// matchClause renders equality filters against the JSONB text values. The
// id column is matched directly.
func matchClause(table string, match map[string]string) (string, []any) {
	parts := []string{"table_name = $1"}
	args := []any{table}
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		args = append(args, match[k])
		if k == "id" {
			parts = append(parts, fmt.Sprintf("id = $%d", len(args)))
			continue
		}
		args = append(args, k)
		parts = append(parts, fmt.Sprintf("data->>$%d = $%d", len(args), len(args)-1))
	}
	return strings.Join(parts, " AND "), args
}
