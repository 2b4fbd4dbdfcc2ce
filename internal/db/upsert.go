package db

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Placeholder renders the n-th (1-based) bind parameter for a SQL dialect.
type Placeholder func(n int) string

// Dollar renders Postgres-style $n parameters.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Question renders SQLite-style ? parameters.
func Question(int) string { return "?" }

// UpsertConfig defines a single-row INSERT ... ON CONFLICT statement.
type UpsertConfig struct {
	Table        string   // target table
	Columns      []string // all columns being inserted, in bind order
	ConflictKeys []string // columns forming the unique constraint
	AddCols      []string // on conflict: col = table.col + excluded.col
	SetCols      []string // on conflict: col = excluded.col
	Returning    []string // optional RETURNING list
}

// UpsertSQL builds the statement. Additive columns make the per-key
// aggregate a single atomic read-modify-write in both Postgres and SQLite.
func UpsertSQL(cfg UpsertConfig, ph Placeholder) (string, error) {
	if cfg.Table == "" {
		return "", eris.New("db: upsert: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	params := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		params[i] = ph(i + 1)
	}

	table := quoteIdent(cfg.Table)
	setClauses := make([]string, 0, len(cfg.AddCols)+len(cfg.SetCols))
	for _, col := range cfg.AddCols {
		q := quoteIdent(col)
		setClauses = append(setClauses, fmt.Sprintf("%s = %s.%s + excluded.%s", q, table, q, q))
	}
	for _, col := range cfg.SetCols {
		q := quoteIdent(col)
		setClauses = append(setClauses, fmt.Sprintf("%s = excluded.%s", q, q))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		table, quoteAndJoin(cfg.Columns), strings.Join(params, ", "), quoteAndJoin(cfg.ConflictKeys))
	if len(setClauses) == 0 {
		sb.WriteString(" DO NOTHING")
	} else {
		sb.WriteString(" DO UPDATE SET ")
		sb.WriteString(strings.Join(setClauses, ", "))
	}
	if len(cfg.Returning) > 0 {
		sb.WriteString(" RETURNING ")
		sb.WriteString(quoteAndJoin(cfg.Returning))
	}
	return sb.String(), nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}
