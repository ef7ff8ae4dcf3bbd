// Package sqlbundle exposes the relational DDL bundles and the per-study table
// definitions used by the SQL repository backends.
package sqlbundle

import (
	"bufio"
	"fmt"
	"strings"

	sqldocs "clonefreq/docs/schema/sql"
	"clonefreq/pkg/domain"
)

// Dialect selects dialect-specific DDL.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLite returns the SQLite DDL for the shared relation tables.
func SQLite() string {
	return sqldocs.SQLite
}

// Postgres returns the Postgres DDL for the shared relation tables.
func Postgres() string {
	return sqldocs.Postgres
}

// Base returns the shared DDL for the dialect.
func Base(d Dialect) (string, error) {
	switch d {
	case DialectSQLite:
		return SQLite(), nil
	case DialectPostgres:
		return Postgres(), nil
	default:
		return "", fmt.Errorf("unknown sql dialect %q", d)
	}
}

// QuoteIdent double-quotes an identifier; both dialects accept the same form.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// StudyTables returns the statements creating a study's chain and frequency tables.
// Collection names are validated by domain.NewStudy.
func StudyTables(s domain.Study) []string {
	chain := QuoteIdent(s.ChainCollection)
	freq := QuoteIdent(s.FrequencyCollection)
	idx := QuoteIdent(strings.ToLower(s.ChainCollection) + "_match_idx")
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    assay_id TEXT NOT NULL,
    v_gene TEXT NOT NULL,
    aa_seq_cdr3 TEXT NOT NULL,
    n_seq_cdr3 TEXT NOT NULL
);`, chain),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (v_gene, aa_seq_cdr3);`, idx, chain),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    v_gene TEXT NOT NULL,
    aa_seq_cdr3 TEXT NOT NULL,
    n_seq_cdr3 TEXT NOT NULL,
    count INTEGER NOT NULL,
    sample_size INTEGER NOT NULL,
    sample_ids TEXT NOT NULL
);`, freq),
	}
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}

	return stmts
}
