// Package sqldocs exposes the relational schema bundles directly from the docs tree.
package sqldocs

import _ "embed"

// SQLite contains the SQLite DDL for the shared relation tables.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the Postgres DDL for the shared relation tables.
//
//go:embed postgres.sql
var Postgres string
