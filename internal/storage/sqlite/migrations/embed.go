package migrations

import "embed"

// FS holds the schema of the SQLite event store.
//
//go:embed *.sql
var FS embed.FS
