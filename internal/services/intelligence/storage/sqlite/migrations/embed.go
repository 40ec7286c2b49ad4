package migrations

import "embed"

// FS contains embedded SQLite migrations for intelligence storage.
//
//go:embed *.sql
var FS embed.FS
