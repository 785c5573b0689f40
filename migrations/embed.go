// Package migrations embeds the journal schema migrations into the binary.
package migrations

import "embed"

// FS holds the *.up.sql files at its root, ready for database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
