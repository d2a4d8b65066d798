// Package migrations embeds the SQL schema migrations of the search outbox.
package migrations

import "embed"

// FS holds every migration file, keyed by file name.
//
//go:embed *.sql
var FS embed.FS
