// Package migrations embeds the goose migration files for the feedback
// store schema.
package migrations

import "embed"

// FS holds the SQL migration files.
//
//go:embed *.sql
var FS embed.FS
