// Package migrations embeds the SQL migration files applied by
// store.Migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
