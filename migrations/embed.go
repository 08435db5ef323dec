// Package migrations embeds the SQL schema so the migrate binary can run
// without the source tree on disk.
package migrations

import "embed"

//go:embed *.sql
var EmbeddedFS embed.FS
