// Package migrations embeds the versioned schema applied to each facility.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
