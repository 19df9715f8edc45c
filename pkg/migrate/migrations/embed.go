// Package migrations embeds the goose SQL files so binaries and tests run the same schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
