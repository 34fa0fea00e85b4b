// Package migrations holds the Postgres schema, embedded so the engine
// binary can migrate without a checkout.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
