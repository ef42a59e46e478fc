// Package dbmigrations exposes embedded SQL migrations for Inkwire binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into Inkwire binaries.
//
//go:embed *.sql
var Files embed.FS
