package migrations

import "embed"

// FS holds the ordered SQL migrations for the backend-of-record database.
//
//go:embed *.sql
var FS embed.FS
