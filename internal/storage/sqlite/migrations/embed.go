package migrations

import "embed"

// FS содержит встроенные миграции хранилища чтения.
//
//go:embed *.sql
var FS embed.FS
