// Package migrations содержит встроенные SQL-миграции.
package migrations

import "embed"

// FS содержит встроенные файлы миграций.
//
//go:embed *.sql
var FS embed.FS
