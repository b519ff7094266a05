package migrations

import "embed"

// FS holds one migration directory per database driver.
//
//go:embed postgres/*.sql sqlite3/*.sql
var FS embed.FS
