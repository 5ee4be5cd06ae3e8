// Package all links every storage backend into the binary.
package all

import (
	_ "catalogflat/internal/storage/mssql"
	_ "catalogflat/internal/storage/postgres"
	_ "catalogflat/internal/storage/sqlite"
)
