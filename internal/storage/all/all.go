// Package all registers every storage backend.
package all

import (
	_ "pipeline/internal/storage/mssql"
	_ "pipeline/internal/storage/postgres"
	_ "pipeline/internal/storage/sqlite"
)
