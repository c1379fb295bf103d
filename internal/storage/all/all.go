// Package all registers every storage backend. Blank-import it from a
// binary to make the kinds available to storage.New without the caller
// knowing concrete backend packages.
package all

import (
	_ "healthetl/internal/storage/mssql"
	_ "healthetl/internal/storage/postgres"
	_ "healthetl/internal/storage/sqlite"
)
