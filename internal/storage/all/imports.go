// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) causes the init functions of each concrete storage backend to run,
// which in turn register their factories and DDL bootstrappers with the
// storage package.
//
// Importing this package makes the following storage kinds available:
//
//   - "postgres" (internal/storage/postgres)
//   - "mssql"    (internal/storage/mssql)
//   - "mysql"    (internal/storage/mysql)
//   - "sqlite"   (internal/storage/sqlite)
//
// A binary that needs only a subset of backends can blank-import the
// individual packages instead.
package all

import (
	_ "github.com/justin-pfeifer/ftl-lightspeed/internal/storage/mssql"
	_ "github.com/justin-pfeifer/ftl-lightspeed/internal/storage/mysql"
	_ "github.com/justin-pfeifer/ftl-lightspeed/internal/storage/postgres"
	_ "github.com/justin-pfeifer/ftl-lightspeed/internal/storage/sqlite"
)
