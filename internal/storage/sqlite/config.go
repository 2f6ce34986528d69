// Package sqlite implements a SQLite-backed storage.Repository.
package sqlite

// maxVariables is SQLite's historic SQLITE_MAX_VARIABLE_NUMBER. Staying under
// it keeps multi-row INSERTs valid on older builds.
const maxVariables = 999

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:lightspeed.db?_pragma=busy_timeout(5000)"
	//   "lightspeed.db" (interpreted by the driver)
	DSN string

	// BatchRows caps the rows per multi-row INSERT. Zero uses as many rows as
	// fit in maxVariables.
	BatchRows int
}

// batchRows returns the rows per INSERT for a table with width columns.
func (c Config) batchRows(width int) int {
	n := maxVariables / max(width, 1)
	if c.BatchRows > 0 && c.BatchRows < n {
		n = c.BatchRows
	}
	return max(n, 1)
}
