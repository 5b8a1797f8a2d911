package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
//
// The (user_id, date) index is not unique: the store contract only promises
// eventual consistency, and the single-record-per-day invariant is enforced
// best-effort by callers. See internal/tracker.
const schema = `
CREATE TABLE IF NOT EXISTS daily_records (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    date TEXT NOT NULL,
    dose_amount INTEGER NOT NULL,
    time_of_day TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    completed INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_daily_records_user_id ON daily_records(user_id);
CREATE INDEX IF NOT EXISTS idx_daily_records_user_date ON daily_records(user_id, date);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
