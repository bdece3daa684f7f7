package tablestore

import "database/sql"

// Schema is the snapshots table. One row per label; attributes and metadata
// are JSON text, captured_at is Unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    id           TEXT PRIMARY KEY,
    label        TEXT NOT NULL UNIQUE,
    record_type  TEXT NOT NULL DEFAULT '',
    record_id    TEXT NOT NULL DEFAULT '',
    event_kind   TEXT NOT NULL DEFAULT 'manual',
    type_tag     TEXT NOT NULL DEFAULT '',
    attributes   TEXT NOT NULL DEFAULT '{}',
    metadata     TEXT NOT NULL DEFAULT '{}',
    captured_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_record ON snapshots(record_type, record_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_event_kind ON snapshots(event_kind);
CREATE INDEX IF NOT EXISTS idx_snapshots_label ON snapshots(label);
CREATE INDEX IF NOT EXISTS idx_snapshots_captured_at ON snapshots(captured_at);
`

// ApplySchema creates the table and its indexes (idempotent).
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
