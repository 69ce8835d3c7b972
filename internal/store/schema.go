package store

// Schema v1 - directory lifecycle records and process marker
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per directory ever seen. Rows are never deleted; the table is the
-- audit trail of every decision made about a directory.
CREATE TABLE IF NOT EXISTS directories (
  dir_id TEXT PRIMARY KEY,
  last_seen_path TEXT NOT NULL,
  signature_hash TEXT NOT NULL,
  signature_version INTEGER NOT NULL,
  state TEXT NOT NULL DEFAULT 'NEW',
  pinned_provider TEXT,
  pinned_release_id TEXT,
  pinned_confidence REAL,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_directories_state ON directories(state);
CREATE INDEX IF NOT EXISTS idx_directories_signature ON directories(signature_hash);

-- Single-active-process marker. Exactly one row (id=1) while a process holds
-- the store open.
CREATE TABLE IF NOT EXISTS process_marker (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  owner_id TEXT NOT NULL,
  hostname TEXT,
  pid INTEGER,
  started_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Schema v2 - jail notes and apply audit columns
const schemaV2 = `
ALTER TABLE directories ADD COLUMN note TEXT;
ALTER TABLE directories ADD COLUMN last_apply_status TEXT;
ALTER TABLE directories ADD COLUMN last_apply_at DATETIME;
`
