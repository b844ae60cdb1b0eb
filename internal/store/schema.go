package store

// SQL schema constants for all cascade tables.

const schemaDispatches = `
CREATE TABLE IF NOT EXISTS dispatches (
    id TEXT PRIMARY KEY,
    timestamp TEXT NOT NULL,
    category TEXT NOT NULL,
    provider TEXT NOT NULL DEFAULT '',
    degraded INTEGER NOT NULL DEFAULT 0,
    cancelled INTEGER NOT NULL DEFAULT 0,
    attempts INTEGER NOT NULL DEFAULT 0,
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_dispatches_timestamp ON dispatches(timestamp);
CREATE INDEX IF NOT EXISTS idx_dispatches_provider ON dispatches(provider);
`

const schemaProviderHealth = `
CREATE TABLE IF NOT EXISTS provider_health (
    name TEXT PRIMARY KEY,
    available INTEGER NOT NULL DEFAULT 1,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL
);
`

const schemaCache = `
CREATE TABLE IF NOT EXISTS cache (
    key TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    provider TEXT NOT NULL DEFAULT '',
    output TEXT NOT NULL,
    created_at TEXT NOT NULL,
    expires_at TEXT NOT NULL,
    hit_count INTEGER NOT NULL DEFAULT 0,
    last_hit TEXT
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache(expires_at);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of schema DDL statements that form
// the initial (version-1) database layout.
var allSchemas = []string{
	schemaDispatches,
	schemaProviderHealth,
	schemaCache,
	schemaMigrations,
}
