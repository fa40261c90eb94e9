package db

import "fmt"

// Table names
const (
	PublishesTable      = "publishes"
	ItemsTable          = "items"
	TasksTable          = "tasks"
	PublishedPathsTable = "published_paths"
	MessagesTable       = "queued_messages"
)

var sqliteSchemas = []string{
	`CREATE TABLE IF NOT EXISTS publishes (
		id TEXT PRIMARY KEY,
		env TEXT NOT NULL,
		state TEXT NOT NULL,
		updated INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		publish_id TEXT NOT NULL,
		web_uri TEXT NOT NULL,
		object_key TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		link_to TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (publish_id, web_uri)
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		publish_id TEXT,
		state TEXT NOT NULL,
		updated INTEGER NOT NULL,
		deadline INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_publish ON tasks(publish_id)`,
	`CREATE TABLE IF NOT EXISTS published_paths (
		env TEXT NOT NULL,
		web_uri TEXT NOT NULL,
		updated INTEGER NOT NULL,
		PRIMARY KEY (env, web_uri)
	)`,
	`CREATE TABLE IF NOT EXISTS queued_messages (
		id TEXT PRIMARY KEY,
		actor TEXT NOT NULL,
		body BLOB NOT NULL,
		eta INTEGER NOT NULL,
		enqueued_at INTEGER NOT NULL,
		claimed_at INTEGER,
		consumer TEXT,
		attempts INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queued_messages_eta ON queued_messages(eta)`,
}

var postgresSchemas = []string{
	`CREATE TABLE IF NOT EXISTS publishes (
		id VARCHAR(36) PRIMARY KEY,
		env VARCHAR(64) NOT NULL,
		state VARCHAR(16) NOT NULL,
		updated BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		publish_id VARCHAR(36) NOT NULL,
		web_uri TEXT NOT NULL,
		object_key VARCHAR(64) NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		link_to TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (publish_id, web_uri)
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id VARCHAR(36) PRIMARY KEY,
		publish_id VARCHAR(36),
		state VARCHAR(16) NOT NULL,
		updated BIGINT NOT NULL,
		deadline BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_publish ON tasks(publish_id)`,
	`CREATE TABLE IF NOT EXISTS published_paths (
		env VARCHAR(64) NOT NULL,
		web_uri TEXT NOT NULL,
		updated BIGINT NOT NULL,
		PRIMARY KEY (env, web_uri)
	)`,
	`CREATE TABLE IF NOT EXISTS queued_messages (
		id VARCHAR(36) PRIMARY KEY,
		actor VARCHAR(64) NOT NULL,
		body BYTEA NOT NULL,
		eta BIGINT NOT NULL,
		enqueued_at BIGINT NOT NULL,
		claimed_at BIGINT,
		consumer VARCHAR(64),
		attempts INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queued_messages_eta ON queued_messages(eta)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
// web_uri is capped at 700 characters to fit the utf8mb4 index key limit.
var mysqlSchemas = []string{
	`CREATE TABLE IF NOT EXISTS publishes (
		id VARCHAR(36) PRIMARY KEY,
		env VARCHAR(64) NOT NULL,
		state VARCHAR(16) NOT NULL,
		updated BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		publish_id VARCHAR(36) NOT NULL,
		web_uri VARCHAR(700) NOT NULL,
		object_key VARCHAR(64) NOT NULL DEFAULT '',
		content_type VARCHAR(255) NOT NULL DEFAULT '',
		link_to VARCHAR(700) NOT NULL DEFAULT '',
		PRIMARY KEY (publish_id, web_uri)
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id VARCHAR(36) PRIMARY KEY,
		publish_id VARCHAR(36),
		state VARCHAR(16) NOT NULL,
		updated BIGINT NOT NULL,
		deadline BIGINT,
		INDEX idx_tasks_publish (publish_id)
	)`,
	`CREATE TABLE IF NOT EXISTS published_paths (
		env VARCHAR(64) NOT NULL,
		web_uri VARCHAR(700) NOT NULL,
		updated BIGINT NOT NULL,
		PRIMARY KEY (env, web_uri)
	)`,
	`CREATE TABLE IF NOT EXISTS queued_messages (
		id VARCHAR(36) PRIMARY KEY,
		actor VARCHAR(64) NOT NULL,
		body LONGBLOB NOT NULL,
		eta BIGINT NOT NULL,
		enqueued_at BIGINT NOT NULL,
		claimed_at BIGINT,
		consumer VARCHAR(64),
		attempts INT NOT NULL DEFAULT 0,
		INDEX idx_queued_messages_eta (eta)
	)`,
}

// Schemas returns the DDL statements for a driver
func Schemas(driver string) ([]string, error) {
	switch driver {
	case "sqlite3":
		return sqliteSchemas, nil
	case "postgres":
		return postgresSchemas, nil
	case "mysql":
		return mysqlSchemas, nil
	}
	return nil, fmt.Errorf("unsupported database driver: %s", driver)
}
