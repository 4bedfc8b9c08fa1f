package storage

// SQLite schema DDL constants

const schemaNodes = `
CREATE TABLE IF NOT EXISTS nodes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT UNIQUE NOT NULL,
    type TEXT NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    ctime DATETIME NOT NULL,
    mtime DATETIME NOT NULL,
    attributes TEXT,
    extras TEXT,
    user_email TEXT NOT NULL DEFAULT ''
)`

const schemaLinks = `
CREATE TABLE IF NOT EXISTS links (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_uuid TEXT NOT NULL,
    target_uuid TEXT NOT NULL,
    type TEXT NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    UNIQUE(source_uuid, target_uuid, type, label),
    FOREIGN KEY(source_uuid) REFERENCES nodes(uuid),
    FOREIGN KEY(target_uuid) REFERENCES nodes(uuid)
)`

const schemaComments = `
CREATE TABLE IF NOT EXISTS comments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT UNIQUE NOT NULL,
    node_uuid TEXT NOT NULL,
    ctime DATETIME NOT NULL,
    mtime DATETIME NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    user_email TEXT NOT NULL DEFAULT '',
    FOREIGN KEY(node_uuid) REFERENCES nodes(uuid)
)`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT UNIQUE NOT NULL,
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    institution TEXT NOT NULL DEFAULT ''
)`

const schemaLogs = `
CREATE TABLE IF NOT EXISTS logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT UNIQUE NOT NULL,
    time DATETIME NOT NULL,
    logger_name TEXT NOT NULL DEFAULT '',
    level_name TEXT NOT NULL DEFAULT '',
    node_uuid TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    metadata TEXT,
    FOREIGN KEY(node_uuid) REFERENCES nodes(uuid)
)`

// Index definitions
const indexNodesUUID = `CREATE INDEX IF NOT EXISTS idx_nodes_uuid ON nodes(uuid)`
const indexNodesType = `CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type)`
const indexLinksSource = `CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_uuid)`
const indexLinksTarget = `CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_uuid)`
const indexLinksType = `CREATE INDEX IF NOT EXISTS idx_links_type ON links(type)`
const indexCommentsNode = `CREATE INDEX IF NOT EXISTS idx_comments_node ON comments(node_uuid)`
const indexLogsNode = `CREATE INDEX IF NOT EXISTS idx_logs_node ON logs(node_uuid)`
const indexLogsTime = `CREATE INDEX IF NOT EXISTS idx_logs_time ON logs(time)`

// SQLite pragmas
const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaFK = `PRAGMA foreign_keys=ON`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaNodes,
		schemaLinks,
		schemaComments,
		schemaUsers,
		schemaLogs,
		indexNodesUUID,
		indexNodesType,
		indexLinksSource,
		indexLinksTarget,
		indexLinksType,
		indexCommentsNode,
		indexLogsNode,
		indexLogsTime,
	}
}

// allPragmas returns all pragma statements
func allPragmas() []string {
	return []string{
		pragmaWAL,
		pragmaFK,
		pragmaBusyTimeout,
		pragmaSynchronous,
	}
}
