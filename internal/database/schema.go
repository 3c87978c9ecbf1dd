package database

// Migration is one versioned, transactional schema step
type Migration struct {
	Version    int
	Statements []string
}

// Schema is a named, ordered migration list
type Schema struct {
	Name       string
	Migrations []Migration
}

// ServerSchema backs the session store of record and the directory tables
// it validates against. Timestamps are unix milliseconds.
var ServerSchema = Schema{
	Name: "server",
	Migrations: []Migration{
		{
			Version: 1,
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS employees (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					email TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE TABLE IF NOT EXISTS projects (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					screenshots_enabled INTEGER NOT NULL DEFAULT 0,
					screenshot_interval_ms INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE TABLE IF NOT EXISTS project_members (
					project_id TEXT NOT NULL REFERENCES projects(id),
					employee_id TEXT NOT NULL REFERENCES employees(id),
					PRIMARY KEY (project_id, employee_id)
				)`,
				`CREATE TABLE IF NOT EXISTS tasks (
					id TEXT PRIMARY KEY,
					project_id TEXT NOT NULL REFERENCES projects(id),
					name TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS task_members (
					task_id TEXT NOT NULL REFERENCES tasks(id),
					employee_id TEXT NOT NULL REFERENCES employees(id),
					PRIMARY KEY (task_id, employee_id)
				)`,
			},
		},
		{
			Version: 2,
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS time_entries (
					id TEXT PRIMARY KEY,
					employee_id TEXT NOT NULL,
					project_id TEXT NOT NULL,
					task_id TEXT NOT NULL,
					description TEXT,
					start_time INTEGER NOT NULL,
					end_time INTEGER,
					duration_ms INTEGER NOT NULL DEFAULT 0,
					is_active INTEGER NOT NULL DEFAULT 1,
					screenshot_interval_ms INTEGER NOT NULL DEFAULT 0,
					device_info TEXT NOT NULL DEFAULT '{}',
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL,
					CHECK ((is_active = 1 AND end_time IS NULL) OR (is_active = 0 AND end_time IS NOT NULL)),
					CHECK (duration_ms >= 0)
				)`,
				// at most one active session per employee
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_time_entries_one_active
					ON time_entries(employee_id) WHERE is_active = 1`,
				`CREATE INDEX IF NOT EXISTS idx_time_entries_employee_start
					ON time_entries(employee_id, start_time DESC)`,
				`CREATE TABLE IF NOT EXISTS time_entry_screenshots (
					seq INTEGER PRIMARY KEY AUTOINCREMENT,
					time_entry_id TEXT NOT NULL,
					screenshot_id TEXT NOT NULL,
					appended_at INTEGER NOT NULL,
					UNIQUE (time_entry_id, screenshot_id)
				)`,
				`CREATE TABLE IF NOT EXISTS screenshots (
					id TEXT PRIMARY KEY,
					time_entry_id TEXT NOT NULL,
					employee_id TEXT NOT NULL,
					project_id TEXT NOT NULL,
					task_id TEXT NOT NULL,
					mime_type TEXT NOT NULL,
					size INTEGER NOT NULL,
					width INTEGER NOT NULL,
					height INTEGER NOT NULL,
					taken_at INTEGER NOT NULL,
					has_permission INTEGER NOT NULL DEFAULT 0,
					storage_path TEXT NOT NULL,
					created_at INTEGER NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_screenshots_time_entry ON screenshots(time_entry_id)`,
			},
		},
	},
}

// AgentSchema backs the desktop agent's durable cache and upload queue
var AgentSchema = Schema{
	Name: "agent",
	Migrations: []Migration{
		{
			Version: 1,
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS cache_entries (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at INTEGER NOT NULL,
					expires_at INTEGER
				)`,
				`CREATE TABLE IF NOT EXISTS pending_uploads (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					screenshot_id TEXT NOT NULL UNIQUE,
					metadata TEXT NOT NULL,
					payload BLOB NOT NULL,
					created_at INTEGER NOT NULL,
					retry_count INTEGER NOT NULL DEFAULT 0,
					last_attempt INTEGER,
					next_attempt INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE INDEX IF NOT EXISTS idx_pending_uploads_next ON pending_uploads(next_attempt)`,
				`CREATE INDEX IF NOT EXISTS idx_pending_uploads_created ON pending_uploads(created_at)`,
			},
		},
	},
}
