package db

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "create users table",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				email TEXT UNIQUE NOT NULL COLLATE NOCASE,
				username TEXT UNIQUE NOT NULL COLLATE NOCASE,
				name TEXT NOT NULL DEFAULT '',
				role TEXT NOT NULL DEFAULT 'student',
				password_hash TEXT NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)
		`,
	},
	{
		name: "create direct messages table",
		sql: `
			CREATE TABLE IF NOT EXISTS direct_messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				sender_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				receiver_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				content TEXT NOT NULL,
				is_read BOOLEAN NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				CHECK (sender_id <> receiver_id)
			);
			CREATE INDEX IF NOT EXISTS idx_direct_messages_sender ON direct_messages(sender_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_direct_messages_receiver ON direct_messages(receiver_id, created_at);
		`,
	},
	{
		name: "create portal settings table",
		sql: `
			CREATE TABLE IF NOT EXISTS portal_settings (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				name TEXT NOT NULL DEFAULT 'Portal',
				signing_key TEXT NOT NULL DEFAULT ''
			);
			INSERT OR IGNORE INTO portal_settings (id) VALUES (1);
		`,
	},
}
