package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL,
	folder          TEXT NOT NULL,
	subject         TEXT NOT NULL DEFAULT '',
	sender          TEXT NOT NULL DEFAULT '',
	received_at     DATETIME NOT NULL,
	sent_at         DATETIME NOT NULL,
	body            TEXT NOT NULL DEFAULT '',
	body_media_type TEXT NOT NULL DEFAULT 'text/plain',
	fetched_at      DATETIME NOT NULL,
	UNIQUE(account_id, folder, sender, subject, received_at)
);

CREATE TABLE IF NOT EXISTS attachments (
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	media_type TEXT NOT NULL DEFAULT '',
	size       INTEGER NOT NULL DEFAULT 0,
	data       BLOB NOT NULL,
	PRIMARY KEY (message_id, name)
);

CREATE INDEX IF NOT EXISTS idx_messages_account ON messages(account_id, folder);
CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
