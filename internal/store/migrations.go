package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
//
// message_id is UNIQUE but nullable: NULL rows never conflict, so
// envelopes lacking a message identity always insert. The uniqueness
// constraint is what makes ingestion idempotent under retry; no
// external locking is layered on top.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS envelopes (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	message_id  TEXT UNIQUE,
	from_email  TEXT NOT NULL DEFAULT '',
	to_emails   TEXT NOT NULL DEFAULT '[]',
	subject     TEXT NOT NULL DEFAULT '',
	body_text   TEXT NOT NULL DEFAULT '',
	body_html   TEXT NOT NULL DEFAULT '',
	folder      TEXT NOT NULL DEFAULT 'inbox',
	is_read     INTEGER NOT NULL DEFAULT 0,
	is_starred  INTEGER NOT NULL DEFAULT 0,
	received_at DATETIME NOT NULL,
	headers     TEXT NOT NULL DEFAULT '{}',
	attachments TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_envelopes_user_id ON envelopes(user_id);
CREATE INDEX IF NOT EXISTS idx_envelopes_folder ON envelopes(user_id, folder);
CREATE INDEX IF NOT EXISTS idx_envelopes_received_at ON envelopes(received_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
