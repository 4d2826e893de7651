package sqlite

type migration struct {
	version int
	sql     string
}

// migrations must be numbered sequentially from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	email_address TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL DEFAULT '',
	imap_server   TEXT NOT NULL,
	imap_port     INTEGER NOT NULL,
	imap_security TEXT NOT NULL DEFAULT 'tls',
	smtp_server   TEXT NOT NULL DEFAULT '',
	smtp_port     INTEGER NOT NULL DEFAULT 0,
	smtp_security TEXT NOT NULL DEFAULT 'startTLS',
	username      TEXT NOT NULL,
	auth_mode     TEXT NOT NULL DEFAULT 'password',
	enabled       INTEGER NOT NULL DEFAULT 1,
	sync_enabled  INTEGER NOT NULL DEFAULT 1,
	last_sync_at  DATETIME,
	sync_status   TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS folders (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	full_name    TEXT NOT NULL,
	name         TEXT NOT NULL,
	delimiter    TEXT NOT NULL DEFAULT '',
	parent_id    TEXT REFERENCES folders(id) ON DELETE SET NULL,
	total_count  INTEGER NOT NULL DEFAULT 0,
	unread_count INTEGER NOT NULL DEFAULT 0,
	subscribed   INTEGER NOT NULL DEFAULT 0,
	attributes   TEXT,
	sync_state   TEXT NOT NULL DEFAULT 'PENDING',
	last_sync_at DATETIME,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	UNIQUE (account_id, full_name)
);

CREATE TABLE IF NOT EXISTS emails (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	folder_id      TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	uid            INTEGER NOT NULL,
	message_number INTEGER NOT NULL DEFAULT 0,
	thread_id      TEXT,
	message_id     TEXT NOT NULL DEFAULT '',
	in_reply_to    TEXT NOT NULL DEFAULT '',
	"references"   TEXT,
	subject        TEXT NOT NULL DEFAULT '',
	from_address   TEXT NOT NULL DEFAULT '',
	from_name      TEXT NOT NULL DEFAULT '',
	reply_to       TEXT NOT NULL DEFAULT '',
	to_addresses   TEXT,
	cc_addresses   TEXT,
	bcc_addresses  TEXT,
	sent_at        DATETIME,
	received_at    DATETIME,
	body_text      TEXT NOT NULL DEFAULT '',
	body_html      TEXT NOT NULL DEFAULT '',
	preview        TEXT NOT NULL DEFAULT '',
	has_attachment INTEGER NOT NULL DEFAULT 0,
	is_read        INTEGER NOT NULL DEFAULT 0,
	is_starred     INTEGER NOT NULL DEFAULT 0,
	is_flagged     INTEGER NOT NULL DEFAULT 0,
	is_draft       INTEGER NOT NULL DEFAULT 0,
	is_answered    INTEGER NOT NULL DEFAULT 0,
	sync_state     TEXT NOT NULL DEFAULT 'synced',
	raw_headers    TEXT NOT NULL DEFAULT '{}',
	classification TEXT NOT NULL DEFAULT 'ok',
	classification_reason TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	UNIQUE (account_id, folder_id, uid)
);

CREATE TABLE IF NOT EXISTS sync_states (
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	folder_id  TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	last_uid   INTEGER NOT NULL DEFAULT 0,
	last_sync  DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (account_id, folder_id)
);

CREATE TABLE IF NOT EXISTS pending_operations (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	type        TEXT NOT NULL,
	payload     TEXT NOT NULL DEFAULT '{}',
	sequence    INTEGER NOT NULL UNIQUE,
	enqueued_at DATETIME NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_folders_account ON folders(account_id);
CREATE INDEX IF NOT EXISTS idx_emails_thread ON emails(account_id, thread_id);
CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails(message_id);
CREATE INDEX IF NOT EXISTS idx_pending_operations_account ON pending_operations(account_id, sequence);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE sync_states ADD COLUMN uid_validity INTEGER NOT NULL DEFAULT 0;

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
