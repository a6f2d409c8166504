package store

const schema = `
CREATE TABLE IF NOT EXISTS wallet_accounts (
	account_id  TEXT PRIMARY KEY,
	balance     BIGINT NOT NULL DEFAULT 0,
	last_tx     JSONB,
	pending_txs JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL,
	deleted_at  TIMESTAMPTZ,
	version     BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS wallet_shards (
	shard INT PRIMARY KEY,
	head  BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS wallet_journal (
	shard      INT NOT NULL,
	seq        BIGINT NOT NULL,
	account_id TEXT NOT NULL,
	envelope   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (shard, seq)
);

CREATE INDEX IF NOT EXISTS idx_wallet_journal_account ON wallet_journal (account_id);

CREATE TABLE IF NOT EXISTS cdc_checkpoints (
	shard      INT PRIMARY KEY,
	seq        BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
