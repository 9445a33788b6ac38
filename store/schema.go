package store

const schemaDDL = `
CREATE TABLE IF NOT EXISTS block (
	hash      BLOB PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	tx_count  INTEGER NOT NULL,
	nonce     INTEGER NOT NULL,
	prev_hash BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS tx (
	hash      BLOB PRIMARY KEY,
	lock_time INTEGER NOT NULL,
	in_count  INTEGER NOT NULL,
	out_count INTEGER NOT NULL,
	block_hash BLOB REFERENCES block(hash)
);

CREATE TABLE IF NOT EXISTS txout (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	value   INTEGER NOT NULL,
	address BLOB NOT NULL,
	hash    BLOB NOT NULL,
	tx_hash BLOB NOT NULL REFERENCES tx(hash) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS txin (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	out_hash  BLOB NOT NULL,
	out_idx   INTEGER NOT NULL,
	public_key BLOB,
	signature BLOB,
	tx_hash   BLOB NOT NULL REFERENCES tx(hash) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS utxo (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	outpoint_hash BLOB NOT NULL,
	outpoint_idx  INTEGER NOT NULL,
	value         INTEGER NOT NULL,
	address       BLOB NOT NULL,
	UNIQUE(outpoint_hash, outpoint_idx)
);

CREATE INDEX IF NOT EXISTS idx_utxo_address ON utxo(address);
CREATE INDEX IF NOT EXISTS idx_tx_block_hash ON tx(block_hash);
CREATE INDEX IF NOT EXISTS idx_block_timestamp ON block(timestamp);
`
