// Package store is C3: the persistent, ACID block store. It wraps
// database/sql over github.com/mattn/go-sqlite3 against the exact
// schema named in §6 — block/tx/txout/txin/utxo — generalizing the
// teacher's boltdb bucket-transaction pattern (core/blockchain.go,
// core/utxo.go: db.Update/db.View around a single mutation) to SQL
// transactions (sql.Tx.Commit/Rollback).
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"utxochain/hashutil"
	"utxochain/model"
)

// ErrDuplicateTransaction is returned by AddTransaction when a
// transaction with the same hash already exists (mempool or mined).
// Callers on the gossip path are expected to ignore it silently (§7).
var ErrDuplicateTransaction = errors.New("store: duplicate transaction hash")

// ErrUnknownBlock is returned by Blocks when the requested anchor hash
// is not present.
var ErrUnknownBlock = errors.New("store: unknown block hash")

// Store is a handle to one sqlite-backed chain database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite has a single writer; serialize access
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddTransaction persists tx into the mempool (null block reference)
// and immediately updates the UTXO index per §4.3a — the open-question
// #3 behavior this spec preserves for wire compatibility.
func (s *Store) AddTransaction(tx model.Transaction) error {
	dbTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	hash := tx.Hash()
	if exists, err := txExists(dbTx, hash); err != nil {
		return err
	} else if exists {
		return ErrDuplicateTransaction
	}

	if err := insertTransaction(dbTx, tx, nil); err != nil {
		return err
	}
	if err := applyUTXORules(dbTx, tx); err != nil {
		return err
	}
	return dbTx.Commit()
}

// AddBlock persists block and all its transactions, migrating any
// matching mempool rows to this block and updating the UTXO index for
// any transaction the mempool had not already seen (§4.3).
func (s *Store) AddBlock(block model.Block) error {
	dbTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	hash := block.Hash
	_, err = dbTx.Exec(
		`INSERT INTO block(hash, timestamp, tx_count, nonce, prev_hash) VALUES (?, ?, ?, ?, ?)`,
		hash[:], block.Timestamp, len(block.Transactions), block.Nonce, block.PreviousHash[:],
	)
	if err != nil {
		return fmt.Errorf("store: insert block: %w", err)
	}

	for _, tx := range block.Transactions {
		txHash := tx.Hash()
		exists, err := txExists(dbTx, txHash)
		if err != nil {
			return err
		}
		if exists {
			if _, err := dbTx.Exec(`UPDATE tx SET block_hash = ? WHERE hash = ?`, hash[:], txHash[:]); err != nil {
				return fmt.Errorf("store: migrate mempool tx: %w", err)
			}
			continue
		}
		if err := insertTransaction(dbTx, tx, &hash); err != nil {
			return err
		}
		if err := applyUTXORules(dbTx, tx); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

func txExists(dbTx *sql.Tx, hash hashutil.Hash) (bool, error) {
	var one int
	err := dbTx.QueryRow(`SELECT 1 FROM tx WHERE hash = ?`, hash[:]).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func insertTransaction(dbTx *sql.Tx, tx model.Transaction, blockHash *hashutil.Hash) error {
	hash := tx.Hash()
	var blockHashArg interface{}
	if blockHash != nil {
		blockHashArg = blockHash[:]
	}

	if _, err := dbTx.Exec(
		`INSERT INTO tx(hash, lock_time, in_count, out_count, block_hash) VALUES (?, ?, ?, ?, ?)`,
		hash[:], tx.LockTime, len(tx.Inputs), len(tx.Outputs), blockHashArg,
	); err != nil {
		return fmt.Errorf("store: insert tx: %w", err)
	}

	for _, in := range tx.Inputs {
		if _, err := dbTx.Exec(
			`INSERT INTO txin(out_hash, out_idx, public_key, signature, tx_hash) VALUES (?, ?, ?, ?, ?)`,
			in.PreviousOutput.TxHash[:], in.PreviousOutput.Index, in.PublicKey, in.Signature, hash[:],
		); err != nil {
			return fmt.Errorf("store: insert txin: %w", err)
		}
	}

	for _, out := range tx.Outputs {
		outHash := out.Hash()
		if _, err := dbTx.Exec(
			`INSERT INTO txout(value, address, hash, tx_hash) VALUES (?, ?, ?, ?)`,
			out.Value, out.Address[:], outHash[:], hash[:],
		); err != nil {
			return fmt.Errorf("store: insert txout: %w", err)
		}
	}
	return nil
}

// applyUTXORules implements §4.3a: delete spent inputs (non-coinbase),
// insert every output as a fresh unspent entry.
func applyUTXORules(dbTx *sql.Tx, tx model.Transaction) error {
	hash := tx.Hash()

	if !tx.IsCoinbase() {
		for _, in := range tx.Inputs {
			if _, err := dbTx.Exec(
				`DELETE FROM utxo WHERE outpoint_hash = ? AND outpoint_idx = ?`,
				in.PreviousOutput.TxHash[:], in.PreviousOutput.Index,
			); err != nil {
				return fmt.Errorf("store: delete spent utxo: %w", err)
			}
		}
	}

	for i, out := range tx.Outputs {
		if _, err := dbTx.Exec(
			`INSERT INTO utxo(outpoint_hash, outpoint_idx, value, address) VALUES (?, ?, ?, ?)`,
			hash[:], uint32(i), out.Value, out.Address[:],
		); err != nil {
			return fmt.Errorf("store: insert utxo: %w", err)
		}
	}
	return nil
}

// Blocks returns the chain's blocks. With fromHash nil, all blocks are
// returned ascending by timestamp. With fromHash set, blocks are
// returned descending by timestamp, newest first, down to and including
// that block.
func (s *Store) Blocks(fromHash *hashutil.Hash) ([]model.Block, error) {
	if fromHash != nil {
		var anchorTimestamp uint32
		err := s.db.QueryRow(`SELECT timestamp FROM block WHERE hash = ?`, (*fromHash)[:]).Scan(&anchorTimestamp)
		if err == sql.ErrNoRows {
			return nil, ErrUnknownBlock
		}
		if err != nil {
			return nil, err
		}
		return s.queryBlocks(`SELECT hash, timestamp, nonce, prev_hash FROM block WHERE timestamp >= ? ORDER BY timestamp DESC, rowid DESC`, anchorTimestamp)
	}
	return s.queryBlocks(`SELECT hash, timestamp, nonce, prev_hash FROM block ORDER BY timestamp ASC, rowid ASC`)
}

func (s *Store) queryBlocks(query string, args ...interface{}) ([]model.Block, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		var hashB, prevB []byte
		var timestamp, nonce uint32
		if err := rows.Scan(&hashB, &timestamp, &nonce, &prevB); err != nil {
			return nil, err
		}
		hash, _ := hashutil.HashFromBytes(hashB)
		prev, _ := hashutil.HashFromBytes(prevB)

		txs, err := s.transactionsForBlock(hash)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, model.Block{
			Timestamp:    timestamp,
			Transactions: txs,
			Nonce:        nonce,
			Hash:         hash,
			PreviousHash: prev,
		})
	}
	return blocks, rows.Err()
}

func (s *Store) transactionsForBlock(blockHash hashutil.Hash) ([]model.Transaction, error) {
	rows, err := s.db.Query(`SELECT hash FROM tx WHERE block_hash = ? ORDER BY rowid ASC`, blockHash[:])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []hashutil.Hash
	for rows.Next() {
		var hb []byte
		if err := rows.Scan(&hb); err != nil {
			return nil, err
		}
		h, _ := hashutil.HashFromBytes(hb)
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	txs := make([]model.Transaction, 0, len(hashes))
	for _, h := range hashes {
		tx, lockTime, err := s.loadTransaction(h)
		if err != nil {
			return nil, err
		}
		tx.LockTime = lockTime
		txs = append(txs, tx)
	}
	return txs, nil
}

func (s *Store) loadTransaction(hash hashutil.Hash) (model.Transaction, uint32, error) {
	var lockTime uint32
	if err := s.db.QueryRow(`SELECT lock_time FROM tx WHERE hash = ?`, hash[:]).Scan(&lockTime); err != nil {
		return model.Transaction{}, 0, err
	}

	inRows, err := s.db.Query(`SELECT out_hash, out_idx, public_key, signature FROM txin WHERE tx_hash = ? ORDER BY id ASC`, hash[:])
	if err != nil {
		return model.Transaction{}, 0, err
	}
	defer inRows.Close()

	var inputs []model.TransactionInput
	for inRows.Next() {
		var outHashB []byte
		var outIdx uint32
		var pubKey, sig []byte
		if err := inRows.Scan(&outHashB, &outIdx, &pubKey, &sig); err != nil {
			return model.Transaction{}, 0, err
		}
		outHash, _ := hashutil.HashFromBytes(outHashB)
		inputs = append(inputs, model.TransactionInput{
			PreviousOutput: model.OutputReference{TxHash: outHash, Index: outIdx},
			PublicKey:      pubKey,
			Signature:      sig,
		})
	}
	if err := inRows.Err(); err != nil {
		return model.Transaction{}, 0, err
	}

	outRows, err := s.db.Query(`SELECT value, address FROM txout WHERE tx_hash = ? ORDER BY id ASC`, hash[:])
	if err != nil {
		return model.Transaction{}, 0, err
	}
	defer outRows.Close()

	var outputs []model.TransactionOutput
	for outRows.Next() {
		var value uint64
		var addrB []byte
		if err := outRows.Scan(&value, &addrB); err != nil {
			return model.Transaction{}, 0, err
		}
		addr, _ := hashutil.HashFromBytes(addrB)
		outputs = append(outputs, model.TransactionOutput{Value: value, Address: addr})
	}
	if err := outRows.Err(); err != nil {
		return model.Transaction{}, 0, err
	}

	return model.Transaction{Inputs: inputs, Outputs: outputs, LockTime: lockTime}, lockTime, nil
}

// Mempool returns every transaction with a null block reference.
func (s *Store) Mempool() ([]model.Transaction, error) {
	rows, err := s.db.Query(`SELECT hash FROM tx WHERE block_hash IS NULL ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []hashutil.Hash
	for rows.Next() {
		var hb []byte
		if err := rows.Scan(&hb); err != nil {
			return nil, err
		}
		h, _ := hashutil.HashFromBytes(hb)
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	txs := make([]model.Transaction, 0, len(hashes))
	for _, h := range hashes {
		tx, lockTime, err := s.loadTransaction(h)
		if err != nil {
			return nil, err
		}
		tx.LockTime = lockTime
		txs = append(txs, tx)
	}
	return txs, nil
}

// LatestBlockHash returns the hash of the newest block, or ok=false if
// the chain is empty.
func (s *Store) LatestBlockHash() (hashutil.Hash, bool, error) {
	var hb []byte
	err := s.db.QueryRow(`SELECT hash FROM block ORDER BY timestamp DESC, rowid DESC LIMIT 1`).Scan(&hb)
	if err == sql.ErrNoRows {
		return hashutil.Hash{}, false, nil
	}
	if err != nil {
		return hashutil.Hash{}, false, err
	}
	h, _ := hashutil.HashFromBytes(hb)
	return h, true, nil
}

// BlockHeight returns the number of blocks stored.
func (s *Store) BlockHeight() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM block`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Balance returns the sum of UTXO values owned by address.
func (s *Store) Balance(address hashutil.Hash) (uint64, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(value) FROM utxo WHERE address = ?`, address[:]).Scan(&total)
	if err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return uint64(total.Int64), nil
}

// Unspent returns every UTXO entry owned by address.
func (s *Store) Unspent(address hashutil.Hash) ([]model.UTXOEntry, error) {
	rows, err := s.db.Query(`SELECT outpoint_hash, outpoint_idx, value FROM utxo WHERE address = ? ORDER BY id ASC`, address[:])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.UTXOEntry
	for rows.Next() {
		var outHashB []byte
		var idx uint32
		var value uint64
		if err := rows.Scan(&outHashB, &idx, &value); err != nil {
			return nil, err
		}
		outHash, _ := hashutil.HashFromBytes(outHashB)
		entries = append(entries, model.UTXOEntry{
			OutpointHash: outHash,
			OutpointIdx:  idx,
			Value:        value,
			Address:      address,
		})
	}
	return entries, rows.Err()
}

// FindUTXO looks up a single UTXO entry by outpoint, for the
// signature/ownership verification an incoming transaction needs
// before it is accepted (§9 open question #1).
func (s *Store) FindUTXO(outpointHash hashutil.Hash, outpointIdx uint32) (model.UTXOEntry, bool, error) {
	var value uint64
	var addrB []byte
	err := s.db.QueryRow(
		`SELECT value, address FROM utxo WHERE outpoint_hash = ? AND outpoint_idx = ?`,
		outpointHash[:], outpointIdx,
	).Scan(&value, &addrB)
	if err == sql.ErrNoRows {
		return model.UTXOEntry{}, false, nil
	}
	if err != nil {
		return model.UTXOEntry{}, false, err
	}
	addr, _ := hashutil.HashFromBytes(addrB)
	return model.UTXOEntry{
		OutpointHash: outpointHash,
		OutpointIdx:  outpointIdx,
		Value:        value,
		Address:      addr,
	}, true, nil
}

// Payments derives payment history for publicKey per §4.3: a record
// per non-change output of every transaction where the sender (hashed
// from the transaction's first input's public key) or the recipient
// matches publicKey/its address.
func (s *Store) Payments(publicKey []byte) ([]model.PaymentRecord, error) {
	rows, err := s.db.Query(`SELECT hash, block_hash FROM tx ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	type row struct {
		hash      hashutil.Hash
		blockHash *hashutil.Hash
	}
	var all []row
	for rows.Next() {
		var hb, bhBytes []byte
		if err := rows.Scan(&hb, &bhBytes); err != nil {
			rows.Close()
			return nil, err
		}
		h, _ := hashutil.HashFromBytes(hb)
		r := row{hash: h}
		if len(bhBytes) > 0 {
			b, _ := hashutil.HashFromBytes(bhBytes)
			r.blockHash = &b
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	target := hashutil.DoubleSum256(publicKey)

	var out []model.PaymentRecord
	for _, r := range all {
		tx, lockTime, err := s.loadTransaction(r.hash)
		if err != nil {
			return nil, err
		}
		if len(tx.Inputs) == 0 {
			continue
		}
		senderKey := tx.Inputs[0].PublicKey
		sender := hashutil.DoubleSum256(senderKey)
		sentByTarget := string(senderKey) == string(publicKey)

		for _, out2 := range tx.Outputs {
			if out2.Address == sender {
				continue // change, filtered
			}
			recipientIsTarget := out2.Address == target
			if !sentByTarget && !recipientIsTarget {
				continue
			}
			out = append(out, model.PaymentRecord{
				TxHash:    r.hash,
				BlockHash: r.blockHash,
				Sender:    sender,
				Recipient: out2.Address,
				Value:     out2.Value,
				LockTime:  lockTime,
			})
		}
	}
	return out, nil
}
