package model

import "utxochain/hashutil"

// Block is a timestamped batch of transactions chained to its
// predecessor by hash. Exactly one transaction in Transactions is a
// coinbase, and it must be positioned last — the sole observable
// ordering rule (§3).
type Block struct {
	Timestamp    uint32
	Transactions []Transaction
	Nonce        uint32
	Hash         hashutil.Hash
	PreviousHash hashutil.Hash
}

// Preimage returns the exact byte sequence a block hashes over:
// previous_hash || timestamp_le || nonce_le || concat(serialize(tx)).
// Proof-of-work and validation both hash this.
func Preimage(previousHash hashutil.Hash, timestamp uint32, nonce uint32, txs []Transaction) []byte {
	buf := make([]byte, 0, hashutil.Size+8)
	buf = append(buf, previousHash[:]...)
	buf = hashutil.PutUint32LE(buf, timestamp)
	buf = hashutil.PutUint32LE(buf, nonce)
	for _, tx := range txs {
		for _, in := range tx.Inputs {
			buf = append(buf, in.serialize()...)
		}
		for _, out := range tx.Outputs {
			buf = append(buf, out.serialize()...)
		}
		buf = hashutil.PutUint32LE(buf, tx.LockTime)
	}
	return buf
}

// ComputeHash re-derives the block's hash from its fields, independent
// of whatever is currently stored in b.Hash.
func (b Block) ComputeHash() hashutil.Hash {
	return hashutil.Sum256(Preimage(b.PreviousHash, b.Timestamp, b.Nonce, b.Transactions))
}

// Coinbase returns the block's coinbase transaction and true, or the
// zero value and false if none is present (malformed block).
func (b Block) Coinbase() (Transaction, bool) {
	if len(b.Transactions) == 0 {
		return Transaction{}, false
	}
	last := b.Transactions[len(b.Transactions)-1]
	if !last.IsCoinbase() {
		return Transaction{}, false
	}
	return last, true
}
