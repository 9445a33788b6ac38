// Package model holds the wire/storage data model: outputs, inputs,
// transactions and blocks, along with the canonical serialization each
// hashes over. This is C1 (serialization & hashing adapters) and the
// §3 data model together — the teacher's core/transaction.go and
// core/block.go generalized to the address/outpoint scheme this spec
// requires.
package model

import (
	"utxochain/hashutil"
)

// OutputReference points at a specific output of a specific
// transaction. The all-zero hash with Index 0 is the coinbase sentinel.
type OutputReference struct {
	TxHash hashutil.Hash
	Index  uint32
}

// IsCoinbaseSentinel reports whether r is the reserved coinbase
// outpoint (zeros, 0).
func (r OutputReference) IsCoinbaseSentinel() bool {
	return r.TxHash.IsZero() && r.Index == 0
}

// Hash returns SHA256(tx_hash || index_le), the 32-byte "outpoint
// hash" a spending input signs and a verifier checks the signature
// against (§4.2).
func (r OutputReference) Hash() hashutil.Hash {
	buf := make([]byte, 0, hashutil.Size+4)
	buf = append(buf, r.TxHash[:]...)
	buf = hashutil.PutUint32LE(buf, r.Index)
	return hashutil.Sum256(buf)
}

// TransactionOutput is an immutable unit of spendable value locked to
// an address.
type TransactionOutput struct {
	Value   uint64
	Address hashutil.Hash
}

// Hash returns SHA256(value_le || address), the output's own hash per
// §3.
func (o TransactionOutput) Hash() hashutil.Hash {
	buf := make([]byte, 0, 8+hashutil.Size)
	buf = hashutil.PutUint64LE(buf, o.Value)
	buf = append(buf, o.Address[:]...)
	return hashutil.Sum256(buf)
}

func (o TransactionOutput) serialize() []byte {
	buf := make([]byte, 0, 8+hashutil.Size)
	buf = hashutil.PutUint64LE(buf, o.Value)
	buf = append(buf, o.Address[:]...)
	return buf
}

// TransactionInput references a previously unspent output and carries
// the spender's public key and signature over that outpoint's hash.
// Coinbase inputs carry an empty signature and the sentinel
// previous-output; their PublicKey field carries the miner address
// raw bytes so payment-history queries can attribute the reward.
type TransactionInput struct {
	PreviousOutput OutputReference
	PublicKey      []byte
	Signature      []byte
}

func (in TransactionInput) serialize() []byte {
	buf := make([]byte, 0, hashutil.Size+4+len(in.PublicKey)+len(in.Signature))
	buf = append(buf, in.PreviousOutput.TxHash[:]...)
	buf = hashutil.PutUint32LE(buf, in.PreviousOutput.Index)
	buf = append(buf, in.PublicKey...)
	buf = append(buf, in.Signature...)
	return buf
}

// Transaction is a set of inputs spending prior outputs and a set of
// new outputs, plus a lock time stamped at creation.
type Transaction struct {
	Inputs   []TransactionInput
	Outputs  []TransactionOutput
	LockTime uint32
}

// Hash returns SHA256(serialize(inputs) || serialize(outputs) ||
// lock_time_le), the tx_hash of §3.
func (tx Transaction) Hash() hashutil.Hash {
	var buf []byte
	for _, in := range tx.Inputs {
		buf = append(buf, in.serialize()...)
	}
	for _, out := range tx.Outputs {
		buf = append(buf, out.serialize()...)
	}
	buf = hashutil.PutUint32LE(buf, tx.LockTime)
	return hashutil.Sum256(buf)
}

// IsCoinbase reports whether tx is the unique reward-minting
// transaction of a block: exactly one input, pointing at the
// coinbase sentinel outpoint.
func (tx Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PreviousOutput.IsCoinbaseSentinel()
}

// NewCoinbase builds the reward-minting transaction for minerAddr.
// The public key field of its sole input carries minerAddr's raw bytes
// so payment history can attribute the reward without a real key.
func NewCoinbase(minerAddr hashutil.Hash, reward uint64) Transaction {
	return Transaction{
		Inputs: []TransactionInput{{
			PreviousOutput: OutputReference{},
			PublicKey:      append([]byte(nil), minerAddr[:]...),
			Signature:      nil,
		}},
		Outputs: []TransactionOutput{{Value: reward, Address: minerAddr}},
	}
}
