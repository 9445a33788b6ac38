package model

import "utxochain/hashutil"

// UTXOEntry is a spendable output tracked by the store's UTXO index,
// uniquely keyed by (OutpointHash, OutpointIndex).
type UTXOEntry struct {
	OutpointHash hashutil.Hash
	OutpointIdx  uint32
	Value        uint64
	Address      hashutil.Hash
}

// PaymentRecord is one entry of payment history as returned by
// store.Payments (§4.3): a value transfer from Sender to Recipient,
// with change outputs already filtered out.
type PaymentRecord struct {
	TxHash    hashutil.Hash
	BlockHash *hashutil.Hash // nil while the transaction is still in mempool
	Sender    hashutil.Hash
	Recipient hashutil.Hash
	Value     uint64
	LockTime  uint32
}
