// Package chain is C4: a thin wrapper around the store that adds the
// reward schedule, block construction and circulating-supply
// accounting — generalizing the teacher's core/blockchain.go
// MineBlock/decCoinbaseReward pair to the spec's halving formula.
package chain

import (
	"utxochain/hashutil"
	"utxochain/model"
	"utxochain/store"
)

// Denomination and HalvingInterval fix the reward schedule of §4.4.
const (
	Denomination    = 100_000_000
	HalvingInterval = 210_000
	subsidy         = Denomination / 100
)

// Chain wraps a Store with block-reward and supply accounting.
type Chain struct {
	store *store.Store
}

// New wraps store s.
func New(s *store.Store) *Chain {
	return &Chain{store: s}
}

// Store exposes the underlying store for components (node, wire
// handlers) that need the raw persistence operations directly.
func (c *Chain) Store() *store.Store { return c.store }

// BlockReward returns subsidy / (1 + height/halvingInterval) using
// integer division, per §4.4.
func BlockReward(height int) uint64 {
	if height < 0 {
		height = 0
	}
	return subsidy / uint64(1+height/HalvingInterval)
}

// Height returns the current chain height (block count).
func (c *Chain) Height() (int, error) {
	return c.store.BlockHeight()
}

// LatestBlockHash returns the hash of the newest block, if any.
func (c *Chain) LatestBlockHash() (hashutil.Hash, bool, error) {
	return c.store.LatestBlockHash()
}

// CurrentReward returns the reward a block mined right now would pay.
func (c *Chain) CurrentReward() (uint64, error) {
	height, err := c.Height()
	if err != nil {
		return 0, err
	}
	return BlockReward(height), nil
}

// CirculatingSupply sums BlockReward(h) for every mined height.
func (c *Chain) CirculatingSupply() (uint64, error) {
	height, err := c.Height()
	if err != nil {
		return 0, err
	}
	var total uint64
	for h := 0; h < height; h++ {
		total += BlockReward(h)
	}
	return total, nil
}

// Balance delegates to the store's UTXO-sum query.
func (c *Chain) Balance(address hashutil.Hash) (uint64, error) {
	return c.store.Balance(address)
}

// Unspent delegates to the store's UTXO listing.
func (c *Chain) Unspent(address hashutil.Hash) ([]model.UTXOEntry, error) {
	return c.store.Unspent(address)
}

// Payments delegates to the store's payment-history derivation.
func (c *Chain) Payments(publicKey []byte) ([]model.PaymentRecord, error) {
	return c.store.Payments(publicKey)
}

// Blocks delegates to the store's block listing/traversal.
func (c *Chain) Blocks(fromHash *hashutil.Hash) ([]model.Block, error) {
	return c.store.Blocks(fromHash)
}

// Mempool delegates to the store's mempool listing.
func (c *Chain) Mempool() ([]model.Transaction, error) {
	return c.store.Mempool()
}

// CreateBlock assembles and persists a block from already-mined
// fields, delegating the actual write to the store.
func (c *Chain) CreateBlock(nonce uint32, hash, previousHash hashutil.Hash, timestamp uint32, txs []model.Transaction) (model.Block, error) {
	block := model.Block{
		Timestamp:    timestamp,
		Transactions: txs,
		Nonce:        nonce,
		Hash:         hash,
		PreviousHash: previousHash,
	}
	if err := c.store.AddBlock(block); err != nil {
		return model.Block{}, err
	}
	return block, nil
}

// AddTransaction delegates to the store's mempool insertion.
func (c *Chain) AddTransaction(tx model.Transaction) error {
	return c.store.AddTransaction(tx)
}

// AddBlock persists an already-assembled block (received from a peer,
// rather than mined locally), delegating to the store.
func (c *Chain) AddBlock(block model.Block) error {
	return c.store.AddBlock(block)
}

// FindUTXO delegates to the store's single-outpoint lookup.
func (c *Chain) FindUTXO(outpointHash hashutil.Hash, outpointIdx uint32) (model.UTXOEntry, bool, error) {
	return c.store.FindUTXO(outpointHash, outpointIdx)
}
