package pow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utxochain/hashutil"
	"utxochain/model"
)

func TestSatisfiesPrefixCounting(t *testing.T) {
	raw := make([]byte, hashutil.Size)
	raw[0] = 0x00
	raw[1] = 0x0f
	h, ok := hashutil.HashFromBytes(raw)
	require.True(t, ok)
	assert.True(t, Satisfies(h, 3))
	assert.False(t, Satisfies(h, 4))
}

func TestSatisfiesZeroDifficultyAlwaysTrue(t *testing.T) {
	h := hashutil.Sum256([]byte("anything"))
	assert.True(t, Satisfies(h, 0))
}

func TestWorkFindsSatisfyingNonce(t *testing.T) {
	txs := []model.Transaction{model.NewCoinbase(hashutil.Sum256([]byte("miner")), 100)}
	hash, nonce, err := Work(hashutil.Hash{}, 1234, txs, 1)
	require.NoError(t, err)
	assert.True(t, Satisfies(hash, 1))

	recomputed := hashutil.Sum256(model.Preimage(hashutil.Hash{}, 1234, nonce, txs))
	assert.Equal(t, hash, recomputed)
}

func TestValidateAcceptsMinedBlock(t *testing.T) {
	prevHash := hashutil.Hash{}
	txs := []model.Transaction{model.NewCoinbase(hashutil.Sum256([]byte("miner")), 100)}
	hash, nonce, err := Work(prevHash, 1000, txs, 1)
	require.NoError(t, err)

	block := model.Block{
		Timestamp:    1000,
		Transactions: txs,
		Nonce:        nonce,
		Hash:         hash,
		PreviousHash: prevHash,
	}
	assert.True(t, Validate(block, prevHash, 1))
}

func TestValidateRejectsWrongDifficulty(t *testing.T) {
	prevHash := hashutil.Hash{}
	txs := []model.Transaction{model.NewCoinbase(hashutil.Sum256([]byte("miner")), 100)}
	hash, nonce, err := Work(prevHash, 1000, txs, 1)
	require.NoError(t, err)

	block := model.Block{
		Timestamp:    1000,
		Transactions: txs,
		Nonce:        nonce,
		Hash:         hash,
		PreviousHash: prevHash,
	}
	assert.False(t, Validate(block, prevHash, 5))
}

func TestValidateRejectsTamperedNonce(t *testing.T) {
	prevHash := hashutil.Hash{}
	txs := []model.Transaction{model.NewCoinbase(hashutil.Sum256([]byte("miner")), 100)}
	hash, nonce, err := Work(prevHash, 1000, txs, 1)
	require.NoError(t, err)

	block := model.Block{
		Timestamp:    1000,
		Transactions: txs,
		Nonce:        nonce + 1,
		Hash:         hash,
		PreviousHash: prevHash,
	}
	assert.False(t, Validate(block, prevHash, 1))
}
