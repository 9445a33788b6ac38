// Package pow implements proof-of-work: a nonce search against a
// leading-zero-hex-prefix target (§4.5), generalizing the teacher's
// core/pow.go bit-target search to the spec's hex-prefix scheme.
package pow

import (
	"math"
	"strings"

	"utxochain/hashutil"
	"utxochain/model"
)

// DefaultDifficulty mirrors config.DefaultDifficulty so this package
// has no import cycle back to config.
const DefaultDifficulty = 3

// Satisfies reports whether hash's lowercase hex begins with
// difficulty zero characters.
func Satisfies(hash hashutil.Hash, difficulty uint32) bool {
	hex := hash.String()
	if int(difficulty) > len(hex) {
		return false
	}
	return strings.Count(hex[:difficulty], "0") == int(difficulty)
}

// ErrExhausted is returned by Work if every nonce up to math.MaxUint32
// was tried without finding a satisfying hash. In practice this never
// happens at any difficulty this package is used at.
var ErrExhausted = exhaustedError{}

type exhaustedError struct{}

func (exhaustedError) Error() string { return "pow: nonce space exhausted" }

// Work searches for a nonce such that
// SHA256(prevHash || timestamp_le || nonce_le || Σserialize(tx))
// satisfies the difficulty prefix. Transaction ordering is exactly the
// caller-supplied order (coinbase last) — it is part of the hash
// pre-image and must not be reordered here.
func Work(prevHash hashutil.Hash, timestamp uint32, txs []model.Transaction, difficulty uint32) (hashutil.Hash, uint32, error) {
	var nonce uint32
	for {
		candidate := hashutil.Sum256(model.Preimage(prevHash, timestamp, nonce, txs))
		if Satisfies(candidate, difficulty) {
			return candidate, nonce, nil
		}
		if nonce == math.MaxUint32 {
			return hashutil.Hash{}, 0, ErrExhausted
		}
		nonce++
	}
}

// Validate re-derives the candidate hash from block fields and
// previousHash and checks it both matches block.Hash and satisfies the
// difficulty prefix.
func Validate(block model.Block, previousHash hashutil.Hash, difficulty uint32) bool {
	candidate := hashutil.Sum256(model.Preimage(previousHash, block.Timestamp, block.Nonce, block.Transactions))
	return candidate == block.Hash && Satisfies(candidate, difficulty)
}
