package btcspv

import (
	"fmt"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
)

// MaxMerkleProofDepth bounds merkle-proof depth (spec.md §4.1: "Reject if
// proof depth > 30").
const MaxMerkleProofDepth = 30

// VerifyMerkleProof verifies that txid is included under merkleRoot via
// siblings, walking the stack combine `left/right = (index & 1) ?
// (sibling||cur) : (cur||sibling)`, double-SHA256, index >>= 1 each step
// (spec.md §4.1). To tolerate operator-side byte-order confusion the proof
// is attempted three ways in sequence — original, fully reversed (txid and
// every sibling byte-reversed), and "txid correct, siblings reversed" — and
// succeeds if any one matches (spec.md §4.1, R5).
func VerifyMerkleProof(txid chainhash.Hash, merkleRoot chainhash.Hash, siblings []chainhash.Hash, txIndex uint32) (bool, error) {
	depth := len(siblings)
	if depth > MaxMerkleProofDepth {
		return false, fmt.Errorf("merkle proof depth %d exceeds max %d", depth, MaxMerkleProofDepth)
	}
	if uint64(txIndex) >= uint64(1)<<uint(depth) {
		return false, fmt.Errorf("tx_index %d out of range for depth %d", txIndex, depth)
	}

	// Attempt 1: original.
	if walkMerkle(txid, siblings, txIndex) == merkleRoot {
		return true, nil
	}

	// Attempt 2: fully reversed (txid and all siblings byte-reversed).
	revTxid := reverseHash(txid)
	revSiblings := make([]chainhash.Hash, len(siblings))
	for i, s := range siblings {
		revSiblings[i] = reverseHash(s)
	}
	if walkMerkle(revTxid, revSiblings, txIndex) == merkleRoot {
		return true, nil
	}

	// Attempt 3: txid correct, siblings reversed.
	if walkMerkle(txid, revSiblings, txIndex) == merkleRoot {
		return true, nil
	}

	return false, nil
}

func walkMerkle(cur chainhash.Hash, siblings []chainhash.Hash, index uint32) chainhash.Hash {
	for _, sib := range siblings {
		if index&1 == 1 {
			cur = chainhash.HashMerkleBranches(&sib, &cur)
		} else {
			cur = chainhash.HashMerkleBranches(&cur, &sib)
		}
		index >>= 1
	}
	return cur
}

func reverseHash(h chainhash.Hash) chainhash.Hash {
	var out chainhash.Hash
	for i := 0; i < chainhash.HashSize; i++ {
		out[i] = h[chainhash.HashSize-1-i]
	}
	return out
}
