package chain

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

// CreateMerkleTree builds a MerkleTree from a non-empty list of
// transactions and returns its root alongside the tree.
//
// Level 0 is the list of per-transaction hashes. Each subsequent level
// is built by: if the previous level has an odd count, the duplicate
// of its *last* hash is pushed to the *front* of the new level first;
// pairwise combination of the previous level then proceeds from index
// 0, hashing the hex concatenation of each adjacent pair. This mirrors
// the reference implementation's odd-count handling exactly (it is not
// the classical Bitcoin duplicate-last-and-append rule) and must be
// preserved for block validity to match across nodes.
func CreateMerkleTree(txs []Transaction) (string, MerkleTree, error) {
	if len(txs) == 0 {
		return "", MerkleTree{}, errors.New("create_merkle_tree received empty transaction list")
	}

	leaves := make([]string, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.GenHash()
	}
	levels := [][]string{leaves}

	for len(levels[len(levels)-1]) > 1 {
		last := levels[len(levels)-1]
		var level []string
		if len(last)%2 != 0 {
			level = append(level, last[len(last)-1])
		}
		for i := 0; i+1 < len(last); i += 2 {
			h := sha256.Sum256([]byte(last[i] + last[i+1]))
			level = append(level, hex.EncodeToString(h[:]))
		}
		levels = append(levels, level)
	}

	tree := MerkleTree{Hashes: levels}
	return tree.Root(), tree, nil
}
