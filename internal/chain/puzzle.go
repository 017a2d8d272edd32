package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// ComputeBlockId returns the block id produced by combining nonce with
// this puzzle: the lowercase-hex SHA-256 digest of nonce concatenated
// with the puzzle's canonical JSON encoding.
func (p Puzzle) ComputeBlockId(nonce string) BlockId {
	b, err := json.Marshal(p)
	if err != nil {
		// Puzzle only contains strings; marshaling cannot fail.
		panic(err)
	}
	h := sha256.Sum256(append([]byte(nonce), b...))
	return hex.EncodeToString(h[:])
}

// HasRequiredDifficulty reports whether blockId has at least
// difficulty leading hex zero characters, the proof-of-work condition
// a nonce must satisfy to seal a block.
func HasRequiredDifficulty(blockId BlockId, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > len(blockId) {
		return false
	}
	return strings.Count(blockId[:difficulty], "0") == difficulty
}
