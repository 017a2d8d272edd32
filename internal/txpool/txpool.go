// Package txpool holds transactions this node has heard about but that
// have not yet been included in a finalized block.
package txpool

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/cs3235/nakamoto-node/internal/chain"
)

// MaxTxPool is the maximum number of transactions the pool will hold
// at once. AddTx rejects new transactions once the pool is full.
const MaxTxPool = 10000

// TxPool is the set of pending transactions this node is willing to
// gossip and to include in blocks it mines. Transactions are kept in
// insertion order, since puzzle assembly and Merkle root reproduction
// require FilterTx to return a deterministic, stable ordering.
//
// Callers that hold both a TxPool lock and a chain.BlockTree lock must
// acquire the TxPool lock first, to keep a single global lock order.
type TxPool struct {
	mu sync.RWMutex

	order []chain.TxId
	txs   map[chain.TxId]chain.Transaction

	// removedTxIds records every TxId that has ever left the pool
	// (via DelTx or finalization), so a later AddTx for the same id
	// is rejected rather than silently re-admitting a transaction the
	// node has already decided is done with.
	removedTxIds map[chain.TxId]struct{}

	lastFinalizedBlockId chain.BlockId
}

// New creates an empty TxPool.
func New() *TxPool {
	return &TxPool{
		txs:          map[chain.TxId]chain.Transaction{},
		removedTxIds: map[chain.TxId]struct{}{},
	}
}

// AddTx validates and inserts tx into the pool. It rejects
// transactions that are malformed, carry an invalid signature, are
// already present, were previously removed, or would exceed
// MaxTxPool.
func (p *TxPool) AddTx(tx chain.Transaction) error {
	if _, err := tx.Amount(); err != nil {
		return errors.Wrap(err, "txpool: rejecting malformed transaction")
	}
	if !tx.VerifySig() {
		return errors.New("txpool: rejecting transaction with invalid signature")
	}

	id := tx.GenHash()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.txs[id]; exists {
		return errors.Errorf("txpool: rejecting transaction %s already in the pool", id)
	}
	if _, removed := p.removedTxIds[id]; removed {
		return errors.Errorf("txpool: rejecting transaction %s already removed from the pool", id)
	}
	if len(p.txs) >= MaxTxPool {
		return errors.Errorf("txpool: pool is full (%d transactions)", MaxTxPool)
	}
	p.order = append(p.order, id)
	p.txs[id] = tx
	return nil
}

// DelTx removes the transaction with the given id, if present, and
// unconditionally records it in removedTxIds so a later re-add of the
// same id is rejected, even if the id was never present to begin
// with.
func (p *TxPool) DelTx(id chain.TxId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(id)
}

// removeLocked deletes id from the ordered list and map and marks it
// removed. Callers must hold p.mu.
func (p *TxPool) removeLocked(id chain.TxId) {
	if _, exists := p.txs[id]; exists {
		delete(p.txs, id)
		for i, candidate := range p.order {
			if candidate == id {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	p.removedTxIds[id] = struct{}{}
}

// FilterTx returns up to max transactions, in insertion order, whose
// TxId does not appear in excluding. max <= 0 means no limit. The
// pool itself is left unmodified.
func (p *TxPool) FilterTx(max int, excluding map[chain.TxId]struct{}) []chain.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var kept []chain.Transaction
	for _, id := range p.order {
		if _, skip := excluding[id]; skip {
			continue
		}
		kept = append(kept, p.txs[id])
		if max > 0 && len(kept) >= max {
			break
		}
	}
	return kept
}

// RemoveTxsFromFinalizedBlocks deletes every transaction in blocks
// from the pool, since they have now been irreversibly applied and no
// longer need to be gossiped or mined, and advances
// lastFinalizedBlockId to the last block's id.
func (p *TxPool) RemoveTxsFromFinalizedBlocks(blocks []chain.BlockNode) {
	if len(blocks) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, block := range blocks {
		for _, tx := range block.TransactionsBlock.Transactions {
			p.removeLocked(tx.GenHash())
		}
	}
	p.lastFinalizedBlockId = blocks[len(blocks)-1].Header.BlockId
}

// Status summarizes a TxPool for diagnostics and IPC responses.
type Status struct {
	NumTxs               int           `json:"num_txs"`
	LastFinalizedBlockId chain.BlockId `json:"last_finalized_block_id"`
}

// GetStatus returns a snapshot of the pool's current size.
func (p *TxPool) GetStatus() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{
		NumTxs:               len(p.txs),
		LastFinalizedBlockId: p.lastFinalizedBlockId,
	}
}

// AllTxs returns every transaction currently in the pool, in
// insertion order.
func (p *TxPool) AllTxs() []chain.Transaction {
	return p.FilterTx(0, nil)
}
