package chain

import (
	"sync"

	"github.com/pkg/errors"
)

// FinalityDepth is the number of confirmations a block needs, counted
// from the current longest-chain tip, before it and its transactions
// are considered irreversible.
const FinalityDepth = 6

// BlockReward is the amount credited to a block's reward_receiver when
// that block is finalized.
const BlockReward = 10

// BlockTree is the in-memory DAG of every block this node has
// admitted, rooted at the fixed genesis block. It tracks the longest
// chain's tip, the derived per-account balances of the finalized
// prefix of that chain, and blocks still waiting on a missing parent.
//
// All exported methods are safe for concurrent use; callers that also
// hold a TxPool lock must acquire it before calling into BlockTree, to
// keep a single global lock order.
type BlockTree struct {
	mu sync.RWMutex

	difficulty int

	allBlocks   map[BlockId]BlockNode
	childrenMap map[BlockId][]BlockId
	blockDepth  map[BlockId]int
	rootId      BlockId

	workingBlockId BlockId

	// orphans holds blocks keyed by the parent id they are waiting on.
	orphans map[BlockId][]BlockNode
	// orphanIds tracks every block_id currently sitting in orphans, so
	// a block already queued there is rejected (R1) rather than
	// queued a second time, which would otherwise double-admit it the
	// next time its parent arrives.
	orphanIds map[BlockId]struct{}

	finalizedBlockId    BlockId
	finalizedBalanceMap map[UserId]uint64
	finalizedTxIds      map[TxId]struct{}
}

// NewBlockTree creates a BlockTree seeded with the genesis block as
// its sole member, and difficulty as the proof-of-work requirement new
// blocks must satisfy to be admitted.
func NewBlockTree(difficulty int) *BlockTree {
	genesis := NewGenesisBlock()
	t := &BlockTree{
		difficulty:          difficulty,
		allBlocks:           map[BlockId]BlockNode{GenesisBlockId: genesis},
		childrenMap:         map[BlockId][]BlockId{},
		blockDepth:          map[BlockId]int{GenesisBlockId: 0},
		rootId:              GenesisBlockId,
		workingBlockId:      GenesisBlockId,
		orphans:             map[BlockId][]BlockNode{},
		orphanIds:           map[BlockId]struct{}{},
		finalizedBlockId:    GenesisBlockId,
		finalizedBalanceMap: map[UserId]uint64{},
		finalizedTxIds:      map[TxId]struct{}{},
	}
	t.applyBlockTxs(genesis)
	return t
}

// AddBlock validates and admits a single block. If the block's parent
// is not yet known, the block is stashed as an orphan and promoted
// automatically once its parent arrives. AddBlock returns an error
// only when block itself is invalid; a block stashed as an orphan is
// not an error.
func (t *BlockTree) AddBlock(block BlockNode) error {
	if err := t.validateBlock(block); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkNotDuplicate(block.Header.BlockId); err != nil {
		return err
	}

	if _, haveParent := t.allBlocks[block.Header.Parent]; !haveParent {
		t.orphans[block.Header.Parent] = append(t.orphans[block.Header.Parent], block)
		t.orphanIds[block.Header.BlockId] = struct{}{}
		return nil
	}

	if err := t.checkNoDuplicateAncestorTx(block); err != nil {
		return err
	}
	if err := t.checkNoNegativeBalance(block); err != nil {
		return err
	}

	t.admit(block)
	t.promoteOrphans(block.Header.BlockId)
	t.advanceFinality()
	return nil
}

// checkNotDuplicate rejects a block_id already admitted or already
// sitting in the orphan pool (R1).
func (t *BlockTree) checkNotDuplicate(id BlockId) error {
	if _, exists := t.allBlocks[id]; exists {
		return errors.Errorf("block %s: already admitted", id)
	}
	if _, exists := t.orphanIds[id]; exists {
		return errors.Errorf("block %s: already pending in the orphan pool", id)
	}
	return nil
}

// admit inserts an already-validated, parent-known block into the
// tree's indices and updates the working tip if the new block extends
// a chain at least as long, breaking ties in favor of the
// lexicographically greater block id.
func (t *BlockTree) admit(block BlockNode) {
	id := block.Header.BlockId
	depth := t.blockDepth[block.Header.Parent] + 1

	t.allBlocks[id] = block
	t.blockDepth[id] = depth
	t.childrenMap[block.Header.Parent] = append(t.childrenMap[block.Header.Parent], id)
	delete(t.orphanIds, id)

	workingDepth := t.blockDepth[t.workingBlockId]
	switch {
	case depth > workingDepth:
		t.workingBlockId = id
	case depth == workingDepth && id > t.workingBlockId:
		t.workingBlockId = id
	}
}

// promoteOrphans admits, breadth-first and without recursion, every
// orphan whose missing parent is now rootID or a descendant of it.
// Each orphan re-runs the checks that depend on tree state (R4, R5),
// since those could not be evaluated while its parent was still
// missing; an orphan that now fails one is dropped rather than
// admitted, and its own descendants remain orphaned indefinitely.
func (t *BlockTree) promoteOrphans(rootID BlockId) {
	worklist := []BlockId{rootID}
	for len(worklist) > 0 {
		id := worklist[0]
		worklist = worklist[1:]

		waiting := t.orphans[id]
		if len(waiting) == 0 {
			continue
		}
		delete(t.orphans, id)

		for _, orphan := range waiting {
			delete(t.orphanIds, orphan.Header.BlockId)
			if err := t.checkNoDuplicateAncestorTx(orphan); err != nil {
				continue
			}
			if err := t.checkNoNegativeBalance(orphan); err != nil {
				continue
			}
			t.admit(orphan)
			worklist = append(worklist, orphan.Header.BlockId)
		}
	}
}

// advanceFinality walks the finalized tip forward along the current
// longest chain until it sits FinalityDepth behind the working tip,
// applying each newly finalized block's transactions and reward as it
// goes.
func (t *BlockTree) advanceFinality() {
	targetDepth := t.blockDepth[t.workingBlockId] - FinalityDepth
	for t.blockDepth[t.finalizedBlockId] < targetDepth {
		next, ok := t.ancestorOnChain(t.workingBlockId, t.blockDepth[t.finalizedBlockId]+1)
		if !ok {
			break
		}
		t.applyBlockTxs(t.allBlocks[next])
		t.finalizedBlockId = next
	}
}

// ancestorOnChain returns the id of the ancestor of tip at depth, by
// walking parent pointers back from tip.
func (t *BlockTree) ancestorOnChain(tip BlockId, depth int) (BlockId, bool) {
	id := tip
	for t.blockDepth[id] > depth {
		block, ok := t.allBlocks[id]
		if !ok {
			return "", false
		}
		id = block.Header.Parent
	}
	if t.blockDepth[id] != depth {
		return "", false
	}
	return id, true
}

// applyTx applies tx's transfer to balances and reports whether the
// sender could afford it. The genesis transaction mints rather than
// transfers, so it always succeeds. A failed Amount parse is treated
// as unaffordable; validateBlock already rejects malformed messages
// before a transaction ever reaches this point.
func applyTx(balances map[UserId]uint64, tx Transaction) bool {
	amount, err := tx.Amount()
	if err != nil {
		return false
	}
	if tx.Sender == genesisSender {
		balances[tx.Receiver] += amount
		return true
	}
	if balances[tx.Sender] < amount {
		return false
	}
	balances[tx.Sender] -= amount
	balances[tx.Receiver] += amount
	return true
}

// applyBlockTxs credits/debits the finalized balance map for every
// transaction in block that has not already been finalized, then
// credits the block reward to its reward_receiver. R5 is enforced at
// admission time (checkNoNegativeBalance), so no transaction reaching
// this point should be unaffordable; applyTx's bool result is only
// consulted defensively and never reverses an earlier finalized
// transfer.
func (t *BlockTree) applyBlockTxs(block BlockNode) {
	for _, tx := range block.TransactionsBlock.Transactions {
		id := tx.GenHash()
		if _, done := t.finalizedTxIds[id]; done {
			continue
		}
		t.finalizedTxIds[id] = struct{}{}
		applyTx(t.finalizedBalanceMap, tx)
	}
	if block.Header.BlockId != GenesisBlockId {
		t.finalizedBalanceMap[block.Header.RewardReceiver] += BlockReward
	}
}

// ancestorChain returns every block from genesis (inclusive) down to
// id (inclusive), oldest to newest, by walking parent pointers back
// from id. Unlike ancestorOnChain this does not assume id descends
// from the current finalized tip — it walks to genesis regardless of
// which fork id sits on, so it stays correct (and terminates) for
// blocks on an abandoned side-branch.
func (t *BlockTree) ancestorChain(id BlockId) []BlockNode {
	var path []BlockNode
	cur := id
	for {
		block, ok := t.allBlocks[cur]
		if !ok {
			break
		}
		path = append(path, block)
		if block.Header.BlockId == GenesisBlockId {
			break
		}
		cur = block.Header.Parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// balancesAtBlock replays every transaction and reward from genesis
// through id (inclusive), yielding the balance vector R5 checks a
// candidate child of id against. This mirrors spec's literal
// definition of R5 (replay from genesis to b.parent) rather than
// shortcutting through finalizedBalanceMap, which only reflects the
// canonical chain and would misrepresent a block being admitted onto
// an abandoned fork.
func (t *BlockTree) balancesAtBlock(id BlockId) map[UserId]uint64 {
	balances := map[UserId]uint64{}
	for _, block := range t.ancestorChain(id) {
		for _, tx := range block.TransactionsBlock.Transactions {
			applyTx(balances, tx)
		}
		if block.Header.BlockId != GenesisBlockId {
			balances[block.Header.RewardReceiver] += BlockReward
		}
	}
	return balances
}

// checkNoNegativeBalance enforces R5: replaying block's own
// transactions, in order, against the balance vector obtained by
// replaying from genesis to block.Header.Parent must not drive any
// sender's balance negative. A single unaffordable transfer rejects
// the whole block, rather than being skipped in isolation.
func (t *BlockTree) checkNoNegativeBalance(block BlockNode) error {
	balances := t.balancesAtBlock(block.Header.Parent)
	for _, tx := range block.TransactionsBlock.Transactions {
		if !applyTx(balances, tx) {
			return errors.Errorf("block %s: transaction %s would drive sender %s balance negative",
				block.Header.BlockId, tx.GenHash(), tx.Sender)
		}
	}
	return nil
}

// checkNoDuplicateAncestorTx enforces R4: no transaction in block may
// share a TxId with a transaction already carried by an ancestor of
// block, walking parent links back to genesis.
func (t *BlockTree) checkNoDuplicateAncestorTx(block BlockNode) error {
	seen := map[TxId]struct{}{}
	for _, ancestor := range t.ancestorChain(block.Header.Parent) {
		for _, tx := range ancestor.TransactionsBlock.Transactions {
			seen[tx.GenHash()] = struct{}{}
		}
	}
	for _, tx := range block.TransactionsBlock.Transactions {
		if _, dup := seen[tx.GenHash()]; dup {
			return errors.Errorf("block %s: transaction %s already appears in an ancestor block",
				block.Header.BlockId, tx.GenHash())
		}
	}
	return nil
}

// validateBlock checks everything about block that does not depend on
// BlockTree state: its proof-of-work, its Merkle root, and every
// transaction's signature and message format.
func (t *BlockTree) validateBlock(block BlockNode) error {
	computed := Puzzle{
		Parent:         block.Header.Parent,
		MerkleRoot:     block.Header.MerkleRoot,
		RewardReceiver: block.Header.RewardReceiver,
	}.ComputeBlockId(block.Header.Nonce)
	if computed != block.Header.BlockId {
		return errors.Errorf("block %s: id does not match nonce and puzzle", block.Header.BlockId)
	}
	if !HasRequiredDifficulty(block.Header.BlockId, t.difficulty) {
		return errors.Errorf("block %s: does not satisfy required difficulty", block.Header.BlockId)
	}

	// A block with no transactions (common when the pool is empty) has
	// no Merkle tree to compute; it is valid only with an empty root.
	root := ""
	if len(block.TransactionsBlock.Transactions) > 0 {
		var err error
		root, _, err = CreateMerkleTree(block.TransactionsBlock.Transactions)
		if err != nil {
			return errors.Wrapf(err, "block %s: invalid transaction list", block.Header.BlockId)
		}
	}
	if root != block.Header.MerkleRoot {
		return errors.Errorf("block %s: merkle root mismatch", block.Header.BlockId)
	}

	seen := map[TxId]struct{}{}
	for _, tx := range block.TransactionsBlock.Transactions {
		if !tx.VerifySig() {
			return errors.Errorf("block %s: transaction with invalid signature", block.Header.BlockId)
		}
		if _, err := tx.Amount(); err != nil {
			return errors.Wrapf(err, "block %s: malformed transaction message", block.Header.BlockId)
		}
		id := tx.GenHash()
		if _, dup := seen[id]; dup {
			return errors.Errorf("block %s: duplicate transaction %s", block.Header.BlockId, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// GetBlock returns the block with the given id, if it has been
// admitted to the tree.
func (t *BlockTree) GetBlock(id BlockId) (BlockNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	block, ok := t.allBlocks[id]
	return block, ok
}

// WorkingBlockId returns the tip of the current longest chain.
func (t *BlockTree) WorkingBlockId() BlockId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.workingBlockId
}

// FinalizedBlockId returns the current finalized chain tip.
func (t *BlockTree) FinalizedBlockId() BlockId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finalizedBlockId
}

// FinalizedBalance returns userID's finalized balance.
func (t *BlockTree) FinalizedBalance(userID UserId) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finalizedBalanceMap[userID]
}

// GetFinalizedBlocksSince returns every finalized block strictly
// after sinceBlockId, oldest first, up to and including the current
// finalized tip. sinceBlockId must be an ancestor of the finalized
// tip (or the finalized tip itself, which yields an empty slice); any
// other value is an error.
func (t *BlockTree) GetFinalizedBlocksSince(sinceBlockId BlockId) ([]BlockNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sinceDepth, ok := t.blockDepth[sinceBlockId]
	if !ok {
		return nil, errors.Errorf("block %s is unknown", sinceBlockId)
	}
	tipDepth := t.blockDepth[t.finalizedBlockId]
	if sinceDepth > tipDepth {
		return nil, errors.Errorf("block %s is ahead of the finalized tip", sinceBlockId)
	}
	ancestor, ok := t.ancestorOnChain(t.finalizedBlockId, sinceDepth)
	if !ok || ancestor != sinceBlockId {
		return nil, errors.Errorf("block %s is not an ancestor of the finalized tip", sinceBlockId)
	}

	blocks := make([]BlockNode, 0, tipDepth-sinceDepth)
	id := t.finalizedBlockId
	for t.blockDepth[id] > sinceDepth {
		block := t.allBlocks[id]
		blocks = append(blocks, block)
		id = block.Header.Parent
	}
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return blocks, nil
}

// GetPendingFinalizationTxs returns, in block order from oldest to
// newest, every transaction carried by a block between the finalized
// tip (exclusive) and the working tip (inclusive) that has not yet
// been finalized.
func (t *BlockTree) GetPendingFinalizationTxs() []Transaction {
	t.mu.RLock()
	defer t.mu.RUnlock()

	finalizedDepth := t.blockDepth[t.finalizedBlockId]
	var path []BlockNode
	id := t.workingBlockId
	for t.blockDepth[id] > finalizedDepth {
		block := t.allBlocks[id]
		path = append(path, block)
		id = block.Header.Parent
	}

	var pending []Transaction
	for i := len(path) - 1; i >= 0; i-- {
		for _, tx := range path[i].TransactionsBlock.Transactions {
			if _, done := t.finalizedTxIds[tx.GenHash()]; !done {
				pending = append(pending, tx)
			}
		}
	}
	return pending
}

// Status summarizes a BlockTree for diagnostics and IPC responses.
type Status struct {
	NumBlocks        int            `json:"num_blocks"`
	NumOrphans       int            `json:"num_orphans"`
	WorkingBlockId   BlockId        `json:"working_block_id"`
	WorkingDepth     int            `json:"working_depth"`
	FinalizedBlockId BlockId        `json:"finalized_block_id"`
	FinalizedBalance map[UserId]uint64 `json:"finalized_balance_map"`
}

// GetStatus returns a snapshot of the tree's current state.
func (t *BlockTree) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	orphanCount := 0
	for _, waiting := range t.orphans {
		orphanCount += len(waiting)
	}
	balances := make(map[UserId]uint64, len(t.finalizedBalanceMap))
	for k, v := range t.finalizedBalanceMap {
		balances[k] = v
	}
	return Status{
		NumBlocks:        len(t.allBlocks),
		NumOrphans:       orphanCount,
		WorkingBlockId:   t.workingBlockId,
		WorkingDepth:     t.blockDepth[t.workingBlockId],
		FinalizedBlockId: t.finalizedBlockId,
		FinalizedBalance: balances,
	}
}
