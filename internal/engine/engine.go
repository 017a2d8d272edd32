// Package engine glues the chain, txpool, miner and p2p packages
// together into the node's single running loop: assemble a puzzle
// from pending transactions, mine it, admit and broadcast whatever
// wins the race (ours or a neighbor's), and repeat.
package engine

import (
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/davecgh/go-spew/spew"

	"github.com/cs3235/nakamoto-node/internal/chain"
	"github.com/cs3235/nakamoto-node/internal/miner"
	"github.com/cs3235/nakamoto-node/internal/p2p"
	"github.com/cs3235/nakamoto-node/internal/txpool"
)

// Engine owns a node's BlockTree, TxPool, Miner and P2PNetwork and
// runs the loop that keeps them converging with the rest of the
// network.
type Engine struct {
	config Config
	log    btclog.Logger
	spawn  func(func())

	tree *chain.BlockTree
	pool *txpool.TxPool
	mine *miner.Miner

	blockIn    <-chan chain.BlockNode
	blockOut   chan<- chain.BlockNode
	txIn       <-chan chain.Transaction
	txOut      chan<- chain.Transaction
	blockIdOut chan<- chain.BlockId
	net        *p2p.P2PNetwork

	// cancelMu guards cancelMining, the cancellation channel for
	// whichever SolvePuzzle call is currently in flight. ingress
	// closes it directly when the working tip moves out from under
	// the miner, rather than relaying through a separate signal
	// channel, so no per-iteration watcher goroutine is needed and no
	// restart signal can be stolen by a stale one.
	cancelMu     sync.Mutex
	cancelMining chan struct{}
}

// New wires a fresh Engine from config. tree and pool may be supplied
// pre-populated (e.g. restored from a bootstrap snapshot); both
// default to an empty state rooted at genesis if nil.
func New(config Config, tree *chain.BlockTree, pool *txpool.TxPool, log btclog.Logger, spawn func(func())) *Engine {
	if tree == nil {
		tree = chain.NewBlockTree(config.DifficultyLeadingZeroLenAcc)
	}
	if pool == nil {
		pool = txpool.New()
	}

	e := &Engine{
		config: config,
		log:    log,
		spawn:  spawn,
		tree:   tree,
		pool:   pool,
		mine:   miner.New(config.NumMiningThreads, config.NonceLen, config.DifficultyLeadingZeroLen),
	}

	blockIn, blockOut, txIn, txOut, blockIdOut, net := p2p.Create(config.P2PAddress, config.Neighbors, log, spawn)
	e.blockIn, e.blockOut, e.txIn, e.txOut, e.blockIdOut, e.net = blockIn, blockOut, txIn, txOut, blockIdOut, net

	return e
}

// Tree returns the engine's BlockTree, for read-only inspection by
// the IPC layer.
func (e *Engine) Tree() *chain.BlockTree { return e.tree }

// Pool returns the engine's TxPool, for read-only inspection and for
// injecting locally published transactions.
func (e *Engine) Pool() *txpool.TxPool { return e.pool }

// Miner returns the engine's Miner, for status reporting.
func (e *Engine) Miner() *miner.Miner { return e.mine }

// Network returns the engine's P2PNetwork, for status reporting.
func (e *Engine) Network() *p2p.P2PNetwork { return e.net }

// PublishTx injects a transaction as if it had been submitted by a
// local wallet: it is validated, added to the pool, and gossiped to
// every neighbor.
func (e *Engine) PublishTx(tx chain.Transaction) error {
	if err := e.pool.AddTx(tx); err != nil {
		return err
	}
	select {
	case e.txOut <- tx:
	default:
		e.log.Warnf("engine: tx broadcast queue full, dropping gossip of %s", tx.GenHash())
	}
	return nil
}

// CreatePuzzle assembles the puzzle the miner should currently be
// working on: parented on the working tip, carrying as many pending,
// not-yet-finalized transactions as fit in a block, and crediting the
// configured mining receiver.
func (e *Engine) CreatePuzzle() (chain.Puzzle, []chain.Transaction) {
	finalized := make(map[chain.TxId]struct{})
	for _, tx := range e.tree.GetPendingFinalizationTxs() {
		finalized[tx.GenHash()] = struct{}{}
	}

	candidates := e.pool.FilterTx(e.config.MaxTxInOneBlock, finalized)

	root := ""
	if len(candidates) > 0 {
		var err error
		root, _, err = chain.CreateMerkleTree(candidates)
		if err != nil {
			root = ""
			candidates = nil
		}
	}

	puzzle := chain.Puzzle{
		Parent:         e.tree.WorkingBlockId(),
		MerkleRoot:     root,
		RewardReceiver: e.config.MiningReceiver,
	}
	return puzzle, candidates
}

// Run starts the engine's ingress loop and then mines forever,
// restarting on a fresh puzzle whenever the working tip advances out
// from under it, whether because this node won the race or a
// neighbor's block arrived first.
func (e *Engine) Run() {
	e.spawn(e.ingress)

	for attempt := int64(0); ; attempt++ {
		seed := e.config.MinerThread0Seed + attempt
		puzzle, txs := e.CreatePuzzle()
		e.log.Tracef("puzzle assembled: %s", spew.Sdump(puzzle))
		cancel := e.startMiningAttempt()

		solution, ok := e.mine.SolvePuzzle(puzzle, seed, cancel)
		e.endMiningAttempt(cancel)
		if !ok {
			continue
		}

		block := e.sealBlock(puzzle, txs, solution)
		finalizedBefore := e.tree.FinalizedBlockId()
		if err := e.tree.AddBlock(block); err != nil {
			e.log.Warnf("engine: mined block rejected by own tree: %s", err)
			continue
		}
		e.log.Infof("engine: mined block %s at depth %d", block.Header.BlockId, e.tree.GetStatus().WorkingDepth)
		if finalized, err := e.tree.GetFinalizedBlocksSince(finalizedBefore); err == nil {
			e.pool.RemoveTxsFromFinalizedBlocks(finalized)
		}

		select {
		case e.blockOut <- block:
		default:
			e.log.Warnf("engine: block broadcast queue full, dropping gossip of %s", block.Header.BlockId)
		}
		select {
		case e.blockIdOut <- block.Header.BlockId:
		default:
		}
	}
}

// startMiningAttempt installs and returns a fresh cancellation
// channel for the SolvePuzzle call about to start.
func (e *Engine) startMiningAttempt() chan struct{} {
	cancel := make(chan struct{})
	e.cancelMu.Lock()
	e.cancelMining = cancel
	e.cancelMu.Unlock()
	return cancel
}

// endMiningAttempt clears the cancellation channel once its
// SolvePuzzle call has returned, but only if ingress has not already
// replaced it for a newer attempt.
func (e *Engine) endMiningAttempt(cancel chan struct{}) {
	e.cancelMu.Lock()
	if e.cancelMining == cancel {
		e.cancelMining = nil
	}
	e.cancelMu.Unlock()
}

// sealBlock builds the full block around a winning puzzle solution.
func (e *Engine) sealBlock(puzzle chain.Puzzle, txs []chain.Transaction, solution miner.PuzzleSolution) chain.BlockNode {
	_, tree, err := chain.CreateMerkleTree(txs)
	if err != nil {
		tree = chain.MerkleTree{}
	}
	return chain.BlockNode{
		Header: chain.BlockNodeHeader{
			Parent:         puzzle.Parent,
			MerkleRoot:     puzzle.MerkleRoot,
			Timestamp:      uint64(time.Now().Unix()),
			BlockId:        solution.BlockId,
			Nonce:          solution.Nonce,
			RewardReceiver: puzzle.RewardReceiver,
		},
		TransactionsBlock: chain.Transactions{MerkleTree: tree, Transactions: txs},
	}
}

// ingress admits blocks and transactions arriving from the network,
// canceling the in-flight mining attempt whenever admitting a block
// moves the working tip, so Run restarts against a fresh puzzle.
func (e *Engine) ingress() {
	for {
		select {
		case block := <-e.blockIn:
			before := e.tree.WorkingBlockId()
			finalizedBefore := e.tree.FinalizedBlockId()
			if err := e.tree.AddBlock(block); err != nil {
				e.log.Debugf("engine: rejected block %s from network: %s", block.Header.BlockId, err)
				continue
			}
			if finalized, err := e.tree.GetFinalizedBlocksSince(finalizedBefore); err == nil {
				e.pool.RemoveTxsFromFinalizedBlocks(finalized)
			}
			if e.tree.WorkingBlockId() != before {
				e.cancelCurrentMiningAttempt()
			}
		case tx := <-e.txIn:
			if err := e.pool.AddTx(tx); err != nil {
				e.log.Debugf("engine: rejected tx %s from network: %s", tx.GenHash(), err)
			}
		}
	}
}

// cancelCurrentMiningAttempt closes whichever cancellation channel
// the currently-running SolvePuzzle call is watching, if any.
func (e *Engine) cancelCurrentMiningAttempt() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancelMining != nil {
		close(e.cancelMining)
		e.cancelMining = nil
	}
}
