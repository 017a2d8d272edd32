// Command nakamotonode runs a single Nakamoto-consensus node: it loads
// its configuration and any bootstrap chain state from the files
// named on the command line, then serves IPC requests over stdin and
// stdout while mining and gossiping in the background.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cs3235/nakamoto-node/internal/chain"
	"github.com/cs3235/nakamoto-node/internal/engine"
	"github.com/cs3235/nakamoto-node/internal/logging"
	"github.com/cs3235/nakamoto-node/internal/panics"
	"github.com/cs3235/nakamoto-node/internal/txpool"
)

var log, _ = logging.Get(logging.SubsystemTags.ENGN)
var spawn = panics.GoroutineWrapperFunc(log, logging.CloseFunc())

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: nakamotonode <config.json> [block_tree.json] [tx_pool.json]")
		os.Exit(1)
	}

	cfg := loadConfig(os.Args[1])

	if cfg.LogFile != "" {
		logging.InitLogRotator(cfg.LogFile)
	}
	if cfg.DebugLevel != "" {
		if err := logging.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
			fmt.Fprintf(os.Stderr, "invalid debug level: %s\n", err)
			os.Exit(1)
		}
	}

	var tree *chain.BlockTree
	if len(os.Args) >= 3 {
		tree = loadBlockTree(os.Args[2], cfg.DifficultyLeadingZeroLenAcc)
	}
	var pool *txpool.TxPool
	if len(os.Args) >= 4 {
		pool = loadTxPool(os.Args[3])
	}

	e := engine.New(cfg, tree, pool, log, spawn)

	spawn(e.Run)

	if err := e.ServeIPC(os.Stdin, os.Stdout); err != nil {
		log.Errorf("ipc server exited: %s", err)
		panics.Exit(log, logging.CloseFunc(), err.Error())
	}
}

func loadConfig(path string) engine.Config {
	var cfg engine.Config
	readJSONFile(path, &cfg)
	return cfg
}

// loadBlockTree restores a BlockTree from a bootstrap snapshot of its
// admitted blocks, re-admitting each one in the file's order so that
// every derived index (depth, working tip, finalized state) is
// rebuilt exactly as if the blocks had arrived over the network.
func loadBlockTree(path string, difficulty int) *chain.BlockTree {
	var blocks []chain.BlockNode
	readJSONFile(path, &blocks)

	tree := chain.NewBlockTree(difficulty)
	for _, block := range blocks {
		if block.Header.BlockId == chain.GenesisBlockId {
			continue
		}
		if err := tree.AddBlock(block); err != nil {
			fmt.Fprintf(os.Stderr, "bootstrap block %s rejected: %s\n", block.Header.BlockId, err)
			os.Exit(1)
		}
	}
	return tree
}

func loadTxPool(path string) *txpool.TxPool {
	var txs []chain.Transaction
	readJSONFile(path, &txs)

	pool := txpool.New()
	for _, tx := range txs {
		if err := pool.AddTx(tx); err != nil {
			fmt.Fprintf(os.Stderr, "bootstrap transaction rejected: %s\n", err)
			os.Exit(1)
		}
	}
	return pool
}

func readJSONFile(path string, out interface{}) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %s\n", path, err)
		os.Exit(1)
	}
	if err := json.Unmarshal(data, out); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse %s: %s\n", path, err)
		os.Exit(1)
	}
}
