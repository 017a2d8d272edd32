package engine

import "github.com/cs3235/nakamoto-node/internal/p2p"

// Config is a node's complete bootstrap configuration, loaded from a
// JSON file at startup.
type Config struct {
	// P2PAddress is the address this node listens on for peer
	// connections.
	P2PAddress p2p.NetAddress `json:"p2p_address"`
	// Neighbors is the fixed set of peers this node gossips with.
	Neighbors []p2p.NetAddress `json:"neighbors"`

	// MiningReceiver is credited the block reward for every block
	// this node successfully mines.
	MiningReceiver string `json:"mining_receiver"`
	// NumMiningThreads is the number of worker goroutines the miner
	// uses to search for a proof-of-work solution.
	NumMiningThreads int `json:"num_mining_threads"`
	// NonceLen is the exact length, in characters, of the random
	// nonces the miner searches over.
	NonceLen int `json:"nonce_len"`
	// DifficultyLeadingZeroLen is the number of leading hex zeros this
	// node's own miner targets when producing a block.
	DifficultyLeadingZeroLen int `json:"difficulty_leading_zero_len"`
	// DifficultyLeadingZeroLenAcc is the number of leading hex zeros a
	// block id must have to be admitted to this node's BlockTree. It
	// is typically less than or equal to DifficultyLeadingZeroLen, so
	// this node accepts blocks a differently-configured neighbor
	// mined at an easier target.
	DifficultyLeadingZeroLenAcc int `json:"difficulty_leading_zero_len_acc"`
	// MinerThread0Seed seeds the miner's worker 0 for each mining
	// attempt; later attempts and additional worker threads derive
	// their own seeds from it, keeping a restarted node's search
	// reproducible from its configuration alone.
	MinerThread0Seed int64 `json:"miner_thread_0_seed"`
	// MaxTxInOneBlock bounds how many pending transactions a single
	// block can carry, keeping puzzle assembly and gossip payloads
	// bounded.
	MaxTxInOneBlock int `json:"max_tx_in_one_block"`

	// LogFile is the path the rotating log file is written to.
	LogFile string `json:"log_file"`
	// DebugLevel configures per-subsystem log verbosity, in the same
	// format accepted by logging.ParseAndSetDebugLevels.
	DebugLevel string `json:"debug_level"`
}
