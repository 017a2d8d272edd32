// Package miner implements proof-of-work puzzle solving: searching for
// a nonce whose SHA-256 digest over a chain.Puzzle meets a required
// difficulty, using one worker goroutine per thread.
package miner

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/cs3235/nakamoto-node/internal/chain"
)

const nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// defaultNonceLength is used when a Miner is configured with a
// non-positive nonceLen, which would otherwise produce the same empty
// nonce on every attempt.
const defaultNonceLength = 32

// PuzzleSolution is a nonce that solves a chain.Puzzle, together with
// the block id it produces.
type PuzzleSolution struct {
	Nonce   string
	BlockId chain.BlockId
}

// Miner searches for proof-of-work solutions using a fixed number of
// worker goroutines, each seeded independently so that repeated runs
// against the same puzzle explore different nonces.
type Miner struct {
	numThreads  int
	nonceLength int
	difficulty  int

	mining      int32
	hashesTried uint64
}

// New creates a Miner that uses numThreads worker goroutines per
// SolvePuzzle call, each searching nonceLength-character nonces,
// requiring difficulty leading hex zeros in the resulting block id.
func New(numThreads, nonceLength, difficulty int) *Miner {
	if numThreads < 1 {
		numThreads = 1
	}
	if nonceLength < 1 {
		nonceLength = defaultNonceLength
	}
	return &Miner{numThreads: numThreads, nonceLength: nonceLength, difficulty: difficulty}
}

// SolvePuzzle searches for a nonce solving puzzle. It returns as soon
// as one worker finds a solution, or immediately with ok == false if
// cancel is closed first. Every worker is seeded independently so
// that successive calls (e.g. after a losing race against the
// network) do not retread the same nonces.
func (m *Miner) SolvePuzzle(puzzle chain.Puzzle, seed int64, cancel <-chan struct{}) (PuzzleSolution, bool) {
	atomic.StoreInt32(&m.mining, 1)
	defer atomic.StoreInt32(&m.mining, 0)

	found := make(chan PuzzleSolution, m.numThreads)
	stop := make(chan struct{})
	var once sync.Once
	closeStop := func() { once.Do(func() { close(stop) }) }

	var wg sync.WaitGroup
	for worker := 0; worker < m.numThreads; worker++ {
		wg.Add(1)
		go func(workerSeed int64) {
			defer wg.Done()
			m.searchWorker(puzzle, workerSeed, stop, found)
		}(seed + int64(worker))
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case <-cancel:
		closeStop()
		for range found {
		}
		return PuzzleSolution{}, false
	case solution, ok := <-found:
		closeStop()
		for range found {
		}
		return solution, ok
	}
}

// searchWorker repeatedly generates random nonces until it finds one
// that solves puzzle or stop is closed.
func (m *Miner) searchWorker(puzzle chain.Puzzle, seed int64, stop <-chan struct{}, found chan<- PuzzleSolution) {
	rng := rand.New(rand.NewSource(seed))
	nonce := make([]byte, m.nonceLength)

	for {
		select {
		case <-stop:
			return
		default:
		}

		for i := range nonce {
			nonce[i] = nonceAlphabet[rng.Intn(len(nonceAlphabet))]
		}
		candidate := string(nonce)
		blockID := puzzle.ComputeBlockId(candidate)
		atomic.AddUint64(&m.hashesTried, 1)

		if chain.HasRequiredDifficulty(blockID, m.difficulty) {
			select {
			case found <- PuzzleSolution{Nonce: candidate, BlockId: blockID}:
			case <-stop:
			}
			return
		}
	}
}

// Status summarizes a Miner for diagnostics and IPC responses.
type Status struct {
	Mining      bool   `json:"mining"`
	HashesTried uint64 `json:"hashes_tried"`
}

// GetStatus returns a snapshot of the miner's current activity.
func (m *Miner) GetStatus() Status {
	return Status{
		Mining:      atomic.LoadInt32(&m.mining) != 0,
		HashesTried: atomic.LoadUint64(&m.hashesTried),
	}
}
