package engine

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"testing"

	"github.com/btcsuite/btclog"

	"github.com/cs3235/nakamoto-node/internal/chain"
	"github.com/cs3235/nakamoto-node/internal/ipc"
	"github.com/cs3235/nakamoto-node/internal/p2p"
)

func spawnSync(f func()) { go f() }

func newTestEngine(t *testing.T, port uint16) *Engine {
	t.Helper()
	cfg := Config{
		P2PAddress:                  p2p.NetAddress{Ip: "127.0.0.1", Port: port},
		MiningReceiver:              "miner",
		NumMiningThreads:            1,
		NonceLen:                    32,
		DifficultyLeadingZeroLen:    0,
		DifficultyLeadingZeroLenAcc: 0,
		MinerThread0Seed:            1,
		MaxTxInOneBlock:             1024,
	}
	return New(cfg, nil, nil, btclog.Disabled, spawnSync)
}

func TestCreatePuzzleEmptyPool(t *testing.T) {
	e := newTestEngine(t, 19901)
	puzzle, txs := e.CreatePuzzle()
	if len(txs) != 0 {
		t.Fatalf("expected no candidate transactions, got %d", len(txs))
	}
	if puzzle.Parent != chain.GenesisBlockId {
		t.Fatalf("puzzle parent = %s, want genesis", puzzle.Parent)
	}
	if puzzle.MerkleRoot != "" {
		t.Fatalf("expected empty merkle root for empty pool, got %s", puzzle.MerkleRoot)
	}
}

func TestCreatePuzzleIncludesPendingTx(t *testing.T) {
	e := newTestEngine(t, 19902)

	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(&key.PublicKey))
	message := "SEND $5"
	digest := sha256.Sum256(chain.SigningPayload(sender, "bob", message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx := chain.Transaction{Sender: sender, Receiver: "bob", Message: message, Sig: base64.StdEncoding.EncodeToString(sig)}

	if err := e.PublishTx(tx); err != nil {
		t.Fatalf("PublishTx: %v", err)
	}

	_, txs := e.CreatePuzzle()
	if len(txs) != 1 || txs[0].GenHash() != tx.GenHash() {
		t.Fatalf("expected puzzle to include published transaction, got %+v", txs)
	}
}

func TestServeIPCChainStatus(t *testing.T) {
	e := newTestEngine(t, 19903)

	req, err := ipc.NewRequest(ipc.KindRequestChainStatus, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	reqLine, err := func() ([]byte, error) {
		var buf bytes.Buffer
		w := ipc.NewWriter(&buf)
		if err := w.WriteRequest(req); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}()
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}

	var out bytes.Buffer
	if err := e.ServeIPC(bytes.NewReader(reqLine), &out); err != nil {
		t.Fatalf("ServeIPC: %v", err)
	}

	resp, err := ipc.NewReader(&out).ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Kind != ipc.KindChainStatus {
		t.Fatalf("response kind = %s, want %s", resp.Kind, ipc.KindChainStatus)
	}
}
