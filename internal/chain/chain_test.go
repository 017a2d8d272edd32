package chain

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

// testAccount is a freshly generated RSA keypair usable as a UserId
// plus a signer for transactions from that account.
type testAccount struct {
	userID  UserId
	private *rsa.PrivateKey
}

func newTestAccount(t *testing.T) testAccount {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der := x509.MarshalPKCS1PublicKey(&key.PublicKey)
	return testAccount{
		userID:  base64.StdEncoding.EncodeToString(der),
		private: key,
	}
}

func (a testAccount) signWithDigest(t *testing.T, receiver UserId, message string) Transaction {
	t.Helper()
	digest := sha256.Sum256(SigningPayload(a.userID, receiver, message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, a.private, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return Transaction{
		Sender:   a.userID,
		Receiver: receiver,
		Message:  message,
		Sig:      base64.StdEncoding.EncodeToString(sig),
	}
}

func mineBlock(t *testing.T, parent BlockId, txs []Transaction, rewardReceiver UserId, difficulty int) BlockNode {
	t.Helper()
	var root string
	var tree MerkleTree
	if len(txs) > 0 {
		var err error
		root, tree, err = CreateMerkleTree(txs)
		if err != nil {
			t.Fatalf("create merkle tree: %v", err)
		}
	}
	puzzle := Puzzle{Parent: parent, MerkleRoot: root, RewardReceiver: rewardReceiver}
	var nonce string
	var id BlockId
	for i := 0; ; i++ {
		nonce = itoa(i)
		id = puzzle.ComputeBlockId(nonce)
		if HasRequiredDifficulty(id, difficulty) {
			break
		}
	}
	return BlockNode{
		Header: BlockNodeHeader{
			Parent:         parent,
			MerkleRoot:     root,
			Timestamp:      uint64(len(nonce)),
			BlockId:        id,
			Nonce:          nonce,
			RewardReceiver: rewardReceiver,
		},
		TransactionsBlock: Transactions{MerkleTree: tree, Transactions: txs},
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func TestMerkleTreeOddDuplicationAtFront(t *testing.T) {
	alice := newTestAccount(t)
	txs := []Transaction{
		alice.signWithDigest(t, "bob", "SEND $1"),
		alice.signWithDigest(t, "carol", "SEND $2"),
		alice.signWithDigest(t, "dave", "SEND $3"),
	}
	root, tree, err := CreateMerkleTree(txs)
	if err != nil {
		t.Fatalf("CreateMerkleTree: %v", err)
	}
	if len(tree.Hashes) != 3 {
		t.Fatalf("expected 3 levels for 3 leaves, got %d", len(tree.Hashes))
	}
	level1 := tree.Hashes[1]
	if len(level1) != 2 {
		t.Fatalf("expected odd-duplication to produce 2 hashes at level 1, got %d", len(level1))
	}
	leaves := tree.Hashes[0]
	if level1[0] != leaves[2] {
		t.Fatalf("expected duplicated last leaf hash pushed to front of level 1")
	}
	if root != tree.Root() {
		t.Fatalf("Root() mismatch")
	}
}

func TestCreateMerkleTreeEmptyFails(t *testing.T) {
	if _, _, err := CreateMerkleTree(nil); err == nil {
		t.Fatal("expected error for empty transaction list")
	}
}

func TestTransactionVerifySig(t *testing.T) {
	alice := newTestAccount(t)
	tx := alice.signWithDigest(t, "bob", "SEND $5")
	if !tx.VerifySig() {
		t.Fatal("expected valid signature to verify")
	}
	tx.Message = "SEND $6"
	if tx.VerifySig() {
		t.Fatal("expected tampered message to fail verification")
	}
}

func TestGenesisTransactionVerifies(t *testing.T) {
	genesis := NewGenesisBlock()
	tx := genesis.TransactionsBlock.Transactions[0]
	if !tx.VerifySig() {
		t.Fatal("expected genesis transaction to verify")
	}
	amount, err := tx.Amount()
	if err != nil {
		t.Fatalf("Amount: %v", err)
	}
	if amount != genesisAmount {
		t.Fatalf("genesis amount = %d, want %d", amount, genesisAmount)
	}
}

func TestAmountParsing(t *testing.T) {
	cases := []struct {
		message string
		want    uint64
		wantErr bool
	}{
		{"SEND $10", 10, false},
		{"SEND $10 for rent", 10, false},
		{"SEND $0", 0, false},
		{"SEND $-5", 0, true},
		{"SEND $", 0, true},
		{"PAY $10", 0, true},
	}
	for _, c := range cases {
		tx := Transaction{Message: c.message}
		got, err := tx.Amount()
		if c.wantErr {
			if err == nil {
				t.Errorf("Amount(%q): expected error", c.message)
			}
			continue
		}
		if err != nil {
			t.Errorf("Amount(%q): unexpected error %v", c.message, err)
			continue
		}
		if got != c.want {
			t.Errorf("Amount(%q) = %d, want %d", c.message, got, c.want)
		}
	}
}

func TestBlockTreeSingleBlock(t *testing.T) {
	tree := NewBlockTree(0)
	alice := newTestAccount(t)

	block := mineBlock(t, GenesisBlockId, nil, alice.userID, 0)
	if err := tree.AddBlock(block); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if tree.WorkingBlockId() != block.Header.BlockId {
		t.Fatalf("working tip = %s, want %s", tree.WorkingBlockId(), block.Header.BlockId)
	}
}

func TestBlockTreeFinalizationAtDepthSix(t *testing.T) {
	tree := NewBlockTree(0)
	miner := newTestAccount(t)

	parent := GenesisBlockId
	var blocks []BlockNode
	for i := 0; i < FinalityDepth; i++ {
		b := mineBlock(t, parent, nil, miner.userID, 0)
		if err := tree.AddBlock(b); err != nil {
			t.Fatalf("AddBlock %d: %v", i, err)
		}
		blocks = append(blocks, b)
		parent = b.Header.BlockId
	}

	if tree.FinalizedBlockId() != GenesisBlockId {
		t.Fatalf("expected genesis still finalized before depth %d reached", FinalityDepth)
	}

	last := mineBlock(t, parent, nil, miner.userID, 0)
	if err := tree.AddBlock(last); err != nil {
		t.Fatalf("AddBlock final: %v", err)
	}

	if tree.FinalizedBlockId() != blocks[0].Header.BlockId {
		t.Fatalf("finalized tip = %s, want first block %s", tree.FinalizedBlockId(), blocks[0].Header.BlockId)
	}
	if bal := tree.FinalizedBalance(miner.userID); bal != BlockReward {
		t.Fatalf("miner balance = %d, want %d", bal, BlockReward)
	}
}

func TestBlockTreeOrphanPromotion(t *testing.T) {
	tree := NewBlockTree(0)
	miner := newTestAccount(t)

	parent := mineBlock(t, GenesisBlockId, nil, miner.userID, 0)
	child := mineBlock(t, parent.Header.BlockId, nil, miner.userID, 0)
	if err := tree.AddBlock(child); err != nil {
		t.Fatalf("AddBlock orphan: %v", err)
	}
	if _, ok := tree.GetBlock(child.Header.BlockId); ok {
		t.Fatal("orphan should not be admitted yet")
	}

	grandchild := mineBlock(t, child.Header.BlockId, nil, miner.userID, 0)
	if err := tree.AddBlock(grandchild); err != nil {
		t.Fatalf("AddBlock grandchild orphan: %v", err)
	}

	if err := tree.AddBlock(parent); err != nil {
		t.Fatalf("AddBlock parent: %v", err)
	}
	for _, b := range []BlockNode{child, grandchild} {
		if _, ok := tree.GetBlock(b.Header.BlockId); !ok {
			t.Fatalf("orphan %s not promoted once its parent arrived", b.Header.BlockId)
		}
	}
	if tree.WorkingBlockId() != grandchild.Header.BlockId {
		t.Fatalf("working tip = %s, want promoted grandchild %s", tree.WorkingBlockId(), grandchild.Header.BlockId)
	}
}

func TestBlockTreeTieBreakPrefersGreaterId(t *testing.T) {
	tree := NewBlockTree(0)
	miner := newTestAccount(t)

	a := mineBlock(t, GenesisBlockId, nil, miner.userID, 0)
	if err := tree.AddBlock(a); err != nil {
		t.Fatalf("AddBlock a: %v", err)
	}

	b := mineBlock(t, GenesisBlockId, nil, "other-"+miner.userID, 0)
	if err := tree.AddBlock(b); err != nil {
		t.Fatalf("AddBlock b: %v", err)
	}

	want := a.Header.BlockId
	if b.Header.BlockId > want {
		want = b.Header.BlockId
	}
	if tree.WorkingBlockId() != want {
		t.Fatalf("working tip = %s, want lexicographically greatest sibling %s\nstatus: %s",
			tree.WorkingBlockId(), want, spew.Sdump(tree.GetStatus()))
	}
}

func TestGetFinalizedBlocksSinceOrdering(t *testing.T) {
	tree := NewBlockTree(0)
	miner := newTestAccount(t)

	parent := GenesisBlockId
	var ids []BlockId
	for i := 0; i < FinalityDepth+2; i++ {
		b := mineBlock(t, parent, nil, miner.userID, 0)
		if err := tree.AddBlock(b); err != nil {
			t.Fatalf("AddBlock %d: %v", i, err)
		}
		ids = append(ids, b.Header.BlockId)
		parent = b.Header.BlockId
	}

	blocks, err := tree.GetFinalizedBlocksSince(GenesisBlockId)
	if err != nil {
		t.Fatalf("GetFinalizedBlocksSince: %v", err)
	}
	if len(blocks) == 0 {
		t.Fatal("expected at least one finalized block")
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Header.Parent != blocks[i-1].Header.BlockId {
			t.Fatalf("blocks not returned oldest-to-newest at index %d", i)
		}
	}

	if _, err := tree.GetFinalizedBlocksSince("unknown-block"); err == nil {
		t.Fatal("expected error for unknown block id")
	}
}

func TestNoNegativeBalance(t *testing.T) {
	tree := NewBlockTree(0)
	alice := newTestAccount(t)
	bob := newTestAccount(t)

	overdraft := alice.signWithDigest(t, bob.userID, "SEND $1000000")
	block := mineBlock(t, GenesisBlockId, []Transaction{overdraft}, alice.userID, 0)

	if err := tree.AddBlock(block); err == nil {
		t.Fatal("expected AddBlock to reject a block containing an unaffordable transfer (R5)")
	}
	if _, ok := tree.GetBlock(block.Header.BlockId); ok {
		t.Fatal("rejected block must not be admitted")
	}
	if tree.WorkingBlockId() != GenesisBlockId {
		t.Fatalf("working tip = %s, want genesis unchanged by the rejected block", tree.WorkingBlockId())
	}
	if bal := tree.FinalizedBalance(bob.userID); bal != 0 {
		t.Fatalf("bob balance = %d, want 0", bal)
	}
}

func TestNoNegativeBalanceAllowsAffordableTransfer(t *testing.T) {
	tree := NewBlockTree(0)
	alice := newTestAccount(t)
	bob := newTestAccount(t)

	parent := GenesisBlockId
	miner := newTestAccount(t)
	for i := 0; i < FinalityDepth+1; i++ {
		b := mineBlock(t, parent, nil, alice.userID, 0)
		if err := tree.AddBlock(b); err != nil {
			t.Fatalf("AddBlock funding block %d: %v", i, err)
		}
		parent = b.Header.BlockId
	}
	if bal := tree.FinalizedBalance(alice.userID); bal != BlockReward {
		t.Fatalf("alice balance = %d, want %d after mining %d blocks", bal, BlockReward, FinalityDepth+1)
	}

	spend := alice.signWithDigest(t, bob.userID, "SEND $1")
	spendBlock := mineBlock(t, parent, []Transaction{spend}, miner.userID, 0)
	if err := tree.AddBlock(spendBlock); err != nil {
		t.Fatalf("AddBlock affordable transfer: %v", err)
	}
}

func TestDuplicateBlockIdRejected(t *testing.T) {
	tree := NewBlockTree(0)
	miner := newTestAccount(t)

	block := mineBlock(t, GenesisBlockId, nil, miner.userID, 0)
	if err := tree.AddBlock(block); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if err := tree.AddBlock(block); err == nil {
		t.Fatal("expected error re-adding an already-admitted block_id (R1)")
	}
}

func TestDuplicateOrphanRejected(t *testing.T) {
	tree := NewBlockTree(0)
	miner := newTestAccount(t)

	orphan := mineBlock(t, "nonexistent-parent", nil, miner.userID, 0)
	if err := tree.AddBlock(orphan); err != nil {
		t.Fatalf("AddBlock orphan: %v", err)
	}
	if err := tree.AddBlock(orphan); err == nil {
		t.Fatal("expected error re-submitting a block already queued as an orphan (R1)")
	}
}
