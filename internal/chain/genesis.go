package chain

import "fmt"

// genesisReceiver is the one account credited by the genesis block, a
// fixed student account used by the reference deployment.
const genesisReceiver UserId = "MDgCMQCqrJ1yIJ7cDQIdTuS+4CkKn/tQPN7bZFbbGCBhvjQxs71f6Vu+sD9eh8JGpfiZSckCAwEAAQ=="

// genesisAmount is the number of coins minted by the genesis
// transaction, chosen to equal the speed of light in m/s.
const genesisAmount = 299792458

// GenesisBlockId is the fixed, non-computed id of the genesis block and
// the root of every BlockTree.
const GenesisBlockId BlockId = "0"

// NewGenesisBlock builds the fixed genesis block: a single transaction
// minting genesisAmount to genesisReceiver, signed with the sentinel
// "GENESIS" signature rather than a real RSA signature.
func NewGenesisBlock() BlockNode {
	tx := Transaction{
		Sender:   genesisSender,
		Receiver: genesisReceiver,
		Message:  genesisMessage(),
		Sig:      genesisSender,
	}
	root, tree, err := CreateMerkleTree([]Transaction{tx})
	if err != nil {
		// A single-transaction list always yields a tree.
		panic(err)
	}

	return BlockNode{
		Header: BlockNodeHeader{
			Parent:         GenesisBlockId,
			MerkleRoot:     root,
			Timestamp:      0,
			BlockId:        GenesisBlockId,
			Nonce:          "",
			RewardReceiver: genesisSender,
		},
		TransactionsBlock: Transactions{
			MerkleTree:   tree,
			Transactions: []Transaction{tx},
		},
	}
}

func genesisMessage() string {
	return fmt.Sprintf("SEND $%d genesis", genesisAmount)
}
