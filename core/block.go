package core

import (
	"encoding/json"
	"time"

	"github.com/tolelom/lottochain/crypto"
)

// BlockHeader contains the block metadata that is hashed.
type BlockHeader struct {
	Height    int64  `json:"height"`
	PrevHash  string `json:"prev_hash"`
	StateRoot string `json:"state_root"` // hash of state after executing this block
	TxRoot    string `json:"tx_root"`    // hash of all transaction IDs
	Timestamp int64  `json:"timestamp"`
}

// Block is an ordered batch of committed transactions.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
}

// ComputeHash returns the SHA-256 hash of the serialised header.
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Seal records the post-execution state root and fixes the block hash.
func (b *Block) Seal(stateRoot string) {
	b.Header.StateRoot = stateRoot
	b.Hash = b.ComputeHash()
}

// ComputeTxRoot builds a deterministic root hash from all transaction IDs.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var ids []byte
	for _, tx := range txs {
		ids = append(ids, []byte(tx.ID)...)
	}
	return crypto.Hash(ids)
}

// NewBlock creates an unsealed block with the given parameters.
func NewBlock(height int64, prevHash string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: time.Now().UnixNano(),
		},
		Transactions: txs,
	}
}
