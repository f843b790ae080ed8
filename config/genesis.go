package config

import (
	"encoding/json"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisTransactions returns the operations executed in block 0. Their
// timestamps are fixed so every node derives the same genesis.
func GenesisTransactions(cfg *Config) []*core.Transaction {
	if !cfg.Genesis.InitLedger {
		return nil
	}
	tx := &core.Transaction{
		Type:    core.TxInitLedger,
		Payload: json.RawMessage(`{}`),
	}
	tx.ID = tx.Hash()
	return []*core.Transaction{tx}
}

// CreateGenesisBlock builds the unsealed block #0. The chain ID is folded
// into the TxRoot so chains with different IDs never share a genesis.
func CreateGenesisBlock(cfg *Config) *core.Block {
	txs := GenesisTransactions(cfg)
	block := core.NewBlock(0, GenesisHash, txs)
	block.Header.Timestamp = 0
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID + ":" + core.ComputeTxRoot(txs)))
	return block
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return h == GenesisHash
}
