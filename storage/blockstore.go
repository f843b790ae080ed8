package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/lottochain/core"
)

const (
	blockPrefix  = "block:"
	heightPrefix = "height:"
	tipKey       = "chain:tip"
)

// heightKey zero-pads the height so the lexical key order matches the
// numeric one and range scans walk the chain in order.
func heightKey(height int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", heightPrefix, height))
}

// BlockStore implements core.BlockStore on top of any DB backend.
type BlockStore struct {
	db DB
}

// NewBlockStore wraps db as a BlockStore.
func NewBlockStore(db DB) *BlockStore {
	return &BlockStore{db: db}
}

func (s *BlockStore) PutBlock(block *core.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(blockPrefix+block.Hash), data)
}

func (s *BlockStore) GetBlock(hash string) (*core.Block, error) {
	data, err := s.db.Get([]byte(blockPrefix + hash))
	if err != nil {
		return nil, err
	}
	var b core.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode block %s: %w", hash, err)
	}
	return &b, nil
}

func (s *BlockStore) PutBlockByHeight(height int64, hash string) error {
	return s.db.Set(heightKey(height), []byte(hash))
}

func (s *BlockStore) GetBlockByHeight(height int64) (*core.Block, error) {
	hash, err := s.db.Get(heightKey(height))
	if err != nil {
		return nil, err
	}
	return s.GetBlock(string(hash))
}

func (s *BlockStore) GetTip() (string, error) {
	val, err := s.db.Get([]byte(tipKey))
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func (s *BlockStore) SetTip(hash string) error {
	return s.db.Set([]byte(tipKey), []byte(hash))
}

// CommitBlock writes the block, its height index entry, and the new tip in a
// single batch.
func (s *BlockStore) CommitBlock(block *core.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	batch.Set([]byte(blockPrefix+block.Hash), data)
	batch.Set(heightKey(block.Header.Height), []byte(block.Hash))
	batch.Set([]byte(tipKey), []byte(block.Hash))
	return batch.Write()
}

// ForEachBlock walks the height index from `from` upwards.
func (s *BlockStore) ForEachBlock(from int64, fn func(*core.Block) error) error {
	if from < 0 {
		from = 0
	}
	it := s.db.NewRangeIterator(heightKey(from), heightKey(math.MaxInt64))
	var hashes []string
	for it.Next() {
		hashes = append(hashes, string(it.Value()))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return fmt.Errorf("iterate heights: %w", err)
	}
	for _, h := range hashes {
		b, err := s.GetBlock(h)
		if err != nil {
			return fmt.Errorf("load block %s: %w", h, err)
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}
