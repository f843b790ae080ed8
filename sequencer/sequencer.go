// Package sequencer is the single-writer ledger host. Every operation runs
// in its own block: it executes against the write buffer, and either the
// block and the buffered writes are committed together or the buffer is
// discarded and no block is produced.
package sequencer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/vm"
)

// ErrNotBootstrapped is returned by Submit before a genesis block exists.
var ErrNotBootstrapped = errors.New("chain has no genesis block")

// Recorder receives one observation per submitted operation.
type Recorder interface {
	RecordOperation(typ core.TxType, duration time.Duration, err error)
}

// Receipt describes the block a committed operation landed in.
type Receipt struct {
	TxID      string `json:"tx_id"`
	Height    int64  `json:"height"`
	BlockHash string `json:"block_hash"`
	StateRoot string `json:"state_root"`
}

// Sequencer serialises operations onto the chain.
type Sequencer struct {
	mu       sync.Mutex
	bc       *core.Blockchain
	state    core.State
	exec     *vm.Executor
	emitter  *events.Emitter
	recorder Recorder
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithRecorder reports every Submit outcome to r.
func WithRecorder(r Recorder) Option {
	return func(s *Sequencer) { s.recorder = r }
}

// New creates a Sequencer. emitter receives events only after their block
// has been committed.
func New(bc *core.Blockchain, state core.State, exec *vm.Executor, emitter *events.Emitter, opts ...Option) *Sequencer {
	s := &Sequencer{bc: bc, state: state, exec: exec, emitter: emitter}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func logger() *log.Entry {
	return log.WithField("component", "sequencer")
}

// Bootstrap executes and commits genesis as block 0 on a fresh chain. It is
// a no-op when the chain already has blocks.
func (s *Sequencer) Bootstrap(genesis *core.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bc.Tip() != nil {
		return nil
	}
	if genesis.Header.Height != 0 {
		return fmt.Errorf("genesis must have height 0, got %d", genesis.Header.Height)
	}
	evs, err := s.exec.ExecuteBlock(genesis)
	if err != nil {
		s.state.Discard()
		return fmt.Errorf("execute genesis: %w", err)
	}
	if err := s.commit(genesis, evs); err != nil {
		return err
	}
	logger().WithFields(log.Fields{"hash": genesis.Hash, "txs": len(genesis.Transactions)}).Info("genesis committed")
	return nil
}

// Submit executes tx in the next block. A rejected operation leaves no trace
// in state or chain and its error wraps one of the core rejection classes.
func (s *Sequencer) Submit(tx *core.Transaction) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	receipt, err := s.submit(tx)
	if s.recorder != nil {
		s.recorder.RecordOperation(tx.Type, time.Since(start), err)
	}
	return receipt, err
}

func (s *Sequencer) submit(tx *core.Transaction) (*Receipt, error) {
	tip := s.bc.Tip()
	if tip == nil {
		return nil, ErrNotBootstrapped
	}

	block := core.NewBlock(tip.Header.Height+1, tip.Hash, []*core.Transaction{tx})
	evs, err := s.exec.ExecuteTx(block, tx)
	if err != nil {
		s.state.Discard()
		logger().WithFields(log.Fields{
			"tx_id":  tx.ID,
			"type":   tx.Type,
			"reason": core.Classify(err),
		}).Warnf("operation rejected: %v", err)
		s.emitter.Emit(events.Event{
			Type:        events.EventTxRejected,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data: map[string]any{
				"type":   string(tx.Type),
				"reason": core.Classify(err),
				"error":  err.Error(),
			},
		})
		return nil, err
	}
	if err := s.commit(block, evs); err != nil {
		return nil, err
	}

	logger().WithFields(log.Fields{
		"height": block.Header.Height,
		"hash":   block.Hash,
		"type":   tx.Type,
	}).Info("block committed")
	return &Receipt{
		TxID:      tx.ID,
		Height:    block.Header.Height,
		BlockHash: block.Hash,
		StateRoot: block.Header.StateRoot,
	}, nil
}

// commit seals block with the buffered state root, stores it, flushes the
// buffer and then publishes the block's events.
func (s *Sequencer) commit(block *core.Block, evs []events.Event) error {
	// Root comes from the write buffer BEFORE flushing so that if AddBlock
	// fails nothing has been persisted.
	block.Seal(s.state.ComputeRoot())

	if err := s.bc.AddBlock(block); err != nil {
		s.state.Discard()
		return fmt.Errorf("add block: %w", err)
	}
	if err := s.state.Commit(); err != nil {
		logger().WithField("height", block.Header.Height).
			Fatalf("block stored but state commit failed: %v", err)
	}

	for _, ev := range evs {
		s.emitter.Emit(ev)
	}
	s.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions)},
	})
	return nil
}

// View runs a read-only query against committed state. Queries are
// serialised with Submit, so they never observe a half-applied operation.
func (s *Sequencer) View(fn func(state core.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// Chain returns the underlying blockchain.
func (s *Sequencer) Chain() *core.Blockchain {
	return s.bc
}
