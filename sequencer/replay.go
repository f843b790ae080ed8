package sequencer

import (
	"errors"
	"fmt"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/vm"
)

// ErrRootMismatch is returned by Replay when re-executing a block yields a
// different state root than the one recorded in it.
var ErrRootMismatch = errors.New("state root mismatch")

// Replay re-executes every stored block, in height order, against state,
// which must start empty. Each block's recorded state root is checked before
// its writes are committed. It returns the number of verified blocks.
func Replay(bc *core.Blockchain, state core.State, opts ...vm.Option) (int64, error) {
	return ReplayWithEvents(bc, state, nil, opts...)
}

// ReplayWithEvents is Replay that hands each verified block and the events
// its execution raised to fn, after the block's writes are committed.
func ReplayWithEvents(bc *core.Blockchain, state core.State, fn func(*core.Block, []events.Event), opts ...vm.Option) (int64, error) {
	exec := vm.NewExecutor(state, opts...)
	var verified int64
	prevHash := ""
	err := bc.ForEachBlock(0, func(b *core.Block) error {
		if b.Header.Height != verified {
			return fmt.Errorf("expected block %d, found %d", verified, b.Header.Height)
		}
		if b.Hash != b.ComputeHash() {
			return fmt.Errorf("block %d hash mismatch", b.Header.Height)
		}
		if verified > 0 && b.Header.PrevHash != prevHash {
			return fmt.Errorf("block %d does not link to block %d", b.Header.Height, verified-1)
		}
		evs, err := exec.ExecuteBlock(b)
		if err != nil {
			state.Discard()
			return fmt.Errorf("block %d: %w", b.Header.Height, err)
		}
		if root := state.ComputeRoot(); root != b.Header.StateRoot {
			state.Discard()
			return fmt.Errorf("block %d: got %s, recorded %s: %w", b.Header.Height, root, b.Header.StateRoot, ErrRootMismatch)
		}
		if err := state.Commit(); err != nil {
			return fmt.Errorf("block %d: commit: %w", b.Header.Height, err)
		}
		if fn != nil {
			fn(b, evs)
		}
		verified++
		prevHash = b.Hash
		return nil
	})
	return verified, err
}
