package vm

import (
	"fmt"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/prng"
)

// Context is passed to every Handler and provides access to the world state,
// the current block, the triggering transaction and the random source.
// Events raised through Emit are held until the caller commits.
type Context struct {
	State core.State
	Block *core.Block
	Tx    *core.Transaction
	// Rand rebuilds the deterministic generator from its persisted state.
	Rand prng.RestoreFunc

	events []events.Event
}

// Emit queues an event for delivery after the enclosing block commits.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	ev := events.Event{Type: typ, Data: data}
	if c.Tx != nil {
		ev.TxID = c.Tx.ID
	}
	if c.Block != nil {
		ev.BlockHeight = c.Block.Header.Height
	}
	c.events = append(c.events, ev)
}

// Option configures an Executor.
type Option func(*Executor)

// WithRandSource replaces the generator restore function, letting tests pin
// the drawn values.
func WithRandSource(f prng.RestoreFunc) Option {
	return func(e *Executor) { e.rand = f }
}

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state core.State
	rand  prng.RestoreFunc
}

// NewExecutor creates an Executor over state.
func NewExecutor(state core.State, opts ...Option) *Executor {
	e := &Executor{state: state, rand: prng.Restorer}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteBlock applies all transactions in block sequentially and returns
// the events they raised. A failing transaction rejects the whole block; the
// caller is expected to discard the write buffer.
func (e *Executor) ExecuteBlock(block *core.Block) ([]events.Event, error) {
	var out []events.Event
	for _, tx := range block.Transactions {
		evs, err := e.ExecuteTx(block, tx)
		if err != nil {
			return nil, fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
		out = append(out, evs...)
	}
	return out, nil
}

// ExecuteTx executes a single transaction with snapshot/rollback. On error
// the write buffer is back where it was before the call.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) ([]events.Event, error) {
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, core.ErrValidation)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ctx := &Context{
		State: e.state,
		Block: block,
		Tx:    tx,
		Rand:  e.rand,
	}
	if err := operations.execute(ctx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return nil, err
	}

	ctx.Emit(events.EventTxExecuted, map[string]any{"type": string(tx.Type)})
	return ctx.events, nil
}
