package vm

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/lottochain/core"
)

// Handler is the function signature every ledger operation implements.
type Handler func(ctx *Context, payload json.RawMessage) error

// Operation describes one ledger operation a module contributes.
type Operation struct {
	Type core.TxType
	// Params returns a fresh value that the operation's JSON arguments
	// decode into. Nil means the operation takes no arguments.
	Params func() any
	Handle Handler
}

// Registry is the operation table the executor dispatches through.
type Registry struct {
	mu  sync.RWMutex
	ops map[core.TxType]Operation
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[core.TxType]Operation)}
}

// Register adds op. Panics on a duplicate type or a missing handler.
func (r *Registry) Register(op Operation) {
	if op.Handle == nil {
		panic(fmt.Sprintf("vm: operation %q has no handler", op.Type))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[op.Type]; exists {
		panic(fmt.Sprintf("vm: operation %q registered twice", op.Type))
	}
	r.ops[op.Type] = op
}

// Lookup returns the operation registered for typ.
func (r *Registry) Lookup(typ core.TxType) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[typ]
	return op, ok
}

// Types lists the registered operation types in sorted order.
func (r *Registry) Types() []core.TxType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]core.TxType, 0, len(r.ops))
	for typ := range r.ops {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (r *Registry) execute(ctx *Context) error {
	op, ok := r.Lookup(ctx.Tx.Type)
	if !ok {
		return fmt.Errorf("unknown operation %q: %w", ctx.Tx.Type, core.ErrValidation)
	}
	return op.Handle(ctx, ctx.Tx.Payload)
}

var operations = NewRegistry()

// Register adds op to the process-wide table. Modules call it from init().
func Register(op Operation) { operations.Register(op) }

// Lookup finds a registered operation in the process-wide table.
func Lookup(typ core.TxType) (Operation, bool) { return operations.Lookup(typ) }

// Operations lists every operation type modules have registered.
func Operations() []core.TxType { return operations.Types() }
