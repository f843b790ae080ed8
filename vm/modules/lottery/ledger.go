package lottery

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/lottochain/assets"
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/vm"
)

// DemoUsers are created by InitLedger, in id order.
var DemoUsers = []string{"Adrian", "Krzysztof", "Marek", "Piotr"}

// DemoBalance is the opening balance of every demo user.
const DemoBalance = 100

func handleInitLedger(ctx *vm.Context, _ json.RawMessage) error {
	_, initialised, err := ctx.State.GetCounter(core.UserCounterKey)
	if err != nil {
		return err
	}
	if initialised {
		return fmt.Errorf("ledger already initialised: %w", core.ErrState)
	}

	if err := ctx.State.SetCounter(core.UserCounterKey, 0); err != nil {
		return err
	}
	if err := ctx.State.SetCounter(core.LotteryCounterKey, 0); err != nil {
		return err
	}

	alloc := assets.NewAllocator(ctx.State)
	ids := make([]string, 0, len(DemoUsers))
	for _, name := range DemoUsers {
		id, err := alloc.NextUserID()
		if err != nil {
			return err
		}
		if err := ctx.State.SetUser(&core.UserAccount{ID: id, Name: name, Balance: DemoBalance}); err != nil {
			return err
		}
		ids = append(ids, id)
	}

	src, err := ctx.Rand(nil)
	if err != nil {
		return fmt.Errorf("seed generator: %w", err)
	}
	state, err := src.MarshalState()
	if err != nil {
		return fmt.Errorf("save generator: %w", err)
	}
	if err := ctx.State.SetGeneratorState(state); err != nil {
		return err
	}

	logger(ctx).WithField("users", ids).Debug("ledger initialised")
	ctx.Emit(events.EventLedgerInitialized, map[string]any{"users": ids})
	return nil
}
